package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
	sendBuffer = 128
)

// ErrConnectionClosed is returned by Send after the connection has shut down
// or its buffer overflowed.
var ErrConnectionClosed = errors.New("ws: connection closed")

// Conn is the transport a push targets. Satisfied by *Connection; the
// broadcaster and registry depend on this so tests can substitute fakes.
type Conn interface {
	ConnID() string
	User() uuid.UUID
	Send(env Envelope) error
	Close(code int, reason string)
}

// Connection wraps one websocket and serializes outbound writes through a
// buffered channel. A user may hold several connections, one per device.
type Connection struct {
	id     string
	userID uuid.UUID

	ws    *websocket.Conn
	send  chan Envelope
	once  sync.Once
	close chan struct{}
}

// NewConnection constructs a Connection for the given user
func NewConnection(userID uuid.UUID, socket *websocket.Conn) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		userID: userID,
		ws:     socket,
		send:   make(chan Envelope, sendBuffer),
		close:  make(chan struct{}),
	}
}

// ConnID returns the connection's unique id
func (c *Connection) ConnID() string { return c.id }

// User returns the authenticated user behind the connection
func (c *Connection) User() uuid.UUID { return c.userID }

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues an event for delivery. Never blocks: if the client is slow and
// the buffer is full the connection is closed, keeping backpressure bounded so
// one stalled socket cannot hold up a fan-out.
func (c *Connection) Send(env Envelope) error {
	select {
	case <-c.close:
		return ErrConnectionClosed
	case c.send <- env:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrConnectionClosed
	}
}

// Close terminates the connection and stops the write loop
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

// ReadLoop reads inbound frames, dispatching each through handle. It returns
// when the peer disconnects or errors; the caller is responsible for
// unregistering afterwards. A panic inside one connection's handler must not
// take down other users, so the loop recovers and drops the connection.
func (c *Connection) ReadLoop(handle func(env Envelope), onError func(err error)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("user_id", c.userID.String()).Msg("ws read loop panic")
		}
		c.Close(websocket.CloseInternalServerErr, "")
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", c.userID.String()).Msg("ws read error")
			}
			return
		}

		env, err := DecodeClientEvent(data)
		if err != nil {
			onError(err)
			continue
		}
		handle(env)
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.close:
			return
		case env := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			payload, err := json.Marshal(env)
			if err != nil {
				log.Error().Err(err).Msg("ws encode failed")
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

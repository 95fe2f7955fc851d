package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parley/internal/cache"
	"parley/internal/repo"
	"parley/internal/ws"
	"parley/pkg/models"

	"github.com/google/uuid"
)

// fakeStore implements ConversationStore and the cache loader
type fakeStore struct {
	mu           sync.Mutex
	participants map[uuid.UUID][]uuid.UUID // conversation -> active user ids
	touched      int
	unreadBumps  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{participants: make(map[uuid.UUID][]uuid.UUID)}
}

func (s *fakeStore) IsActiveParticipant(conversationID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) TouchLastMessageAt(conversationID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched++
	return nil
}

func (s *fakeStore) IncrementUnread(conversationID, senderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreadBumps++
	return nil
}

func (s *fakeStore) ActiveConversationIDs(userID uuid.UUID, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for conversationID, ids := range s.participants {
		for _, id := range ids {
			if id == userID {
				out = append(out, conversationID)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) ActiveParticipantIDs(conversationID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.participants[conversationID]...), nil
}

func (s *fakeStore) setParticipants(conversationID uuid.UUID, ids ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[conversationID] = ids
}

type fakeMessages struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]*models.Message
	created int
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: make(map[uuid.UUID]*models.Message)}
}

func (m *fakeMessages) Create(message *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	message.ID = uuid.New()
	message.CreatedAt = time.Now()
	stored := *message
	m.rows[message.ID] = &stored
	m.created++
	return nil
}

func (m *fakeMessages) GetByID(id uuid.UUID) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := *row
	return &out, nil
}

func (m *fakeMessages) MarkEdited(id uuid.UUID, content string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.Content = content
	row.IsEdited = true
	row.EditedAt = &at
	return nil
}

func (m *fakeMessages) MarkRemoved(id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].RemovedAt = &at
	return nil
}

type receiptCall struct {
	messageID uuid.UUID
	userID    uuid.UUID
}

type fakeReceipts struct {
	mu        sync.Mutex
	delivered []receiptCall
	read      []receiptCall
	advanced  int
}

func (r *fakeReceipts) MarkDelivered(messageID, userID, conversationID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, receiptCall{messageID, userID})
	return nil
}

func (r *fakeReceipts) MarkRead(messageID, userID, conversationID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.read = append(r.read, receiptCall{messageID, userID})
	return nil
}

func (r *fakeReceipts) AdvanceLastRead(conversationID, userID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advanced++
	return nil
}

func (r *fakeReceipts) deliveredTo(userID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.delivered {
		if call.userID == userID {
			return true
		}
	}
	return false
}

type fakeEmitter struct {
	handoffs chan uuid.UUID
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{handoffs: make(chan uuid.UUID, 16)}
}

func (e *fakeEmitter) NotifyOffline(ctx context.Context, userID uuid.UUID, summary models.MessageSummary) {
	e.handoffs <- userID
}

func (e *fakeEmitter) waitHandoff(t *testing.T) uuid.UUID {
	t.Helper()
	select {
	case id := <-e.handoffs:
		return id
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for offline handoff")
		return uuid.Nil
	}
}

type testConn struct {
	id     string
	userID uuid.UUID

	mu   sync.Mutex
	sent []ws.Envelope
	fail bool
}

func newTestConn(userID uuid.UUID) *testConn {
	return &testConn{id: uuid.NewString(), userID: userID}
}

func (c *testConn) ConnID() string  { return c.id }
func (c *testConn) User() uuid.UUID { return c.userID }

func (c *testConn) Send(env ws.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return ws.ErrConnectionClosed
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *testConn) Close(code int, reason string) {}

func (c *testConn) events(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, env := range c.sent {
		if env.Type == eventType {
			count++
		}
	}
	return count
}

type fixture struct {
	store    *fakeStore
	messages *fakeMessages
	receipts *fakeReceipts
	cache    *cache.ParticipantCache
	registry *ws.Registry
	emitter  *fakeEmitter
	b        *Broadcaster
}

func newFixture() *fixture {
	store := newFakeStore()
	messages := newFakeMessages()
	receipts := &fakeReceipts{}
	participantCache := cache.NewParticipantCache(store, time.Minute)
	registry := ws.NewRegistry()
	emitter := newFakeEmitter()
	return &fixture{
		store:    store,
		messages: messages,
		receipts: receipts,
		cache:    participantCache,
		registry: registry,
		emitter:  emitter,
		b:        NewBroadcaster(store, messages, receipts, participantCache, registry, emitter),
	}
}

func TestSendMessageFanOut(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	sender, online, offline := uuid.New(), uuid.New(), uuid.New()
	f.store.setParticipants(conversationID, sender, online, offline)

	senderConn := newTestConn(sender)
	phone := newTestConn(online)
	laptop := newTestConn(online)
	f.registry.Register(senderConn)
	f.registry.Register(phone)
	f.registry.Register(laptop)

	message, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{Content: "hello"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if message.ID == uuid.Nil {
		t.Fatal("expected persisted message id")
	}

	// Online participant receives one push per device
	if got := phone.events(ws.EventMessageSent); got != 1 {
		t.Errorf("phone: expected 1 message_sent, got %d", got)
	}
	if got := laptop.events(ws.EventMessageSent); got != 1 {
		t.Errorf("laptop: expected 1 message_sent, got %d", got)
	}
	// Sender is excluded
	if got := senderConn.events(ws.EventMessageSent); got != 0 {
		t.Errorf("sender must not receive own message, got %d pushes", got)
	}

	// Offline participant is handed to the emitter, and only that one
	if handed := f.emitter.waitHandoff(t); handed != offline {
		t.Errorf("expected handoff for offline user %s, got %s", offline, handed)
	}
	select {
	case extra := <-f.emitter.handoffs:
		t.Errorf("unexpected extra handoff for %s", extra)
	case <-time.After(50 * time.Millisecond):
	}

	// Both recipients transitioned to delivered
	if !f.receipts.deliveredTo(online) || !f.receipts.deliveredTo(offline) {
		t.Error("expected delivered receipts for both recipients")
	}
	if f.receipts.deliveredTo(sender) {
		t.Error("sender must not get a delivery receipt")
	}

	if f.store.touched != 1 {
		t.Errorf("expected last-activity touch, got %d", f.store.touched)
	}
	if f.store.unreadBumps != 1 {
		t.Errorf("expected one unread bump call, got %d", f.store.unreadBumps)
	}
}

func TestSendMessageForbiddenForNonParticipant(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	f.store.setParticipants(conversationID, uuid.New())

	_, err := f.b.SendMessage(context.Background(), conversationID, uuid.New(), SendMessageInput{Content: "hi"})
	if !errors.Is(err, repo.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if f.messages.created != 0 {
		t.Error("rejected message must not be persisted")
	}
}

func TestSendMessageValidatesMetadata(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	sender := uuid.New()
	f.store.setParticipants(conversationID, sender, uuid.New())

	_, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{
		Type: models.MessageTypeFile, // no file metadata
	})
	if !errors.Is(err, repo.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSendMessageRejectsForeignReplyTo(t *testing.T) {
	f := newFixture()
	convA, convB := uuid.New(), uuid.New()
	sender := uuid.New()
	f.store.setParticipants(convA, sender, uuid.New())
	f.store.setParticipants(convB, sender, uuid.New())

	parent, err := f.b.SendMessage(context.Background(), convB, sender, SendMessageInput{Content: "elsewhere"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	_, err = f.b.SendMessage(context.Background(), convA, sender, SendMessageInput{
		Content:   "reply",
		ReplyToID: &parent.ID,
	})
	if !errors.Is(err, repo.ErrValidation) {
		t.Fatalf("expected ErrValidation for cross-conversation reply, got %v", err)
	}
}

func TestRemovedParticipantNotPushedAfterInvalidate(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	sender, removed := uuid.New(), uuid.New()
	f.store.setParticipants(conversationID, sender, removed)

	removedConn := newTestConn(removed)
	f.registry.Register(removedConn)

	// Warm the cache
	if _, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{Content: "first"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if got := removedConn.events(ws.EventMessageSent); got != 1 {
		t.Fatalf("expected warm-up push, got %d", got)
	}

	// Remove and invalidate, as the membership write path must
	f.store.setParticipants(conversationID, sender)
	f.cache.Invalidate(conversationID)

	if _, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{Content: "second"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if got := removedConn.events(ws.EventMessageSent); got != 1 {
		t.Errorf("removed participant must not receive the second message, got %d pushes", got)
	}
}

func TestPushFailureDoesNotAbortFanOut(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	sender, stale, healthy := uuid.New(), uuid.New(), uuid.New()
	f.store.setParticipants(conversationID, sender, stale, healthy)

	staleConn := newTestConn(stale)
	staleConn.fail = true
	healthyConn := newTestConn(healthy)
	f.registry.Register(staleConn)
	f.registry.Register(healthyConn)

	if _, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{Content: "hello"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if got := healthyConn.events(ws.EventMessageSent); got != 1 {
		t.Errorf("healthy connection must still receive the push, got %d", got)
	}
	// The stale participant had a connection that failed every push, so they
	// are handed to the emitter like an offline user.
	if handed := f.emitter.waitHandoff(t); handed != stale {
		t.Errorf("expected handoff for stale user %s, got %s", stale, handed)
	}
}

func TestMarkReadEmitsReceiptToOthers(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	sender, reader := uuid.New(), uuid.New()
	f.store.setParticipants(conversationID, sender, reader)

	senderConn := newTestConn(sender)
	readerConn := newTestConn(reader)
	f.registry.Register(senderConn)
	f.registry.Register(readerConn)

	message, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{Content: "hello"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := f.b.MarkRead(context.Background(), conversationID, reader, message.ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	if got := senderConn.events(ws.EventReadReceipt); got != 1 {
		t.Errorf("sender should see one read_receipt, got %d", got)
	}
	if got := readerConn.events(ws.EventReadReceipt); got != 0 {
		t.Errorf("reader must not receive their own receipt, got %d", got)
	}
	if f.receipts.advanced != 1 {
		t.Errorf("expected last-read advance, got %d", f.receipts.advanced)
	}
}

func TestMarkReadRejectsForeignMessage(t *testing.T) {
	f := newFixture()
	convA, convB := uuid.New(), uuid.New()
	userA := uuid.New()
	f.store.setParticipants(convA, userA, uuid.New())
	f.store.setParticipants(convB, userA, uuid.New())

	message, err := f.b.SendMessage(context.Background(), convB, userA, SendMessageInput{Content: "over there"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	err = f.b.MarkRead(context.Background(), convA, userA, message.ID)
	if !errors.Is(err, repo.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestEditMessageOnlyBySender(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	sender, other := uuid.New(), uuid.New()
	f.store.setParticipants(conversationID, sender, other)

	message, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{Content: "draft"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if _, err := f.b.EditMessage(context.Background(), message.ID, other, "hijacked"); !errors.Is(err, repo.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-sender edit, got %v", err)
	}

	otherConn := newTestConn(other)
	f.registry.Register(otherConn)

	edited, err := f.b.EditMessage(context.Background(), message.ID, sender, "final")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if !edited.IsEdited || edited.Content != "final" {
		t.Errorf("expected edited message, got %+v", edited)
	}
	if got := otherConn.events(ws.EventMessageUpdated); got != 1 {
		t.Errorf("expected message_updated push, got %d", got)
	}
}

func TestDeleteMessageIsSoftAndIdempotent(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	sender := uuid.New()
	f.store.setParticipants(conversationID, sender, uuid.New())

	message, err := f.b.SendMessage(context.Background(), conversationID, sender, SendMessageInput{Content: "oops"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if err := f.b.DeleteMessage(context.Background(), message.ID, sender); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}

	// The row survives with its id, only hidden
	stored, err := f.messages.GetByID(message.ID)
	if err != nil {
		t.Fatalf("deleted message must still exist: %v", err)
	}
	if stored.Visible() {
		t.Error("expected message hidden after delete")
	}

	// Second delete is a no-op
	if err := f.b.DeleteMessage(context.Background(), message.ID, sender); err != nil {
		t.Fatalf("repeat delete must be idempotent: %v", err)
	}
}

func TestNotifyTypingRequiresMembership(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	member, stranger := uuid.New(), uuid.New()
	f.store.setParticipants(conversationID, member, uuid.New())

	err := f.b.NotifyTyping(context.Background(), conversationID, stranger, "Mallory", true)
	if !errors.Is(err, repo.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if err := f.b.NotifyTyping(context.Background(), conversationID, member, "Alice", true); err != nil {
		t.Fatalf("NotifyTyping failed for member: %v", err)
	}
}

func TestPresenceChangedReachesConversationPeers(t *testing.T) {
	f := newFixture()
	conversationID := uuid.New()
	userA, userB := uuid.New(), uuid.New()
	f.store.setParticipants(conversationID, userA, userB)

	peerConn := newTestConn(userB)
	f.registry.Register(peerConn)

	f.b.PresenceChanged(context.Background(), userA, true)
	if got := peerConn.events(ws.EventUserOnline); got != 1 {
		t.Errorf("expected one user_online event, got %d", got)
	}

	f.b.PresenceChanged(context.Background(), userA, false)
	if got := peerConn.events(ws.EventUserOffline); got != 1 {
		t.Errorf("expected one user_offline event, got %d", got)
	}
}

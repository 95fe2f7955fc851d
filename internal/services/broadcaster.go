package services

import (
	"context"
	"fmt"
	"time"

	"parley/internal/repo"
	"parley/internal/ws"
	"parley/pkg/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ConversationStore is the slice of the conversation repository the
// broadcaster needs. Only the store mutates durable state.
type ConversationStore interface {
	IsActiveParticipant(conversationID, userID uuid.UUID) (bool, error)
	TouchLastMessageAt(conversationID uuid.UUID, at time.Time) error
	IncrementUnread(conversationID, senderID uuid.UUID) error
	ActiveConversationIDs(userID uuid.UUID, limit int) ([]uuid.UUID, error)
}

// MessageStore persists and mutates message rows
type MessageStore interface {
	Create(message *models.Message) error
	GetByID(id uuid.UUID) (*models.Message, error)
	MarkEdited(id uuid.UUID, content string, at time.Time) error
	MarkRemoved(id uuid.UUID, at time.Time) error
}

// ReceiptStore records delivery and read acknowledgements
type ReceiptStore interface {
	MarkDelivered(messageID, userID, conversationID uuid.UUID, at time.Time) error
	MarkRead(messageID, userID, conversationID uuid.UUID, at time.Time) error
	AdvanceLastRead(conversationID, userID uuid.UUID, at time.Time) error
}

// ParticipantResolver answers membership queries from cache, falling back to
// the store on miss or expiry
type ParticipantResolver interface {
	Resolve(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	Invalidate(conversationID uuid.UUID)
}

// ConnectionSource looks up a user's live connections
type ConnectionSource interface {
	ConnectionsFor(userID uuid.UUID) []ws.Conn
}

// NotificationEmitter receives the abstract "deliver to offline user" handoff.
// Fire-and-forget: the broadcaster never waits on it and its failures never
// fail a send.
type NotificationEmitter interface {
	NotifyOffline(ctx context.Context, userID uuid.UUID, summary models.MessageSummary)
}

// Broadcaster orchestrates the live path: persist via the store, resolve the
// audience via the participant cache, push to each participant's connections,
// update receipts, and hand offline participants to the notification emitter.
type Broadcaster struct {
	conversations ConversationStore
	messages      MessageStore
	receipts      ReceiptStore
	participants  ParticipantResolver
	registry      ConnectionSource
	emitter       NotificationEmitter
}

// NewBroadcaster wires the broadcaster's collaborators
func NewBroadcaster(
	conversations ConversationStore,
	messages MessageStore,
	receipts ReceiptStore,
	participants ParticipantResolver,
	registry ConnectionSource,
	emitter NotificationEmitter,
) *Broadcaster {
	return &Broadcaster{
		conversations: conversations,
		messages:      messages,
		receipts:      receipts,
		participants:  participants,
		registry:      registry,
		emitter:       emitter,
	}
}

// Participants resolves the conversation's active participant set through the
// cache, hitting the store only on miss or expiry.
func (b *Broadcaster) Participants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	return b.participants.Resolve(ctx, conversationID)
}

// SendMessageInput is the inbound send request after transport decoding
type SendMessageInput struct {
	Type      string
	Content   string
	ReplyToID *uuid.UUID
	Metadata  models.MessageMetadata
}

// SendMessage validates, persists and fans out a new message. The stored row
// is the authoritative state: push failures affect latency only, never
// correctness, because missed participants catch up through pagination.
func (b *Broadcaster) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, input SendMessageInput) (*models.Message, error) {
	if input.Type == "" {
		input.Type = models.MessageTypeText
	}
	if err := input.Metadata.ValidateFor(input.Type); err != nil {
		return nil, fmt.Errorf("%w: %s", repo.ErrValidation, err)
	}
	if input.Content == "" && input.Type == models.MessageTypeText {
		return nil, fmt.Errorf("%w: empty message content", repo.ErrValidation)
	}

	active, err := b.conversations.IsActiveParticipant(conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, repo.ErrForbidden
	}

	if input.ReplyToID != nil {
		parent, err := b.messages.GetByID(*input.ReplyToID)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown reply-to message", repo.ErrValidation)
		}
		if parent.ConversationID != conversationID {
			return nil, fmt.Errorf("%w: reply-to message belongs to another conversation", repo.ErrValidation)
		}
	}

	message := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           input.Type,
		Content:        input.Content,
		Metadata:       input.Metadata,
		ReplyToID:      input.ReplyToID,
	}
	if err := b.messages.Create(message); err != nil {
		return nil, err
	}

	if err := b.conversations.TouchLastMessageAt(conversationID, message.CreatedAt); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("failed to touch last activity")
	}
	if err := b.conversations.IncrementUnread(conversationID, senderID); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("failed to bump unread counters")
	}

	b.fanOut(ctx, conversationID, senderID, ws.NewEvent(ws.EventMessageSent, ws.MessagePayload{
		ConversationID: conversationID,
		Message:        *message,
	}), message)

	return message, nil
}

// fanOut pushes the event to every active participant except the actor.
// Delivery is best-effort per connection: a failed push to one stale socket
// never aborts delivery to the rest. When msg is non-nil, participants with no
// live connection are handed to the notification emitter and each reached or
// handed-off participant gets a delivered receipt.
func (b *Broadcaster) fanOut(ctx context.Context, conversationID, actorID uuid.UUID, event ws.Envelope, msg *models.Message) {
	participantIDs, err := b.participants.Resolve(ctx, conversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("participant resolve failed, fan-out skipped")
		return
	}

	now := time.Now()
	for _, userID := range participantIDs {
		if userID == actorID {
			continue
		}

		conns := b.registry.ConnectionsFor(userID)
		pushed := 0
		for _, conn := range conns {
			if err := conn.Send(event); err != nil {
				log.Warn().Err(err).
					Str("user_id", userID.String()).
					Str("conn_id", conn.ConnID()).
					Msg("push failed, connection dropped")
				continue
			}
			pushed++
		}

		if msg == nil {
			continue
		}

		if pushed == 0 {
			go b.emitter.NotifyOffline(context.WithoutCancel(ctx), userID, models.MessageSummary{
				ConversationID: conversationID,
				MessageID:      msg.ID,
				SenderID:       msg.SenderID,
				Preview:        preview(msg),
				SentAt:         msg.CreatedAt,
			})
		}

		// pending -> delivered: pushed to at least one socket or handed off
		if err := b.receipts.MarkDelivered(msg.ID, userID, conversationID, now); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID.String()).Msg("failed to record delivery")
		}
	}
}

// EditMessage replaces the content of the sender's own message and broadcasts
// message_updated. The row keeps its id and ordering position.
func (b *Broadcaster) EditMessage(ctx context.Context, messageID, editorID uuid.UUID, content string) (*models.Message, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: empty message content", repo.ErrValidation)
	}

	message, err := b.messages.GetByID(messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != editorID {
		return nil, repo.ErrForbidden
	}
	if !message.Visible() {
		return nil, fmt.Errorf("%w: message was deleted", repo.ErrValidation)
	}

	now := time.Now()
	if err := b.messages.MarkEdited(messageID, content, now); err != nil {
		return nil, err
	}
	message.Content = content
	message.IsEdited = true
	message.EditedAt = &now

	b.fanOut(ctx, message.ConversationID, editorID, ws.NewEvent(ws.EventMessageUpdated, ws.MessagePayload{
		ConversationID: message.ConversationID,
		Message:        *message,
	}), nil)

	return message, nil
}

// DeleteMessage soft-deletes the sender's own message and broadcasts
// message_deleted. Receipts and pagination cursors stay valid.
func (b *Broadcaster) DeleteMessage(ctx context.Context, messageID, actorID uuid.UUID) error {
	message, err := b.messages.GetByID(messageID)
	if err != nil {
		return err
	}
	if message.SenderID != actorID {
		return repo.ErrForbidden
	}
	if !message.Visible() {
		return nil // already deleted, idempotent
	}

	now := time.Now()
	if err := b.messages.MarkRemoved(messageID, now); err != nil {
		return err
	}
	message.RemovedAt = &now

	b.fanOut(ctx, message.ConversationID, actorID, ws.NewEvent(ws.EventMessageDeleted, ws.MessagePayload{
		ConversationID: message.ConversationID,
		Message:        *message,
	}), nil)

	return nil
}

// MarkRead records a read acknowledgement, advances the participant's
// last-read watermark and notifies the other participants with a read_receipt
// event. Read implies delivered.
func (b *Broadcaster) MarkRead(ctx context.Context, conversationID, userID, messageID uuid.UUID) error {
	active, err := b.conversations.IsActiveParticipant(conversationID, userID)
	if err != nil {
		return err
	}
	if !active {
		return repo.ErrForbidden
	}

	message, err := b.messages.GetByID(messageID)
	if err != nil {
		return err
	}
	if message.ConversationID != conversationID {
		return fmt.Errorf("%w: message belongs to another conversation", repo.ErrValidation)
	}

	now := time.Now()
	if err := b.receipts.MarkRead(messageID, userID, conversationID, now); err != nil {
		return err
	}
	if err := b.receipts.AdvanceLastRead(conversationID, userID, message.CreatedAt); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID.String()).Msg("failed to advance last read")
	}

	b.fanOut(ctx, conversationID, userID, ws.NewEvent(ws.EventReadReceipt, ws.ReadReceiptPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		ReadAt:         now,
	}), nil)

	return nil
}

// NotifyTyping fans out ephemeral typing state. Nothing is persisted.
func (b *Broadcaster) NotifyTyping(ctx context.Context, conversationID, userID uuid.UUID, userName string, isTyping bool) error {
	participantIDs, err := b.participants.Resolve(ctx, conversationID)
	if err != nil {
		return err
	}
	member := false
	for _, id := range participantIDs {
		if id == userID {
			member = true
			break
		}
	}
	if !member {
		return repo.ErrForbidden
	}

	eventType := ws.EventUserTyping
	if !isTyping {
		eventType = ws.EventUserStoppedTyping
	}
	b.fanOut(ctx, conversationID, userID, ws.NewEvent(eventType, ws.TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		UserName:       userName,
		IsTyping:       isTyping,
	}), nil)

	return nil
}

// ConversationUpdated broadcasts archive/title changes to every participant
// except the actor.
func (b *Broadcaster) ConversationUpdated(ctx context.Context, actorID uuid.UUID, conv *models.Conversation) {
	b.fanOut(ctx, conv.ID, actorID, ws.NewEvent(ws.EventConversationUpdated, ws.ConversationUpdatedPayload{
		ConversationID: conv.ID,
		Conversation:   *conv,
	}), nil)
}

// NotifyUser pushes an in-band notification to every connection of one user,
// e.g. after being added to a conversation.
func (b *Broadcaster) NotifyUser(userID uuid.UUID, title, body string) {
	event := ws.NewEvent(ws.EventNotification, ws.NotificationPayload{Title: title, Body: body})
	for _, conn := range b.registry.ConnectionsFor(userID) {
		if err := conn.Send(event); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("notification push failed")
		}
	}
}

// presenceScanLimit bounds how many conversations a presence edge fans out to
const presenceScanLimit = 100

// PresenceChanged announces a user coming online or going offline to the
// participants of their most recently active conversations.
func (b *Broadcaster) PresenceChanged(ctx context.Context, userID uuid.UUID, online bool) {
	conversationIDs, err := b.conversations.ActiveConversationIDs(userID, presenceScanLimit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("presence fan-out skipped")
		return
	}

	eventType := ws.EventUserOffline
	if online {
		eventType = ws.EventUserOnline
	}
	event := ws.NewEvent(eventType, ws.PresencePayload{UserID: userID, At: time.Now()})

	notified := make(map[uuid.UUID]bool)
	notified[userID] = true
	for _, conversationID := range conversationIDs {
		participantIDs, err := b.participants.Resolve(ctx, conversationID)
		if err != nil {
			continue
		}
		for _, participantID := range participantIDs {
			if notified[participantID] {
				continue
			}
			notified[participantID] = true
			for _, conn := range b.registry.ConnectionsFor(participantID) {
				_ = conn.Send(event)
			}
		}
	}
}

func preview(msg *models.Message) string {
	const max = 140
	switch msg.Type {
	case models.MessageTypeFile:
		if msg.Metadata.File != nil {
			return "Sent a file: " + msg.Metadata.File.FileName
		}
		return "Sent a file"
	case models.MessageTypeMeeting:
		if msg.Metadata.Meeting != nil && msg.Metadata.Meeting.Title != "" {
			return "Meeting: " + msg.Metadata.Meeting.Title
		}
		return "Shared a meeting"
	}
	content := msg.Content
	if len(content) > max {
		content = content[:max]
	}
	return content
}

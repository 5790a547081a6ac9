package realtime

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// Store is the slice of the chat store the dispatcher needs.
type Store interface {
	ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error)
	IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error)
	MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, upToSeq int64) error
}

// Dispatcher fans conversation events out to connected participants.
// Each recipient is handled independently; a broken channel never
// prevents delivery to the rest.
type Dispatcher struct {
	store    Store
	presence *Presence
}

func NewDispatcher(store Store, presence *Presence) *Dispatcher {
	return &Dispatcher{store: store, presence: presence}
}

// MessagePayload is the wire shape of a message in realtime events.
type MessagePayload struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"senderId"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TypingPayload is the wire shape of typing.update events.
type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         string    `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
}

// ReadPayload is the wire shape of message.read events.
type ReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         string    `json:"userId"`
	UpToSeq        int64     `json:"upToSeq"`
}

// PublishMessage pushes a message.created event to every connected
// participant of the message's conversation, the sender's other
// channels included.
func (d *Dispatcher) PublishMessage(ctx context.Context, msg *model.Message) {
	participants, err := d.store.ListParticipants(ctx, msg.ConversationID)
	if err != nil {
		log.Warn("Realtime fan-out skipped: participant lookup failed", "conversation", msg.ConversationID, "err", err)
		return
	}
	ev := Event{Type: EventMessageCreated, Payload: MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		SenderID:       msg.SenderID,
		Type:           msg.Type,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}}
	for _, p := range participants {
		d.deliver(p.UserID, ev)
	}
}

// PublishTyping pushes an ephemeral typing.update to the other
// connected participants. Nothing is stored; callers that are not
// members of the conversation are ignored.
func (d *Dispatcher) PublishTyping(ctx context.Context, conversationID uuid.UUID, userID string, isTyping bool) {
	ok, err := d.store.IsParticipant(ctx, conversationID, userID)
	if err != nil || !ok {
		return
	}
	participants, err := d.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return
	}
	ev := Event{Type: EventTypingUpdate, Payload: TypingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	}}
	for _, p := range participants {
		if p.UserID == userID {
			continue
		}
		d.deliver(p.UserID, ev)
	}
}

// PublishReadReceipt advances the reader's last-read pointer and then
// pushes a message.read event to the other connected participants. The
// pointer update is authoritative; the fan-out is best effort.
func (d *Dispatcher) PublishReadReceipt(ctx context.Context, conversationID uuid.UUID, userID string, upToSeq int64) error {
	if err := d.store.MarkRead(ctx, conversationID, userID, upToSeq); err != nil {
		return err
	}
	participants, err := d.store.ListParticipants(ctx, conversationID)
	if err != nil {
		log.Warn("Read receipt fan-out skipped: participant lookup failed", "conversation", conversationID, "err", err)
		return nil
	}
	ev := Event{Type: EventMessageRead, Payload: ReadPayload{
		ConversationID: conversationID,
		UserID:         userID,
		UpToSeq:        upToSeq,
	}}
	for _, p := range participants {
		if p.UserID == userID {
			continue
		}
		d.deliver(p.UserID, ev)
	}
	return nil
}

func (d *Dispatcher) deliver(userID string, ev Event) {
	for _, c := range d.presence.ConnsFor(userID) {
		if err := c.WriteEvent(ev); err != nil {
			log.Debug("Dropping slow or closed realtime channel", "user", userID, "err", err)
			d.presence.Deregister(userID, c)
			_ = c.Close()
		}
	}
}

package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func (c *fakeConn) WriteEvent(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event{}, c.events...)
}

type fakeDispatcherStore struct {
	participants  map[uuid.UUID][]string
	markReadCalls []markReadCall
}

type markReadCall struct {
	conversationID uuid.UUID
	userID         string
	upToSeq        int64
}

func (s *fakeDispatcherStore) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	var out []model.Participant
	for _, id := range s.participants[conversationID] {
		out = append(out, model.Participant{ConversationID: conversationID, UserID: id})
	}
	return out, nil
}

func (s *fakeDispatcherStore) IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	for _, id := range s.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeDispatcherStore) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, upToSeq int64) error {
	s.markReadCalls = append(s.markReadCalls, markReadCall{conversationID, userID, upToSeq})
	return nil
}

func TestPublishMessageFansOutToConnectedParticipantsOnly(t *testing.T) {
	convID := uuid.New()
	store := &fakeDispatcherStore{participants: map[uuid.UUID][]string{
		convID: {"alice", "bob", "carol"},
	}}
	presence := NewPresence()
	alice := &fakeConn{}
	bob := &fakeConn{}
	presence.Register("alice", alice)
	presence.Register("bob", bob)
	// carol is offline

	d := NewDispatcher(store, presence)
	d.PublishMessage(context.Background(), &model.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		Seq:            1,
		SenderID:       "alice",
		Type:           model.MessageTypeText,
		Content:        "hi",
		CreatedAt:      time.Now(),
	})

	require.Len(t, alice.received(), 1)
	require.Len(t, bob.received(), 1)
	ev := bob.received()[0]
	assert.Equal(t, EventMessageCreated, ev.Type)
	payload := ev.Payload.(MessagePayload)
	assert.Equal(t, convID, payload.ConversationID)
	assert.Equal(t, int64(1), payload.Seq)
	assert.Equal(t, "hi", payload.Content)
}

func TestPublishMessageBrokenChannelDoesNotBlockOthers(t *testing.T) {
	convID := uuid.New()
	store := &fakeDispatcherStore{participants: map[uuid.UUID][]string{
		convID: {"alice", "bob"},
	}}
	presence := NewPresence()
	alice := &fakeConn{fail: true}
	bob := &fakeConn{}
	presence.Register("alice", alice)
	presence.Register("bob", bob)

	d := NewDispatcher(store, presence)
	d.PublishMessage(context.Background(), &model.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       "bob",
		Content:        "still delivered",
	})

	assert.Len(t, bob.received(), 1)
	// The broken channel is dropped from presence and closed.
	assert.True(t, alice.closed)
	assert.Empty(t, presence.ConnsFor("alice"))
}

func TestPublishTypingSkipsOriginatorAndNonMembers(t *testing.T) {
	convID := uuid.New()
	store := &fakeDispatcherStore{participants: map[uuid.UUID][]string{
		convID: {"alice", "bob", "carol"},
	}}
	presence := NewPresence()
	alice := &fakeConn{}
	bob := &fakeConn{}
	presence.Register("alice", alice)
	presence.Register("bob", bob)

	d := NewDispatcher(store, presence)
	d.PublishTyping(context.Background(), convID, "alice", true)

	assert.Empty(t, alice.received())
	require.Len(t, bob.received(), 1)
	assert.Equal(t, EventTypingUpdate, bob.received()[0].Type)
	payload := bob.received()[0].Payload.(TypingPayload)
	assert.True(t, payload.IsTyping)
	assert.Equal(t, "alice", payload.UserID)

	// A caller outside the conversation produces no events.
	d.PublishTyping(context.Background(), convID, "mallory", true)
	assert.Len(t, bob.received(), 1)
}

func TestPublishReadReceiptMarksReadThenFansOut(t *testing.T) {
	convID := uuid.New()
	store := &fakeDispatcherStore{participants: map[uuid.UUID][]string{
		convID: {"alice", "bob"},
	}}
	presence := NewPresence()
	bob := &fakeConn{}
	presence.Register("bob", bob)

	d := NewDispatcher(store, presence)
	err := d.PublishReadReceipt(context.Background(), convID, "alice", 7)
	require.NoError(t, err)

	require.Len(t, store.markReadCalls, 1)
	assert.Equal(t, markReadCall{convID, "alice", 7}, store.markReadCalls[0])

	require.Len(t, bob.received(), 1)
	payload := bob.received()[0].Payload.(ReadPayload)
	assert.Equal(t, int64(7), payload.UpToSeq)
	assert.Equal(t, "alice", payload.UserID)
}

package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) EnsureUser(ctx context.Context, userID string, kahaID string) (*model.User, error) {
	defer observe("ensure_user", time.Now())
	return m.inner.EnsureUser(ctx, userID, kahaID)
}

func (m *metricsStore) CreateDirectConversation(ctx context.Context, creatorID string, targetUserID string) (*store.ConversationDetail, bool, error) {
	defer observe("create_direct_conversation", time.Now())
	return m.inner.CreateDirectConversation(ctx, creatorID, targetUserID)
}

func (m *metricsStore) CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string, name string) (*store.ConversationDetail, error) {
	defer observe("create_group_conversation", time.Now())
	return m.inner.CreateGroupConversation(ctx, creatorID, participantIDs, name)
}

func (m *metricsStore) CreateBusinessConversation(ctx context.Context, creatorID string, businessID string, initialMessage *store.NewMessage) (*store.ConversationDetail, *model.Message, error) {
	defer observe("create_business_conversation", time.Now())
	return m.inner.CreateBusinessConversation(ctx, creatorID, businessID, initialMessage)
}

func (m *metricsStore) ListConversations(ctx context.Context, userID string) ([]store.ConversationSummary, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, userID)
}

func (m *metricsStore) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*store.ConversationDetail, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, userID, conversationID)
}

func (m *metricsStore) IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	defer observe("is_participant", time.Now())
	return m.inner.IsParticipant(ctx, conversationID, userID)
}

func (m *metricsStore) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	defer observe("list_participants", time.Now())
	return m.inner.ListParticipants(ctx, conversationID)
}

func (m *metricsStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, senderID string, msg store.NewMessage) (*model.Message, error) {
	defer observe("append_message", time.Now())
	return m.inner.AppendMessage(ctx, conversationID, senderID, msg)
}

func (m *metricsStore) GetMessages(ctx context.Context, userID string, conversationID uuid.UUID, beforeSeq *int64, limit int) (*store.PagedMessages, error) {
	defer observe("get_messages", time.Now())
	return m.inner.GetMessages(ctx, userID, conversationID, beforeSeq, limit)
}

func (m *metricsStore) GetMessage(ctx context.Context, userID string, messageID uuid.UUID) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, userID, messageID)
}

func (m *metricsStore) IncrementUnread(ctx context.Context, conversationID uuid.UUID, exceptUserID string) error {
	defer observe("increment_unread", time.Now())
	return m.inner.IncrementUnread(ctx, conversationID, exceptUserID)
}

func (m *metricsStore) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, upToSeq int64) error {
	defer observe("mark_read", time.Now())
	return m.inner.MarkRead(ctx, conversationID, userID, upToSeq)
}

func (m *metricsStore) UnreadCounts(ctx context.Context, userID string) ([]store.UnreadCount, error) {
	defer observe("unread_counts", time.Now())
	return m.inner.UnreadCounts(ctx, userID)
}

func (m *metricsStore) RepairUnreadCounts(ctx context.Context) (int64, error) {
	defer observe("repair_unread_counts", time.Now())
	return m.inner.RepairUnreadCounts(ctx)
}

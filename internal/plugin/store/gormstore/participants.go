package gormstore

import (
	"context"
	"fmt"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *Store) IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error) {
	var participants []model.Participant
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("user_id ASC").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

// IncrementUnread bumps the unread counter of every participant except
// the sender in a single atomic UPDATE. No read-modify-write happens in
// application code, so concurrent increments never lose updates.
func (s *Store) IncrementUnread(ctx context.Context, conversationID uuid.UUID, exceptUserID string) error {
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id <> ?", conversationID, exceptUserID).
		UpdateColumn("unread_count", gorm.Expr("unread_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment unread counters: %w", err)
	}
	return nil
}

// MarkRead zeroes the unread counter and advances the last-read pointer,
// but only forward. Late or out-of-order acknowledgements match no row
// and are silently ignored.
func (s *Store) MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, upToSeq int64) error {
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND last_read_seq <= ?", conversationID, userID, upToSeq).
		Updates(map[string]interface{}{
			"unread_count":  0,
			"last_read_seq": upToSeq,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return nil
}

func (s *Store) UnreadCounts(ctx context.Context, userID string) ([]registrystore.UnreadCount, error) {
	var participants []model.Participant
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load unread counts: %w", err)
	}
	counts := make([]registrystore.UnreadCount, len(participants))
	for i, p := range participants {
		counts[i] = registrystore.UnreadCount{ConversationID: p.ConversationID, Count: p.UnreadCount}
	}
	return counts, nil
}

// RepairUnreadCounts recomputes unread counters from the message log.
// The log is the source of truth; the counters are derived state that
// this sweep can restore after any inconsistency.
func (s *Store) RepairUnreadCounts(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Exec(`
		UPDATE participants SET unread_count = (
			SELECT COUNT(*) FROM messages m
			WHERE m.conversation_id = participants.conversation_id
			  AND m.seq > participants.last_read_seq
			  AND m.sender_id <> participants.user_id
		)`)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to repair unread counters: %w", result.Error)
	}
	return result.RowsAffected, nil
}

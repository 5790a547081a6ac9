package gormstore

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

func (s *Store) AppendMessage(ctx context.Context, conversationID uuid.UUID, senderID string, msg registrystore.NewMessage) (*model.Message, error) {
	if msg.Content == "" {
		return nil, &registrystore.ValidationError{Field: "content", Message: "content is required"}
	}
	msgType := msg.Type
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	ok, err := s.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &registrystore.ForbiddenError{}
	}

	// The sequence number is assigned inside the same transaction as
	// the insert. The UPDATE takes the conversation row lock, so two
	// concurrent senders serialize here and the (conversation_id, seq)
	// unique index can never be violated by normal operation. Retries
	// cover driver-level serialization/busy errors.
	var lastErr error
	for attempt := 0; attempt < appendMaxAttempts; attempt++ {
		record, err := s.appendOnce(ctx, conversationID, senderID, msg.Content, msgType)
		if err == nil {
			return record, nil
		}
		if _, isNotFound := err.(*registrystore.NotFoundError); isNotFound {
			return nil, err
		}
		lastErr = err
	}
	if isDuplicateKey(lastErr) {
		return nil, &registrystore.ConflictError{Message: "message sequence assignment conflict"}
	}
	return nil, fmt.Errorf("failed to append message: %w", lastErr)
}

func (s *Store) appendOnce(ctx context.Context, conversationID uuid.UUID, senderID, content, msgType string) (*model.Message, error) {
	now := time.Now()
	var record model.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Updates(map[string]interface{}{
				"last_seq":   gorm.Expr("last_seq + 1"),
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
		}

		var seq int64
		if err := tx.Model(&model.Conversation{}).
			Where("id = ?", conversationID).
			Pluck("last_seq", &seq).Error; err != nil {
			return err
		}

		record = model.Message{
			ID:             uuid.New(),
			ConversationID: conversationID,
			Seq:            seq,
			SenderID:       senderID,
			Type:           msgType,
			Content:        content,
			CreatedAt:      now,
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		if nf, ok := err.(*registrystore.NotFoundError); ok {
			return nil, nf
		}
		return nil, err
	}
	return &record, nil
}

func (s *Store) GetMessages(ctx context.Context, userID string, conversationID uuid.UUID, beforeSeq *int64, limit int) (*registrystore.PagedMessages, error) {
	ok, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}

	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	tx := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if beforeSeq != nil {
		tx = tx.Where("seq < ?", *beforeSeq)
	}

	var msgs []model.Message
	if err := tx.Order("seq DESC").Limit(limit + 1).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to page messages: %w", err)
	}

	page := &registrystore.PagedMessages{Data: msgs}
	if len(msgs) > limit {
		page.Data = msgs[:limit]
		cursor := page.Data[limit-1].Seq
		page.BeforeCursor = &cursor
	}
	return page, nil
}

func (s *Store) GetMessage(ctx context.Context, userID string, messageID uuid.UUID) (*model.Message, error) {
	var msg model.Message
	result := s.db.WithContext(ctx).Where("id = ?", messageID).Limit(1).Find(&msg)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}

	// Same surface as an unknown id when the caller is not a member of
	// the message's conversation.
	ok, err := s.IsParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: messageID.String()}
	}
	return &msg, nil
}

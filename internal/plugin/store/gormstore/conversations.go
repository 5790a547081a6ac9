package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// directKey builds the canonical unordered-pair key so that
// createDirect(a, b) and createDirect(b, a) hit the same unique index.
// The delimiter is escaped inside each half so ids containing ':'
// cannot make two distinct pairs share a key.
func directKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return escapeKeyPart(a) + ":" + escapeKeyPart(b)
}

func escapeKeyPart(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ":", `\:`)
}

func (s *Store) CreateDirectConversation(ctx context.Context, creatorID string, targetUserID string) (*registrystore.ConversationDetail, bool, error) {
	if creatorID == targetUserID {
		return nil, false, &registrystore.ValidationError{Field: "targetUserId", Message: "cannot create a direct conversation with yourself"}
	}
	// The business participant namespace is reserved for business
	// conversations.
	if _, ok := model.ParseBusinessParticipantID(targetUserID); ok {
		return nil, false, &registrystore.ValidationError{Field: "targetUserId", Message: "targetUserId must be a user, not a business"}
	}

	key := directKey(creatorID, targetUserID)

	// Fast path: the pair already has a conversation.
	if detail, err := s.findDirectByKey(ctx, creatorID, key); err != nil {
		return nil, false, err
	} else if detail != nil {
		return detail, false, nil
	}

	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.New(),
		Type:      model.ConversationDirect,
		DirectKey: &key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		return s.createParticipants(tx, conv.ID, []string{creatorID, targetUserID}, now)
	})
	if err != nil {
		// Lost a race against a concurrent createDirect for the same
		// pair: the unique index on direct_key decides the winner and
		// we return the existing conversation.
		if isDuplicateKey(err) {
			detail, ferr := s.findDirectByKey(ctx, creatorID, key)
			if ferr != nil {
				return nil, false, ferr
			}
			if detail != nil {
				return detail, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create direct conversation: %w", err)
	}

	return &registrystore.ConversationDetail{
		ConversationSummary: registrystore.ConversationSummary{
			ID:             conv.ID,
			Type:           conv.Type,
			CreatedAt:      now,
			UpdatedAt:      now,
			ParticipantIDs: []string{creatorID, targetUserID},
		},
	}, true, nil
}

func (s *Store) findDirectByKey(ctx context.Context, userID string, key string) (*registrystore.ConversationDetail, error) {
	var conv model.Conversation
	result := s.db.WithContext(ctx).Where("direct_key = ?", key).Limit(1).Find(&conv)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up direct conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.conversationDetail(ctx, userID, conv)
}

func (s *Store) CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string, name string) (*registrystore.ConversationDetail, error) {
	members := lo.Filter(lo.Uniq(append([]string{creatorID}, participantIDs...)), func(id string, _ int) bool {
		return strings.TrimSpace(id) != ""
	})
	if len(members) < 3 {
		return nil, &registrystore.ValidationError{Field: "participantIds", Message: "group requires at least 3 participants"}
	}

	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.New(),
		Type:      model.ConversationGroup,
		Name:      &name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		return s.createParticipants(tx, conv.ID, members, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create group conversation: %w", err)
	}

	return &registrystore.ConversationDetail{
		ConversationSummary: registrystore.ConversationSummary{
			ID:             conv.ID,
			Type:           conv.Type,
			Name:           conv.Name,
			CreatedAt:      now,
			UpdatedAt:      now,
			ParticipantIDs: members,
		},
	}, nil
}

func (s *Store) CreateBusinessConversation(ctx context.Context, creatorID string, businessID string, initialMessage *registrystore.NewMessage) (*registrystore.ConversationDetail, *model.Message, error) {
	if strings.TrimSpace(businessID) == "" {
		return nil, nil, &registrystore.ValidationError{Field: "businessId", Message: "businessId is required"}
	}

	now := time.Now()
	members := []string{creatorID, model.BusinessParticipantID(businessID)}
	conv := model.Conversation{
		ID:         uuid.New(),
		Type:       model.ConversationBusiness,
		BusinessID: &businessID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		return s.createParticipants(tx, conv.ID, members, now)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create business conversation: %w", err)
	}

	detail := &registrystore.ConversationDetail{
		ConversationSummary: registrystore.ConversationSummary{
			ID:             conv.ID,
			Type:           conv.Type,
			BusinessID:     conv.BusinessID,
			CreatedAt:      now,
			UpdatedAt:      now,
			ParticipantIDs: members,
		},
	}

	// The initial message is appended after the create commits. An
	// append failure leaves a valid empty conversation; the client can
	// retry the send.
	if initialMessage != nil {
		msg, err := s.AppendMessage(ctx, conv.ID, creatorID, *initialMessage)
		if err != nil {
			log.Warn("Initial message append failed; conversation kept",
				"conversationId", conv.ID, "err", err)
			return detail, nil, nil
		}
		if err := s.IncrementUnread(ctx, conv.ID, creatorID); err != nil {
			log.Warn("Unread increment failed for initial message",
				"conversationId", conv.ID, "err", err)
		}
		detail.LastMessage = msg
		return detail, msg, nil
	}
	return detail, nil, nil
}

func (s *Store) createParticipants(tx *gorm.DB, conversationID uuid.UUID, userIDs []string, now time.Time) error {
	participants := make([]model.Participant, len(userIDs))
	for i, id := range userIDs {
		participants[i] = model.Participant{
			ConversationID: conversationID,
			UserID:         id,
			JoinedAt:       now,
		}
	}
	return tx.Create(&participants).Error
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]registrystore.ConversationSummary, error) {
	var own []model.Participant
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&own).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	if len(own) == 0 {
		return []registrystore.ConversationSummary{}, nil
	}

	convIDs := lo.Map(own, func(p model.Participant, _ int) uuid.UUID { return p.ConversationID })
	unreadByConv := lo.SliceToMap(own, func(p model.Participant) (uuid.UUID, int64) {
		return p.ConversationID, p.UnreadCount
	})

	var convs []model.Conversation
	if err := s.db.WithContext(ctx).Where("id IN ?", convIDs).Order("updated_at DESC").Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	var all []model.Participant
	if err := s.db.WithContext(ctx).Where("conversation_id IN ?", convIDs).Find(&all).Error; err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	membersByConv := lo.GroupBy(all, func(p model.Participant) uuid.UUID { return p.ConversationID })

	lastByConv, err := s.lastMessages(ctx, convIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]registrystore.ConversationSummary, len(convs))
	for i, conv := range convs {
		summaries[i] = registrystore.ConversationSummary{
			ID:          conv.ID,
			Type:        conv.Type,
			Name:        conv.Name,
			BusinessID:  conv.BusinessID,
			CreatedAt:   conv.CreatedAt,
			UpdatedAt:   conv.UpdatedAt,
			UnreadCount: unreadByConv[conv.ID],
			ParticipantIDs: lo.Map(membersByConv[conv.ID], func(p model.Participant, _ int) string {
				return p.UserID
			}),
		}
		if last, ok := lastByConv[conv.ID]; ok {
			m := last
			summaries[i].LastMessage = &m
		}
	}
	return summaries, nil
}

// lastMessages loads the highest-sequence message of each conversation.
func (s *Store) lastMessages(ctx context.Context, convIDs []uuid.UUID) (map[uuid.UUID]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("(conversation_id, seq) IN (?)",
			s.db.Model(&model.Message{}).
				Select("conversation_id, MAX(seq)").
				Where("conversation_id IN ?", convIDs).
				Group("conversation_id")).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load last messages: %w", err)
	}
	return lo.SliceToMap(msgs, func(m model.Message) (uuid.UUID, model.Message) {
		return m.ConversationID, m
	}), nil
}

func (s *Store) GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*registrystore.ConversationDetail, error) {
	var conv model.Conversation
	result := s.db.WithContext(ctx).Where("id = ?", conversationID).Limit(1).Find(&conv)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conversationID.String()}
	}
	return s.conversationDetail(ctx, userID, conv)
}

// conversationDetail builds the caller-facing view of conv. A caller
// who is not a participant gets the same NotFoundError as an unknown
// id, so existence is not leaked.
func (s *Store) conversationDetail(ctx context.Context, userID string, conv model.Conversation) (*registrystore.ConversationDetail, error) {
	participants, err := s.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	me, ok := lo.Find(participants, func(p model.Participant) bool { return p.UserID == userID })
	if !ok {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: conv.ID.String()}
	}

	lastByConv, err := s.lastMessages(ctx, []uuid.UUID{conv.ID})
	if err != nil {
		return nil, err
	}

	detail := &registrystore.ConversationDetail{
		ConversationSummary: registrystore.ConversationSummary{
			ID:          conv.ID,
			Type:        conv.Type,
			Name:        conv.Name,
			BusinessID:  conv.BusinessID,
			CreatedAt:   conv.CreatedAt,
			UpdatedAt:   conv.UpdatedAt,
			UnreadCount: me.UnreadCount,
			ParticipantIDs: lo.Map(participants, func(p model.Participant, _ int) string {
				return p.UserID
			}),
		},
	}
	if last, ok := lastByConv[conv.ID]; ok {
		m := last
		detail.LastMessage = &m
	}
	return detail, nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/google/uuid"
)

// NewMessage is the input for appending a message.
type NewMessage struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// PagedMessages is one page of a conversation's history in descending
// sequence order. BeforeCursor, when set, is the sequence number to pass
// as the cursor of the next (older) page.
type PagedMessages struct {
	Data         []model.Message `json:"data"`
	BeforeCursor *int64          `json:"beforeCursor,omitempty"`
}

// ConversationSummary is the list representation of a conversation,
// annotated with the requesting user's unread count and the last message
// taken from the log.
type ConversationSummary struct {
	ID             uuid.UUID              `json:"id"`
	Type           model.ConversationType `json:"type"`
	Name           *string                `json:"name,omitempty"`
	BusinessID     *string                `json:"businessId,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
	UnreadCount    int64                  `json:"unreadCount"`
	LastMessage    *model.Message         `json:"lastMessage,omitempty"`
	ParticipantIDs []string               `json:"participantIds"`
}

// ConversationDetail is the full conversation for get/create responses.
type ConversationDetail struct {
	ConversationSummary
}

// UnreadCount is one entry of the unread-counts summary.
type UnreadCount struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Count          int64     `json:"count"`
}

// ChatStore is the primary data access interface for the chat service.
// It owns conversation admission rules, the append-only message log, and
// the persistent half of participant bookkeeping (unread counters and
// last-read pointers). All methods return the typed errors from this
// package for client-caused failures.
type ChatStore interface {
	// Users
	EnsureUser(ctx context.Context, userID string, kahaID string) (*model.User, error)

	// Conversations
	CreateDirectConversation(ctx context.Context, creatorID string, targetUserID string) (*ConversationDetail, bool, error)
	CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string, name string) (*ConversationDetail, error)
	CreateBusinessConversation(ctx context.Context, creatorID string, businessID string, initialMessage *NewMessage) (*ConversationDetail, *model.Message, error)
	ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, userID string, conversationID uuid.UUID) (*ConversationDetail, error)

	// Participants
	IsParticipant(ctx context.Context, conversationID uuid.UUID, userID string) (bool, error)
	ListParticipants(ctx context.Context, conversationID uuid.UUID) ([]model.Participant, error)

	// Messages
	AppendMessage(ctx context.Context, conversationID uuid.UUID, senderID string, msg NewMessage) (*model.Message, error)
	GetMessages(ctx context.Context, userID string, conversationID uuid.UUID, beforeSeq *int64, limit int) (*PagedMessages, error)
	GetMessage(ctx context.Context, userID string, messageID uuid.UUID) (*model.Message, error)

	// Unread bookkeeping
	IncrementUnread(ctx context.Context, conversationID uuid.UUID, exceptUserID string) error
	MarkRead(ctx context.Context, conversationID uuid.UUID, userID string, upToSeq int64) error
	UnreadCounts(ctx context.Context, userID string) ([]UnreadCount, error)

	// RepairUnreadCounts recomputes every unread counter from the
	// message log. The counters are derived state; the log is the
	// source of truth.
	RepairUnreadCounts(ctx context.Context) (int64, error)
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}

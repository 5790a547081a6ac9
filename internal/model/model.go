package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationType classifies a conversation's admission rules.
type ConversationType string

const (
	ConversationDirect   ConversationType = "direct"
	ConversationGroup    ConversationType = "group"
	ConversationBusiness ConversationType = "business"
)

// Valid reports whether t is one of the known conversation types.
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationDirect, ConversationGroup, ConversationBusiness:
		return true
	}
	return false
}

// MessageTypeText is the default message content type.
const MessageTypeText = "text"

// User correlates an internal identity with the external identity service.
// The internal ID is immutable; KahaID is the external system's mutable
// correlation key and may be re-stamped when it drifts.
type User struct {
	ID        string    `json:"id"        gorm:"primaryKey"`
	KahaID    string    `json:"kahaId"    gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string { return "users" }

// Conversation is the root entity of a message log.
// Type is immutable after creation. LastSeq is the per-conversation
// sequence allocator; it is only ever advanced inside the append
// transaction so assigned sequence numbers are gap-free.
type Conversation struct {
	ID         uuid.UUID        `json:"id"                   gorm:"primaryKey;type:uuid"`
	Type       ConversationType `json:"type"                 gorm:"not null"`
	Name       *string          `json:"name,omitempty"`
	BusinessID *string          `json:"businessId,omitempty"`
	// DirectKey is the canonical "lo:hi" participant pair for direct
	// conversations. The unique index makes createDirect idempotent.
	DirectKey *string   `json:"-"         gorm:"uniqueIndex"`
	LastSeq   int64     `json:"-"         gorm:"not null;default:0"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Conversation) TableName() string { return "conversations" }

// Participant tracks a user's membership in a conversation together with
// the unread counter and last-read pointer. It is owned by the
// conversation and is not a first-class public entity.
//
// UnreadCount is derived bookkeeping: it can always be recomputed from
// the message log as count(seq > LastReadSeq).
type Participant struct {
	ConversationID uuid.UUID `json:"-"           gorm:"primaryKey;type:uuid"`
	UserID         string    `json:"userId"      gorm:"primaryKey"`
	JoinedAt       time.Time `json:"joinedAt"    gorm:"not null;default:CURRENT_TIMESTAMP"`
	UnreadCount    int64     `json:"unreadCount" gorm:"not null;default:0"`
	LastReadSeq    int64     `json:"lastReadSeq" gorm:"not null;default:0"`
}

func (Participant) TableName() string { return "participants" }

// Message is one record of the append-only per-conversation log.
// Seq is the sole ordering key; creation timestamps are informational
// only since wall clocks are not monotonic under concurrent writers.
type Message struct {
	ID             uuid.UUID `json:"id"             gorm:"primaryKey;type:uuid"`
	ConversationID uuid.UUID `json:"conversationId" gorm:"not null;type:uuid;uniqueIndex:idx_messages_conv_seq,priority:1"`
	Seq            int64     `json:"seq"            gorm:"not null;uniqueIndex:idx_messages_conv_seq,priority:2"`
	SenderID       string    `json:"senderId"       gorm:"not null"`
	Type           string    `json:"type"           gorm:"not null"`
	Content        string    `json:"content"        gorm:"not null"`
	CreatedAt      time.Time `json:"createdAt"      gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Message) TableName() string { return "messages" }

// BusinessParticipantID returns the synthetic participant user ID that
// represents a business identity inside a business conversation.
func BusinessParticipantID(businessID string) string {
	return "business:" + businessID
}

// ParseBusinessParticipantID reverses BusinessParticipantID. It returns
// the business ID and true when the participant ID is synthetic.
func ParseBusinessParticipantID(participantID string) (string, bool) {
	if rest, ok := strings.CutPrefix(participantID, "business:"); ok {
		return rest, true
	}
	return "", false
}

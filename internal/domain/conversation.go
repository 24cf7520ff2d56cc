package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationKind string

const (
	KindDirect ConversationKind = "direct"
	KindGroup  ConversationKind = "group"
)

// Conversation is a direct or group channel. The kind decides which fields
// are populated: directs carry Peer, groups carry Name and MemberCount.
type Conversation struct {
	ID        uuid.UUID        `json:"id"`
	Kind      ConversationKind `json:"kind"`
	CreatedAt time.Time        `json:"created_at"`

	// Group fields
	Name        *string `json:"name,omitempty"`
	MemberCount int     `json:"member_count,omitempty"`

	// Direct fields
	Peer *PeerProfile `json:"peer,omitempty"`

	// Derived display metadata
	LastActivityAt time.Time `json:"last_activity_at"`
	UnreadCount    int       `json:"unread_count"`
}

// PeerProfile is the minimal profile of the other participant in a direct
// conversation, resolved from membership.
type PeerProfile struct {
	UserID      uuid.UUID  `json:"user_id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	LastActive  *time.Time `json:"last_active,omitempty"`
}

type ConversationMember struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	IsAdmin        bool      `json:"is_admin"`
	JoinedAt       time.Time `json:"joined_at"`
	// Joined fields
	Username    string  `json:"username,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is one entry in a channel timeline. A message carries text content,
// an image, or both — never neither (see Valid).
type Message struct {
	ID        uuid.UUID  `json:"id"`
	ChannelID uuid.UUID  `json:"channel_id"`
	AuthorID  uuid.UUID  `json:"author_id"`
	Content   *string    `json:"content,omitempty"`
	ImageURL  *string    `json:"image_url,omitempty"`
	ReplyToID *uuid.UUID `json:"reply_to_id,omitempty"`
	// ReplyPreview is denormalized at send time so the preview survives
	// deletion of the target message.
	ReplyPreview *ReplyPreview `json:"reply_preview,omitempty"`
	DeletedAt    *time.Time    `json:"-"`
	CreatedAt    time.Time     `json:"created_at"`
	// Joined fields
	AuthorUsername    string  `json:"author_username,omitempty"`
	AuthorDisplayName string  `json:"author_display_name,omitempty"`
	AuthorAvatarURL   *string `json:"author_avatar_url,omitempty"`
}

// ReplyPreview is a snapshot of the replied-to message taken when the reply
// was sent.
type ReplyPreview struct {
	AuthorName string  `json:"author_name"`
	Content    *string `json:"content,omitempty"`
	ImageURL   *string `json:"image_url,omitempty"`
}

// Valid reports whether the message has content or an image.
func (m *Message) Valid() bool {
	hasText := m.Content != nil && *m.Content != ""
	hasImage := m.ImageURL != nil && *m.ImageURL != ""
	return hasText || hasImage
}

// Before orders messages by (created_at, id); the id tiebreak makes the
// order total even when two messages share a timestamp.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID.String() < other.ID.String()
}

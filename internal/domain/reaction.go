package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReactionGroup is the aggregated view of one emoji on one message. A user
// appears at most once per group; toggling the same emoji again removes them.
type ReactionGroup struct {
	Emoji   string      `json:"emoji"`
	Count   int         `json:"count"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

// ReadReceipt records that a user other than the author has seen a message.
// Receipts are monotonic: once present they are never removed.
type ReadReceipt struct {
	UserID uuid.UUID `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// MessageSummary is the derived reaction/read state attached to a message
// for display.
type MessageSummary struct {
	Reactions []ReactionGroup `json:"reactions"`
	ReadBy    []ReadReceipt   `json:"read_by"`
}

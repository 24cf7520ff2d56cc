package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
)

// ErrGapTooOld is returned by Replay when the requested position has been
// trimmed out of the retained window; callers must fall back to a full
// rehydration instead of replaying.
var ErrGapTooOld = errors.New("feed: requested position no longer retained")

type Kind string

const (
	KindMessageNew      Kind = "message.new"
	KindMessageDeleted  Kind = "message.deleted"
	KindReactionToggled Kind = "reaction.toggled"
	KindReceiptAdded    Kind = "receipt.added"
)

// Event is one committed change on a channel. IDs are assigned by the feed
// and are strictly increasing per channel, which is what gap-fill keys on.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	ChannelID uuid.UUID       `json:"channel_id"`
	Payload   json.RawMessage `json:"payload"`
	At        time.Time       `json:"at"`
}

type MessagePayload struct {
	Message domain.Message `json:"message"`
	// ClientKey is the sender's correlation key; the sender's own session
	// uses it to collapse the echo onto its pending entry.
	ClientKey uuid.UUID `json:"client_key,omitempty"`
}

type MessageDeletedPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Added     bool      `json:"added"`
}

type ReceiptPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

func NewEvent(kind Kind, channelID uuid.UUID, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Kind:      kind,
		ChannelID: channelID,
		Payload:   data,
		At:        time.Now(),
	}, nil
}

// Feed is the per-channel change feed the persistence layer publishes to and
// sessions subscribe from.
type Feed interface {
	// Publish appends the event to the channel's feed and returns its id.
	Publish(ctx context.Context, ev Event) (string, error)
	// LastID returns the id of the channel's newest event, so a caller can
	// snapshot a position before reading state elsewhere and later Replay
	// everything committed after the snapshot. "" means the feed holds no
	// usable position; callers skip replay and rely on Tail alone.
	LastID(ctx context.Context, channelID uuid.UUID) (string, error)
	// Replay returns the events after sinceID still inside the retained
	// window, oldest first. sinceID "" means from the start of the window.
	Replay(ctx context.Context, channelID uuid.UUID, sinceID string) ([]Event, error)
	// Tail streams events after sinceID ("" meaning only new ones) until ctx
	// is done; the returned channel is closed when delivery stops.
	Tail(ctx context.Context, channelID uuid.UUID, sinceID string) (<-chan Event, error)
}

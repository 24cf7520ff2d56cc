package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypingSignal is an ephemeral "user is composing" indicator. It is never
// persisted; receivers drop it once ExpiresAt passes without a refresh.
type TypingSignal struct {
	ChannelID   uuid.UUID `json:"channel_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   *string   `json:"avatar_url,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type ActivityState string

const (
	ActivityOnline  ActivityState = "online"
	ActivityRecent  ActivityState = "recent"
	ActivityOffline ActivityState = "offline"
)

// Activity buckets a peer's last-active timestamp for display. Under five
// minutes counts as online; up to a day is bucketed as "active Nm/Nh ago";
// anything older (or unknown) is offline.
func Activity(lastActive *time.Time, now time.Time) (ActivityState, string) {
	if lastActive == nil {
		return ActivityOffline, "Offline"
	}
	since := now.Sub(*lastActive)
	switch {
	case since < 5*time.Minute:
		return ActivityOnline, "Online"
	case since < time.Hour:
		return ActivityRecent, fmt.Sprintf("Active %dm ago", int(since.Minutes()))
	case since < 24*time.Hour:
		return ActivityRecent, fmt.Sprintf("Active %dh ago", int(since.Hours()))
	default:
		return ActivityOffline, "Offline"
	}
}

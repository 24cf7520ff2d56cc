package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
)

const (
	// TypingTTL is how long a received signal stays visible without a
	// refresh. No explicit "stopped" message is required for correctness.
	TypingTTL = 6 * time.Second
	// AnnounceInterval collapses keystroke-driven announcements so the
	// transport sees at most one broadcast per window.
	AnnounceInterval = 3 * time.Second

	sweepInterval = time.Second
)

// TypingRegistry is the receiver side of the typing channel: an in-memory
// map of live signals, keyed by channel then user, pruned on expiry.
// Nothing here touches persistence.
type TypingRegistry struct {
	mu       sync.Mutex
	channels map[uuid.UUID]map[uuid.UUID]domain.TypingSignal
	ttl      time.Duration
	now      func() time.Time
}

func NewTypingRegistry() *TypingRegistry {
	return &TypingRegistry{
		channels: make(map[uuid.UUID]map[uuid.UUID]domain.TypingSignal),
		ttl:      TypingTTL,
		now:      time.Now,
	}
}

// Observe records or refreshes a signal. A refresh keeps the original
// StartedAt so display ordering stays stable while the expiry moves out.
func (r *TypingRegistry) Observe(sig domain.TypingSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if sig.ExpiresAt.IsZero() {
		sig.ExpiresAt = now.Add(r.ttl)
	}
	if sig.StartedAt.IsZero() {
		sig.StartedAt = now
	}

	users, ok := r.channels[sig.ChannelID]
	if !ok {
		users = make(map[uuid.UUID]domain.TypingSignal)
		r.channels[sig.ChannelID] = users
	}
	if existing, ok := users[sig.UserID]; ok {
		sig.StartedAt = existing.StartedAt
	}
	users[sig.UserID] = sig
}

// Stop removes a signal immediately (explicit "stopped typing").
func (r *TypingRegistry) Stop(channelID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if users, ok := r.channels[channelID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.channels, channelID)
		}
	}
}

// TypingUsers returns the live signals for a channel, oldest first.
// Expired entries are pruned on the way out.
func (r *TypingRegistry) TypingUsers(channelID uuid.UUID) []domain.TypingSignal {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.channels[channelID]
	if !ok {
		return nil
	}

	now := r.now()
	var live []domain.TypingSignal
	for uid, sig := range users {
		if !sig.ExpiresAt.After(now) {
			delete(users, uid)
			continue
		}
		live = append(live, sig)
	}
	if len(users) == 0 {
		delete(r.channels, channelID)
	}

	sort.Slice(live, func(i, j int) bool {
		if !live[i].StartedAt.Equal(live[j].StartedAt) {
			return live[i].StartedAt.Before(live[j].StartedAt)
		}
		return live[i].UserID.String() < live[j].UserID.String()
	})
	return live
}

// Run sweeps expired signals until ctx is done. The registry also prunes
// lazily on read, so the sweeper only bounds memory for idle channels.
func (r *TypingRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (r *TypingRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for chID, users := range r.channels {
		for uid, sig := range users {
			if !sig.ExpiresAt.After(now) {
				delete(users, uid)
			}
		}
		if len(users) == 0 {
			delete(r.channels, chID)
		}
	}
}

// TypingAnnouncer is the sender side: safe to call on every keystroke, it
// broadcasts at most once per interval per channel.
type TypingAnnouncer struct {
	mu       sync.Mutex
	last     map[uuid.UUID]time.Time
	interval time.Duration
	publish  func(channelID uuid.UUID)
	stop     func(channelID uuid.UUID)
	now      func() time.Time
}

func NewTypingAnnouncer(publish, stop func(channelID uuid.UUID)) *TypingAnnouncer {
	return &TypingAnnouncer{
		last:     make(map[uuid.UUID]time.Time),
		interval: AnnounceInterval,
		publish:  publish,
		stop:     stop,
		now:      time.Now,
	}
}

func (a *TypingAnnouncer) Announce(channelID uuid.UUID) {
	a.mu.Lock()
	now := a.now()
	if last, ok := a.last[channelID]; ok && now.Sub(last) < a.interval {
		a.mu.Unlock()
		return
	}
	a.last[channelID] = now
	a.mu.Unlock()

	a.publish(channelID)
}

// Stopped signals the user cleared the input or sent the message; it resets
// the throttle so the next keystroke broadcasts immediately.
func (a *TypingAnnouncer) Stopped(channelID uuid.UUID) {
	a.mu.Lock()
	delete(a.last, channelID)
	a.mu.Unlock()

	if a.stop != nil {
		a.stop(channelID)
	}
}

// TypingText derives the display line from the live set: one name, two
// names, or the first name plus a count of the rest.
func TypingText(users []domain.TypingSignal) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing", users[0].DisplayName)
	case 2:
		return fmt.Sprintf("%s and %s are typing", users[0].DisplayName, users[1].DisplayName)
	default:
		return fmt.Sprintf("%s and %d others are typing", users[0].DisplayName, len(users)-1)
	}
}

package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
)

// Aggregator folds independent per-user reaction and read-receipt events
// into per-message summaries. The fold is idempotent: the synchronization
// layer delivers at least once, and applying the same event twice leaves
// the summary unchanged.
type Aggregator struct {
	mu        sync.RWMutex
	reactions map[uuid.UUID]map[string]map[uuid.UUID]struct{} // message -> emoji -> users
	reads     map[uuid.UUID]map[uuid.UUID]time.Time           // message -> user -> read_at
	authors   map[uuid.UUID]uuid.UUID                         // message -> author
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		reactions: make(map[uuid.UUID]map[string]map[uuid.UUID]struct{}),
		reads:     make(map[uuid.UUID]map[uuid.UUID]time.Time),
		authors:   make(map[uuid.UUID]uuid.UUID),
	}
}

// ObserveMessage records the author so MarkRead can ignore self-reads.
func (a *Aggregator) ObserveMessage(messageID, authorID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authors[messageID] = authorID
}

// ToggleReaction flips the user's membership for the emoji: present becomes
// absent and vice versa. Applying it twice restores the original state.
func (a *Aggregator) ToggleReaction(messageID uuid.UUID, emoji string, userID uuid.UUID) (added bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.reactionUsersLocked(messageID, emoji)
	if _, ok := users[userID]; ok {
		delete(users, userID)
		a.pruneReactionLocked(messageID, emoji)
		return false
	}
	users[userID] = struct{}{}
	return true
}

// ApplyReaction applies an authoritative toggle outcome. Unlike
// ToggleReaction it carries the resulting state, so duplicate delivery is
// a no-op.
func (a *Aggregator) ApplyReaction(messageID, userID uuid.UUID, emoji string, added bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.reactionUsersLocked(messageID, emoji)
	if added {
		users[userID] = struct{}{}
		return
	}
	delete(users, userID)
	a.pruneReactionLocked(messageID, emoji)
}

// MarkRead records the receipt unless the user is the author or already
// recorded. Receipts are monotonic; nothing ever removes one.
func (a *Aggregator) MarkRead(messageID, userID uuid.UUID, readAt time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if author, ok := a.authors[messageID]; ok && author == userID {
		return false
	}
	readers, ok := a.reads[messageID]
	if !ok {
		readers = make(map[uuid.UUID]time.Time)
		a.reads[messageID] = readers
	}
	if _, ok := readers[userID]; ok {
		return false
	}
	readers[userID] = readAt
	return true
}

// Hydrate seeds a message's summary from the repository.
func (a *Aggregator) Hydrate(messageID uuid.UUID, summary domain.MessageSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, group := range summary.Reactions {
		users := a.reactionUsersLocked(messageID, group.Emoji)
		for _, uid := range group.UserIDs {
			users[uid] = struct{}{}
		}
	}
	for _, receipt := range summary.ReadBy {
		readers, ok := a.reads[messageID]
		if !ok {
			readers = make(map[uuid.UUID]time.Time)
			a.reads[messageID] = readers
		}
		if _, ok := readers[receipt.UserID]; !ok {
			readers[receipt.UserID] = receipt.ReadAt
		}
	}
}

// SummaryOf returns the derived summary, with groups sorted by emoji and
// readers by read time so output is stable for rendering and tests.
func (a *Aggregator) SummaryOf(messageID uuid.UUID) domain.MessageSummary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var summary domain.MessageSummary

	for emoji, users := range a.reactions[messageID] {
		if len(users) == 0 {
			continue
		}
		group := domain.ReactionGroup{Emoji: emoji, Count: len(users)}
		for uid := range users {
			group.UserIDs = append(group.UserIDs, uid)
		}
		sort.Slice(group.UserIDs, func(i, j int) bool {
			return group.UserIDs[i].String() < group.UserIDs[j].String()
		})
		summary.Reactions = append(summary.Reactions, group)
	}
	sort.Slice(summary.Reactions, func(i, j int) bool {
		return summary.Reactions[i].Emoji < summary.Reactions[j].Emoji
	})

	for uid, readAt := range a.reads[messageID] {
		summary.ReadBy = append(summary.ReadBy, domain.ReadReceipt{UserID: uid, ReadAt: readAt})
	}
	sort.Slice(summary.ReadBy, func(i, j int) bool {
		if !summary.ReadBy[i].ReadAt.Equal(summary.ReadBy[j].ReadAt) {
			return summary.ReadBy[i].ReadAt.Before(summary.ReadBy[j].ReadAt)
		}
		return summary.ReadBy[i].UserID.String() < summary.ReadBy[j].UserID.String()
	})

	return summary
}

func (a *Aggregator) reactionUsersLocked(messageID uuid.UUID, emoji string) map[uuid.UUID]struct{} {
	groups, ok := a.reactions[messageID]
	if !ok {
		groups = make(map[string]map[uuid.UUID]struct{})
		a.reactions[messageID] = groups
	}
	users, ok := groups[emoji]
	if !ok {
		users = make(map[uuid.UUID]struct{})
		groups[emoji] = users
	}
	return users
}

func (a *Aggregator) pruneReactionLocked(messageID uuid.UUID, emoji string) {
	groups := a.reactions[messageID]
	if users, ok := groups[emoji]; ok && len(users) == 0 {
		delete(groups, emoji)
	}
	if len(groups) == 0 {
		delete(a.reactions, messageID)
	}
}

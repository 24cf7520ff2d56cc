package session

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
)

// Entry is one timeline slot. Pending entries are local optimistic sends
// still waiting for their authoritative copy; ClientKey correlates them
// with the echo that eventually arrives.
type Entry struct {
	domain.Message
	Pending   bool      `json:"pending,omitempty"`
	ClientKey uuid.UUID `json:"-"`
}

// Stream owns the authoritative, deduplicated timeline of one channel.
// Entries are kept sorted by (created_at, id); for any message id the
// stream holds at most one entry, and a remote event for a known id
// updates that entry in place instead of inserting a second one.
type Stream struct {
	mu        sync.RWMutex
	channelID uuid.UUID
	entries   []Entry
	pending   map[uuid.UUID]uuid.UUID // client key -> provisional id
}

func NewStream(channelID uuid.UUID) *Stream {
	return &Stream{
		channelID: channelID,
		pending:   make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *Stream) ChannelID() uuid.UUID { return s.channelID }

// Hydrate replaces the timeline with a page from the repository. Pending
// entries survive hydration; their sends are still in flight.
func (s *Stream) Hydrate(page []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []Entry
	for _, e := range s.entries {
		if e.Pending {
			kept = append(kept, e)
		}
	}

	s.entries = s.entries[:0]
	seen := make(map[uuid.UUID]struct{}, len(page))
	for _, msg := range page {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		s.insertLocked(Entry{Message: msg})
	}
	for _, e := range kept {
		s.insertLocked(e)
	}
}

// AppendPending inserts a local optimistic message. msg.ID is the caller's
// provisional id; it is replaced on reconciliation.
func (s *Stream) AppendPending(msg domain.Message, clientKey uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[clientKey] = msg.ID
	s.insertLocked(Entry{Message: msg, Pending: true, ClientKey: clientKey})
}

// IngestRemote applies an authoritative message event. Three cases:
// the id is already present (update in place, covers hearing our own echo
// after reconciliation), the client key matches a pending entry (reconcile),
// or the message is new (insert at its sorted position).
func (s *Stream) IngestRemote(msg domain.Message, clientKey uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(msg, clientKey)
}

// Reconcile replaces the pending entry for clientKey with the authoritative
// row. Safe to call after the echo already arrived; it collapses to an
// in-place update.
func (s *Stream) Reconcile(clientKey uuid.UUID, msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(msg, clientKey)
}

// RemovePending rolls back a failed optimistic send. The timeline is left
// exactly as if the send never happened.
func (s *Stream) RemovePending(clientKey uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	provisionalID, ok := s.pending[clientKey]
	if !ok {
		return
	}
	delete(s.pending, clientKey)
	s.removeLocked(provisionalID)
}

// Delete removes the message from the timeline. Reply previews on other
// messages are denormalized copies and are deliberately left untouched.
func (s *Stream) Delete(messageID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(messageID)
}

// List returns the timeline in (created_at, id) order.
func (s *Stream) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Messages returns the timeline as plain messages, for grouping and display.
func (s *Stream) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Message
	}
	return out
}

func (s *Stream) applyLocked(msg domain.Message, clientKey uuid.UUID) {
	if idx := s.indexOfLocked(msg.ID); idx >= 0 {
		s.entries[idx] = Entry{Message: msg}
		if clientKey != uuid.Nil {
			delete(s.pending, clientKey)
		}
		return
	}

	if clientKey != uuid.Nil {
		if provisionalID, ok := s.pending[clientKey]; ok {
			delete(s.pending, clientKey)
			s.removeLocked(provisionalID)
		}
	}

	s.insertLocked(Entry{Message: msg})
}

func (s *Stream) insertLocked(e Entry) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return e.Message.Before(&s.entries[i].Message)
	})
	s.entries = append(s.entries, Entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = e
}

func (s *Stream) removeLocked(id uuid.UUID) {
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return
	}
	s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
}

func (s *Stream) indexOfLocked(id uuid.UUID) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

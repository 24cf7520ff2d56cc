package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/feed"
)

const resubscribeDelay = time.Second

// Handlers receive a channel's feed events, in the order the server
// committed them. Nil handlers are skipped.
type Handlers struct {
	OnMessage  func(msg feed.MessagePayload)
	OnDeleted  func(messageID uuid.UUID)
	OnReaction func(p feed.ReactionPayload)
	OnReceipt  func(p feed.ReceiptPayload)
	// OnResync fires when the feed no longer retains the events missed
	// during a drop; the owner must rehydrate the stream from the
	// repository because replay cannot fill the gap.
	OnResync func()
}

// Syncer keeps at most one live feed subscription per channel. Switching
// conversations must Unsubscribe the old channel before Subscribe on the
// new one so handlers never pile up and nothing is delivered twice.
type Syncer struct {
	feed feed.Feed

	mu   sync.Mutex
	subs map[uuid.UUID]*subscription
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyncer(f feed.Feed) *Syncer {
	return &Syncer{
		feed: f,
		subs: make(map[uuid.UUID]*subscription),
	}
}

// Subscribe starts live delivery for the channel, replaying anything after
// sinceID first; sinceID "" skips straight to live events. An existing
// subscription for the same channel is torn down before the new one starts
// delivering, but Subscribe itself never waits for it: holding the lock
// across that wait would stall every other caller behind a teardown.
func (s *Syncer) Subscribe(ctx context.Context, channelID uuid.UUID, sinceID string, h Handlers) {
	s.mu.Lock()
	old := s.subs[channelID]

	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	s.subs[channelID] = sub
	s.mu.Unlock()

	go func() {
		if old != nil {
			old.cancel()
			<-old.done
		}
		s.run(runCtx, channelID, sinceID, h, sub)
	}()
}

func (s *Syncer) Unsubscribe(channelID uuid.UUID) {
	s.mu.Lock()
	sub, ok := s.subs[channelID]
	if ok {
		delete(s.subs, channelID)
	}
	s.mu.Unlock()

	if ok {
		sub.cancel()
		<-sub.done
	}
}

// Position snapshots the channel's current feed position. Taken before a
// hydration read, it lets the caller Subscribe from the snapshot and replay
// whatever was committed while the hydration was in flight. Returns "" when
// the feed cannot report a position; replay is then skipped.
func (s *Syncer) Position(ctx context.Context, channelID uuid.UUID) string {
	id, err := s.feed.LastID(ctx, channelID)
	if err != nil {
		log.Printf("sync: feed position for %s: %v", channelID, err)
		return ""
	}
	return id
}

// Subscribed reports whether the channel has a live subscription.
func (s *Syncer) Subscribed(channelID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[channelID]
	return ok
}

func (s *Syncer) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[uuid.UUID]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

// run tails the channel's feed. When the tail drops it replays everything
// missed since the last delivered event id before resuming live delivery;
// if the feed has trimmed past that point it asks the owner to rehydrate.
func (s *Syncer) run(ctx context.Context, channelID uuid.UUID, sinceID string, h Handlers, sub *subscription) {
	defer close(sub.done)

	lastID := sinceID
	for {
		if lastID != "" {
			events, err := s.feed.Replay(ctx, channelID, lastID)
			switch {
			case errors.Is(err, feed.ErrGapTooOld):
				// Snapshot the position before the owner rehydrates so events
				// committed during the rehydration are replayed, not skipped.
				lastID = s.Position(ctx, channelID)
				if h.OnResync != nil {
					h.OnResync()
				}
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				log.Printf("sync: replay for %s: %v", channelID, err)
			default:
				for _, ev := range events {
					s.dispatch(ev, h)
					lastID = ev.ID
				}
			}
		}

		events, err := s.feed.Tail(ctx, channelID, lastID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("sync: tail for %s: %v", channelID, err)
		} else {
			for ev := range events {
				s.dispatch(ev, h)
				lastID = ev.ID
			}
		}

		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(resubscribeDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Syncer) dispatch(ev feed.Event, h Handlers) {
	switch ev.Kind {
	case feed.KindMessageNew:
		if h.OnMessage == nil {
			return
		}
		var p feed.MessagePayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			log.Printf("sync: bad message payload on %s: %v", ev.ChannelID, err)
			return
		}
		h.OnMessage(p)

	case feed.KindMessageDeleted:
		if h.OnDeleted == nil {
			return
		}
		var p feed.MessageDeletedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			log.Printf("sync: bad delete payload on %s: %v", ev.ChannelID, err)
			return
		}
		h.OnDeleted(p.MessageID)

	case feed.KindReactionToggled:
		if h.OnReaction == nil {
			return
		}
		var p feed.ReactionPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			log.Printf("sync: bad reaction payload on %s: %v", ev.ChannelID, err)
			return
		}
		h.OnReaction(p)

	case feed.KindReceiptAdded:
		if h.OnReceipt == nil {
			return
		}
		var p feed.ReceiptPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			log.Printf("sync: bad receipt payload on %s: %v", ev.ChannelID, err)
			return
		}
		h.OnReceipt(p)
	}
}

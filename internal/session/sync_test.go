package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/domain"
	"github.com/velickovic/clubchat/internal/feed"
)

// scriptedFeed plays a fixed sequence of Tail sessions: each inner slice is
// delivered on one Tail call, and closeAfter decides whether the tail then
// drops (forcing the syncer through its replay path) or stays open.
type scriptedFeed struct {
	mu         sync.Mutex
	tails      [][]feed.Event
	closeAfter []bool
	tailCalls  int
	lastID     string
	replayFn   func(sinceID string) ([]feed.Event, error)
}

func (f *scriptedFeed) Publish(ctx context.Context, ev feed.Event) (string, error) {
	return "", nil
}

func (f *scriptedFeed) LastID(context.Context, uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastID, nil
}

func (f *scriptedFeed) Replay(ctx context.Context, channelID uuid.UUID, sinceID string) ([]feed.Event, error) {
	if f.replayFn != nil {
		return f.replayFn(sinceID)
	}
	return nil, nil
}

func (f *scriptedFeed) Tail(ctx context.Context, channelID uuid.UUID, sinceID string) (<-chan feed.Event, error) {
	f.mu.Lock()
	call := f.tailCalls
	f.tailCalls++
	f.mu.Unlock()

	out := make(chan feed.Event, 16)
	go func() {
		defer close(out)
		var events []feed.Event
		closeWhenDone := true
		if call < len(f.tails) {
			events = f.tails[call]
			closeWhenDone = f.closeAfter[call]
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if !closeWhenDone {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (f *scriptedFeed) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tailCalls
}

func messageEvent(t *testing.T, channelID uuid.UUID, id string) feed.Event {
	t.Helper()
	content := "hello"
	payload, err := json.Marshal(feed.MessagePayload{Message: domain.Message{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  uuid.New(),
		Content:   &content,
		CreatedAt: time.Now(),
	}})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return feed.Event{ID: id, Kind: feed.KindMessageNew, ChannelID: channelID, Payload: payload}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSyncerDeliversInOrder(t *testing.T) {
	channelID := uuid.New()
	events := []feed.Event{
		messageEvent(t, channelID, "1-0"),
		messageEvent(t, channelID, "2-0"),
		messageEvent(t, channelID, "3-0"),
	}
	f := &scriptedFeed{tails: [][]feed.Event{events}, closeAfter: []bool{false}}
	s := NewSyncer(f)
	defer s.Close()

	var mu sync.Mutex
	var got []uuid.UUID
	s.Subscribe(context.Background(), channelID, "", Handlers{
		OnMessage: func(p feed.MessagePayload) {
			mu.Lock()
			got = append(got, p.Message.ID)
			mu.Unlock()
		},
	})

	waitFor(t, "all events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, ev := range events {
		var p feed.MessagePayload
		json.Unmarshal(ev.Payload, &p)
		if got[i] != p.Message.ID {
			t.Fatalf("event %d delivered out of order", i)
		}
	}
}

func TestSyncerReplaysAfterDrop(t *testing.T) {
	channelID := uuid.New()
	first := messageEvent(t, channelID, "1-0")
	missed := messageEvent(t, channelID, "2-0")

	var replayCalls int
	var mu sync.Mutex
	f := &scriptedFeed{
		// First tail delivers one event then drops; second stays open.
		tails:      [][]feed.Event{{first}, nil},
		closeAfter: []bool{true, false},
		replayFn: func(sinceID string) ([]feed.Event, error) {
			mu.Lock()
			replayCalls++
			mu.Unlock()
			if sinceID != "1-0" {
				t.Errorf("replay from %q, want 1-0", sinceID)
			}
			return []feed.Event{missed}, nil
		},
	}
	s := NewSyncer(f)
	defer s.Close()

	var got []string
	s.Subscribe(context.Background(), channelID, "", Handlers{
		OnMessage: func(p feed.MessagePayload) {
			mu.Lock()
			got = append(got, p.Message.ID.String())
			mu.Unlock()
		},
	})

	waitFor(t, "replayed event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && replayCalls == 1
	})
}

func TestSyncerReplaysFromInitialPosition(t *testing.T) {
	channelID := uuid.New()
	missed := messageEvent(t, channelID, "6-0")

	var mu sync.Mutex
	var replayedFrom string
	f := &scriptedFeed{
		tails:      [][]feed.Event{nil},
		closeAfter: []bool{false},
		replayFn: func(sinceID string) ([]feed.Event, error) {
			mu.Lock()
			replayedFrom = sinceID
			mu.Unlock()
			return []feed.Event{missed}, nil
		},
	}
	s := NewSyncer(f)
	defer s.Close()

	var got int
	s.Subscribe(context.Background(), channelID, "5-0", Handlers{
		OnMessage: func(p feed.MessagePayload) {
			mu.Lock()
			got++
			mu.Unlock()
		},
	})

	waitFor(t, "replayed event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if replayedFrom != "5-0" {
		t.Fatalf("replayed from %q, want the position given to Subscribe", replayedFrom)
	}
}

func TestSyncerResyncWhenGapTooOld(t *testing.T) {
	channelID := uuid.New()
	first := messageEvent(t, channelID, "1-0")

	var mu sync.Mutex
	var resyncs int
	f := &scriptedFeed{
		tails:      [][]feed.Event{{first}, nil},
		closeAfter: []bool{true, false},
		replayFn: func(sinceID string) ([]feed.Event, error) {
			return nil, feed.ErrGapTooOld
		},
	}
	s := NewSyncer(f)
	defer s.Close()

	s.Subscribe(context.Background(), channelID, "", Handlers{
		OnMessage: func(p feed.MessagePayload) {},
		OnResync: func() {
			mu.Lock()
			resyncs++
			mu.Unlock()
		},
	})

	waitFor(t, "resync", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return resyncs == 1
	})
}

func TestSyncerOneSubscriptionPerChannel(t *testing.T) {
	channelID := uuid.New()
	f := &scriptedFeed{tails: [][]feed.Event{nil, nil}, closeAfter: []bool{false, false}}
	s := NewSyncer(f)
	defer s.Close()

	s.Subscribe(context.Background(), channelID, "", Handlers{})
	waitFor(t, "first tail", func() bool { return f.calls() == 1 })

	// Re-subscribing tears the first subscription down before starting over.
	s.Subscribe(context.Background(), channelID, "", Handlers{})
	waitFor(t, "second tail", func() bool { return f.calls() == 2 })

	if !s.Subscribed(channelID) {
		t.Fatal("expected channel to be subscribed")
	}

	s.Unsubscribe(channelID)
	if s.Subscribed(channelID) {
		t.Fatal("expected channel to be unsubscribed")
	}
}

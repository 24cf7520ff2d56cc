package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/velickovic/clubchat/internal/feed"
	"github.com/velickovic/clubchat/internal/transport/ws"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const redialDelay = 2 * time.Second

// wsFeed adapts the server's websocket stream to the feed interface the
// syncer consumes. The socket cannot replay past events, so Replay from a
// known position reports the gap as unfillable and the syncer falls back
// to a full rehydration over HTTP. Event ids are synthesized from the
// envelope timestamp; they only need to be non-empty so the syncer knows
// a gap exists after a drop.
type wsFeed struct {
	url     string
	foreign func(eventType string, channelID uuid.UUID, payload json.RawMessage)

	mu    sync.Mutex
	conn  *websocket.Conn
	tails map[uuid.UUID]*tailSub
	seq   uint64
}

type tailSub struct {
	ch   chan feed.Event
	once sync.Once
}

func (t *tailSub) closeOnce() {
	t.once.Do(func() { close(t.ch) })
}

func newWSFeed(ctx context.Context, url string, foreign func(string, uuid.UUID, json.RawMessage)) *wsFeed {
	f := &wsFeed{
		url:     url,
		foreign: foreign,
		tails:   make(map[uuid.UUID]*tailSub),
	}
	go f.run(ctx)
	return f
}

// run keeps one socket alive. On every (re)connect the active channels are
// re-subscribed; the tails dropped by the disconnect have already been
// closed, so their syncers are mid-resync and will open fresh ones.
func (f *wsFeed) run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, _, err := websocket.Dial(ctx, f.url, nil)
		if err != nil {
			log.Printf("ws: dial: %v", err)
			select {
			case <-time.After(redialDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		f.mu.Lock()
		f.conn = conn
		channels := make([]uuid.UUID, 0, len(f.tails))
		for id := range f.tails {
			channels = append(channels, id)
		}
		f.mu.Unlock()

		for _, id := range channels {
			f.sendSubscribe(ctx, id, true)
		}

		f.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "")

		f.mu.Lock()
		f.conn = nil
		dropped := f.tails
		f.tails = make(map[uuid.UUID]*tailSub)
		f.mu.Unlock()

		for _, sub := range dropped {
			sub.closeOnce()
		}

		select {
		case <-time.After(redialDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (f *wsFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var evt ws.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			if ctx.Err() == nil {
				log.Printf("ws: connection lost: %v", err)
			}
			return
		}
		f.dispatch(evt)
	}
}

func (f *wsFeed) dispatch(evt ws.Event) {
	switch evt.Type {
	case ws.EventTypeMessageNew, ws.EventTypeMessageDeleted,
		ws.EventTypeReactionToggled, ws.EventTypeReceiptAdded:
		if evt.ChannelID == nil {
			return
		}
		f.deliver(*evt.ChannelID, evt)

	case ws.EventTypeTyping, ws.EventTypeTypingStopped:
		if evt.ChannelID == nil || f.foreign == nil {
			return
		}
		f.foreign(evt.Type, *evt.ChannelID, evt.Payload)

	case ws.EventTypePong:

	case ws.EventTypeError:
		var p ws.ErrorPayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			log.Printf("ws: server error %s: %s", p.Code, p.Message)
		}
	}
}

func (f *wsFeed) deliver(channelID uuid.UUID, evt ws.Event) {
	f.mu.Lock()
	sub, ok := f.tails[channelID]
	f.seq++
	id := fmt.Sprintf("%d-%d", evt.Timestamp, f.seq)
	f.mu.Unlock()
	if !ok {
		return
	}

	out := feed.Event{
		ID:        id,
		Kind:      feed.Kind(evt.Type),
		ChannelID: channelID,
		Payload:   evt.Payload,
		At:        time.Unix(evt.Timestamp, 0),
	}
	select {
	case sub.ch <- out:
	default:
		log.Printf("ws: dropping %s on %s, consumer too slow", evt.Type, channelID)
	}
}

// Publish implements feed.Feed. The client never writes to the feed; all
// writes go through the HTTP API.
func (f *wsFeed) Publish(context.Context, feed.Event) (string, error) {
	return "", errors.New("feed is read-only on this end")
}

// LastID implements feed.Feed. The socket has no replayable history, so
// there is no position to snapshot; selection covers the gap by
// rehydrating over HTTP instead.
func (f *wsFeed) LastID(context.Context, uuid.UUID) (string, error) {
	return "", nil
}

// Replay implements feed.Feed. From the start of the window there is
// nothing to replay; from any later position the socket cannot fill the
// gap, so the caller must rehydrate.
func (f *wsFeed) Replay(_ context.Context, _ uuid.UUID, sinceID string) ([]feed.Event, error) {
	if sinceID == "" {
		return nil, nil
	}
	return nil, feed.ErrGapTooOld
}

// Tail implements feed.Feed by subscribing the channel on the socket.
func (f *wsFeed) Tail(ctx context.Context, channelID uuid.UUID, _ string) (<-chan feed.Event, error) {
	sub := &tailSub{ch: make(chan feed.Event, 64)}

	f.mu.Lock()
	if old, ok := f.tails[channelID]; ok {
		old.closeOnce()
	}
	f.tails[channelID] = sub
	f.mu.Unlock()

	f.sendSubscribe(ctx, channelID, true)

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.tails[channelID] == sub {
			delete(f.tails, channelID)
		}
		f.mu.Unlock()
		f.sendSubscribe(context.Background(), channelID, false)
		sub.closeOnce()
	}()

	return sub.ch, nil
}

func (f *wsFeed) sendSubscribe(ctx context.Context, channelID uuid.UUID, on bool) {
	eventType := ws.EventTypeChannelSubscribe
	if !on {
		eventType = ws.EventTypeChannelUnsubscribe
	}
	payload, _ := json.Marshal(ws.ChannelPayload{ChannelID: channelID})
	f.write(ctx, ws.Event{Type: eventType, Payload: payload})
}

func (f *wsFeed) sendTyping(channelID uuid.UUID, start bool) {
	eventType := ws.EventTypeTypingStart
	if !start {
		eventType = ws.EventTypeTypingStop
	}
	f.write(context.Background(), ws.Event{Type: eventType, ChannelID: &channelID})
}

func (f *wsFeed) write(ctx context.Context, evt ws.Event) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, evt); err != nil {
		log.Printf("ws: write %s: %v", evt.Type, err)
	}
}

func (f *wsFeed) close() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	tails := f.tails
	f.tails = make(map[uuid.UUID]*tailSub)
	f.mu.Unlock()

	for _, sub := range tails {
		sub.closeOnce()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

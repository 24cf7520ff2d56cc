package feed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// maxRetained bounds the per-channel stream; anything older must be
	// re-read from the repository.
	maxRetained = 1024
	tailBlock   = 5 * time.Second
)

// RedisFeed keeps one redis stream per channel. XADD gives per-channel
// commit order, XRANGE serves gap-fill and a blocking XREAD loop serves
// live delivery.
type RedisFeed struct {
	rdb *redis.Client
}

func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

func streamKey(channelID uuid.UUID) string {
	return "feed:channel:" + channelID.String()
}

func (f *RedisFeed) Publish(ctx context.Context, ev Event) (string, error) {
	id, err := f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(ev.ChannelID),
		MaxLen: maxRetained,
		Approx: true,
		Values: map[string]any{
			"kind":    string(ev.Kind),
			"payload": string(ev.Payload),
			"at":      ev.At.UnixMilli(),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publishing feed event: %w", err)
	}
	return id, nil
}

// LastID reports the newest entry id. An empty stream maps to "0-0", the
// floor id, so that replaying from the snapshot still catches events
// published into a brand-new stream afterwards.
func (f *RedisFeed) LastID(ctx context.Context, channelID uuid.UUID) (string, error) {
	newest, err := f.rdb.XRevRangeN(ctx, streamKey(channelID), "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(newest) == 0 {
		return "0-0", nil
	}
	return newest[0].ID, nil
}

func (f *RedisFeed) Replay(ctx context.Context, channelID uuid.UUID, sinceID string) ([]Event, error) {
	key := streamKey(channelID)

	// The floor id comes from snapshotting an empty stream; everything now
	// retained arrived after the snapshot, so it is exempt from the trim
	// check below, which would otherwise flag every entry as newer.
	if sinceID != "" && sinceID != "0-0" {
		// If the entry after which we should resume has been trimmed away,
		// events were lost and replay cannot be trusted.
		oldest, err := f.rdb.XRangeN(ctx, key, "-", "+", 1).Result()
		if err != nil {
			return nil, err
		}
		if len(oldest) > 0 && compareStreamIDs(sinceID, oldest[0].ID) < 0 {
			return nil, ErrGapTooOld
		}
	}

	start := "-"
	if sinceID != "" {
		start = "(" + sinceID
	}
	msgs, err := f.rdb.XRange(ctx, key, start, "+").Result()
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeEvent(channelID, m)
		if err != nil {
			log.Printf("feed: skipping malformed entry %s on %s: %v", m.ID, key, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (f *RedisFeed) Tail(ctx context.Context, channelID uuid.UUID, sinceID string) (<-chan Event, error) {
	key := streamKey(channelID)
	lastID := sinceID
	if lastID == "" {
		lastID = "$"
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for {
			res, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Block:   tailBlock,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue // block timeout, poll again
				}
				if ctx.Err() != nil {
					return
				}
				log.Printf("feed: tail read on %s: %v", key, err)
				return
			}
			for _, stream := range res {
				for _, m := range stream.Messages {
					lastID = m.ID
					ev, err := decodeEvent(channelID, m)
					if err != nil {
						log.Printf("feed: skipping malformed entry %s on %s: %v", m.ID, key, err)
						continue
					}
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func decodeEvent(channelID uuid.UUID, m redis.XMessage) (Event, error) {
	kind, ok := m.Values["kind"].(string)
	if !ok {
		return Event{}, errors.New("missing kind")
	}
	payload, ok := m.Values["payload"].(string)
	if !ok {
		return Event{}, errors.New("missing payload")
	}

	var at time.Time
	if raw, ok := m.Values["at"].(string); ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			at = time.UnixMilli(ms)
		}
	}

	return Event{
		ID:        m.ID,
		Kind:      Kind(kind),
		ChannelID: channelID,
		Payload:   []byte(payload),
		At:        at,
	}, nil
}

// compareStreamIDs orders redis stream ids ("<ms>-<seq>") numerically.
func compareStreamIDs(a, b string) int {
	aMS, aSeq := splitStreamID(a)
	bMS, bSeq := splitStreamID(b)
	if aMS != bMS {
		if aMS < bMS {
			return -1
		}
		return 1
	}
	if aSeq != bSeq {
		if aSeq < bSeq {
			return -1
		}
		return 1
	}
	return 0
}

func splitStreamID(id string) (int64, int64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseInt(ms, 10, 64)
	s, _ := strconv.ParseInt(seq, 10, 64)
	return m, s
}

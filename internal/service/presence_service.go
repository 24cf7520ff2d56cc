package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// presenceTTL bounds how long a last-active record survives; beyond it the
// user reads as offline anyway, so letting the key lapse is harmless.
const presenceTTL = 30 * 24 * time.Hour

// PresenceService tracks per-user last-active timestamps in redis. Every
// authenticated request and websocket frame touches it, so writes are a
// single SET with TTL.
type PresenceService struct {
	rdb *redis.Client
}

func NewPresenceService(rdb *redis.Client) *PresenceService {
	return &PresenceService{rdb: rdb}
}

func presenceKey(userID uuid.UUID) string {
	return "presence:last_active:" + userID.String()
}

func (s *PresenceService) TouchLastActive(ctx context.Context, userID uuid.UUID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.rdb.Set(ctx, presenceKey(userID), now, presenceTTL).Err(); err != nil {
		return fmt.Errorf("touching last active: %w", err)
	}
	return nil
}

// LastActive returns nil when the user has no recorded activity.
func (s *PresenceService) LastActive(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	val, err := s.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last active: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("parsing last active: %w", err)
	}
	return &t, nil
}

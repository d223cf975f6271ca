package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"choch-scanner/internal/logging"
)

// Redis key layout for position state.
const (
	// positionKeyPrefix is the prefix for one position snapshot.
	// Format: choch:position:{symbol}_{timeframe}
	positionKeyPrefix = "choch:position"

	// positionListKey indexes every stored position key.
	positionListKey = "choch:positions:list"

	// positionTTL bounds how long a stale snapshot survives. Snapshots are
	// refreshed on every lifecycle change, so a live position never expires.
	positionTTL = 7 * 24 * time.Hour
)

// PositionStore persists order-manager position snapshots in Redis so open
// four-order sets survive a restart. The stored value is opaque JSON owned
// by the order manager.
type PositionStore struct {
	client *redis.Client
	logger *logging.Logger
}

// NewPositionStore creates a position store over an existing Redis client.
func NewPositionStore(client *redis.Client) *PositionStore {
	return &PositionStore{
		client: client,
		logger: logging.WithComponent("position-store"),
	}
}

// Ping verifies the Redis connection.
func (s *PositionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save stores one position snapshot under its (symbol, timeframe) key.
func (s *PositionStore) Save(ctx context.Context, key string, state interface{}) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal position %s: %w", key, err)
	}

	redisKey := fmt.Sprintf("%s:%s", positionKeyPrefix, key)
	pipe := s.client.Pipeline()
	pipe.Set(ctx, redisKey, data, positionTTL)
	pipe.SAdd(ctx, positionListKey, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store position %s: %w", key, err)
	}
	return nil
}

// Delete removes one position snapshot.
func (s *PositionStore) Delete(ctx context.Context, key string) error {
	redisKey := fmt.Sprintf("%s:%s", positionKeyPrefix, key)
	pipe := s.client.Pipeline()
	pipe.Del(ctx, redisKey)
	pipe.SRem(ctx, positionListKey, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete position %s: %w", key, err)
	}
	return nil
}

// LoadAll returns every stored snapshot keyed by its (symbol, timeframe)
// key. Index entries whose value has expired are pruned as they are found.
func (s *PositionStore) LoadAll(ctx context.Context) (map[string]json.RawMessage, error) {
	keys, err := s.client.SMembers(ctx, positionListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	prefix := positionKeyPrefix + ":"
	positions := make(map[string]json.RawMessage, len(keys))
	for _, redisKey := range keys {
		data, err := s.client.Get(ctx, redisKey).Bytes()
		if err == redis.Nil {
			s.client.SRem(ctx, positionListKey, redisKey)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load position %s: %w", redisKey, err)
		}

		key := redisKey
		if len(redisKey) > len(prefix) && redisKey[:len(prefix)] == prefix {
			key = redisKey[len(prefix):]
		}
		positions[key] = json.RawMessage(data)
	}

	if len(positions) > 0 {
		s.logger.Info("Recovered position snapshots", "count", len(positions))
	}
	return positions, nil
}

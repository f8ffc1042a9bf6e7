package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shares-tracker/internal/protocol"
)

// syncedBlockKey holds the height of the next block to sync. Every
// block below it has been fully processed and committed.
const syncedBlockKey = "synced_block"

// CursorStore persists the keeper's sync cursor in Redis. A missing key
// floors the cursor to the block before the contract deployment, so a
// fresh database starts scanning at the deploy block.
type CursorStore struct {
	cache *RedisCache
}

// NewCursorStore creates a cursor store on the given Redis cache.
func NewCursorStore(cache *RedisCache) *CursorStore {
	return &CursorStore{cache: cache}
}

// Get returns the current cursor, or DeployBlock-1 when none is stored.
func (s *CursorStore) Get(ctx context.Context) (uint64, error) {
	value, err := s.cache.Get(ctx, syncedBlockKey)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return protocol.DeployBlock - 1, nil
		}
		return 0, fmt.Errorf("failed to read sync cursor: %w", err)
	}

	cursor, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sync cursor %q: %w", value, err)
	}
	if cursor < protocol.DeployBlock-1 {
		cursor = protocol.DeployBlock - 1
	}
	return cursor, nil
}

// Set advances the cursor. No expiry: the cursor must survive restarts.
func (s *CursorStore) Set(ctx context.Context, height uint64) error {
	if err := s.cache.Set(ctx, syncedBlockKey, strconv.FormatUint(height, 10), 0); err != nil {
		return fmt.Errorf("failed to write sync cursor: %w", err)
	}
	return nil
}

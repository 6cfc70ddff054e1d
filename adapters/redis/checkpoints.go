// Package redis stores consumer checkpoints in Redis. A checkpoint only
// bounds how far a consumer re-reads the log after a restart; losing one is
// safe because projection is idempotent.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/wildkoala/chronicle/core/es"
)

// CheckpointStore persists one last-processed sequence number per consumer.
type CheckpointStore struct {
	client *redis.Client
	key    string
}

func NewCheckpointStore(client *redis.Client, consumerName string) *CheckpointStore {
	return &CheckpointStore{
		client: client,
		key:    "chronicle:checkpoint:" + consumerName,
	}
}

func (s *CheckpointStore) Get(ctx context.Context) (uint64, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, es.ErrCheckpointNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint %s: %w", s.key, err)
	}
	seq, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt checkpoint %s: %w", s.key, err)
	}
	return seq, nil
}

func (s *CheckpointStore) Set(ctx context.Context, seq uint64) error {
	if err := s.client.Set(ctx, s.key, strconv.FormatUint(seq, 10), 0).Err(); err != nil {
		return fmt.Errorf("failed to persist checkpoint %s: %w", s.key, err)
	}
	return nil
}

var _ es.CheckpointStore = (*CheckpointStore)(nil)

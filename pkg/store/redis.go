package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eranova-digital/datacore/pkg/mirror"
)

// Redis is a Redis-backed record store. Records are stored as JSON under
// prefix:key with no TTL; freshness is the mirror's decision, not the
// store's.
type Redis[T any] struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store. prefix namespaces one record kind,
// e.g. "datacore:profile".
func NewRedis[T any](client *redis.Client, prefix string) *Redis[T] {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis[T]{
		client: client,
		prefix: prefix,
	}
}

// Get returns the record for key, or (nil, nil) when none exists.
func (r *Redis[T]) Get(ctx context.Context, key string) (*mirror.Record[T], error) {
	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec mirror.Record[T]
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// Upsert creates or replaces the record for key, stamping LastUpdated.
func (r *Redis[T]) Upsert(ctx context.Context, key string, payload T) error {
	rec := mirror.Record[T]{
		Key:         key,
		Payload:     payload,
		LastUpdated: time.Now(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := r.client.Set(ctx, r.redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis[T]) redisKey(key string) string {
	return r.prefix + ":" + key
}

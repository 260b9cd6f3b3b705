package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares drafts across facade instances. Keys expire after ttl.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, scope models.DraftScope, key string, draft any) error {
	k, err := storageKey(scope, key)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, k, payload, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, scope models.DraftScope, key string, dest any) (bool, error) {
	k, err := storageKey(scope, key)
	if err != nil {
		return false, err
	}
	val, err := s.rdb.Get(ctx, k).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) Clear(ctx context.Context, scope models.DraftScope, key string) error {
	k, err := storageKey(scope, key)
	if err != nil {
		return err
	}
	return s.rdb.Del(ctx, k).Err()
}

package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/sirupsen/logrus"
)

var ErrSubmissionInFlight = errors.New("a submission for this draft is already in progress")

// Guard allows at most one in-flight submission per key.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalGuard serializes submissions within one process.
type LocalGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{inFlight: map[string]struct{}{}}
}

func (g *LocalGuard) Acquire(ctx context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionInFlight, key)
	}
	g.inFlight[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		})
	}, nil
}

// RedisGuard serializes submissions across facade instances sharing a redis.
// The lock expires after ttl if the holder dies mid-call.
type RedisGuard struct {
	locker *redislock.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewRedisGuard(locker *redislock.Client, ttl time.Duration, logger *logrus.Logger) *RedisGuard {
	return &RedisGuard{locker: locker, ttl: ttl, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("submit:%s", key)
	lock, err := g.locker.Obtain(ctx, lockKey, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionInFlight, key)
	} else if err != nil {
		config.LogError(g.logger, "Submission", "RedisGuard.Acquire", "Error obtaining submit lock", lockKey, err)
		return nil, err
	}
	return func() {
		// the caller's ctx may already be cancelled
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogError(g.logger, "Submission", "RedisGuard.Release", "Error releasing submit lock", lockKey, err)
		}
	}, nil
}

package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/dvloznov/branch-sheets-sync/internal/logger"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key guarding sync runs.
const DefaultKey = "lock:sheets-sync"

// Redis is a Locker shared by every process using the same Redis. The lock
// is obtained with a TTL and refreshed in the background while held, so a
// crashed holder frees it after one TTL.
type Redis struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
}

// NewRedis builds a Redis locker. A non-positive ttl defaults to one minute.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *Redis {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{
		locker: redislock.New(client),
		key:    key,
		ttl:    ttl,
	}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context) (Lease, error) {
	lock, err := r.locker.Obtain(ctx, r.key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("Acquire: obtaining %s: %w", r.key, err)
	}

	lease := &redisLease{lock: lock, done: make(chan struct{})}
	lease.wg.Add(1)
	go lease.keepAlive(logger.WithContext(context.Background(), logger.FromContext(ctx)), r.ttl)
	return lease, nil
}

type redisLease struct {
	lock *redislock.Lock
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (l *redisLease) keepAlive(ctx context.Context, ttl time.Duration) {
	defer l.wg.Done()
	log := logger.FromContext(ctx)

	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			if err := l.lock.Refresh(ctx, ttl, nil); err != nil {
				log.Error().Err(err).Str("key", l.lock.Key()).Msg("Failed to refresh run lock")
				return
			}
		}
	}
}

// Release stops the refresher and releases the lock.
func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
		if rerr := l.lock.Release(ctx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			err = fmt.Errorf("Release: %w", rerr)
		}
	})
	return err
}

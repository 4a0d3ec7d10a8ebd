package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisTTL = 30 * time.Second

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

type redisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis returns a locker built on SET NX. The lock expires after ttl unless it is refreshed;
// a held lock is refreshed every third of ttl until it is released.
func NewRedis(client redis.UniversalClient, ttl time.Duration) Locker {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}

	return &redisLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLocker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	owner := uuid.NewString()

	err := poll(ctx, func() error {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAcquired
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	go l.refresh(held, cancel, key, owner, stop)

	return held, once(func() {
		close(stop)
		cancel(nil)
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, owner).Err()
	}), nil
}

// refresh extends the lock every third of its ttl. The held context is cancelled with ErrLost once
// the key belongs to someone else, or when no refresh has succeeded for a whole ttl.
func (l *redisLocker) refresh(held context.Context, cancel context.CancelCauseFunc, key, owner string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3) //nolint:gomnd
	defer ticker.Stop()

	refreshed := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-held.Done():
			return
		case <-ticker.C:
		}

		extended, err := refreshScript.Run(held, l.client, []string{key}, owner, l.ttl.Milliseconds()).Int()
		switch {
		case err == nil && extended == 1:
			refreshed = time.Now()
		case err == nil:
			cancel(fmt.Errorf("%w: %s is no longer owned", ErrLost, key))
			return
		case time.Since(refreshed) >= l.ttl:
			cancel(fmt.Errorf("%w: %s could not be refreshed: %w", ErrLost, key, err))
			return
		}
	}
}

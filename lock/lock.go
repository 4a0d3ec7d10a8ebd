// Package lock provides mutual exclusion between upgrader instances sharing one database.
package lock

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrNotAcquired = errors.New("lock is held by another owner")
	// ErrLost is the cancellation cause of a held context whose lock expired or changed owner.
	ErrLost = errors.New("lock was lost")
)

// Locker hands out exclusive ownership of a key.
type Locker interface {
	// Acquire blocks until the lock is held or ctx is done. The returned context is derived from ctx
	// and is cancelled with ErrLost if the locker learns that ownership ended early; work guarded by
	// the lock should run under it. The release function is safe to call more than once.
	Acquire(ctx context.Context, key string) (held context.Context, release func(), err error)
}

// HashKey maps a key onto a non-negative int64 using FNV-1a.
func HashKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec
}

const (
	pollInitialInterval = 50 * time.Millisecond
	pollMaxInterval     = 2 * time.Second
)

// poll retries try with exponential backoff until it stops returning ErrNotAcquired.
func poll(ctx context.Context, try func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pollInitialInterval
	b.MaxInterval = pollMaxInterval
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := try()
		if err == nil || errors.Is(err, ErrNotAcquired) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))

	return contextErr(ctx, err)
}

// contextErr prefers the context's error over whatever the driver reported for an interrupted call.
func contextErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func once(release func()) func() {
	var o sync.Once
	return func() {
		o.Do(release)
	}
}

// ---

type localLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal returns a locker that only excludes callers within the current process.
func NewLocal() Locker {
	return &localLocker{
		slots: make(map[string]chan struct{}),
	}
}

func (l *localLocker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return ctx, once(func() { <-slot }), nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

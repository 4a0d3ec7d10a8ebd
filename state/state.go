package state

import (
	"context"
	"errors"

	"github.com/root-talis/shinka/migration"
)

// Store persists the last completed token of each plan.
type Store interface {
	// Get returns the recorded token. ok is false when nothing was recorded under key.
	Get(ctx context.Context, key string) (token migration.Token, ok bool, err error)
	// Set records a token unconditionally.
	Set(ctx context.Context, key string, token migration.Token) error
	// CompareAndSet records next only if the recorded token still equals expected.
	CompareAndSet(ctx context.Context, key string, expected, next migration.Token) (bool, error)
}

// ScopeAware is implemented by stores that write through the ambient scope's transaction.
type ScopeAware interface {
	JoinsScope() bool
}

const (
	keyPrefix     = "Upgrader.State+"
	lockKeyPrefix = "Upgrader.Lock+"
)

var (
	ErrInvalidStateTable = errors.New("an error has occurred when reading state table")
	ErrEmptyKey          = errors.New("state key is empty")
)

// Key returns the key under which the state of a plan is recorded.
func Key(planName string) string {
	return keyPrefix + planName
}

// LockKey returns the key of the cross-process lock guarding upgrades of a plan.
func LockKey(planName string) string {
	return lockKeyPrefix + planName
}

// JoinsScope reports whether writes to the store are committed together with the ambient scope.
func JoinsScope(store Store) bool {
	aware, ok := store.(ScopeAware)
	return ok && aware.JoinsScope()
}

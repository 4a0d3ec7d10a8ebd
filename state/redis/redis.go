package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/state"
)

var errMismatch = errors.New("recorded state does not match")

type redisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewStore returns a store keeping plan states as plain redis strings named prefix+key.
//
// Redis cannot take part in a SQL transaction, so the store does not join the ambient scope:
// callers persist to it after the scope has committed.
func NewStore(client redis.UniversalClient, prefix string) state.Store {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *redisStore) JoinsScope() bool {
	return false
}

func (s *redisStore) Get(ctx context.Context, key string) (migration.Token, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("failed to get state: %w", state.ErrEmptyKey)
	}

	value, err := s.client.Get(ctx, s.prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("failed to get state %q: %w", key, err)
	}

	return migration.Token(value), true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, token migration.Token) error {
	if key == "" {
		return fmt.Errorf("failed to set state: %w", state.ErrEmptyKey)
	}

	if err := s.client.Set(ctx, s.prefix+key, string(token), 0).Err(); err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}

	return nil
}

func (s *redisStore) CompareAndSet(ctx context.Context, key string, expected, next migration.Token) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("failed to compare and set state: %w", state.ErrEmptyKey)
	}

	name := s.prefix + key

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, name).Result()
		if errors.Is(err, redis.Nil) {
			return errMismatch
		}
		if err != nil {
			return err
		}
		if current != string(expected) {
			return errMismatch
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, name, string(next), 0)
			return nil
		})
		return err
	}, name)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errMismatch), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("failed to compare and set state %q: %w", key, err)
	}
}

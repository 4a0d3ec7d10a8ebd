package lock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresLocker struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a locker built on session-level advisory locks. Each held lock pins one
// connection of pool; the server drops the lock if that connection dies.
func NewPostgres(pool *pgxpool.Pool) Locker {
	return &postgresLocker{pool: pool}
}

func (l *postgresLocker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	lockID := HashKey(key)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get lock connection for %s: %w", key, err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
		conn.Release()
		return nil, nil, fmt.Errorf("pg_advisory_lock(%d) for %s: %w", lockID, key, contextErr(ctx, err))
	}

	return ctx, once(func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", lockID)
		conn.Release()
	}), nil
}

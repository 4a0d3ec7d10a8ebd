package lock

import (
	"context"
	"database/sql"
	"fmt"
)

// mysql rejects lock names longer than this
const mysqlMaxLockName = 64

// GET_LOCK waits at most this many seconds per attempt, so that ctx is checked between attempts.
const mysqlLockWaitSeconds = 1

type mysqlLocker struct {
	db *sql.DB
}

// NewMySQL returns a locker built on GET_LOCK. Each held lock pins one connection of db.
func NewMySQL(db *sql.DB) Locker {
	return &mysqlLocker{db: db}
}

func (l *mysqlLocker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	name := mysqlLockName(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get lock connection for %s: %w", key, err)
	}

	err = poll(ctx, func() error {
		var acquired sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", name, mysqlLockWaitSeconds).Scan(&acquired); err != nil {
			return err
		}
		if !acquired.Valid || acquired.Int64 != 1 {
			return ErrNotAcquired
		}
		return nil
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	return ctx, once(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT RELEASE_LOCK(?)", name)
		conn.Close()
	}), nil
}

func mysqlLockName(key string) string {
	if len(key) <= mysqlMaxLockName {
		return key
	}
	return fmt.Sprintf("shinka:%x", HashKey(key))
}

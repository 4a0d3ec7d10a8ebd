package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/scope"
	"github.com/root-talis/shinka/state"
)

// goose keeps its own bookkeeping apart from the state table.
const gooseTable = "shinka_state_goose_version"

//go:embed migrations/*.sql
var migrations embed.FS

// goose is configured through package-level settings.
var gooseMu sync.Mutex //nolint:gochecknoglobals

type sqliteStore struct {
	conn *sql.DB
}

// NewStore migrates the state table of db to the latest version and returns a store over it.
// db must be opened with the modernc.org/sqlite driver. Writes join the ambient scope.
func NewStore(ctx context.Context, db *sql.DB) (state.Store, error) {
	if err := Up(ctx, db); err != nil {
		return nil, err
	}

	return &sqliteStore{conn: db}, nil
}

// Up applies the embedded state table migrations.
func Up(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetTableName(gooseTable)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate state table: %w", err)
	}

	return nil
}

func (s *sqliteStore) JoinsScope() bool {
	return true
}

func (s *sqliteStore) Get(ctx context.Context, key string) (migration.Token, bool, error) {
	if key == "" {
		return "", false, fmt.Errorf("failed to get state: %w", state.ErrEmptyKey)
	}

	var value string
	err := scope.Executor(ctx, s.conn).QueryRowContext(ctx,
		"SELECT value FROM shinka_state WHERE key = ?", key,
	).Scan(&value)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%w: %s", state.ErrInvalidStateTable, err)
	}

	return migration.Token(value), true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, token migration.Token) error {
	if key == "" {
		return fmt.Errorf("failed to set state: %w", state.ErrEmptyKey)
	}

	_, err := scope.Executor(ctx, s.conn).ExecContext(ctx,
		"INSERT INTO shinka_state (key, value, updated) VALUES (?, ?, CURRENT_TIMESTAMP) "+
			"ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated = excluded.updated",
		key, string(token),
	)
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}

	return nil
}

func (s *sqliteStore) CompareAndSet(ctx context.Context, key string, expected, next migration.Token) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("failed to compare and set state: %w", state.ErrEmptyKey)
	}

	result, err := scope.Executor(ctx, s.conn).ExecContext(ctx,
		"UPDATE shinka_state SET value = ?, updated = CURRENT_TIMESTAMP WHERE key = ? AND value = ?",
		string(next), key, string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("failed to compare and set state %q: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to compare and set state %q: %w", key, err)
	}

	return affected == 1, nil
}

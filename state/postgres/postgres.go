package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/scope"
	"github.com/root-talis/shinka/state"
)

const DefaultTableName = "shinka_state"

type DriverConfig struct {
	// SchemaName is optional; the connection's search_path is used when empty.
	SchemaName string
	TableName  string
}

type postgresStore struct {
	conn   *sql.DB
	config DriverConfig

	ensureMu sync.Mutex
	ensured  bool
}

// NewStore returns a store keeping plan states in a key/value table. conn is expected to be opened
// with the pgx stdlib driver. Writes join the ambient scope.
func NewStore(conn *sql.DB, config DriverConfig) state.Store {
	if config.TableName == "" {
		config.TableName = DefaultTableName
	}

	return &postgresStore{
		conn:   conn,
		config: config,
	}
}

func (s *postgresStore) JoinsScope() bool {
	return true
}

func (s *postgresStore) Get(ctx context.Context, key string) (migration.Token, bool, error) {
	tableName, err := s.prepare(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to get state: %w", err)
	}

	var value string
	err = scope.Executor(ctx, s.conn).QueryRowContext(ctx,
		"SELECT value FROM "+tableName+" WHERE key = $1", key,
	).Scan(&value)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%w: %s", state.ErrInvalidStateTable, err)
	}

	return migration.Token(value), true, nil
}

func (s *postgresStore) Set(ctx context.Context, key string, token migration.Token) error {
	tableName, err := s.prepare(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	_, err = scope.Executor(ctx, s.conn).ExecContext(ctx,
		"INSERT INTO "+tableName+" (key, value, updated) VALUES ($1, $2, now()) "+
			"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated = EXCLUDED.updated",
		key, string(token),
	)
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}

	return nil
}

func (s *postgresStore) CompareAndSet(ctx context.Context, key string, expected, next migration.Token) (bool, error) {
	tableName, err := s.prepare(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to compare and set state: %w", err)
	}

	result, err := scope.Executor(ctx, s.conn).ExecContext(ctx,
		"UPDATE "+tableName+" SET value = $1, updated = now() WHERE key = $2 AND value = $3",
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

func (s *postgresStore) prepare(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", state.ErrEmptyKey
	}

	tableName := s.quotedTableName()
	if err := s.ensureStateTableExists(ctx, tableName); err != nil {
		return "", err
	}

	return tableName, nil
}

func (s *postgresStore) quotedTableName() string {
	if s.config.SchemaName == "" {
		return quoteIdentifier(s.config.TableName)
	}
	return quoteIdentifier(s.config.SchemaName) + "." + quoteIdentifier(s.config.TableName)
}

// ensureStateTableExists runs outside of the ambient scope so that a failed scope does not
// take the table with it.
func (s *postgresStore) ensureStateTableExists(ctx context.Context, quotedTableName string) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	if s.ensured {
		return nil
	}

	_, err := s.conn.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+quotedTableName+" ("+
		"key     varchar(256) not null primary key, "+
		"value   varchar(256) not null, "+
		"updated timestamptz  not null default now()"+
		")")
	if err != nil {
		return fmt.Errorf("failed to create state table %s: %w", quotedTableName, err)
	}

	s.ensured = true

	return nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/scope"
	"github.com/root-talis/shinka/state"
)

type DriverConfig struct {
	DatabaseName string
	TableName    string
}

type mysqlStore struct {
	conn   *sql.DB
	config DriverConfig

	ensureMu sync.Mutex
	ensured  bool
}

// NewStore returns a store keeping plan states in a key/value table. Writes join the ambient scope.
func NewStore(conn *sql.DB, config DriverConfig) state.Store {
	return &mysqlStore{
		conn:   conn,
		config: config,
	}
}

func (s *mysqlStore) JoinsScope() bool {
	return true
}

func (s *mysqlStore) Get(ctx context.Context, key string) (migration.Token, bool, error) {
	tableName, err := s.prepare(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to get state: %w", err)
	}

	var value string
	err = scope.Executor(ctx, s.conn).QueryRowContext(ctx, fmt.Sprintf(
		"SELECT `value` FROM %s WHERE `key` = ?",
		tableName,
	), key).Scan(&value)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%w: %s", state.ErrInvalidStateTable, err)
	}

	return migration.Token(value), true, nil
}

func (s *mysqlStore) Set(ctx context.Context, key string, token migration.Token) error {
	tableName, err := s.prepare(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}

	_, err = scope.Executor(ctx, s.conn).ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (`key`, `value`, `updated`) VALUES (?, ?, ?) "+
			"ON DUPLICATE KEY UPDATE `value` = VALUES(`value`), `updated` = VALUES(`updated`)",
		tableName,
	), key, string(token), now())
	if err != nil {
		return fmt.Errorf("failed to set state %q: %w", key, err)
	}

	return nil
}

func (s *mysqlStore) CompareAndSet(ctx context.Context, key string, expected, next migration.Token) (bool, error) {
	if expected == next {
		// mysql reports changed rows, not matched ones, so an unchanged value would look like a conflict
		current, ok, err := s.Get(ctx, key)
		return ok && current == expected, err
	}

	tableName, err := s.prepare(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to compare and set state: %w", err)
	}

	result, err := scope.Executor(ctx, s.conn).ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET `value` = ?, `updated` = ? WHERE `key` = ? AND `value` = ?",
		tableName,
	), string(next), now(), key, string(expected))
	if err != nil {
		return false, fmt.Errorf("failed to compare and set state %q: %w", key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to compare and set state %q: %w", key, err)
	}

	return affected == 1, nil
}

func (s *mysqlStore) prepare(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", state.ErrEmptyKey
	}

	tableName := s.makeEscapedStateTableName()
	if err := s.ensureStateTableExists(ctx, tableName); err != nil {
		return "", err
	}

	return tableName, nil
}

func (s *mysqlStore) makeEscapedStateTableName() string {
	return fmt.Sprintf(
		"`%s`.`%s`",
		escapeMysqlString(s.config.DatabaseName),
		escapeMysqlString(s.config.TableName),
	)
}

// ensureStateTableExists runs outside of the ambient scope: DDL would implicitly commit it.
func (s *mysqlStore) ensureStateTableExists(ctx context.Context, escapedTableName string) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	if s.ensured {
		return nil
	}

	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s ("+
			"`key`     varchar(256) not null, "+
			"`value`   varchar(256) not null, "+
			"`updated` datetime not null, "+
			"primary key (`key`)"+
			") default charset utf8mb4",
		escapedTableName,
	))
	if err != nil {
		return fmt.Errorf("failed to create state table %s: %w", escapedTableName, err)
	}

	s.ensured = true

	return nil
}

func now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}

// originally from https://gist.github.com/siddontang/8875771
func escapeMysqlString(sql string) string { //nolint:cyclop
	const prealloc = 2
	dest := make([]rune, 0, prealloc*len(sql))

	for _, character := range sql {
		var escape rune

		switch character {
		case 0:
			escape = '0'
		case '\n':
			escape = 'n'
		case '\r':
			escape = 'r'
		case '\\':
			escape = '\\'
		case '\'':
			escape = '\''
		case '"':
			escape = '"'
		case '`':
			escape = '`'
		case '\032':
			escape = 'Z'
		}

		if escape != 0 {
			dest = append(dest, '\\', escape)
		} else {
			dest = append(dest, character)
		}
	}

	return string(dest)
}

// Package scope provides transactional units of work that commit only when completed.
//
// A scope begun while another scope of the same provider is ambient in the context joins it
// instead of opening a new transaction. Closing a joined scope without completing it dooms the
// outermost scope, which then rolls back even if it was completed.
package scope

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/root-talis/shinka/migration"
)

var ErrScopeDoomed = errors.New("scope was rolled back because a nested scope did not complete")

type Scope interface {
	// Complete marks the scope successful. Nothing is committed until Close.
	Complete()
	// Close commits a completed outermost scope and rolls back otherwise. It is idempotent.
	Close() error
	// Execer returns the transaction the scope runs in, or nil when the scope has none.
	Execer() migration.Execer
}

type Provider interface {
	// Begin opens a scope, or joins the ambient one, and returns a context carrying it.
	Begin(ctx context.Context) (context.Context, Scope, error)
}

type ambientKey struct{}

// Ambient returns the scope carried by ctx, if any.
func Ambient(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ambientKey{}).(Scope)
	return s, ok
}

// Executor returns the transaction of the ambient scope, falling back to fallback.
func Executor(ctx context.Context, fallback migration.Execer) migration.Execer {
	if s, ok := Ambient(ctx); ok {
		if e := s.Execer(); e != nil {
			return e
		}
	}
	return fallback
}

// ---

type sqlProvider struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewSQLProvider returns a provider running each outermost scope in a database/sql transaction.
func NewSQLProvider(db *sql.DB, opts *sql.TxOptions) Provider {
	return &sqlProvider{
		db:   db,
		opts: opts,
	}
}

func (p *sqlProvider) Begin(ctx context.Context) (context.Context, Scope, error) {
	if parent, ok := ctx.Value(ambientKey{}).(*sqlScope); ok && parent.provider == p && !parent.closed {
		child := &sqlScope{
			provider: p,
			root:     parent.root,
			tx:       parent.tx,
		}
		return context.WithValue(ctx, ambientKey{}, Scope(child)), child, nil
	}

	tx, err := p.db.BeginTx(ctx, p.opts)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to begin scope transaction: %w", err)
	}

	root := &sqlScope{
		provider: p,
		tx:       tx,
	}
	root.root = root

	return context.WithValue(ctx, ambientKey{}, Scope(root)), root, nil
}

type sqlScope struct {
	provider  *sqlProvider
	root      *sqlScope
	tx        *sql.Tx
	completed bool
	closed    bool
	doomed    bool
}

func (s *sqlScope) Complete() {
	s.completed = true
}

func (s *sqlScope) Execer() migration.Execer {
	return s.tx
}

func (s *sqlScope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.root != s {
		if !s.completed {
			s.root.doomed = true
		}
		return nil
	}

	if s.completed && !s.doomed {
		if err := s.tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit scope transaction: %w", err)
		}
		return nil
	}

	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back scope transaction: %w", err)
	}

	if s.completed {
		return ErrScopeDoomed
	}

	return nil
}

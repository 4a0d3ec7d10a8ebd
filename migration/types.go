package migration

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Token names one point in the evolution of a schema. Tokens are opaque.
type Token string

// Origin is the token of a database where nothing is installed yet.
const Origin Token = ""

func (t Token) String() string {
	if t == Origin {
		return "<origin>"
	}
	return string(t)
}

// ---

// StepRef identifies a registered Step. An empty StepRef means the transition has no step.
type StepRef string

type Transition struct {
	From Token
	To   Token
	Step StepRef
}

func (t Transition) HasStep() bool {
	return t.Step != ""
}

func (t Transition) String() string {
	if !t.HasStep() {
		return fmt.Sprintf("%s -> %s", t.From, t.To)
	}
	return fmt.Sprintf("%s -> %s (%s)", t.From, t.To, t.Step)
}

// ---

// Execer is the subset of *sql.Tx and *sql.DB available to steps.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Context is handed to a Step when its transition is executed.
type Context struct {
	Plan       string
	Transition Transition
	DB         Execer
	Logger     *slog.Logger
}

// Step is a unit of schema-mutating work bound to one transition.
//
// A step may assume that the schema matches the token it transitions from and that it is
// executed at most once per persisted run.
type Step interface {
	Migrate(ctx context.Context, mc *Context) error
}

type StepFunc func(ctx context.Context, mc *Context) error

func (f StepFunc) Migrate(ctx context.Context, mc *Context) error {
	return f(ctx, mc)
}

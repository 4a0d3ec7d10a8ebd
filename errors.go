package shinka

import (
	"errors"
	"fmt"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
)

var (
	// ErrConfiguration is returned when the starting state cannot be derived, before anything is mutated.
	ErrConfiguration = errors.New("upgrader is misconfigured")
	// ErrUnreachableState is returned when the recorded state is unknown to the plan.
	ErrUnreachableState = plan.ErrUnreachableState
	// ErrMigrationExecution is matched by every *MigrationError.
	ErrMigrationExecution = errors.New("migration step failed")
	// ErrEmptyState is returned when a run would record the empty token.
	ErrEmptyState = errors.New("upgrade resulted in an empty state")
	// ErrConcurrentStateMutation is returned when the recorded state changed while the run was in progress.
	ErrConcurrentStateMutation = errors.New("state was changed by another upgrader")
	ErrLockUnavailable         = errors.New("failed to acquire the upgrade lock")
	ErrPostMigration           = errors.New("post-migration failed")
)

// MigrationError reports the transition whose step failed. The state recorded before the
// transition is left in place.
type MigrationError struct {
	Plan       string
	Transition migration.Transition
	Err        error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("plan %q: transition %s failed: %s", e.Plan, e.Transition, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationExecution
}

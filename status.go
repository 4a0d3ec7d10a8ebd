package shinka

import (
	"context"
	"errors"
	"fmt"

	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
	"github.com/root-talis/shinka/state"
)

// Level tells what an Execute call would have to do.
type Level int

const (
	// LevelRun means the recorded state is final and nothing is pending.
	LevelRun Level = iota
	// LevelUpgrade means transitions are pending from the recorded state.
	LevelUpgrade
	// LevelInstall means no state is recorded.
	LevelInstall
	// LevelUnreachable means the recorded state is unknown to the plan and needs manual intervention.
	LevelUnreachable
)

func (l Level) String() string {
	switch l {
	case LevelRun:
		return "run"
	case LevelUpgrade:
		return "upgrade"
	case LevelInstall:
		return "install"
	case LevelUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

type Status struct {
	Plan    string
	Current migration.Token
	// Present is false when no state is recorded.
	Present bool
	Final   migration.Token
	// Pending lists the transitions from Current, or from the origin when nothing is recorded.
	Pending []migration.Transition
	Level   Level
}

func (u *upgraderImpl) Status(ctx context.Context) (*Status, error) {
	token, ok, err := u.store.Get(ctx, state.Key(u.plan.Name()))
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	status := &Status{
		Plan:    u.plan.Name(),
		Current: token,
		Present: ok,
		Final:   u.plan.Final(),
	}

	if !ok {
		status.Level = LevelInstall
		if u.plan.Has(migration.Origin) {
			status.Pending, _ = u.plan.Resolve(migration.Origin)
		}
		return status, nil
	}

	pending, err := u.plan.Resolve(token)
	switch {
	case errors.Is(err, plan.ErrUnreachableState):
		status.Level = LevelUnreachable
	case err != nil:
		return nil, err
	case len(pending) == 0:
		status.Level = LevelRun
	default:
		status.Level = LevelUpgrade
		status.Pending = pending
	}

	return status, nil
}

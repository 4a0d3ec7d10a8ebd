package shinka_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/shinka"
	"github.com/root-talis/shinka/lock"
	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
	"github.com/root-talis/shinka/scope"
	"github.com/root-talis/shinka/state"
	"github.com/root-talis/shinka/state/memory"
	"github.com/root-talis/shinka/version"
)

var ErrAny = errors.New("test error")

// -- testing double for scope ----------

type scopeMock struct {
	mu         sync.Mutex
	begun      int
	committed  int
	rolledBack int
	beginErr   error
}

func (p *scopeMock) Begin(ctx context.Context) (context.Context, scope.Scope, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.beginErr != nil {
		return ctx, nil, p.beginErr
	}
	p.begun++

	return ctx, &mockScope{provider: p}, nil
}

type mockScope struct {
	provider  *scopeMock
	completed bool
	closed    bool
}

func (s *mockScope) Complete() {
	s.completed = true
}

func (s *mockScope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()

	if s.completed {
		s.provider.committed++
	} else {
		s.provider.rolledBack++
	}

	return nil
}

func (s *mockScope) Execer() migration.Execer {
	return nil
}

// -- testing double for state store ----------

type storeMock struct {
	state.Store

	mu     sync.Mutex
	sets   int
	swaps  int
	getErr error
}

func newStoreMock(initial ...migration.Token) *storeMock {
	m := &storeMock{Store: memory.NewStore()}
	if len(initial) > 0 {
		_ = m.Store.Set(context.Background(), state.Key("app"), initial[0])
	}
	return m
}

func (m *storeMock) Get(ctx context.Context, key string) (migration.Token, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	return m.Store.Get(ctx, key)
}

func (m *storeMock) Set(ctx context.Context, key string, token migration.Token) error {
	m.mu.Lock()
	m.sets++
	m.mu.Unlock()
	return m.Store.Set(ctx, key, token)
}

func (m *storeMock) CompareAndSet(ctx context.Context, key string, expected, next migration.Token) (bool, error) {
	m.mu.Lock()
	m.swaps++
	m.mu.Unlock()
	return m.Store.CompareAndSet(ctx, key, expected, next)
}

func (m *storeMock) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets + m.swaps
}

func (m *storeMock) recorded(t *testing.T) (migration.Token, bool) {
	t.Helper()

	token, ok, err := m.Store.Get(context.Background(), state.Key("app"))
	require.NoError(t, err)
	return token, ok
}

// -- testing double for locker ----------

type lockerMock struct {
	mu       sync.Mutex
	keys     []string
	released int
	err      error
	lose     context.CancelCauseFunc
}

func (l *lockerMock) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, nil, l.err
	}
	l.keys = append(l.keys, key)

	held, cancel := context.WithCancelCause(ctx)
	l.lose = cancel

	return held, func() {
		cancel(nil)
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

// loseLock cancels the held context of the last acquired lock as a locker does when ownership ends.
func (l *lockerMock) loseLock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lose(lock.ErrLost)
}

// -- plan fixture ----------

type stepLog struct {
	mu    sync.Mutex
	calls []migration.StepRef
}

func (l *stepLog) add(ref migration.StepRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, ref)
}

func (l *stepLog) steps() []migration.StepRef {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.calls) == 0 {
		return nil
	}
	return append([]migration.StepRef{}, l.calls...)
}

// newPlan builds "" -(M1)-> B -(M2)-> C with a legacy branch L -(M3)-> B. Steps listed in
// failing return their error instead of succeeding.
func newPlan(t *testing.T, log *stepLog, failing map[migration.StepRef]error) (*plan.Plan, *migration.Registry) {
	t.Helper()

	reg := migration.NewRegistry()
	for _, ref := range []migration.StepRef{"M1", "M2", "M3"} {
		ref := ref
		require.NoError(t, reg.RegisterFunc(ref, func(_ context.Context, mc *migration.Context) error {
			assert.Equal(t, ref, mc.Transition.Step)
			assert.NotNil(t, mc.Logger)
			if err := failing[ref]; err != nil {
				return err
			}
			log.add(ref)
			return nil
		}))
	}

	p, err := plan.NewBuilder("app", reg).
		From("").
		Chain("M1", "B").
		Chain("M2", "C").
		From("L").
		Chain("M3", "B").
		Build()
	require.NoError(t, err)

	return p, reg
}

func newVersionMap(t *testing.T) *version.Map {
	t.Helper()

	m, err := version.NewMap("8.0.0",
		version.Range{Min: "7.0.0", Max: "8.0.0", Token: "L"},
		version.Range{Min: "8.0.0", Token: "C"},
	)
	require.NoError(t, err)

	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tr(from, to migration.Token, step migration.StepRef) migration.Transition {
	return migration.Transition{From: from, To: to, Step: step}
}

//
// -- Tests for Upgrader.Execute() ------------
//

var executeTests = []struct { // nolint:gochecknoglobals
	name          string
	recorded      *migration.Token
	legacyVersion string
	failing       map[migration.StepRef]error

	expectedErr      error
	expectedSteps    []migration.StepRef
	expectedFrom     migration.Token
	expectedForced   bool
	expectedWrites   int
	expectedRecorded *migration.Token
}{
	// -- success cases: ---
	/* s0 */ {
		name:             "test s0: should install from scratch when nothing is recorded",
		expectedSteps:    []migration.StepRef{"M1", "M2"},
		expectedFrom:     "",
		expectedForced:   true,
		expectedRecorded: token("C"),
	},
	/* s1 */ {
		name:             "test s1: should resume from an intermediate state",
		recorded:         token("B"),
		expectedSteps:    []migration.StepRef{"M2"},
		expectedFrom:     "B",
		expectedRecorded: token("C"),
	},
	/* s2 */ {
		name:             "test s2: should do nothing at the final state",
		recorded:         token("C"),
		expectedSteps:    nil,
		expectedFrom:     "C",
		expectedWrites:   0,
		expectedRecorded: token("C"),
	},
	/* s3 */ {
		name:             "test s3: should start a legacy installation from its mapped state",
		legacyVersion:    "7.2.0",
		expectedSteps:    []migration.StepRef{"M3", "M2"},
		expectedFrom:     "L",
		expectedForced:   true,
		expectedRecorded: token("C"),
	},
	/* s4 */ {
		name:             "test s4: should record the final state of a current legacy installation without steps",
		legacyVersion:    "8.0.0",
		expectedSteps:    nil,
		expectedFrom:     "C",
		expectedForced:   true,
		expectedWrites:   1,
		expectedRecorded: token("C"),
	},
	/* s5 */ {
		name:             "test s5: should prefer the recorded state over the legacy version",
		recorded:         token("B"),
		legacyVersion:    "7.2.0",
		expectedSteps:    []migration.StepRef{"M2"},
		expectedFrom:     "B",
		expectedRecorded: token("C"),
	},

	// -- error cases: ---
	/* e0 */ {
		name:             "test e0: should refuse a state unknown to the plan",
		recorded:         token("X"),
		expectedErr:      shinka.ErrUnreachableState,
		expectedRecorded: token("X"),
	},
	/* e1 */ {
		name:          "test e1: should refuse an unsupported legacy version before mutating anything",
		legacyVersion: "6.0.0",
		expectedErr:   shinka.ErrConfiguration,
	},
	/* e2 */ {
		name:             "test e2: should report the failing transition and keep the prior state",
		recorded:         token("B"),
		failing:          map[migration.StepRef]error{"M2": ErrAny},
		expectedErr:      shinka.ErrMigrationExecution,
		expectedRecorded: token("B"),
	},
	/* e3 */ {
		name:          "test e3: should record nothing when a fresh install fails at its first step",
		failing:       map[migration.StepRef]error{"M1": ErrAny},
		expectedErr:   shinka.ErrMigrationExecution,
		expectedSteps: nil,
	},
}

func token(t migration.Token) *migration.Token {
	return &t
}

func TestExecute(t *testing.T) {
	t.Parallel()
	t.Logf("Should walk the plan from the recorded state to the final state.")

	for _, checkpoints := range []bool{true, false} {
		checkpoints := checkpoints
		for _, test := range executeTests {
			test := test
			name := test.name
			if !checkpoints {
				name += " (single scope)"
			}

			t.Run(name, func(t *testing.T) {
				t.Parallel()

				log := &stepLog{}
				p, reg := newPlan(t, log, test.failing)

				store := newStoreMock()
				if test.recorded != nil {
					store = newStoreMock(*test.recorded)
				}
				scopes := &scopeMock{}

				upgrader := shinka.New(p, reg, store, scopes,
					shinka.WithLogger(discardLogger()),
					shinka.WithVersionMap(newVersionMap(t)),
					shinka.WithCheckpoints(checkpoints),
				)

				result, err := upgrader.Execute(context.Background(), test.legacyVersion)

				if test.expectedErr != nil {
					assert.ErrorIs(t, err, test.expectedErr)
					assert.Nil(t, result)
				} else {
					require.NoError(t, err)
					assert.Equal(t, "app", result.Plan)
					assert.Equal(t, test.expectedFrom, result.From)
					assert.Equal(t, migration.Token("C"), result.To)
					assert.Equal(t, test.expectedForced, result.Forced)
					assert.NotEqual(t, [16]byte{}, [16]byte(result.RunID))
					assert.Equal(t, test.expectedWrites != 0 || len(test.expectedSteps) != 0, store.writes() > 0)
				}

				assert.Equal(t, test.expectedSteps, log.steps())

				recorded, ok := store.recorded(t)
				if test.expectedRecorded == nil {
					assert.False(t, ok, "no state should be recorded, found %q", recorded)
				} else {
					assert.True(t, ok)
					assert.Equal(t, *test.expectedRecorded, recorded)
				}

				scopes.mu.Lock()
				assert.Equal(t, scopes.begun, scopes.committed+scopes.rolledBack, "every scope must be closed")
				scopes.mu.Unlock()
			})
		}
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)
	store := newStoreMock()
	upgrader := shinka.New(p, reg, store, &scopeMock{}, shinka.WithLogger(discardLogger()))

	first, err := upgrader.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []migration.Transition{tr("", "B", "M1"), tr("B", "C", "M2")}, first.Executed)

	writes := store.writes()

	second, err := upgrader.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, second.Executed)
	assert.False(t, second.Forced)
	assert.Equal(t, writes, store.writes(), "a completed plan must not be written again")
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestExecuteMigrationError(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, map[migration.StepRef]error{"M2": ErrAny})
	store := newStoreMock()
	scopes := &scopeMock{}
	upgrader := shinka.New(p, reg, store, scopes, shinka.WithLogger(discardLogger()))

	_, err := upgrader.Execute(context.Background(), "")

	var migrationErr *shinka.MigrationError
	require.ErrorAs(t, err, &migrationErr)
	assert.Equal(t, "app", migrationErr.Plan)
	assert.Equal(t, tr("B", "C", "M2"), migrationErr.Transition)
	assert.ErrorIs(t, err, ErrAny)

	// the first transition is checkpointed, the failing one rolled back
	recorded, ok := store.recorded(t)
	assert.True(t, ok)
	assert.Equal(t, migration.Token("B"), recorded)
	assert.Equal(t, 1, scopes.committed)
	assert.Equal(t, 1, scopes.rolledBack)
}

func TestExecuteDetectsConcurrentMutation(t *testing.T) {
	t.Parallel()

	for _, checkpoints := range []bool{true, false} {
		checkpoints := checkpoints
		t.Run("checkpoints="+map[bool]string{true: "on", false: "off"}[checkpoints], func(t *testing.T) {
			t.Parallel()

			store := newStoreMock("B")

			// another upgrader moves the state while M2 is running
			reg := migration.NewRegistry()
			require.NoError(t, reg.RegisterFunc("M1", func(context.Context, *migration.Context) error { return nil }))
			require.NoError(t, reg.RegisterFunc("M2", func(ctx context.Context, _ *migration.Context) error {
				return store.Store.Set(ctx, state.Key("app"), "C")
			}))
			p := plan.NewBuilder("app", reg).From("").Chain("M1", "B").Chain("M2", "C").MustBuild()

			upgrader := shinka.New(p, reg, store, &scopeMock{},
				shinka.WithLogger(discardLogger()),
				shinka.WithCheckpoints(checkpoints),
			)

			_, err := upgrader.Execute(context.Background(), "")
			assert.ErrorIs(t, err, shinka.ErrConcurrentStateMutation)
		})
	}
}

func TestExecuteLegacyVersionWithoutVersionMap(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)
	store := newStoreMock()
	upgrader := shinka.New(p, reg, store, &scopeMock{}, shinka.WithLogger(discardLogger()))

	_, err := upgrader.Execute(context.Background(), "7.2.0")
	assert.ErrorIs(t, err, shinka.ErrConfiguration)
	assert.Empty(t, log.steps())
	assert.Equal(t, 0, store.writes())
}

func TestExecuteUnregisteredStep(t *testing.T) {
	t.Parallel()

	p := plan.NewBuilder("app", nil).From("").Chain("M1", "B").MustBuild()
	upgrader := shinka.New(p, migration.NewRegistry(), newStoreMock(), &scopeMock{}, shinka.WithLogger(discardLogger()))

	_, err := upgrader.Execute(context.Background(), "")
	assert.ErrorIs(t, err, shinka.ErrConfiguration)
	assert.ErrorIs(t, err, migration.ErrStepUnknown)
}

func TestExecuteFollowsAliases(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	_, reg := newPlan(t, log, nil)
	p := plan.NewBuilder("app", reg).
		From("").Chain("M1", "B").Alias("B2").Chain("M2", "C").
		MustBuild()

	result, err := shinka.New(p, reg, newStoreMock(), &scopeMock{}, shinka.WithLogger(discardLogger())).
		Execute(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []migration.StepRef{"M1", "M2"}, log.steps())
	assert.Equal(t, []migration.Transition{tr("", "B", "M1"), tr("B", "B2", ""), tr("B2", "C", "M2")}, result.Executed)
}

func TestExecuteStoreFailure(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)
	store := newStoreMock()
	store.getErr = ErrAny

	_, err := shinka.New(p, reg, store, &scopeMock{}, shinka.WithLogger(discardLogger())).
		Execute(context.Background(), "")
	assert.ErrorIs(t, err, ErrAny)
	assert.Empty(t, log.steps())
}

func TestExecuteScopeFailure(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)

	_, err := shinka.New(p, reg, newStoreMock(), &scopeMock{beginErr: ErrAny}, shinka.WithLogger(discardLogger())).
		Execute(context.Background(), "")
	assert.ErrorIs(t, err, ErrAny)
	assert.Empty(t, log.steps())
}

func TestExecuteCancelled(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := shinka.New(p, reg, newStoreMock("B"), &scopeMock{}, shinka.WithLogger(discardLogger())).
		Execute(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, log.steps())
}

//
// -- Tests for locking ------------
//

func TestExecuteHoldsLock(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)
	locker := &lockerMock{}

	_, err := shinka.New(p, reg, newStoreMock(), &scopeMock{},
		shinka.WithLogger(discardLogger()),
		shinka.WithLocker(locker),
	).Execute(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"Upgrader.Lock+app"}, locker.keys)
	assert.Equal(t, 1, locker.released)
}

func TestExecuteLockUnavailable(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)
	store := newStoreMock()

	_, err := shinka.New(p, reg, store, &scopeMock{},
		shinka.WithLogger(discardLogger()),
		shinka.WithLocker(&lockerMock{err: context.DeadlineExceeded}),
	).Execute(context.Background(), "")

	assert.ErrorIs(t, err, shinka.ErrLockUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, log.steps())
	assert.Equal(t, 0, store.writes())
}

func TestExecuteStopsWhenLockIsLost(t *testing.T) {
	t.Parallel()

	for _, checkpoints := range []bool{true, false} {
		checkpoints := checkpoints
		t.Run(fmt.Sprintf("checkpoints=%v", checkpoints), func(t *testing.T) {
			t.Parallel()

			log := &stepLog{}
			locker := &lockerMock{}
			store := newStoreMock()

			reg := migration.NewRegistry()
			require.NoError(t, reg.RegisterFunc("M1", func(ctx context.Context, _ *migration.Context) error {
				log.add("M1")
				locker.loseLock()
				return nil
			}))
			require.NoError(t, reg.RegisterFunc("M2", func(ctx context.Context, _ *migration.Context) error {
				log.add("M2")
				return ctx.Err()
			}))
			p, err := plan.NewBuilder("app", reg).From("").Chain("M1", "B").Chain("M2", "C").Build()
			require.NoError(t, err)

			result, err := shinka.New(p, reg, store, &scopeMock{},
				shinka.WithLogger(discardLogger()),
				shinka.WithLocker(locker),
				shinka.WithCheckpoints(checkpoints),
			).Execute(context.Background(), "")

			assert.Nil(t, result)
			assert.ErrorIs(t, err, shinka.ErrLockUnavailable)
			assert.ErrorIs(t, err, lock.ErrLost)
			assert.Equal(t, 1, locker.released)

			recorded, ok, getErr := store.Get(context.Background(), state.Key("app"))
			require.NoError(t, getErr)
			if checkpoints {
				assert.Equal(t, []migration.StepRef{"M1"}, log.steps(), "no step may start after the lock is lost")
				assert.True(t, ok)
				assert.Equal(t, migration.Token("B"), recorded)
			} else {
				assert.Equal(t, []migration.StepRef{"M1", "M2"}, log.steps())
				assert.False(t, ok, "the single scope must roll back")
			}
		})
	}
}

//
// -- Tests for post-migrations ------------
//

func TestPostMigrations(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)
	store := newStoreMock()

	var seen []migration.Transition
	post := migration.StepFunc(func(_ context.Context, mc *migration.Context) error {
		seen = append(seen, mc.Transition)
		return nil
	})

	upgrader := shinka.New(p, reg, store, &scopeMock{},
		shinka.WithLogger(discardLogger()),
		shinka.WithPostMigrations(post),
	)

	_, err := upgrader.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []migration.Transition{{From: "", To: "C"}}, seen)

	_, err = upgrader.Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, seen, 1, "post-migrations only run after transitions were executed")
}

func TestPostMigrationFailureKeepsState(t *testing.T) {
	t.Parallel()

	log := &stepLog{}
	p, reg := newPlan(t, log, nil)
	store := newStoreMock("B")

	_, err := shinka.New(p, reg, store, &scopeMock{},
		shinka.WithLogger(discardLogger()),
		shinka.WithPostMigrations(migration.StepFunc(func(context.Context, *migration.Context) error {
			return ErrAny
		})),
	).Execute(context.Background(), "")

	assert.ErrorIs(t, err, shinka.ErrPostMigration)
	assert.ErrorIs(t, err, ErrAny)

	recorded, _ := store.recorded(t)
	assert.Equal(t, migration.Token("C"), recorded)
}

//
// -- Tests for metrics ------------
//

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := shinka.NewMetrics(reg)

	log := &stepLog{}
	p, steps := newPlan(t, log, nil)

	_, err := shinka.New(p, steps, newStoreMock(), &scopeMock{},
		shinka.WithLogger(discardLogger()),
		shinka.WithMetrics(metrics),
	).Execute(context.Background(), "")
	require.NoError(t, err)

	_, err = shinka.New(p, steps, newStoreMock("X"), &scopeMock{},
		shinka.WithLogger(discardLogger()),
		shinka.WithMetrics(metrics),
	).Execute(context.Background(), "")
	require.Error(t, err)

	expected := `
# HELP shinka_runs_total Upgrade runs by outcome.
# TYPE shinka_runs_total counter
shinka_runs_total{plan="app",result="ok"} 1
shinka_runs_total{plan="app",result="unreachable"} 1
# HELP shinka_transitions_total Transitions executed successfully.
# TYPE shinka_transitions_total counter
shinka_transitions_total{plan="app",step="M1"} 1
shinka_transitions_total{plan="app",step="M2"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"shinka_runs_total", "shinka_transitions_total"))
	series, err := testutil.GatherAndCount(reg, "shinka_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

//
// -- Tests for Upgrader.Status() ------------
//

var statusTests = []struct { // nolint:gochecknoglobals
	name     string
	recorded *migration.Token
	expected shinka.Status
}{
	/* s0 */ {
		name: "test s0: should report an install when nothing is recorded",
		expected: shinka.Status{
			Plan: "app", Final: "C", Level: shinka.LevelInstall,
			Pending: []migration.Transition{tr("", "B", "M1"), tr("B", "C", "M2")},
		},
	},
	/* s1 */ {
		name:     "test s1: should report pending transitions",
		recorded: token("L"),
		expected: shinka.Status{
			Plan: "app", Current: "L", Present: true, Final: "C", Level: shinka.LevelUpgrade,
			Pending: []migration.Transition{tr("L", "B", "M3"), tr("B", "C", "M2")},
		},
	},
	/* s2 */ {
		name:     "test s2: should report a finished plan",
		recorded: token("C"),
		expected: shinka.Status{Plan: "app", Current: "C", Present: true, Final: "C", Level: shinka.LevelRun},
	},
	/* s3 */ {
		name:     "test s3: should report an unknown state",
		recorded: token("X"),
		expected: shinka.Status{Plan: "app", Current: "X", Present: true, Final: "C", Level: shinka.LevelUnreachable},
	},
}

func TestStatus(t *testing.T) {
	t.Parallel()

	for _, test := range statusTests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			log := &stepLog{}
			p, reg := newPlan(t, log, nil)

			store := newStoreMock()
			if test.recorded != nil {
				store = newStoreMock(*test.recorded)
			}

			status, err := shinka.New(p, reg, store, &scopeMock{}).Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, test.expected, *status)
			assert.Empty(t, log.steps())
			assert.Equal(t, 0, store.writes())
		})
	}
}

func TestLevelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "run", shinka.LevelRun.String())
	assert.Equal(t, "upgrade", shinka.LevelUpgrade.String())
	assert.Equal(t, "install", shinka.LevelInstall.String())
	assert.Equal(t, "unreachable", shinka.LevelUnreachable.String())
	assert.Equal(t, "Level(9)", shinka.Level(9).String())
}

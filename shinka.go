package shinka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/root-talis/shinka/lock"
	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
	"github.com/root-talis/shinka/scope"
	"github.com/root-talis/shinka/state"
	"github.com/root-talis/shinka/version"
)

// ---

type Upgrader interface {
	// Execute brings the schema from its recorded state to the final state of the plan.
	// legacyVersion is consulted only when no state is recorded; empty means a fresh install.
	Execute(ctx context.Context, legacyVersion string) (*Result, error)
	// Status reports where the recorded state stands relative to the plan without changing anything.
	Status(ctx context.Context) (*Status, error)
}

type Result struct {
	RunID    uuid.UUID
	Plan     string
	From     migration.Token
	To       migration.Token
	Forced   bool
	Executed []migration.Transition
	Duration time.Duration
}

// ---

type upgraderImpl struct {
	plan     *plan.Plan
	registry *migration.Registry
	store    state.Store
	scopes   scope.Provider

	logger         *slog.Logger
	locker         lock.Locker
	versions       *version.Map
	checkpoints    bool
	postMigrations []migration.Step
	metrics        *Metrics
	execer         migration.Execer
}

type Option func(*upgraderImpl)

func WithLogger(logger *slog.Logger) Option {
	return func(u *upgraderImpl) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithLocker makes every run hold the plan's lock from the first read to the last write.
func WithLocker(locker lock.Locker) Option {
	return func(u *upgraderImpl) {
		u.locker = locker
	}
}

// WithVersionMap sets how legacy versions translate into starting tokens. Without it only fresh
// installs can be started.
func WithVersionMap(versions *version.Map) Option {
	return func(u *upgraderImpl) {
		u.versions = versions
	}
}

// WithCheckpoints toggles per-transition commits. When enabled (the default) each transition runs
// in its own scope together with the state write that records it. When disabled the whole run is
// one scope and the state is written once at the end.
func WithCheckpoints(enabled bool) Option {
	return func(u *upgraderImpl) {
		u.checkpoints = enabled
	}
}

// WithPostMigrations adds steps run once after a run that executed at least one transition.
func WithPostMigrations(steps ...migration.Step) Option {
	return func(u *upgraderImpl) {
		u.postMigrations = append(u.postMigrations, steps...)
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(u *upgraderImpl) {
		u.metrics = metrics
	}
}

// WithExecer sets what steps receive as their database when the scope carries no transaction.
func WithExecer(execer migration.Execer) Option {
	return func(u *upgraderImpl) {
		u.execer = execer
	}
}

func New(p *plan.Plan, reg *migration.Registry, store state.Store, scopes scope.Provider, opts ...Option) Upgrader {
	u := &upgraderImpl{
		plan:        p,
		registry:    reg,
		store:       store,
		scopes:      scopes,
		logger:      slog.Default(),
		checkpoints: true,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// ---

// run carries the bookkeeping of one Execute call.
type run struct {
	result  *Result
	logger  *slog.Logger
	key     string
	current migration.Token
	forced  bool
}

func (u *upgraderImpl) Execute(ctx context.Context, legacyVersion string) (*Result, error) {
	started := time.Now()
	name := u.plan.Name()

	r := &run{
		result: &Result{RunID: uuid.New(), Plan: name},
		key:    state.Key(name),
	}
	r.logger = u.logger.With("plan", name, "run_id", r.result.RunID.String())

	err := u.execute(ctx, r, legacyVersion)

	r.result.Duration = time.Since(started)
	u.metrics.observeRun(name, err, r.result.Duration)

	if err != nil {
		r.logger.Error("upgrade failed",
			"from", r.result.From.String(),
			"at", r.current.String(),
			"executed", len(r.result.Executed),
			"error", err,
		)
		return nil, err
	}

	r.logger.Info("upgrade finished",
		"from", r.result.From.String(),
		"to", r.result.To.String(),
		"executed", len(r.result.Executed),
		"forced", r.result.Forced,
		"duration", r.result.Duration,
	)

	return r.result, nil
}

func (u *upgraderImpl) execute(ctx context.Context, r *run, legacyVersion string) error {
	if u.locker != nil {
		held, release, err := u.locker.Acquire(ctx, state.LockKey(u.plan.Name()))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}
		defer release()
		ctx = held
	}

	var err error
	if u.checkpoints {
		err = u.walkWithCheckpoints(ctx, r, legacyVersion)
	} else {
		err = u.walkInOneScope(ctx, r, legacyVersion)
	}
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, lock.ErrLost) {
			if errors.Is(err, lock.ErrLost) {
				return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
			}
			return fmt.Errorf("%w: %w: %w", ErrLockUnavailable, cause, err)
		}
		return err
	}

	r.result.To = r.current

	if len(r.result.Executed) > 0 {
		return u.runPostMigrations(ctx, r)
	}

	return nil
}

// walkInOneScope executes the whole path and records the final state inside a single scope.
func (u *upgraderImpl) walkInOneScope(ctx context.Context, r *run, legacyVersion string) (err error) {
	sctx, sc, err := u.scopes.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open scope: %w", err)
	}
	defer closeScope(sc, &err)

	path, err := u.start(sctx, r, legacyVersion)
	if err != nil {
		return err
	}

	from := r.current
	for _, t := range path {
		if err := u.runTransition(sctx, r, t); err != nil {
			return err
		}
		r.current = t.To
	}

	if r.current == "" {
		return fmt.Errorf("%w: plan %q", ErrEmptyState, u.plan.Name())
	}

	if state.JoinsScope(u.store) {
		if err := u.persist(sctx, r, from); err != nil {
			return err
		}
		sc.Complete()
		return nil
	}

	sc.Complete()
	if err := sc.Close(); err != nil {
		return fmt.Errorf("failed to commit scope: %w", err)
	}

	return u.persist(ctx, r, from)
}

// walkWithCheckpoints executes every transition in its own scope and records its target with it.
func (u *upgraderImpl) walkWithCheckpoints(ctx context.Context, r *run, legacyVersion string) error {
	path, err := u.start(ctx, r, legacyVersion)
	if err != nil {
		return err
	}

	if len(path) == 0 {
		if r.current == "" {
			return fmt.Errorf("%w: plan %q", ErrEmptyState, u.plan.Name())
		}
		if !r.forced {
			return nil
		}
		return u.persistInScope(ctx, r, r.current, nil)
	}

	for _, t := range path {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upgrade interrupted before %s: %w", t, context.Cause(ctx))
		}

		t := t
		if err := u.persistInScope(ctx, r, r.current, &t); err != nil {
			return err
		}
	}

	return nil
}

// persistInScope runs t, if given, and records its target in one scope. Stores that cannot join
// the scope are written right after it commits.
func (u *upgraderImpl) persistInScope(ctx context.Context, r *run, from migration.Token, t *migration.Transition) (err error) {
	sctx, sc, err := u.scopes.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open scope: %w", err)
	}
	defer closeScope(sc, &err)

	if t != nil {
		if err := u.runTransition(sctx, r, *t); err != nil {
			return err
		}
		if t.To == "" {
			return fmt.Errorf("%w: transition %s", ErrEmptyState, t)
		}
		r.current = t.To
	}

	if state.JoinsScope(u.store) {
		if err := u.persist(sctx, r, from); err != nil {
			return err
		}
		sc.Complete()
		return nil
	}

	sc.Complete()
	if err := sc.Close(); err != nil {
		return fmt.Errorf("failed to commit scope: %w", err)
	}

	return u.persist(ctx, r, from)
}

// start reads the recorded state, falling back to the legacy version, and resolves the path.
func (u *upgraderImpl) start(ctx context.Context, r *run, legacyVersion string) ([]migration.Transition, error) {
	token, ok, err := u.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	if !ok {
		token, err = u.origin(legacyVersion)
		if err != nil {
			return nil, err
		}
		r.forced = true
		r.result.Forced = true
		r.logger.Info("no recorded state, starting from legacy version",
			"legacy_version", legacyVersion,
			"token", token.String(),
		)
	}

	r.current = token
	r.result.From = token

	path, err := u.plan.Resolve(token)
	if err != nil {
		return nil, err
	}

	r.logger.Info("upgrade path resolved",
		"from", token.String(),
		"to", u.plan.Final().String(),
		"transitions", len(path),
	)

	return path, nil
}

func (u *upgraderImpl) origin(legacyVersion string) (migration.Token, error) {
	if u.versions == nil {
		if legacyVersion != "" {
			return "", fmt.Errorf("%w: no version map to resolve legacy version %q", ErrConfiguration, legacyVersion)
		}
		return migration.Origin, nil
	}

	token, err := u.versions.Origin(legacyVersion)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return token, nil
}

func (u *upgraderImpl) runTransition(ctx context.Context, r *run, t migration.Transition) error {
	logger := r.logger.With("from", t.From.String(), "to", t.To.String())

	if t.HasStep() {
		step, err := u.registry.Lookup(t.Step)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfiguration, err)
		}

		logger = logger.With("step", string(t.Step))
		logger.Info("executing transition")

		err = step.Migrate(ctx, &migration.Context{
			Plan:       u.plan.Name(),
			Transition: t,
			DB:         scope.Executor(ctx, u.execer),
			Logger:     logger,
		})
		if err != nil {
			return &MigrationError{Plan: u.plan.Name(), Transition: t, Err: err}
		}

		u.metrics.observeTransition(u.plan.Name(), string(t.Step))
	} else {
		logger.Debug("following alias")
	}

	r.result.Executed = append(r.result.Executed, t)

	return nil
}

// persist records r.current. A forced run writes unconditionally once; afterwards the write only
// succeeds if the recorded state is still expected.
func (u *upgraderImpl) persist(ctx context.Context, r *run, expected migration.Token) error {
	if r.forced {
		if err := u.store.Set(ctx, r.key, r.current); err != nil {
			return fmt.Errorf("failed to record state: %w", err)
		}
		r.forced = false
		r.logger.Info("state recorded unconditionally", "token", r.current.String())
		return nil
	}

	if expected == r.current {
		return nil
	}

	swapped, err := u.store.CompareAndSet(ctx, r.key, expected, r.current)
	if err != nil {
		return fmt.Errorf("failed to record state: %w", err)
	}

	if !swapped {
		return fmt.Errorf("%w: expected %s to be recorded before moving to %s", ErrConcurrentStateMutation, expected, r.current)
	}

	return nil
}

func (u *upgraderImpl) runPostMigrations(ctx context.Context, r *run) error {
	for i, step := range u.postMigrations {
		if err := u.runPostMigration(ctx, r, step); err != nil {
			return fmt.Errorf("%w: post-migration %d: %w", ErrPostMigration, i+1, err)
		}
	}

	return nil
}

func (u *upgraderImpl) runPostMigration(ctx context.Context, r *run, step migration.Step) (err error) {
	sctx, sc, err := u.scopes.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open scope: %w", err)
	}
	defer closeScope(sc, &err)

	err = step.Migrate(sctx, &migration.Context{
		Plan:       u.plan.Name(),
		Transition: migration.Transition{From: r.result.From, To: r.current},
		DB:         scope.Executor(sctx, u.execer),
		Logger:     r.logger.With("post_migration", true),
	})
	if err != nil {
		return err
	}

	sc.Complete()

	return nil
}

func closeScope(sc scope.Scope, err *error) {
	closeErr := sc.Close()
	if closeErr == nil {
		return
	}

	if *err == nil {
		*err = fmt.Errorf("failed to close scope: %w", closeErr)
		return
	}

	*err = errors.Join(*err, closeErr)
}

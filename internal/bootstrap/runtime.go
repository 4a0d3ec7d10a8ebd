package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/root-talis/shinka"
	"github.com/root-talis/shinka/internal/config"
	"github.com/root-talis/shinka/lock"
	"github.com/root-talis/shinka/migration"
	"github.com/root-talis/shinka/plan"
	"github.com/root-talis/shinka/scope"
	"github.com/root-talis/shinka/source/files"
	"github.com/root-talis/shinka/state"
	"github.com/root-talis/shinka/state/mysql"
	"github.com/root-talis/shinka/state/postgres"
	redisstate "github.com/root-talis/shinka/state/redis"
	"github.com/root-talis/shinka/state/sqlite"
	"github.com/root-talis/shinka/version"
)

// Runtime holds everything an upgrade command needs, built from one configuration.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *sql.DB
	Plan     *plan.Plan
	Registry *migration.Registry
	Store    state.Store
	Upgrader shinka.Upgrader
	Metrics  *prometheus.Registry
	// Installed reports the product version of an installation without recorded state.
	Installed version.Resolver

	redis redis.UniversalClient
	pool  *pgxpool.Pool
}

// NewRuntime opens connections and assembles the upgrader described by cfg. The caller must Close
// the returned runtime. On failure everything opened so far is already closed.
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Runtime, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Registry:  migration.NewRegistry(),
		Metrics:   prometheus.NewRegistry(),
		Installed: version.Static(cfg.Upgrade.LegacyVersion),
	}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.DB, err = OpenDatabase(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}

	if rt.Plan, err = LoadPlan(cfg.Plan.Dir, rt.Registry); err != nil {
		return nil, err
	}

	if cfg.State.Backend == "redis" || cfg.Lock.Backend == "redis" {
		if rt.redis, err = OpenRedis(ctx, cfg.Redis); err != nil {
			return nil, err
		}
	}

	if rt.Store, err = rt.newStore(ctx); err != nil {
		return nil, err
	}

	locker, err := rt.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	versions, err := NewVersionMap(cfg.Upgrade)
	if err != nil {
		return nil, err
	}

	rt.Upgrader = shinka.New(rt.Plan, rt.Registry, rt.Store, scope.NewSQLProvider(rt.DB, nil),
		shinka.WithLogger(logger),
		shinka.WithLocker(locker),
		shinka.WithVersionMap(versions),
		shinka.WithCheckpoints(cfg.Upgrade.Checkpoints),
		shinka.WithMetrics(shinka.NewMetrics(rt.Metrics)),
		shinka.WithExecer(rt.DB),
	)

	return rt, nil
}

// Upgrade resolves the installed product version and runs the upgrader.
func (rt *Runtime) Upgrade(ctx context.Context) (*shinka.Result, error) {
	legacy, err := rt.Installed.ResolveVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve installed version: %w", err)
	}

	return rt.Upgrader.Execute(ctx, legacy)
}

// LoadPlan reads the plan manifest and its scripts from dir, registering the scripts in reg.
func LoadPlan(dir string, reg *migration.Registry) (*plan.Plan, error) {
	src, err := files.NewFilesSource(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("open plan %s: %w", dir, err)
	}

	p, err := src.Load(reg)
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", dir, err)
	}

	return p, nil
}

// NewVersionMap returns nil when no version ranges are configured.
func NewVersionMap(cfg config.UpgradeConfig) (*version.Map, error) {
	if len(cfg.Versions) == 0 {
		return nil, nil
	}

	ranges := make([]version.Range, 0, len(cfg.Versions))
	for _, r := range cfg.Versions {
		ranges = append(ranges, version.Range{Min: r.Min, Max: r.Max, Token: migration.Token(r.Token)})
	}

	return version.NewMap(cfg.CurrentVersion, ranges...)
}

func (rt *Runtime) newStore(ctx context.Context) (state.Store, error) {
	cfg := rt.Config

	if cfg.State.Backend == "redis" {
		return redisstate.NewStore(rt.redis, cfg.State.Prefix), nil
	}

	switch cfg.Database.Driver {
	case "mysql":
		return mysql.NewStore(rt.DB, mysql.DriverConfig{
			DatabaseName: cfg.Database.Name,
			TableName:    cfg.State.Table,
		}), nil
	case "postgres":
		return postgres.NewStore(rt.DB, postgres.DriverConfig{
			SchemaName: cfg.Database.Name,
			TableName:  cfg.State.Table,
		}), nil
	case "sqlite":
		return sqlite.NewStore(ctx, rt.DB)
	}

	return nil, fmt.Errorf("no state store for driver %q", cfg.Database.Driver)
}

func (rt *Runtime) newLocker(ctx context.Context) (lock.Locker, error) {
	cfg := rt.Config

	switch cfg.Lock.Backend {
	case "none":
		return nil, nil
	case "local":
		return lock.NewLocal(), nil
	case "redis":
		return lock.NewRedis(rt.redis, cfg.Lock.TTL), nil
	}

	switch cfg.Database.Driver {
	case "mysql":
		return lock.NewMySQL(rt.DB), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres lock pool: %w", err)
		}
		rt.pool = pool
		return lock.NewPostgres(pool), nil
	}

	return nil, fmt.Errorf("no database lock for driver %q", cfg.Database.Driver)
}

// WriteMetrics writes the gathered metrics to the configured textfile, if any.
func (rt *Runtime) WriteMetrics() error {
	if rt.Config.Metrics.Textfile == "" {
		return nil
	}

	if err := prometheus.WriteToTextfile(rt.Config.Metrics.Textfile, rt.Metrics); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}

	return nil
}

func (rt *Runtime) Close() error {
	var errs []error

	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}

	return errors.Join(errs...)
}

package scope_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/root-talis/shinka/scope"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "scope.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("CREATE TABLE items (name TEXT NOT NULL)")
	require.NoError(t, err)

	return db
}

func countItems(t *testing.T, db *sql.DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	return n
}

func insert(ctx context.Context, t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := scope.Executor(ctx, db).ExecContext(ctx, "INSERT INTO items (name) VALUES ('x')")
	require.NoError(t, err)
}

var scopeTests = []struct { // nolint:gochecknoglobals
	name          string
	completeOuter bool
	nested        bool
	completeInner bool
	expectedRows  int
	expectedErr   error
}{
	/* s0 */ {
		name:          "test s0: should commit a completed scope",
		completeOuter: true,
		expectedRows:  1,
	},
	/* s1 */ {
		name:         "test s1: should roll back a scope closed without completion",
		expectedRows: 0,
	},
	/* s2 */ {
		name:          "test s2: should commit nested scopes when both complete",
		completeOuter: true,
		nested:        true,
		completeInner: true,
		expectedRows:  2,
	},
	/* s3 */ {
		name:          "test s3: should roll back everything when the nested scope does not complete",
		completeOuter: true,
		nested:        true,
		expectedRows:  0,
		expectedErr:   scope.ErrScopeDoomed,
	},
	/* s4 */ {
		name:          "test s4: should roll back a completed nested scope when the outer one does not complete",
		nested:        true,
		completeInner: true,
		expectedRows:  0,
	},
}

func TestScope(t *testing.T) {
	t.Parallel()

	for _, test := range scopeTests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			db := openDB(t)
			provider := scope.NewSQLProvider(db, nil)

			ctx, outer, err := provider.Begin(context.Background())
			require.NoError(t, err)
			insert(ctx, t, db)

			if test.nested {
				innerCtx, inner, err := provider.Begin(ctx)
				require.NoError(t, err)

				ambient, ok := scope.Ambient(innerCtx)
				require.True(t, ok)
				assert.Same(t, inner, ambient)
				assert.Same(t, outer.Execer(), inner.Execer(), "nested scope should join the outer transaction")

				insert(innerCtx, t, db)
				if test.completeInner {
					inner.Complete()
				}
				require.NoError(t, inner.Close())
			}

			if test.completeOuter {
				outer.Complete()
			}

			err = outer.Close()
			if test.expectedErr != nil {
				assert.ErrorIs(t, err, test.expectedErr)
			} else {
				assert.NoError(t, err)
			}

			assert.NoError(t, outer.Close(), "close should be idempotent")
			assert.Equal(t, test.expectedRows, countItems(t, db))
		})
	}
}

func TestExecutorFallback(t *testing.T) {
	t.Parallel()

	db := openDB(t)

	assert.Same(t, db, scope.Executor(context.Background(), db))

	_, ok := scope.Ambient(context.Background())
	assert.False(t, ok)
}

func TestScopeAfterCloseStartsNewTransaction(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	provider := scope.NewSQLProvider(db, nil)

	ctx, first, err := provider.Begin(context.Background())
	require.NoError(t, err)
	first.Complete()
	require.NoError(t, first.Close())

	// the closed scope is still in ctx, but must not be joined
	ctx2, second, err := provider.Begin(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first.Execer(), second.Execer())

	insert(ctx2, t, db)
	second.Complete()
	require.NoError(t, second.Close())

	assert.Equal(t, 1, countItems(t, db))
}

// Package testdb starts throwaway database servers for integration tests.
package testdb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MySQLVersions are the servers to test against.
var MySQLVersions = []string{ //nolint:gochecknoglobals
	"mysql:8.0",
	"mysql:5.7",
	"mariadb:10.6",
}

const postgresImage = "postgres:16-alpine"

// RunForAllMysqlVersions starts one container per version and runs test against each of them.
func RunForAllMysqlVersions(t *testing.T, baseName string, test func(t *testing.T, version string, conn *sql.DB)) {
	t.Helper()

	for _, version := range MySQLVersions {
		version := version
		testName := fmt.Sprintf("%s@%s", baseName, version)
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			rootPassword := RandomPassword()
			t.Logf("%s - root password: %s", testName, rootPassword)

			var env map[string]string
			if strings.HasPrefix(version, "mariadb") {
				env = map[string]string{"MARIADB_ROOT_PASSWORD": rootPassword}
			} else {
				env = map[string]string{"MYSQL_ROOT_PASSWORD": rootPassword}
			}

			ctx, container := startContainer(t, testcontainers.ContainerRequest{
				Image:        version,
				ExposedPorts: []string{"3306/tcp"},
				WaitingFor:   wait.ForListeningPort("3306"),
				Env:          env,
				Cmd: []string{
					"--table_definition_cache=10",
					"--performance_schema=0",
				},
			})
			defer terminate(ctx, t, container)

			endpoint, err := container.Endpoint(ctx, "")
			if err != nil {
				t.Fatal(err)
			}

			conn := open(t, "mysql",
				fmt.Sprintf("root:%s@tcp(%s)/mysql?multiStatements=true", rootPassword, endpoint))
			defer conn.Close()

			test(t, version, conn)
		})
	}
}

// RunPostgres starts a postgres container and passes its connection string to test.
func RunPostgres(t *testing.T, test func(t *testing.T, dsn string, conn *sql.DB)) {
	t.Helper()

	password := RandomPassword()

	ctx, container := startContainer(t, testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		Env: map[string]string{
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       "testDatabase",
		},
	})
	defer terminate(ctx, t, container)

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	dsn := fmt.Sprintf("postgres://postgres:%s@%s/testDatabase?sslmode=disable", password, endpoint)
	conn := open(t, "pgx", dsn)
	defer conn.Close()

	test(t, dsn, conn)
}

func startContainer(t *testing.T, req testcontainers.ContainerRequest) (context.Context, testcontainers.Container) {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	return ctx, container
}

func terminate(ctx context.Context, t *testing.T, container testcontainers.Container) {
	t.Helper()

	if err := container.Terminate(ctx); err != nil {
		t.Fatalf("failed to terminate test container: %s", err)
	}
}

func open(t *testing.T, driver, dsn string) *sql.DB {
	t.Helper()

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		t.Fatal(err)
	}

	return conn
}

func RandomPassword() string {
	const length = 8
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("failed to generate a random password: %w", err))
	}
	return fmt.Sprintf("%x", b)[:length]
}

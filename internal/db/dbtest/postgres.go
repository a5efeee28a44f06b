// Package dbtest starts a throwaway Postgres for repository integration tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"budget-planner/backend/internal/db"
	"budget-planner/backend/internal/db/migrate"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartPostgres runs postgres:16-alpine, applies the embedded migrations and returns
// an open pool. The container is terminated on test cleanup. Skips unless
// GO_TEST_INTEGRATION is set or when running with -short.
func StartPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() || os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "budget"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/budget?sslmode=disable", host, port.Port())

	// The port can accept connections before Postgres finishes its init restart.
	var pool *sql.DB
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err = db.Open(ctx, dsn)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("open postgres: %v", err)
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Cleanup(func() { pool.Close() })

	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

// InsertUser creates a users row and returns its id.
func InsertUser(t *testing.T, pool *sql.DB, id, email string) string {
	t.Helper()
	_, err := pool.ExecContext(context.Background(),
		`INSERT INTO users (id, email, name, password_hash, roles) VALUES ($1, $2, '', 'x', 'user')`, id, email)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

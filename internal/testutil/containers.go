// Package testutil starts throwaway backend containers for integration
// tests. Tests that need one call RequireContainers first; without
// TICKETFLOW_CONTAINER_TESTS=1 they are skipped.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvContainerTests enables container-backed tests when set to "1".
const EnvContainerTests = "TICKETFLOW_CONTAINER_TESTS"

// RequireContainers skips t unless container tests are enabled.
func RequireContainers(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvContainerTests) != "1" {
		t.Skipf("set %s=1 to run container-backed tests", EnvContainerTests)
	}
}

type container struct {
	once     sync.Once
	endpoint string
	err      error
}

var (
	postgresC container
	mysqlC    container
	redisC    container
	mongoC    container
)

// start runs the container once per test binary. The container is
// reaped by testcontainers' ryuk sidecar when the process exits.
func (c *container) start(t *testing.T, image, port string, env map[string]string, strategy wait.Strategy) string {
	t.Helper()
	RequireContainers(t)

	c.once.Do(func() {
		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		req := testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        image,
				ExposedPorts: []string{port},
			},
			Started: true,
		}
		opts := []testcontainers.ContainerCustomizer{
			testcontainers.WithWaitStrategy(strategy),
		}
		if len(env) > 0 {
			opts = append(opts, testcontainers.WithEnv(env))
		}
		for _, opt := range opts {
			if err := opt.Customize(&req); err != nil {
				c.err = err
				return
			}
		}

		ctr, err := testcontainers.GenericContainer(ctx, req)
		if err != nil {
			c.err = err
			return
		}

		endpoint, err := ctr.Endpoint(ctx, "")
		if err != nil {
			_ = ctr.Terminate(context.Background()) // best-effort cleanup
			c.err = err
			return
		}
		c.endpoint = endpoint
	})

	require.NoError(t, c.err, "start %s", image)
	return c.endpoint
}

// PostgresDSN returns a pgx DSN for a postgres:16 container.
func PostgresDSN(t *testing.T) string {
	t.Helper()
	endpoint := postgresC.start(t, "postgres:16", "5432/tcp",
		map[string]string{
			"POSTGRES_USER":     "ticketflow",
			"POSTGRES_PASSWORD": "ticketflow",
			"POSTGRES_DB":       "ticketflow_test",
		},
		wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(2*time.Minute),
	)
	return fmt.Sprintf("postgres://ticketflow:ticketflow@%s/ticketflow_test?sslmode=disable", endpoint)
}

// MySQLDSN returns a go-sql-driver DSN for a mysql:8 container.
func MySQLDSN(t *testing.T) string {
	t.Helper()
	endpoint := mysqlC.start(t, "mysql:8", "3306/tcp",
		map[string]string{
			"MYSQL_ROOT_PASSWORD": "ticketflow",
			"MYSQL_DATABASE":      "ticketflow_test",
		},
		wait.ForAll(
			wait.ForListeningPort("3306/tcp"),
			wait.ForLog("ready for connections").WithOccurrence(2),
		).WithDeadline(3*time.Minute),
	)
	return fmt.Sprintf("root:ticketflow@tcp(%s)/ticketflow_test", endpoint)
}

// RedisAddr returns host:port of a redis container.
func RedisAddr(t *testing.T) string {
	t.Helper()
	return redisC.start(t, "redis:7", "6379/tcp", nil,
		wait.ForAll(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
}

// MongoURI returns a connection URI for a mongo:7 container.
func MongoURI(t *testing.T) string {
	t.Helper()
	endpoint := mongoC.start(t, "mongo:7", "27017/tcp", nil,
		wait.ForAll(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections"),
		),
	)
	return fmt.Sprintf("mongodb://%s", endpoint)
}

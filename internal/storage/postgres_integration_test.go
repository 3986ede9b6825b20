//go:build integration
// +build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "road",
			"POSTGRES_PASSWORD": "road",
			"POSTGRES_DB":       "road_state",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://road:road@%s:%s/road_state?sslmode=disable", host, port.Port())
}

func TestIntegration_PostgresStore(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t, ctx)
	logger, _ := test.NewNullLogger()

	pg, err := NewPostgresStoreFromDSN(ctx, dsn, 4, 30*time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(pg.Close)
	require.NoError(t, pg.EnsureSchema(ctx))
	// Running it twice must be harmless.
	require.NoError(t, pg.EnsureSchema(ctx))

	runStoreSuite(t, func(t *testing.T) Store {
		_, err := pg.pool.Exec(ctx, "TRUNCATE processed_agent_data RESTART IDENTITY")
		require.NoError(t, err)
		return pg
	})
}

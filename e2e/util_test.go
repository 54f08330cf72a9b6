package e2e

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
)

//go:embed fixtures/test_schema.sql
var testSchema string

func postgres(t testing.TB, creds string, portNum uint16) (*pgxpool.Pool, string) {
	t.Log("starting postgres")
	defer t.Log("postgres started")
	require := require.New(t)
	pool, err := dockertest.NewPool("")
	require.NoError(err)

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Cmd:        strings.Split("postgres -c wal_level=logical", " "),
		Repository: "postgres",
		Tag:        "13.4",
		Env:        []string{"POSTGRES_PASSWORD=secret", "POSTGRES_DB=defaultdb"},
	})
	require.NoError(err)

	var dbpool *pgxpool.Pool
	port := resource.GetPort(fmt.Sprintf("%d/tcp", portNum))
	require.NoError(pool.Retry(func() error {
		var err error
		dbpool, err = pgxpool.Connect(context.Background(), fmt.Sprintf("postgres://%s@localhost:%s/defaultdb?sslmode=disable", creds, port))
		if err != nil {
			return err
		}
		return nil
	}))

	t.Cleanup(func() {
		dbpool.Close()
		require.NoError(pool.Purge(resource))
	})

	return dbpool, port
}

// newTestDB creates a database with the test schema and runs seed statements
// in it. It returns the connection string and a pool for assertions.
func newTestDB(t testing.TB, pool *pgxpool.Pool, creds string, port string, seed ...string) (string, *pgxpool.Pool) {
	require := require.New(t)
	newDBName := "db" + tokenHex(require, 4)
	_, err := pool.Exec(context.Background(), "CREATE DATABASE "+newDBName)
	require.NoError(err)

	connectStr := fmt.Sprintf(
		"postgres://%s@localhost:%s/%s?sslmode=disable",
		creds,
		port,
		newDBName,
	)

	testpool, err := pgxpool.Connect(context.Background(), connectStr)
	require.NoError(err)
	t.Cleanup(testpool.Close)

	_, err = testpool.Exec(context.Background(), testSchema)
	require.NoError(err)
	for _, s := range seed {
		_, err = testpool.Exec(context.Background(), s)
		require.NoError(err)
	}

	t.Log(connectStr)

	return connectStr, testpool
}

func tokenHex(require *require.Assertions, nbytes uint8) string {
	token := make([]byte, nbytes)
	_, err := rand.Read(token)
	require.NoError(err)
	return hex.EncodeToString(token)
}

func count(t testing.TB, pool *pgxpool.Pool, query string, args ...interface{}) int {
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

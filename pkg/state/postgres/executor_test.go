package postgres_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
	"github.com/asyncflow/asyncflow/pkg/mailbox"
	"github.com/asyncflow/asyncflow/pkg/state/postgres"
)

var postgresContainer *tcpostgres.PostgresContainer

func dropDB(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS async_state CASCADE")
	require.NoError(t, err)

	err = db.Close()
	require.NoError(t, err)
}

func setupTestExecutor(t *testing.T) (*postgres.Executor, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("asyncflow_test"),
			tcpostgres.WithUsername("asyncflow"),
			tcpostgres.WithPassword("asyncflow"),
			tcpostgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDB(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	executor, err := postgres.NewExecutor(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDB(ctx, t, databaseURL)
		executor.Shutdown()
		cancel()
	})

	return executor, ctx, databaseURL
}

func newTestController(t *testing.T, executor *postgres.Executor) *asyncexec.AsyncExecutionController {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mb := mailbox.New(logger)
	controller := asyncexec.NewAsyncExecutionController(
		mb,
		asyncexec.ExceptionHandlerFunc(func(message string, err error) {
			t.Logf("exception: %s: %v", message, err)
		}),
		executor,
		16,
		100,
		time.Hour,
		100,
		nil,
		logger,
	)
	t.Cleanup(controller.Close)

	return controller
}

func TestNewExecutor_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestExecutor(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'async_state')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "async_state table should exist")
}

func TestNewExecutor_HealthCheck(t *testing.T) {
	executor, ctx, _ := setupTestExecutor(t)

	err := executor.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestExecutor_PutGetDelete(t *testing.T) {
	executor, _, _ := setupTestExecutor(t)
	controller := newTestController(t, executor)

	state := &asyncexec.StateDescriptor{Name: "counts"}
	recordCtx := controller.BuildContext("record", "user-1", false)
	controller.SetCurrentContext(recordCtx)

	_, err := controller.HandleRequestSync(state, asyncexec.RequestTypePut, []byte("7"))
	require.NoError(t, err)

	value, err := controller.HandleRequestSync(state, asyncexec.RequestTypeGet, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("7"), value)

	// Upsert path.
	_, err = controller.HandleRequestSync(state, asyncexec.RequestTypePut, []byte("8"))
	require.NoError(t, err)

	value, err = controller.HandleRequestSync(state, asyncexec.RequestTypeGet, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("8"), value)

	_, err = controller.HandleRequestSync(state, asyncexec.RequestTypeDelete, nil)
	require.NoError(t, err)

	value, err = controller.HandleRequestSync(state, asyncexec.RequestTypeGet, nil)
	require.NoError(t, err)
	assert.Nil(t, value)

	recordCtx.Release()
}

func TestExecutor_BatchIsTransactional(t *testing.T) {
	executor, ctx, databaseURL := setupTestExecutor(t)
	controller := newTestController(t, executor)

	state := &asyncexec.StateDescriptor{Name: "counts"}
	recordCtx := controller.BuildContext("record", "user-1", false)
	controller.SetCurrentContext(recordCtx)

	controller.HandleRequest(state, asyncexec.RequestTypePut, []byte("41"))
	value, err := controller.HandleRequestSync(state, asyncexec.RequestTypeGet, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("41"), value, "a get must observe a put earlier in the same batch")

	recordCtx.Release()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var stored []byte

	err = db.QueryRowContext(ctx,
		"SELECT value FROM async_state WHERE state_name = $1 AND key = $2",
		"counts", "user-1").Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, []byte("41"), stored)
}

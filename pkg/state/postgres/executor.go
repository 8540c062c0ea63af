// Package postgres provides a PostgreSQL-backed state executor. Each batch
// runs inside one transaction, executed in submission order.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	_ "github.com/lib/pq" // postgres driver

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
)

const maxPendingBatches = 4

type Executor struct {
	db *sql.DB

	pendingBatches atomic.Int32

	logger *slog.Logger
}

// NewExecutor connects to PostgreSQL and creates the state table if needed.
func NewExecutor(ctx context.Context, logger *slog.Logger, databaseURL string) (*Executor, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	executor := &Executor{
		db:     database,
		logger: logger.With("module", "postgres_state_executor"),
	}

	if err := executor.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return executor, nil
}

func (e *Executor) migrate(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS async_state (
			state_name TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BYTEA,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (state_name, key)
		)`)

	return err
}

func (e *Executor) CreateRequestContainer() asyncexec.RequestContainer {
	return asyncexec.NewRequestBatch()
}

func (e *Executor) ExecuteBatchRequests(container asyncexec.RequestContainer) {
	batch, ok := container.(*asyncexec.RequestBatch)
	if !ok {
		panic(fmt.Sprintf("postgres: unexpected container type %T", container))
	}

	e.pendingBatches.Add(1)

	go func() {
		defer e.pendingBatches.Add(-1)
		e.runBatch(batch)
	}()
}

func (e *Executor) FullyLoaded() bool {
	return e.pendingBatches.Load() >= maxPendingBatches
}

func (e *Executor) Shutdown() {
	if err := e.db.Close(); err != nil {
		e.logger.Error("Error closing database connection", "error", err)
	}
}

// HealthCheck verifies the database connection is healthy.
func (e *Executor) HealthCheck(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (e *Executor) runBatch(batch *asyncexec.RequestBatch) {
	ctx := context.Background()
	requests := batch.Requests()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		e.failAll(requests, fmt.Errorf("postgres: begin failed: %w", err))

		return
	}

	results := make([][]byte, len(requests))

	for i, request := range requests {
		results[i], err = e.executeOne(ctx, tx, request)
		if err != nil {
			_ = tx.Rollback()
			e.failAll(requests, err)

			return
		}
	}

	if err := tx.Commit(); err != nil {
		e.failAll(requests, fmt.Errorf("postgres: commit failed: %w", err))

		return
	}

	for i, request := range requests {
		request.Complete(results[i])
	}
}

func (e *Executor) executeOne(ctx context.Context, tx *sql.Tx, request *asyncexec.StateRequest) ([]byte, error) {
	switch request.Type() {
	case asyncexec.RequestTypeSyncPoint:
		return nil, nil
	case asyncexec.RequestTypeGet:
		var value []byte

		err := tx.QueryRowContext(ctx,
			`SELECT value FROM async_state WHERE state_name = $1 AND key = $2`,
			request.State().Name, request.Key(),
		).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		if err != nil {
			return nil, fmt.Errorf("postgres: get failed: %w", err)
		}

		return value, nil
	case asyncexec.RequestTypePut:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO async_state (state_name, key, value, updated_at)
			 VALUES ($1, $2, $3, now())
			 ON CONFLICT (state_name, key)
			 DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			request.State().Name, request.Key(), request.Payload(),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: put failed: %w", err)
		}

		return nil, nil
	case asyncexec.RequestTypeDelete:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM async_state WHERE state_name = $1 AND key = $2`,
			request.State().Name, request.Key(),
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: delete failed: %w", err)
		}

		return nil, nil
	default:
		return nil, fmt.Errorf("postgres: unsupported request type %s", request.Type())
	}
}

func (e *Executor) failAll(requests []*asyncexec.StateRequest, err error) {
	e.logger.Error("Batch execution failed", "error", err, "batch_size", len(requests))

	for _, request := range requests {
		request.Fail(err)
	}
}

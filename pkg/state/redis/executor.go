// Package redis provides a Redis-backed state executor. Each batch becomes
// one pipeline round trip; Redis executes pipelined commands in order, so
// per-key FIFO delivery from the controller carries through to the store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
)

const (
	defaultKeyPrefix = "asyncflow"

	// maxPendingBatches is the slack threshold reported through
	// FullyLoaded: beyond it, forcing more triggers just piles up
	// pipelines.
	maxPendingBatches = 8
)

type Executor struct {
	client    redis.UniversalClient
	keyPrefix string

	pendingBatches atomic.Int32

	logger *slog.Logger
}

// NewExecutor connects to Redis at addr and verifies the connection.
func NewExecutor(ctx context.Context, logger *slog.Logger, addr, password string, db int) (*Executor, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return NewExecutorWithClient(logger, client), nil
}

// NewExecutorFromURL connects using a redis:// URL.
func NewExecutorFromURL(ctx context.Context, logger *slog.Logger, redisURL string) (*Executor, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewExecutorWithClient(logger, client), nil
}

// NewExecutorWithClient wraps an existing client, e.g. a test server.
func NewExecutorWithClient(logger *slog.Logger, client redis.UniversalClient) *Executor {
	return &Executor{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		logger:    logger.With("module", "redis_state_executor"),
	}
}

func (e *Executor) CreateRequestContainer() asyncexec.RequestContainer {
	return asyncexec.NewRequestBatch()
}

func (e *Executor) ExecuteBatchRequests(container asyncexec.RequestContainer) {
	batch, ok := container.(*asyncexec.RequestBatch)
	if !ok {
		panic(fmt.Sprintf("redis: unexpected container type %T", container))
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
	if err := e.client.Close(); err != nil {
		e.logger.Error("Error closing Redis client", "error", err)
	}
}

func (e *Executor) runBatch(batch *asyncexec.RequestBatch) {
	ctx := context.Background()

	requests := batch.Requests()
	commands := make([]redis.Cmder, len(requests))

	pipe := e.client.Pipeline()

	for i, request := range requests {
		switch request.Type() {
		case asyncexec.RequestTypeGet:
			commands[i] = pipe.Get(ctx, e.storageKey(request))
		case asyncexec.RequestTypePut:
			commands[i] = pipe.Set(ctx, e.storageKey(request), request.Payload(), 0)
		case asyncexec.RequestTypeDelete:
			commands[i] = pipe.Del(ctx, e.storageKey(request))
		case asyncexec.RequestTypeSyncPoint:
			// No storage operation; resolved after the pipeline to keep
			// completion order aligned with submission order.
		}
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		e.logger.Error("Pipeline execution failed", "error", err, "batch_size", len(requests))

		for _, request := range requests {
			request.Fail(fmt.Errorf("redis: batch execution failed: %w", err))
		}

		return
	}

	for i, request := range requests {
		e.resolveOne(request, commands[i])
	}
}

func (e *Executor) resolveOne(request *asyncexec.StateRequest, command redis.Cmder) {
	if request.Type() == asyncexec.RequestTypeSyncPoint {
		request.Complete(nil)

		return
	}

	switch cmd := command.(type) {
	case *redis.StringCmd:
		value, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			request.Complete(nil)

			return
		}

		if err != nil {
			request.Fail(fmt.Errorf("redis: get failed: %w", err))

			return
		}

		request.Complete(value)
	default:
		if err := command.Err(); err != nil {
			request.Fail(fmt.Errorf("redis: %s failed: %w", request.Type(), err))

			return
		}

		request.Complete(nil)
	}
}

func (e *Executor) storageKey(request *asyncexec.StateRequest) string {
	return e.keyPrefix + ":" + request.State().Name + ":" + request.Key()
}

package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
	"github.com/asyncflow/asyncflow/pkg/state/memory"
	"github.com/asyncflow/asyncflow/pkg/state/postgres"
	"github.com/asyncflow/asyncflow/pkg/state/redis"
)

// NewStateExecutor selects a state backend by URL scheme. An empty or
// unrecognized URL falls back to the in-memory backend.
func NewStateExecutor(ctx context.Context, logger *slog.Logger, stateURL string) (asyncexec.StateExecutor, error) {
	switch parseStateProvider(stateURL) {
	case "redis", "rediss":
		return redis.NewExecutorFromURL(ctx, logger, stateURL)
	case "postgres", "postgresql":
		return postgres.NewExecutor(ctx, logger, stateURL)
	default:
		return memory.NewExecutor(logger), nil
	}
}

func parseStateProvider(stateURL string) string {
	scheme, _, found := strings.Cut(stateURL, "://")
	if !found {
		return "memory"
	}

	return scheme
}

// Package web exposes the worker's status and health over HTTP.
package web

import (
	"log/slog"

	"github.com/gofiber/fiber/v3"
)

// StatusProvider reports controller gauges. All methods must be safe to
// call from the HTTP goroutines.
type StatusProvider interface {
	InFlightRecordNum() int
	ActiveBufferSize() int
	BlockingBufferSize() int
	CurrentEpochID() int64
}

type StatusHandlers struct {
	workerID string
	provider StatusProvider
	logger   *slog.Logger
}

func NewStatusHandlers(workerID string, provider StatusProvider, logger *slog.Logger) *StatusHandlers {
	return &StatusHandlers{
		workerID: workerID,
		provider: provider,
		logger:   logger.With("module", "web"),
	}
}

// NewApp builds the fiber application with all routes registered.
func NewApp(handlers *StatusHandlers) *fiber.App {
	app := fiber.New()

	app.Get("/healthz", handlers.GetHealth)
	app.Get("/status", handlers.GetStatus)
	app.Use(func(c fiber.Ctx) error {
		return notFound(c, "unknown route")
	})

	return app
}

func (h *StatusHandlers) GetHealth(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

func (h *StatusHandlers) GetStatus(c fiber.Ctx) error {
	if h.provider == nil {
		return internalErrorMessage(c, "status provider not configured")
	}

	return c.JSON(fiber.Map{
		"worker_id":            h.workerID,
		"in_flight_records":    h.provider.InFlightRecordNum(),
		"active_buffer_size":   h.provider.ActiveBufferSize(),
		"blocking_buffer_size": h.provider.BlockingBufferSize(),
		"current_epoch_id":     h.provider.CurrentEpochID(),
	})
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
	"github.com/asyncflow/asyncflow/pkg/checkpoint"
	"github.com/asyncflow/asyncflow/pkg/cmd"
	"github.com/asyncflow/asyncflow/pkg/config"
	"github.com/asyncflow/asyncflow/pkg/ingest"
	"github.com/asyncflow/asyncflow/pkg/mailbox"
	"github.com/asyncflow/asyncflow/pkg/otelhelper"
	"github.com/asyncflow/asyncflow/pkg/web"
)

// RunnerOptions carries the resolved command line configuration.
type RunnerOptions struct {
	JobFile            string
	RecordTopic        string
	ChannelProvider    string
	StateURL           string
	CheckpointSchedule string
	StatusAddr         string
	Controller         config.Config
}

// Runner wires the mailbox, controller, state backend, record channel,
// checkpoint coordinator and status API into one worker process.
type Runner struct {
	workerID string
	options  RunnerOptions
	logger   *slog.Logger
}

func NewRunner(workerID string, options RunnerOptions, logger *slog.Logger) *Runner {
	return &Runner{
		workerID: workerID,
		options:  options,
		logger:   logger,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		if _, err := otelhelper.NewTracer(ctx, "asyncflow-worker"); err != nil {
			r.logger.WarnContext(ctx, "Tracing disabled", "error", err)
		}
	}

	topic := r.options.RecordTopic
	stateURL := r.options.StateURL
	schedule := r.options.CheckpointSchedule

	if r.options.JobFile != "" {
		job, err := r.loadJob(r.options.JobFile)
		if err != nil {
			return err
		}

		topic = job.Topic
		stateURL = job.StateBackendURL

		if job.CheckpointSchedule != "" {
			schedule = job.CheckpointSchedule
		}

		r.logger.InfoContext(ctx, "Loaded job definition", "job", job.Name, "topic", topic)
	}

	stateExecutor, err := cmd.NewStateExecutor(ctx, r.logger, stateURL)
	if err != nil {
		return fmt.Errorf("failed to create state executor: %w", err)
	}
	defer stateExecutor.Shutdown()

	publisher, subscriber, err := cmd.NewChannel(r.options.ChannelProvider, "asyncflow-worker", r.logger)
	if err != nil {
		return fmt.Errorf("failed to create record channel: %w", err)
	}

	defer func() {
		if err := publisher.Close(); err != nil {
			r.logger.Error("Error closing publisher", "error", err)
		}

		if err := subscriber.Close(); err != nil {
			r.logger.Error("Error closing subscriber", "error", err)
		}
	}()

	mb := mailbox.New(r.logger)
	defer mb.Close()

	controller := asyncexec.NewAsyncExecutionController(
		mb,
		asyncexec.ExceptionHandlerFunc(func(message string, err error) {
			r.logger.Error("Async execution failure", "message", message, "error", err)
		}),
		stateExecutor,
		r.options.Controller.MaxParallelism,
		r.options.Controller.BatchSize,
		r.options.Controller.BufferTimeout,
		r.options.Controller.MaxInFlightRecords,
		nil,
		r.logger,
	)
	defer controller.Close()

	consumer := ingest.NewConsumer(subscriber, controller, mb, topic, countRecords(controller), r.logger)

	if schedule != "" {
		coordinator, err := checkpoint.NewCoordinator(
			controller,
			mb,
			schedule,
			func(checkpointID string) error {
				r.logger.Info("Snapshot point reached", "checkpoint_id", checkpointID)

				return nil
			},
			nil,
			r.logger,
		)
		if err != nil {
			return fmt.Errorf("failed to create checkpoint coordinator: %w", err)
		}

		if err := coordinator.Start(); err != nil {
			return err
		}
		defer coordinator.Stop()
	}

	if r.options.StatusAddr != "" {
		app := web.NewApp(web.NewStatusHandlers(r.workerID, controller, r.logger))

		go func() {
			if err := app.Listen(r.options.StatusAddr); err != nil {
				r.logger.Error("Status API stopped", "error", err)
			}
		}()

		defer func() {
			if err := app.Shutdown(); err != nil {
				r.logger.Error("Error shutting down status API", "error", err)
			}
		}()
	}

	r.logger.InfoContext(ctx, "Worker started",
		"topic", topic,
		"channel", r.options.ChannelProvider,
		"max_in_flight", r.options.Controller.MaxInFlightRecords)

	return consumer.Run(ctx)
}

func (r *Runner) loadJob(path string) (*config.JobDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	job, err := config.ParseJobDefinition(data)
	if err != nil {
		return nil, err
	}

	return job, nil
}

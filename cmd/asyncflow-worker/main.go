package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/asyncflow/asyncflow/pkg/config"
	"github.com/asyncflow/asyncflow/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "asyncflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker that executes keyed state operations asynchronously",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:    "job-file",
				Usage:   "Path to a JSON job definition (overrides topic/state/checkpoint flags)",
				Value:   "",
				Sources: cli.EnvVars("JOB_FILE"),
			},
			&cli.StringFlag{
				Name:    "record-topic",
				Usage:   "Topic to consume keyed records from",
				Value:   "records",
				Sources: cli.EnvVars("RECORD_TOPIC"),
			},
			&cli.StringFlag{
				Name:    "channel",
				Usage:   "Record channel provider (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("CHANNEL_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "state-url",
				Usage:   "State backend URL (redis://..., postgres://..., memory)",
				Value:   "memory",
				Sources: cli.EnvVars("STATE_URL"),
			},
			&cli.StringFlag{
				Name:    "checkpoint-schedule",
				Usage:   "Cron schedule for checkpoint barriers (empty disables them)",
				Value:   "@every 30s",
				Sources: cli.EnvVars("CHECKPOINT_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Number of buffered state requests that triggers a batch",
				Value:   1000,
				Sources: cli.EnvVars("BATCH_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "buffer-timeout",
				Usage:   "Max time a request waits in a non-full batch",
				Value:   time.Second,
				Sources: cli.EnvVars("BUFFER_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "max-in-flight",
				Usage:   "Max records admitted before backpressure",
				Value:   6000,
				Sources: cli.EnvVars("MAX_IN_FLIGHT"),
			},
			&cli.IntFlag{
				Name:    "max-parallelism",
				Usage:   "Key group space; must stay stable across restarts",
				Value:   128,
				Sources: cli.EnvVars("MAX_PARALLELISM"),
			},
			&cli.StringFlag{
				Name:    "status-addr",
				Usage:   "Listen address of the status API (empty disables it)",
				Value:   ":9090",
				Sources: cli.EnvVars("STATUS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("asyncflow-worker").With("worker_id", workerID)

			controllerConfig := config.Config{
				BatchSize:          command.Int("batch-size"),
				BufferTimeout:      command.Duration("buffer-timeout"),
				MaxInFlightRecords: command.Int("max-in-flight"),
				MaxParallelism:     command.Int("max-parallelism"),
			}
			if err := controllerConfig.Validate(); err != nil {
				return err
			}

			runner := NewRunner(workerID, RunnerOptions{
				JobFile:            command.String("job-file"),
				RecordTopic:        command.String("record-topic"),
				ChannelProvider:    command.String("channel"),
				StateURL:           command.String("state-url"),
				CheckpointSchedule: command.String("checkpoint-schedule"),
				StatusAddr:         command.String("status-addr"),
				Controller:         controllerConfig,
			}, logger)

			return runner.Run(ctx)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

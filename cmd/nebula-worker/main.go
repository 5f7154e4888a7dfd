package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"
	"github.com/vanyastaff/nebulav2/pkg/worker"
)

func main() {
	housekeeping := worker.DefaultHousekeepingConfig()

	cmd := &cli.Command{
		Name:                  "nebula-worker",
		EnableShellCompletion: true,
		Usage:                 "Claim advance jobs and execute workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (memory://, file://<dir>, postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka event bus",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "max-active-executions",
				Usage:   "Executions this worker drives at the same time",
				Value:   4,
				Sources: cli.EnvVars("MAX_ACTIVE_EXECUTIONS"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-nodes",
				Usage:   "Nodes of one execution running at the same time",
				Value:   8,
				Sources: cli.EnvVars("MAX_CONCURRENT_NODES"),
			},
			&cli.DurationFlag{
				Name:    "visibility-timeout",
				Usage:   "How long a claimed job stays invisible without a heartbeat",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("VISIBILITY_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Delay between claim attempts when the queue is empty",
				Value:   time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "node-timeout",
				Usage:   "Default timeout of a node attempt",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("NODE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "blob-url",
				Usage:   "Store for large node outputs (memory://, redis://); empty keeps outputs inline",
				Sources: cli.EnvVars("BLOB_URL"),
			},
			&cli.IntFlag{
				Name:    "blob-threshold",
				Usage:   "Outputs larger than this many bytes go to the blob store",
				Value:   64 * 1024,
				Sources: cli.EnvVars("BLOB_THRESHOLD"),
			},
			&cli.StringFlag{
				Name:    "housekeeping-schedule",
				Usage:   "Cron schedule of the orphan sweep and job purge",
				Value:   housekeeping.Schedule,
				Sources: cli.EnvVars("HOUSEKEEPING_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "job-retention",
				Usage:   "How long finished jobs are kept",
				Value:   housekeeping.JobRetention,
				Sources: cli.EnvVars("JOB_RETENTION"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Address serving Prometheus metrics; empty disables it",
				Value:   ":9092",
				Sources: cli.EnvVars("METRICS_ADDR"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}

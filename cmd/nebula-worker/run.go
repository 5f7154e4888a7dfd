package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
	"github.com/vanyastaff/nebulav2/pkg/cmd"
	"github.com/vanyastaff/nebulav2/pkg/log"
	"github.com/vanyastaff/nebulav2/pkg/metrics"
	"github.com/vanyastaff/nebulav2/pkg/otelhelper"
	"github.com/vanyastaff/nebulav2/pkg/queue"
	"github.com/vanyastaff/nebulav2/pkg/runner"
	"github.com/vanyastaff/nebulav2/pkg/template"
	"github.com/vanyastaff/nebulav2/pkg/worker"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("nebula-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing Nebula Worker")

	tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "nebula-worker", command.Bool("otel-enabled"))
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}()

	registry, err := cmd.NewRegistry(logger)
	if err != nil {
		return err
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	states, blobs, err := cmd.NewStateManager(ctx, logger, persistence, command.String("blob-url"), int(command.Int("blob-threshold")))
	if err != nil {
		return err
	}

	if blobs != nil {
		defer func() {
			if err := blobs.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close blob store", "error", err)
			}
		}()
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "nebula-"+workerID, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(promRegistry)

	queueConfig := queue.DefaultConfig()
	queueConfig.VisibilityTimeout = command.Duration("visibility-timeout")

	jobs, err := queue.New(persistence.JobRepository(), logger, queueConfig,
		queue.WithExecutionFailer(states),
		queue.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	runnerConfig := runner.DefaultConfig()
	runnerConfig.MaxConcurrentNodes = int(command.Int("max-concurrent-nodes"))
	runnerConfig.NodeTimeout = command.Duration("node-timeout")

	executor, err := runner.New(states, registry, template.NewEvaluator(), logger, runnerConfig,
		runner.WithEventPublisher(eventBus),
		runner.WithMetrics(collector),
		runner.WithTracer(tracer),
		runner.WithWorkerID(workerID),
	)
	if err != nil {
		return err
	}

	workerConfig := worker.DefaultConfig(workerID)
	workerConfig.MaxActiveExecutions = int64(command.Int("max-active-executions"))
	workerConfig.PollInterval = command.Duration("poll-interval")
	workerConfig.HeartbeatInterval = queueConfig.VisibilityTimeout / 3

	w, err := worker.New(jobs, executor, states, logger, workerConfig, worker.WithSubscriber(eventBus))
	if err != nil {
		return err
	}

	housekeeper, err := worker.NewHousekeeper(jobs, states, logger, worker.HousekeepingConfig{
		Schedule:     command.String("housekeeping-schedule"),
		JobRetention: command.Duration("job-retention"),
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Start(ctx)
	})

	g.Go(func() error {
		return housekeeper.Start(ctx)
	})

	if addr := command.String("metrics-addr"); addr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, addr, promRegistry)
		})
	}

	err = g.Wait()

	logger.InfoContext(ctx, "Nebula Worker stopped")

	return err
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}

	return nil
}

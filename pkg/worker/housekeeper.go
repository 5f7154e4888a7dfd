package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/vanyastaff/nebulav2/pkg/queue"
	"github.com/vanyastaff/nebulav2/pkg/state"
)

type HousekeepingConfig struct {
	// Schedule is a standard cron expression or descriptor such as "@every 1m".
	Schedule     string        `validate:"required"`
	JobRetention time.Duration `validate:"gt=0"`
}

func DefaultHousekeepingConfig() HousekeepingConfig {
	return HousekeepingConfig{
		Schedule:     "@every 1m",
		JobRetention: 24 * time.Hour,
	}
}

// Housekeeper periodically re-enqueues running executions that lost their
// advance job and purges old finished jobs.
type Housekeeper struct {
	config HousekeepingConfig
	queue  *queue.Queue
	states *state.Manager
	logger *slog.Logger
}

func NewHousekeeper(q *queue.Queue, states *state.Manager, logger *slog.Logger, config HousekeepingConfig) (*Housekeeper, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid housekeeping config: %w", err)
	}

	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid housekeeping schedule %q: %w", config.Schedule, err)
	}

	return &Housekeeper{
		config: config,
		queue:  q,
		states: states,
		logger: logger.With("module", "housekeeper"),
	}, nil
}

// Start runs Sweep on the configured schedule until ctx is cancelled.
func (h *Housekeeper) Start(ctx context.Context) error {
	scheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := scheduler.AddFunc(h.config.Schedule, func() {
		if err := h.Sweep(ctx); err != nil && ctx.Err() == nil {
			h.logger.ErrorContext(ctx, "Housekeeping failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule housekeeping: %w", err)
	}

	h.logger.InfoContext(ctx, "Housekeeper started", "schedule", h.config.Schedule)
	scheduler.Start()

	<-ctx.Done()

	<-scheduler.Stop().Done()
	h.logger.InfoContext(ctx, "Housekeeper stopped")

	return nil
}

// Sweep runs one housekeeping pass.
func (h *Housekeeper) Sweep(ctx context.Context) error {
	orphans, err := ensureAdvance(ctx, h.states, h.queue)
	if err != nil {
		return fmt.Errorf("orphan sweep: %w", err)
	}

	if orphans > 0 {
		h.logger.WarnContext(ctx, "Re-enqueued orphaned executions", "count", orphans)
	}

	if _, err := h.queue.Purge(ctx, h.config.JobRetention); err != nil {
		return err
	}

	return nil
}

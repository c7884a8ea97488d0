package analytics

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/kbsearch/backend/internal/metrics"
	"github.com/kbsearch/backend/internal/storage/models"
	"github.com/kbsearch/backend/internal/storage/sqlite"
	"github.com/kbsearch/backend/pkg/logger"
)

// Rollup periodically folds the query ledger into per-profile aggregates so
// dashboards read one small table instead of scanning history.
type Rollup struct {
	db        *sqlite.Client
	scheduler gocron.Scheduler
	interval  time.Duration
}

func NewRollup(db *sqlite.Client, interval time.Duration) (*Rollup, error) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create rollup scheduler: %w", err)
	}

	return &Rollup{
		db:        db,
		scheduler: scheduler,
		interval:  interval,
	}, nil
}

func (r *Rollup) Start() error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			if err := r.Recompute(); err != nil {
				logger.Error("Rollup recompute failed", zap.Error(err))
			}
		}),
		gocron.WithName("profile_rollups"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule rollup job: %w", err)
	}

	r.scheduler.Start()
	logger.Info("Rollup scheduler started", zap.Duration("interval", r.interval))
	return nil
}

func (r *Rollup) Stop() error {
	return r.scheduler.Shutdown()
}

// Recompute rebuilds all profile aggregates. Also invoked directly by the
// analytics endpoint so results are never older than one request.
func (r *Rollup) Recompute() error {
	start := time.Now()

	if err := r.db.RecomputeRollups(); err != nil {
		return fmt.Errorf("failed to recompute rollups: %w", err)
	}

	metrics.RollupRuns.Inc()
	logger.Debug("Rollups recomputed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Rollup) Snapshot() ([]models.ProfileRollup, error) {
	return r.db.ListRollups()
}

package worker

import (
	"context"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/metrics"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
)

// StuckReason is the failure reason of tasks failed by the reconciler.
const StuckReason = "timed out"

// Reconciler fails tasks that stayed processing past a deadline, so a lost
// delivery cannot hold the admission slot forever.
type Reconciler struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	stager      staging.Stager
	logger      logging.Logger
	deadline    time.Duration
	interval    time.Duration
	now         func() time.Time
}

func NewReconciler(db dbx.DBTX, m repomanager.RepositoryManager, stager staging.Stager, deadline, interval time.Duration, logger logging.Logger) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: m,
		stager:      stager,
		logger:      logger.With("module", "reconciler"),
		deadline:    deadline,
		interval:    interval,
		now:         time.Now,
	}
}

// Sweep fails every stuck task once and releases its staged file.
func (r *Reconciler) Sweep(ctx context.Context) ([]models.ReleasedTask, error) {
	released, err := r.repomanager.Tasks(r.db).FailStuck(ctx, r.now().Add(-r.deadline), StuckReason)
	if err != nil {
		return nil, err
	}

	// committed above, so a shutdown must not cut the releases short
	rctx := context.WithoutCancel(ctx)
	for _, t := range released {
		if t.StagedPath != "" {
			r.stager.Release(rctx, t.StagedPath)
		}
		r.logger.Warn(ctx, "stuck task failed", "task_id", t.ID)
	}
	if len(released) > 0 {
		metrics.TasksFinished.WithLabelValues(string(models.TaskFailed), "reconciler").Add(float64(len(released)))
	}
	return released, nil
}

// Run sweeps immediately and then every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	interval := r.interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error(ctx, "reconcile sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

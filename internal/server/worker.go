package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	gs "github.com/dmitrijs2005/classifyd/internal/server/grpc"
	"github.com/dmitrijs2005/classifyd/internal/server/worker"
)

// RunWorker consumes the task queue with WorkerConcurrency loops, runs the
// stuck task reconciler and serves gRPC health until a termination signal
// arrives or ctx is cancelled.
func (app *App) RunWorker(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	c := app.config
	app.logger.Info(ctx, "Starting worker...", "worker_id", c.WorkerID, "concurrency", c.WorkerConcurrency)

	app.initSignalHandler(cancelFunc)

	q := app.queue()

	// Deliveries left in flight by a previous run of this worker go back to
	// the queue before consumption starts.
	n, err := q.Recover(ctx)
	if err != nil {
		return fmt.Errorf("queue recovery: %w", err)
	}
	if n > 0 {
		app.logger.Warn(ctx, "requeued unacknowledged tasks", "count", n)
	}

	health := gs.NewHealthServer(c.EndpointAddrGRPC, app.logger)
	classifier := worker.NewHTTPClassifier(c.ClassifierURL, &http.Client{})
	reconciler := worker.NewReconciler(app.db, app.repomanager, app.stager, c.StuckTaskDeadline, c.ReconcileInterval, app.logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := health.Run(ctx); err != nil {
			app.logger.Error(ctx, "health server failed", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = reconciler.Run(ctx)
	}()

	concurrency := max(c.WorkerConcurrency, 1)
	for i := 0; i < concurrency; i++ {
		w := worker.New(app.db, app.repomanager, app.stager, classifier, q, c.ClassifyTimeout, app.logger.With("loop", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Run(ctx)
		}()
	}

	health.SetServing(true)
	<-ctx.Done()
	health.SetServing(false)

	wg.Wait()
	app.logger.Info(context.WithoutCancel(ctx), "Worker stopped")
	return nil
}

// Package worker consumes admitted tasks: it classifies the staged upload,
// records the terminal state and releases the staged file. It also hosts the
// reconciler that fails tasks stuck in processing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/metrics"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
	"golang.org/x/time/rate"
)

// Source delivers task ids at least once.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (int64, bool, error)
	Ack(ctx context.Context, taskID int64) error
}

const (
	defaultPollTimeout = 5 * time.Second
	errorPace          = time.Second

	// finishAttempts bounds how often a computed outcome is offered to the
	// store before the delivery is given up until redelivery.
	finishAttempts   = 3
	finishRetryDelay = 200 * time.Millisecond
)

// Worker processes tasks from a Source. It is safe to run several Run loops
// on one Worker.
type Worker struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	stager      staging.Stager
	classifier  Classifier
	source      Source
	logger      logging.Logger
	timeout     time.Duration
	pollTimeout time.Duration
	retryDelay  time.Duration
	backoff     *rate.Limiter
}

func New(db dbx.DBTX, m repomanager.RepositoryManager, stager staging.Stager, classifier Classifier, source Source, timeout time.Duration, logger logging.Logger) *Worker {
	return &Worker{
		db:          db,
		repomanager: m,
		stager:      stager,
		classifier:  classifier,
		source:      source,
		logger:      logger.With("module", "worker"),
		timeout:     timeout,
		pollTimeout: defaultPollTimeout,
		retryDelay:  finishRetryDelay,
		backoff:     rate.NewLimiter(rate.Every(errorPace), 1),
	}
}

// Run consumes until ctx is done. Errors are logged and paced, never fatal.
// A task whose processing failed is left unacknowledged so the queue
// redelivers it after a restart.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info(ctx, "worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info(ctx, "worker stopped")
			return nil
		}

		id, ok, err := w.source.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error(ctx, "dequeue failed", "error", err)
			_ = w.backoff.Wait(ctx)
			continue
		}
		if !ok {
			continue
		}

		metrics.ActiveWorkers.Inc()
		err = w.Process(ctx, id)
		metrics.ActiveWorkers.Dec()

		if err != nil {
			w.logger.Error(ctx, "task processing failed", "task_id", id, "error", err)
			_ = w.backoff.Wait(ctx)
			continue
		}

		if err := w.source.Ack(ctx, id); err != nil {
			w.logger.Error(ctx, "ack failed", "task_id", id, "error", err)
		}
	}
}

// Process moves one task to its terminal state. Redelivery of a finished
// task is a no-op. Only the delivery that wins the transition releases the
// staged file. A nil error means the delivery can be acknowledged.
func (w *Worker) Process(ctx context.Context, taskID int64) error {
	repo := w.repomanager.Tasks(w.db)

	task, err := repo.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			w.logger.Warn(ctx, "task vanished before processing", "task_id", taskID)
			return nil
		}
		return err
	}
	if task.State.Terminal() {
		w.logger.Debug(ctx, "task already finished", "task_id", taskID, "state", task.State)
		return nil
	}

	outcome := w.run(ctx, task)
	if ctx.Err() != nil {
		// shutting down, leave the task for redelivery
		return ctx.Err()
	}

	won, err := w.finish(ctx, taskID, outcome)
	if err != nil {
		return err
	}
	if !won {
		w.logger.Debug(ctx, "lost terminal transition", "task_id", taskID)
		return nil
	}

	// the transition is committed and no one else will release the file
	w.stager.Release(context.WithoutCancel(ctx), task.StagedPath)
	metrics.TasksFinished.WithLabelValues(string(outcome.State), "worker").Inc()
	w.logger.Info(ctx, "task finished", "task_id", taskID, "state", outcome.State, "result", outcome.Result)
	return nil
}

// finish records outcome, retrying transient store errors a few times so a
// finished classification is not left to the reconciler.
func (w *Worker) finish(ctx context.Context, taskID int64, outcome models.TaskOutcome) (bool, error) {
	repo := w.repomanager.Tasks(w.db)

	for attempt := 1; ; attempt++ {
		won, err := repo.Finish(ctx, taskID, outcome)
		if err == nil {
			return won, nil
		}
		if attempt >= finishAttempts || ctx.Err() != nil {
			return false, err
		}

		w.logger.Warn(ctx, "recording outcome failed, retrying", "task_id", taskID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return false, err
		case <-time.After(w.retryDelay * time.Duration(attempt)):
		}
	}
}

func (w *Worker) run(ctx context.Context, task *models.Task) models.TaskOutcome {
	content, err := w.stager.Open(ctx, task.StagedPath)
	if err != nil {
		return failed(err.Error())
	}

	result, err := w.classify(ctx, content)
	if err != nil {
		return failed(err.Error())
	}
	if result < 0 {
		return failed(fmt.Sprintf("invalid result code %d", result))
	}

	return models.TaskOutcome{State: models.TaskDone, Result: result}
}

func (w *Worker) classify(ctx context.Context, content []byte) (result int, err error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			err = &common.ClassificationError{Reason: fmt.Sprintf("classifier panicked: %v", p)}
		}
	}()

	result, err = w.classifier.Classify(ctx, content)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return 0, &common.ClassificationError{Reason: "classification timed out", Err: err}
	}
	return result, err
}

func failed(reason string) models.TaskOutcome {
	return models.TaskOutcome{State: models.TaskFailed, Result: models.NoResult, FailureReason: reason}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/config"
	"github.com/dmitrijs2005/classifyd/internal/server/metrics"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
)

// Dispatcher hands an accepted task to the workers.
type Dispatcher interface {
	Enqueue(ctx context.Context, taskID int64) error
}

// Upload is the file submitted for classification.
type Upload struct {
	Filename string
	Content  []byte
}

// AdmissionService decides whether a classification request becomes a task.
type AdmissionService struct {
	db             dbx.Runner
	repomanager    repomanager.RepositoryManager
	stager         staging.Stager
	dispatcher     Dispatcher
	logger         logging.Logger
	maxUploadBytes int64
	ceiling        int
}

func NewAdmissionService(db dbx.Runner, m repomanager.RepositoryManager, stager staging.Stager, d Dispatcher, cfg *config.Config, logger logging.Logger) *AdmissionService {
	return &AdmissionService{
		db:             db,
		repomanager:    m,
		stager:         stager,
		dispatcher:     d,
		logger:         logger.With("module", "admission"),
		maxUploadBytes: cfg.MaxUploadBytes,
		ceiling:        cfg.AdmissionCeiling,
	}
}

// MaxUploadBytes is the largest accepted upload.
func (s *AdmissionService) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// Submit admits upload as a new processing task and dispatches it. The
// capacity check, staging and insert run under the admission lock, so at most
// ceiling tasks are processing at any time. Submit does not wait for the
// classification.
func (s *AdmissionService) Submit(ctx context.Context, principal *models.User, key *models.APIKey, upload Upload) (*models.Task, error) {
	if int64(len(upload.Content)) > s.maxUploadBytes {
		metrics.Admissions.WithLabelValues("too_large").Inc()
		return nil, common.ErrPayloadTooLarge
	}

	var (
		task   *models.Task
		staged string
	)

	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Tasks(tx)

		if err := repo.LockAdmission(ctx); err != nil {
			return err
		}

		n, err := repo.CountByState(ctx, models.TaskProcessing)
		if err != nil {
			return err
		}
		if n >= s.ceiling {
			return common.ErrSaturated
		}

		staged, err = s.stager.Stage(ctx, strconv.FormatInt(principal.ID, 10), upload.Content)
		if err != nil {
			return fmt.Errorf("error staging upload: %w", err)
		}

		task, err = repo.Create(ctx, &models.Task{
			OwnerID:    principal.ID,
			APIKeyID:   key.ID,
			State:      models.TaskProcessing,
			Result:     models.NoResult,
			StagedPath: staged,
		})
		return err
	})
	if err != nil {
		if staged != "" {
			s.stager.Release(context.WithoutCancel(ctx), staged)
		}
		if errors.Is(err, common.ErrSaturated) {
			metrics.Admissions.WithLabelValues("saturated").Inc()
		} else {
			metrics.Admissions.WithLabelValues("error").Inc()
			s.logger.Error(ctx, "admission failed", "error", err)
		}
		return nil, err
	}

	if err := s.dispatcher.Enqueue(ctx, task.ID); err != nil {
		s.logger.Error(ctx, "dispatch failed", "task_id", task.ID, "error", err)
		s.abandon(ctx, task.ID, staged)
		metrics.Admissions.WithLabelValues("dispatch_failed").Inc()
		return nil, fmt.Errorf("%w: %v", common.ErrDispatchFailed, err)
	}

	metrics.Admissions.WithLabelValues("admitted").Inc()
	s.logger.Info(ctx, "task admitted", "task_id", task.ID, "owner_id", principal.ID, "api_key_id", key.ID, "size", len(upload.Content))
	return task, nil
}

// abandon fails a task that never reached the queue and frees its slot.
// A request context that is already done must not keep the slot taken.
func (s *AdmissionService) abandon(ctx context.Context, taskID int64, staged string) {
	ctx = context.WithoutCancel(ctx)

	won, err := s.repomanager.Tasks(s.db).Finish(ctx, taskID, models.TaskOutcome{
		State:         models.TaskFailed,
		Result:        models.NoResult,
		FailureReason: common.ErrDispatchFailed.Error(),
	})
	if err != nil {
		// the reconciler will time it out
		s.logger.Error(ctx, "could not fail undispatched task", "task_id", taskID, "error", err)
		return
	}
	if won {
		s.stager.Release(ctx, staged)
		metrics.TasksFinished.WithLabelValues(string(models.TaskFailed), "admission").Inc()
	}
}

package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
)

// TaskService serves task listings and administrative task changes.
type TaskService struct {
	db          dbx.Runner
	repomanager repomanager.RepositoryManager
	stager      staging.Stager
	logger      logging.Logger
}

func NewTaskService(db dbx.Runner, m repomanager.RepositoryManager, stager staging.Stager, logger logging.Logger) *TaskService {
	return &TaskService{db: db, repomanager: m, stager: stager, logger: logger.With("module", "tasks")}
}

// ListOwned lists the owner's tasks. The owner in filter is overridden.
func (s *TaskService) ListOwned(ctx context.Context, ownerID int64, filter models.TaskFilter) ([]*models.Task, error) {
	filter.OwnerID = &ownerID
	return s.List(ctx, filter)
}

// GetOwned returns one of the owner's tasks. Tasks of other users look
// missing.
func (s *TaskService) GetOwned(ctx context.Context, ownerID, id int64) (*models.Task, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return task, nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (*models.Task, error) {
	return s.repomanager.Tasks(s.db).GetByID(ctx, id)
}

func (s *TaskService) List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	if filter.State != nil && !filter.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", common.ErrorValidation, *filter.State)
	}
	filter.Page = filter.Page.Normalize()
	return s.repomanager.Tasks(s.db).List(ctx, filter)
}

// Update is the administrative override of a task. The row is locked for
// the duration, so an override and a worker's terminal transition cannot
// both release the staged file. A task can only enter processing through
// admission, which keeps the admission ceiling intact. Moving a processing
// task to a terminal state releases its staged file, since no worker will.
func (s *TaskService) Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.Task, error) {
	if upd.State != nil && !upd.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", common.ErrorValidation, *upd.State)
	}

	var before, after *models.Task
	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Tasks(tx)
		var err error
		if before, err = repo.GetForUpdate(ctx, id); err != nil {
			return err
		}
		if upd.State != nil && *upd.State == models.TaskProcessing && before.State != models.TaskProcessing {
			return fmt.Errorf("%w: a %s task cannot return to processing", common.ErrorValidation, before.State)
		}
		after, err = repo.Update(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	if before.State == models.TaskProcessing && after.State.Terminal() {
		releaseStaged(ctx, s.stager, []models.ReleasedTask{{ID: id, StagedPath: before.StagedPath}})
		s.logger.Info(ctx, "task finished by override", "task_id", id, "state", after.State)
	}
	return after, nil
}

func (s *TaskService) Delete(ctx context.Context, id int64) error {
	released, err := s.repomanager.Tasks(s.db).Delete(ctx, id)
	if err != nil {
		return err
	}
	releaseStaged(ctx, s.stager, released)
	return nil
}

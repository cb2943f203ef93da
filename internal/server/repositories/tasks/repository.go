package tasks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/server/models"
)

type Repository interface {
	// LockAdmission serializes admission decisions until the surrounding
	// transaction ends. It must run inside a transaction.
	LockAdmission(ctx context.Context) error
	CountByState(ctx context.Context, state models.TaskState) (int, error)
	Create(ctx context.Context, task *models.Task) (*models.Task, error)
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	// GetForUpdate is GetByID holding the row lock until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*models.Task, error)
	List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
	// Finish moves a processing task to a terminal state. It reports false
	// when the task was no longer processing and nothing changed.
	Finish(ctx context.Context, id int64, outcome models.TaskOutcome) (bool, error)
	FailStuck(ctx context.Context, before time.Time, reason string) ([]models.ReleasedTask, error)
	Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.Task, error)
	Delete(ctx context.Context, id int64) ([]models.ReleasedTask, error)
	DeleteByOwner(ctx context.Context, ownerID int64) ([]models.ReleasedTask, error)
	DeleteByAPIKey(ctx context.Context, apiKeyID int64) ([]models.ReleasedTask, error)
}

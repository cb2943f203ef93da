package apikeys

import (
	"context"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, key *models.APIKey) (*models.APIKey, error)
	GetByID(ctx context.Context, id int64) (*models.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*models.APIKey, error)
	CountActiveByOwner(ctx context.Context, ownerID int64, now time.Time) (int, error)
	List(ctx context.Context, filter models.APIKeyFilter) ([]*models.APIKey, error)
	Update(ctx context.Context, id int64, upd models.APIKeyUpdate) (*models.APIKey, error)
	Delete(ctx context.Context, id int64) error
	DeleteByOwner(ctx context.Context, ownerID int64) (int64, error)
}

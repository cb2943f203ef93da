package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/config"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
)

// NewAPIKey is the input of administrative API key creation. A nil
// ExpiresAt means the default validity.
type NewAPIKey struct {
	OwnerID   int64      `json:"owner_id"`
	ExpiresAt *time.Time `json:"expiration_date"`
}

// APIKeyService issues, lists and revokes API keys.
type APIKeyService struct {
	db          dbx.Runner
	repomanager repomanager.RepositoryManager
	stager      staging.Stager
	logger      logging.Logger
	validity    time.Duration
	maxPerUser  int
	now         func() time.Time
}

func NewAPIKeyService(db dbx.Runner, m repomanager.RepositoryManager, stager staging.Stager, cfg *config.Config, logger logging.Logger) *APIKeyService {
	return &APIKeyService{
		db:          db,
		repomanager: m,
		stager:      stager,
		logger:      logger.With("module", "apikeys"),
		validity:    cfg.APIKeyValidityDuration,
		maxPerUser:  cfg.MaxAPIKeysPerUser,
		now:         time.Now,
	}
}

// Issue creates a key for in.OwnerID. The owner row is locked for the
// duration of the count and insert, so concurrent requests cannot exceed the
// per-user limit of usable keys.
func (s *APIKeyService) Issue(ctx context.Context, in NewAPIKey) (*models.IssuedAPIKey, error) {
	now := s.now()

	expires := in.ExpiresAt
	if expires == nil {
		t := now.Add(s.validity)
		expires = &t
	}

	material, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, common.ErrorInternal
	}

	var created *models.APIKey
	err = s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).LockByID(ctx, in.OwnerID); err != nil {
			return err
		}

		repo := s.repomanager.APIKeys(tx)
		n, err := repo.CountActiveByOwner(ctx, in.OwnerID, now)
		if err != nil {
			return err
		}
		if s.maxPerUser > 0 && n >= s.maxPerUser {
			return fmt.Errorf("%w: at most %d active keys", common.ErrTooManyAPIKeys, s.maxPerUser)
		}

		created, err = repo.Create(ctx, &models.APIKey{
			OwnerID:   in.OwnerID,
			KeyHash:   material.Hash,
			KeyPrefix: material.Prefix,
			IsActive:  true,
			ExpiresAt: expires,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "api key issued", "owner_id", in.OwnerID, "key_id", created.ID)
	return &models.IssuedAPIKey{APIKey: *created, Secret: material.Secret}, nil
}

// ListOwned lists the owner's keys, optionally only the usable ones.
func (s *APIKeyService) ListOwned(ctx context.Context, ownerID int64, activeOnly bool) ([]*models.APIKey, error) {
	filter := models.APIKeyFilter{OwnerID: &ownerID, Page: models.Page{Limit: models.MaxPageLimit}}
	if activeOnly {
		active := true
		filter.IsActive = &active
	}

	keys, err := s.repomanager.APIKeys(s.db).List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return keys, nil
	}

	now := s.now()
	usable := keys[:0]
	for _, k := range keys {
		if k.Usable(now) {
			usable = append(usable, k)
		}
	}
	return usable, nil
}

// DeleteOwned revokes one of the owner's keys. Keys of other users look
// missing.
func (s *APIKeyService) DeleteOwned(ctx context.Context, ownerID, id int64) error {
	key, err := s.repomanager.APIKeys(s.db).GetByID(ctx, id)
	if err != nil {
		return err
	}
	if key.OwnerID != ownerID {
		return common.ErrorNotFound
	}
	return s.Delete(ctx, id)
}

func (s *APIKeyService) Get(ctx context.Context, id int64) (*models.APIKey, error) {
	return s.repomanager.APIKeys(s.db).GetByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context, filter models.APIKeyFilter) ([]*models.APIKey, error) {
	filter.Page = filter.Page.Normalize()
	return s.repomanager.APIKeys(s.db).List(ctx, filter)
}

func (s *APIKeyService) Update(ctx context.Context, id int64, upd models.APIKeyUpdate) (*models.APIKey, error) {
	return s.repomanager.APIKeys(s.db).Update(ctx, id, upd)
}

// Delete removes a key and the tasks submitted with it in one transaction,
// then releases staged files of the tasks that were still processing.
func (s *APIKeyService) Delete(ctx context.Context, id int64) error {
	var released []models.ReleasedTask

	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		released, err = s.repomanager.Tasks(tx).DeleteByAPIKey(ctx, id)
		if err != nil {
			return err
		}
		return s.repomanager.APIKeys(tx).Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	releaseStaged(ctx, s.stager, released)
	s.logger.Info(ctx, "api key deleted", "key_id", id, "released", len(released))
	return nil
}

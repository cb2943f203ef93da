package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
)

const keyColumns = `id, owner_id, key_hash, key_prefix, is_active, expires_at, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*models.APIKey, error) {
	key := &models.APIKey{}
	var expires sql.NullTime
	err := row.Scan(&key.ID, &key.OwnerID, &key.KeyHash, &key.KeyPrefix, &key.IsActive, &expires, &key.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		key.ExpiresAt = &expires.Time
	}
	return key, nil
}

func (r *PostgresRepository) Create(ctx context.Context, key *models.APIKey) (*models.APIKey, error) {

	query :=
		`INSERT INTO api_keys (owner_id, key_hash, key_prefix, is_active, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		key.OwnerID, key.KeyHash, key.KeyPrefix, key.IsActive, key.ExpiresAt).
		Scan(&key.ID, &key.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

func (r *PostgresRepository) get(ctx context.Context, where string, arg any) (*models.APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE ` + where

	key, err := scanKey(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.APIKey, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *PostgresRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	return r.get(ctx, `key_hash = $1`, hash)
}

// CountActiveByOwner counts keys of the owner that are active and not
// expired at now.
func (r *PostgresRepository) CountActiveByOwner(ctx context.Context, ownerID int64, now time.Time) (int, error) {
	query :=
		`SELECT COUNT(*) FROM api_keys
		 WHERE owner_id = $1 AND is_active AND (expires_at IS NULL OR expires_at >= $2)
		 `

	var n int
	if err := r.db.QueryRowContext(ctx, query, ownerID, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter models.APIKeyFilter) ([]*models.APIKey, error) {
	var f dbx.Filter
	if filter.OwnerID != nil {
		f.Add("owner_id = ?", *filter.OwnerID)
	}
	if filter.IsActive != nil {
		f.Add("is_active = ?", *filter.IsActive)
	}
	page := f.Page(filter.Skip, filter.Limit)

	query := `SELECT ` + keyColumns + ` FROM api_keys` + f.Where() + ` ORDER BY id` + page

	rows, err := r.db.QueryContext(ctx, query, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

// Update changes the active flag and expiration. The hash is never touched.
func (r *PostgresRepository) Update(ctx context.Context, id int64, upd models.APIKeyUpdate) (*models.APIKey, error) {
	query :=
		`UPDATE api_keys SET
		   is_active = COALESCE($2, is_active),
		   expires_at = COALESCE($3, expires_at)
		 WHERE id = $1
		 RETURNING ` + keyColumns

	key, err := scanKey(r.db.QueryRowContext(ctx, query, id, upd.IsActive, upd.ExpiresAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

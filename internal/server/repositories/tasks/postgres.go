package tasks

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

// AdmissionLockKey is the pg_advisory_xact_lock key guarding admission.
const AdmissionLockKey int64 = 0x636c6173

const taskColumns = `id, owner_id, api_key_id, state, result, failure_reason, staged_path, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	task := &models.Task{}
	var state string
	var reason sql.NullString
	err := row.Scan(&task.ID, &task.OwnerID, &task.APIKeyID, &state, &task.Result,
		&reason, &task.StagedPath, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.State = models.TaskState(state)
	if reason.Valid {
		task.FailureReason = &reason.String
	}
	task.Label = models.LabelFor(task.Result)
	return task, nil
}

func (r *PostgresRepository) LockAdmission(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, AdmissionLockKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountByState(ctx context.Context, state models.TaskState) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE state = $1`, string(state)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Create(ctx context.Context, task *models.Task) (*models.Task, error) {

	query :=
		`INSERT INTO tasks (owner_id, api_key_id, state, result, staged_path)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		task.OwnerID, task.APIKeyID, string(task.State), task.Result, task.StagedPath).
		Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)

	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return task, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	return r.get(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id int64) (*models.Task, error) {
	return r.get(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, id int64) (*models.Task, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return task, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	var f dbx.Filter
	if filter.OwnerID != nil {
		f.Add("owner_id = ?", *filter.OwnerID)
	}
	if filter.APIKeyID != nil {
		f.Add("api_key_id = ?", *filter.APIKeyID)
	}
	if filter.State != nil {
		f.Add("state = ?", string(*filter.State))
	}
	if filter.From != nil {
		f.Add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		f.Add("created_at <= ?", *filter.To)
	}
	page := f.Page(filter.Skip, filter.Limit)

	query := `SELECT ` + taskColumns + ` FROM tasks` + f.Where() + ` ORDER BY id DESC` + page

	rows, err := r.db.QueryContext(ctx, query, f.Args()...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) Finish(ctx context.Context, id int64, outcome models.TaskOutcome) (bool, error) {
	var reason *string
	if outcome.FailureReason != "" {
		reason = &outcome.FailureReason
	}

	query :=
		`UPDATE tasks SET state = $2, result = $3, failure_reason = $4, updated_at = now()
		 WHERE id = $1 AND state = 'processing'
		 `

	res, err := r.db.ExecContext(ctx, query, id, string(outcome.State), outcome.Result, reason)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// FailStuck fails every task that has been processing since before the
// given instant and returns them so their staged files can be released.
func (r *PostgresRepository) FailStuck(ctx context.Context, before time.Time, reason string) ([]models.ReleasedTask, error) {
	query :=
		`UPDATE tasks SET state = 'failed', failure_reason = $2, updated_at = now()
		 WHERE state = 'processing' AND updated_at < $1
		 RETURNING id, staged_path
		 `

	rows, err := r.db.QueryContext(ctx, query, before, reason)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.ReleasedTask
	for rows.Next() {
		var rt models.ReleasedTask
		if err := rows.Scan(&rt.ID, &rt.StagedPath); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.Task, error) {
	var state *string
	if upd.State != nil {
		s := string(*upd.State)
		state = &s
	}

	query :=
		`UPDATE tasks SET
		   state = COALESCE($2, state),
		   result = COALESCE($3, result),
		   failure_reason = COALESCE($4, failure_reason),
		   updated_at = now()
		 WHERE id = $1
		 RETURNING ` + taskColumns

	task, err := scanTask(r.db.QueryRowContext(ctx, query, id, state, upd.Result, upd.FailureReason))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return task, nil
}

// deleteWhere removes matching tasks and returns the ones that were still
// processing, whose staged files nobody else will release.
func (r *PostgresRepository) deleteWhere(ctx context.Context, where string, arg any) ([]models.ReleasedTask, int, error) {
	query := `DELETE FROM tasks WHERE ` + where + ` RETURNING id, state, staged_path`

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var (
		result  []models.ReleasedTask
		deleted int
	)
	for rows.Next() {
		var (
			rt    models.ReleasedTask
			state string
		)
		if err := rows.Scan(&rt.ID, &state, &rt.StagedPath); err != nil {
			return nil, 0, fmt.Errorf("db error: %w", err)
		}
		deleted++
		if models.TaskState(state) == models.TaskProcessing {
			result = append(result, rt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}
	return result, deleted, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) ([]models.ReleasedTask, error) {
	released, n, err := r.deleteWhere(ctx, `id = $1`, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, common.ErrorNotFound
	}
	return released, nil
}

func (r *PostgresRepository) DeleteByOwner(ctx context.Context, ownerID int64) ([]models.ReleasedTask, error) {
	released, _, err := r.deleteWhere(ctx, `owner_id = $1`, ownerID)
	return released, err
}

func (r *PostgresRepository) DeleteByAPIKey(ctx context.Context, apiKeyID int64) ([]models.ReleasedTask, error) {
	released, _, err := r.deleteWhere(ctx, `api_key_id = $1`, apiKeyID)
	return released, err
}

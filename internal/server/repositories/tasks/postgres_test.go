package tasks

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var taskCols = []string{"id", "owner_id", "api_key_id", "state", "result", "failure_reason", "staged_path", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestLockAdmission(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `^SELECT\s+pg_advisory_xact_lock\(\$1\)$`
	mock.ExpectExec(q).WithArgs(AdmissionLockKey).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(AdmissionLockKey).WillReturnError(errors.New("conn reset"))

	require.NoError(t, repo.LockAdmission(context.Background()))

	err := repo.LockAdmission(context.Background())
	if err == nil || !regexp.MustCompile(`db error: .*conn reset`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestCountByState(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`^SELECT\s+COUNT\(\*\)\s+FROM\s+tasks\s+WHERE\s+state\s*=\s*\$1$`).
		WithArgs("processing").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := repo.CountByState(context.Background(), models.TaskProcessing)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+tasks\s*\(owner_id,\s*api_key_id,\s*state,\s*result,\s*staged_path\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*RETURNING\s+id,\s*created_at,\s*updated_at\s*$`
	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs(int64(1), int64(2), "processing", -1, "temp_files/1/x").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), now, now))

	got, err := repo.Create(context.Background(), &models.Task{
		OwnerID: 1, APIKeyID: 2, State: models.TaskProcessing, Result: models.NoResult, StagedPath: "temp_files/1/x",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.ID)
}

func TestGetByID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*owner_id,.*FROM\s+tasks\s+WHERE\s+id\s*=\s*\$1$`
	now := time.Now()
	mock.ExpectQuery(q).WithArgs(int64(1)).WillReturnRows(
		sqlmock.NewRows(taskCols).AddRow(int64(1), int64(2), int64(3), "done", 7, nil, "p", now, now))
	mock.ExpectQuery(q).WithArgs(int64(2)).WillReturnRows(
		sqlmock.NewRows(taskCols).AddRow(int64(2), int64(2), int64(3), "failed", -1, "timed out", "p", now, now))
	mock.ExpectQuery(q).WithArgs(int64(3)).WillReturnError(sql.ErrNoRows)

	done, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, done.State)
	assert.Equal(t, "Sneaker", done.Label)
	assert.Nil(t, done.FailureReason)

	failed, err := repo.GetByID(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "timed out", *failed.FailureReason)
	assert.Empty(t, failed.Label)

	_, err = repo.GetByID(context.Background(), 3)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetForUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*owner_id,.*FROM\s+tasks\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE$`
	now := time.Now()
	mock.ExpectQuery(q).WithArgs(int64(1)).WillReturnRows(
		sqlmock.NewRows(taskCols).AddRow(int64(1), int64(2), int64(3), "processing", -1, nil, "p", now, now))
	mock.ExpectQuery(q).WithArgs(int64(2)).WillReturnError(sql.ErrNoRows)

	task, err := repo.GetForUpdate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, task.State)
	assert.Equal(t, "p", task.StagedPath)

	_, err = repo.GetForUpdate(context.Background(), 2)
	require.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_AllFilters(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+.*FROM\s+tasks\s+WHERE\s+owner_id\s*=\s*\$1\s+AND\s+api_key_id\s*=\s*\$2\s+AND\s+state\s*=\s*\$3\s+AND\s+created_at\s*>=\s*\$4\s+AND\s+created_at\s*<=\s*\$5\s+ORDER\s+BY\s+id\s+DESC\s+LIMIT\s+\$6\s+OFFSET\s+\$7$`

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	owner, key := int64(1), int64(2)
	state := models.TaskDone

	mock.ExpectQuery(q).
		WithArgs(owner, key, "done", from, to, 10, 20).
		WillReturnRows(sqlmock.NewRows(taskCols).AddRow(int64(5), owner, key, "done", 0, nil, "", from, from))

	got, err := repo.List(context.Background(), models.TaskFilter{
		OwnerID: &owner, APIKeyID: &key, State: &state, From: &from, To: &to,
		Page: models.Page{Skip: 20, Limit: 10},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "T-shirt/top", got[0].Label)
}

func TestFinish_GuardedTransition(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+tasks\s+SET\s+state\s*=\s*\$2,\s*result\s*=\s*\$3,\s*failure_reason\s*=\s*\$4,\s*updated_at\s*=\s*now\(\)\s+WHERE\s+id\s*=\s*\$1\s+AND\s+state\s*=\s*'processing'\s*$`

	mock.ExpectExec(q).WithArgs(int64(1), "done", 4, nil).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs(int64(1), "failed", -1, "model offline").WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := repo.Finish(context.Background(), 1, models.TaskOutcome{State: models.TaskDone, Result: 4})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Finish(context.Background(), 1, models.TaskOutcome{State: models.TaskFailed, Result: -1, FailureReason: "model offline"})
	require.NoError(t, err)
	assert.False(t, won, "terminal task must not transition again")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStuck(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	before := time.Now().Add(-10 * time.Minute)
	q := `(?s)^UPDATE\s+tasks\s+SET\s+state\s*=\s*'failed',\s*failure_reason\s*=\s*\$2.*WHERE\s+state\s*=\s*'processing'\s+AND\s+updated_at\s*<\s*\$1\s+RETURNING\s+id,\s*staged_path\s*$`
	mock.ExpectQuery(q).WithArgs(before, "timed out").WillReturnRows(
		sqlmock.NewRows([]string{"id", "staged_path"}).AddRow(int64(3), "temp_files/1/a"))

	got, err := repo.FailStuck(context.Background(), before, "timed out")
	require.NoError(t, err)
	assert.Equal(t, []models.ReleasedTask{{ID: 3, StagedPath: "temp_files/1/a"}}, got)
}

func TestUpdate_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^UPDATE\s+tasks\s+SET.*COALESCE`).WillReturnError(sql.ErrNoRows)

	_, err := repo.Update(context.Background(), 99, models.TaskUpdate{})
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete_ReturnsProcessingOnly(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^DELETE\s+FROM\s+tasks\s+WHERE\s+owner_id\s*=\s*\$1\s+RETURNING\s+id,\s*state,\s*staged_path$`
	mock.ExpectQuery(q).WithArgs(int64(1)).WillReturnRows(
		sqlmock.NewRows([]string{"id", "state", "staged_path"}).
			AddRow(int64(1), "done", "").
			AddRow(int64(2), "processing", "temp_files/1/b"))

	got, err := repo.DeleteByOwner(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []models.ReleasedTask{{ID: 2, StagedPath: "temp_files/1/b"}}, got)
}

func TestDelete_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+tasks\s+WHERE\s+id\s*=\s*\$1`).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "staged_path"}))

	_, err := repo.Delete(context.Background(), 5)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteByAPIKey(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+tasks\s+WHERE\s+api_key_id\s*=\s*\$1`).WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "staged_path"}).AddRow(int64(1), "failed", ""))

	got, err := repo.DeleteByAPIKey(context.Background(), 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/apikeys"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/tasks"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/users"
)

// ---- test logger ----

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger          { return n }

// ---- in-memory store ----

// memStore backs the fake repositories. Writes apply immediately; the
// admission lock is held until the fake transaction that took it ends.
type memStore struct {
	mu        sync.Mutex
	admission sync.Mutex

	nextID int64
	users  map[int64]*models.User
	keys   map[int64]*models.APIKey
	tasks  map[int64]*models.Task

	createTaskErr error
	finishErr     error
}

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]*models.User{},
		keys:  map[int64]*models.APIKey{},
		tasks: map[int64]*models.Task{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *memStore) task(id int64) *models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// memTx is the DBTX handed to transactional callbacks.
type memTx struct {
	dbx.DBTX
	locked bool
}

// memRunner implements dbx.Runner on top of memStore.
type memRunner struct {
	dbx.DBTX
	store *memStore
	txs   int
}

func (r *memRunner) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	r.store.mu.Lock()
	r.txs++
	r.store.mu.Unlock()

	tx := &memTx{}
	defer func() {
		if tx.locked {
			r.store.admission.Unlock()
		}
	}()
	return fn(ctx, tx)
}

// memManager implements repomanager.RepositoryManager.
type memManager struct {
	store *memStore
}

func (m *memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *memManager) Users(db dbx.DBTX) users.Repository          { return &memUsers{m.store} }
func (m *memManager) APIKeys(db dbx.DBTX) apikeys.Repository      { return &memKeys{m.store} }
func (m *memManager) Tasks(db dbx.DBTX) tasks.Repository          { return &memTasks{m.store, db} }

// ---- users ----

type memUsers struct{ s *memStore }

func (r *memUsers) Create(ctx context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.users {
		if x.UserName == u.UserName || x.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *u
	cp.ID = r.s.id()
	cp.CreatedAt = time.Now()
	r.s.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) GetByUsername(ctx context.Context, name string) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.UserName == name {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memUsers) LockByID(ctx context.Context, id int64) error {
	_, err := r.GetByID(ctx, id)
	return err
}

func (r *memUsers) List(ctx context.Context, f models.UserFilter) ([]*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.User
	for _, u := range r.s.users {
		if f.Role != nil && u.Role != *f.Role {
			continue
		}
		if f.IsActive != nil && u.IsActive != *f.IsActive {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, f.Page), nil
}

func (r *memUsers) Update(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.FullName != nil {
		u.FullName = upd.FullName
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	cp := *u
	return &cp, nil
}

func (r *memUsers) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.users, id)
	return nil
}

// ---- api keys ----

type memKeys struct{ s *memStore }

func (r *memKeys) Create(ctx context.Context, k *models.APIKey) (*models.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.keys {
		if x.KeyHash == k.KeyHash {
			return nil, common.ErrorAlreadyExists
		}
	}
	cp := *k
	cp.ID = r.s.id()
	cp.CreatedAt = time.Now()
	r.s.keys[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memKeys) GetByID(ctx context.Context, id int64) (*models.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.keys[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *k
	return &cp, nil
}

func (r *memKeys) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, k := range r.s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memKeys) CountActiveByOwner(ctx context.Context, ownerID int64, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, k := range r.s.keys {
		if k.OwnerID == ownerID && k.Usable(now) {
			n++
		}
	}
	return n, nil
}

func (r *memKeys) List(ctx context.Context, f models.APIKeyFilter) ([]*models.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range r.s.keys {
		if f.OwnerID != nil && k.OwnerID != *f.OwnerID {
			continue
		}
		if f.IsActive != nil && k.IsActive != *f.IsActive {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, f.Page), nil
}

func (r *memKeys) Update(ctx context.Context, id int64, upd models.APIKeyUpdate) (*models.APIKey, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k, ok := r.s.keys[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if upd.IsActive != nil {
		k.IsActive = *upd.IsActive
	}
	if upd.ExpiresAt != nil {
		k.ExpiresAt = upd.ExpiresAt
	}
	cp := *k
	return &cp, nil
}

func (r *memKeys) Delete(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.keys[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.keys, id)
	return nil
}

func (r *memKeys) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, k := range r.s.keys {
		if k.OwnerID == ownerID {
			delete(r.s.keys, id)
			n++
		}
	}
	return n, nil
}

// ---- tasks ----

type memTasks struct {
	s  *memStore
	db dbx.DBTX
}

func (r *memTasks) LockAdmission(ctx context.Context) error {
	tx, ok := r.db.(*memTx)
	if !ok {
		return errors.New("admission lock outside transaction")
	}
	r.s.admission.Lock()
	tx.locked = true
	return nil
}

func (r *memTasks) CountByState(ctx context.Context, state models.TaskState) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, t := range r.s.tasks {
		if t.State == state {
			n++
		}
	}
	return n, nil
}

func (r *memTasks) Create(ctx context.Context, t *models.Task) (*models.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createTaskErr != nil {
		return nil, r.s.createTaskErr
	}
	cp := *t
	cp.ID = r.s.id()
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	r.s.tasks[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *memTasks) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	t := r.s.task(id)
	if t == nil {
		return nil, common.ErrorNotFound
	}
	t.Label = models.LabelFor(t.Result)
	return t, nil
}

func (r *memTasks) GetForUpdate(ctx context.Context, id int64) (*models.Task, error) {
	if _, ok := r.db.(*memTx); !ok {
		return nil, errors.New("row lock outside transaction")
	}
	return r.GetByID(ctx, id)
}

func (r *memTasks) List(ctx context.Context, f models.TaskFilter) ([]*models.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Task
	for _, t := range r.s.tasks {
		if f.OwnerID != nil && t.OwnerID != *f.OwnerID {
			continue
		}
		if f.APIKeyID != nil && t.APIKeyID != *f.APIKeyID {
			continue
		}
		if f.State != nil && t.State != *f.State {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Page), nil
}

func (r *memTasks) Finish(ctx context.Context, id int64, o models.TaskOutcome) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.finishErr != nil {
		return false, r.s.finishErr
	}
	t, ok := r.s.tasks[id]
	if !ok || t.State != models.TaskProcessing {
		return false, nil
	}
	t.State = o.State
	t.Result = o.Result
	if o.FailureReason != "" {
		reason := o.FailureReason
		t.FailureReason = &reason
	}
	return true, nil
}

func (r *memTasks) FailStuck(ctx context.Context, before time.Time, reason string) ([]models.ReleasedTask, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ReleasedTask
	for _, t := range r.s.tasks {
		if t.State == models.TaskProcessing && t.CreatedAt.Before(before) {
			t.State = models.TaskFailed
			t.FailureReason = &reason
			out = append(out, models.ReleasedTask{ID: t.ID, StagedPath: t.StagedPath})
		}
	}
	return out, nil
}

func (r *memTasks) Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if upd.State != nil {
		t.State = *upd.State
	}
	if upd.Result != nil {
		t.Result = *upd.Result
	}
	if upd.FailureReason != nil {
		t.FailureReason = upd.FailureReason
	}
	cp := *t
	return &cp, nil
}

func (r *memTasks) deleteIf(match func(*models.Task) bool) ([]models.ReleasedTask, int) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var (
		out []models.ReleasedTask
		n   int
	)
	for id, t := range r.s.tasks {
		if !match(t) {
			continue
		}
		n++
		if t.State == models.TaskProcessing {
			out = append(out, models.ReleasedTask{ID: id, StagedPath: t.StagedPath})
		}
		delete(r.s.tasks, id)
	}
	return out, n
}

func (r *memTasks) Delete(ctx context.Context, id int64) ([]models.ReleasedTask, error) {
	out, n := r.deleteIf(func(t *models.Task) bool { return t.ID == id })
	if n == 0 {
		return nil, common.ErrorNotFound
	}
	return out, nil
}

func (r *memTasks) DeleteByOwner(ctx context.Context, ownerID int64) ([]models.ReleasedTask, error) {
	out, _ := r.deleteIf(func(t *models.Task) bool { return t.OwnerID == ownerID })
	return out, nil
}

func (r *memTasks) DeleteByAPIKey(ctx context.Context, keyID int64) ([]models.ReleasedTask, error) {
	out, _ := r.deleteIf(func(t *models.Task) bool { return t.APIKeyID == keyID })
	return out, nil
}

func page[T any](items []T, p models.Page) []T {
	if p.Skip >= len(items) {
		return nil
	}
	items = items[p.Skip:]
	if p.Limit > 0 && p.Limit < len(items) {
		items = items[:p.Limit]
	}
	return items
}

// ---- stager ----

// fakeStager fails releases on a done context, like a remote backend.
type fakeStager struct {
	mu       sync.Mutex
	seq      int
	files    map[string][]byte
	released []string
	lost     []string
	stageErr error
	// afterStage runs once content is stored
	afterStage func()
}

func newFakeStager() *fakeStager {
	return &fakeStager{files: map[string][]byte{}}
}

func (f *fakeStager) Stage(ctx context.Context, owner string, content []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stageErr != nil {
		return "", f.stageErr
	}
	f.seq++
	key := fmt.Sprintf("%s/%d", owner, f.seq)
	f.files[key] = append([]byte(nil), content...)
	if f.afterStage != nil {
		f.afterStage()
	}
	return key, nil
}

func (f *fakeStager) Open(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[key]
	if !ok {
		return nil, common.ErrStagedContentNotPresent
	}
	return b, nil
}

func (f *fakeStager) Release(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		f.lost = append(f.lost, key)
		return
	}
	delete(f.files, key)
	f.released = append(f.released, key)
}

func (f *fakeStager) staged() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// ---- dispatcher ----

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []int64
	err error
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, id)
	return nil
}

package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/tasks"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger          { return n }

// fakeTasks implements the parts of tasks.Repository the worker uses.
type fakeTasks struct {
	tasks.Repository

	mu        sync.Mutex
	m         map[int64]*models.Task
	getErr    error
	finishErr error
	stuckErr  error
	// transientFinish fails that many Finish calls before they succeed
	transientFinish int
	finishCalls     int
	// afterCommit runs once a Finish or FailStuck has changed state
	afterCommit func()
}

func newFakeTasks(ts ...*models.Task) *fakeTasks {
	f := &fakeTasks{m: map[int64]*models.Task{}}
	for _, t := range ts {
		f.m[t.ID] = t
	}
	return f
}

func (f *fakeTasks) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	t, ok := f.m[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTasks) Finish(ctx context.Context, id int64, o models.TaskOutcome) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls++
	if f.finishErr != nil {
		return false, f.finishErr
	}
	if f.transientFinish > 0 {
		f.transientFinish--
		return false, errors.New("connection reset")
	}
	t, ok := f.m[id]
	if !ok || t.State != models.TaskProcessing {
		return false, nil
	}
	t.State = o.State
	t.Result = o.Result
	if o.FailureReason != "" {
		r := o.FailureReason
		t.FailureReason = &r
	}
	if f.afterCommit != nil {
		f.afterCommit()
	}
	return true, nil
}

func (f *fakeTasks) FailStuck(ctx context.Context, before time.Time, reason string) ([]models.ReleasedTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuckErr != nil {
		return nil, f.stuckErr
	}
	var out []models.ReleasedTask
	for _, t := range f.m {
		if t.State == models.TaskProcessing && t.CreatedAt.Before(before) {
			t.State = models.TaskFailed
			t.FailureReason = &reason
			out = append(out, models.ReleasedTask{ID: t.ID, StagedPath: t.StagedPath})
		}
	}
	if len(out) > 0 && f.afterCommit != nil {
		f.afterCommit()
	}
	return out, nil
}

func (f *fakeTasks) finishes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishCalls
}

func (f *fakeTasks) get(id int64) models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.m[id]
}

type fakeManager struct {
	repomanager.RepositoryManager
	tasks *fakeTasks
}

func (m *fakeManager) Tasks(dbx.DBTX) tasks.Repository { return m.tasks }

// fakeStager fails releases on a done context, like a remote backend.
type fakeStager struct {
	mu       sync.Mutex
	files    map[string][]byte
	released []string
	lost     []string
}

func newFakeStager(files map[string][]byte) *fakeStager {
	return &fakeStager{files: files}
}

func (f *fakeStager) Stage(ctx context.Context, owner string, content []byte) (string, error) {
	return "", nil
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

func (f *fakeStager) releasedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func (f *fakeStager) lostKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lost...)
}

type classifierFunc func(ctx context.Context, content []byte) (int, error)

func (f classifierFunc) Classify(ctx context.Context, content []byte) (int, error) {
	return f(ctx, content)
}

// fakeSource delivers ids from a channel and records acks.
type fakeSource struct {
	ch chan int64

	mu    sync.Mutex
	acked []int64
	acks  chan int64
}

func newFakeSource(ids ...int64) *fakeSource {
	s := &fakeSource{ch: make(chan int64, len(ids)), acks: make(chan int64, len(ids))}
	for _, id := range ids {
		s.ch <- id
	}
	return s
}

func (s *fakeSource) Dequeue(ctx context.Context, timeout time.Duration) (int64, bool, error) {
	select {
	case id := <-s.ch:
		return id, true, nil
	case <-time.After(timeout):
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (s *fakeSource) Ack(ctx context.Context, id int64) error {
	s.mu.Lock()
	s.acked = append(s.acked, id)
	s.mu.Unlock()
	s.acks <- id
	return nil
}

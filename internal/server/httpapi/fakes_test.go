package httpapi

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/services"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (n nopLogger) With(...any) logging.Logger          { return n }

type session struct {
	user   *models.User
	scopes []auth.Scope
}

// fakeVerifier knows a fixed set of API key secrets and session tokens.
type fakeVerifier struct {
	keys     map[string]*models.APIKey
	keyErrs  map[string]error
	owners   map[int64]*models.User
	sessions map[string]session
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		keys:     map[string]*models.APIKey{},
		keyErrs:  map[string]error{},
		owners:   map[int64]*models.User{},
		sessions: map[string]session{},
	}
}

func (f *fakeVerifier) VerifyAPIKey(ctx context.Context, secret string) (*models.APIKey, error) {
	if secret == "" {
		return nil, common.ErrMissingCredential
	}
	if err, ok := f.keyErrs[secret]; ok {
		return nil, err
	}
	k, ok := f.keys[secret]
	if !ok {
		return nil, common.ErrInvalidCredential
	}
	return k, nil
}

func (f *fakeVerifier) KeyOwner(ctx context.Context, key *models.APIKey) (*models.User, error) {
	u, ok := f.owners[key.OwnerID]
	if !ok {
		return nil, common.ErrInvalidCredential
	}
	if !u.IsActive {
		return nil, common.ErrInactivePrincipal
	}
	return u, nil
}

func (f *fakeVerifier) VerifySessionToken(ctx context.Context, token string) (*models.User, []auth.Scope, error) {
	s, ok := f.sessions[token]
	if !ok {
		return nil, nil, common.ErrInvalidToken
	}
	return s.user, s.scopes, nil
}

type fakeLimiter struct {
	err   error
	calls []string
}

func (f *fakeLimiter) Check(ctx context.Context, ip string, credentialID int64) error {
	f.calls = append(f.calls, ip)
	return f.err
}

type fakeAdmitter struct {
	mu      sync.Mutex
	max     int64
	err     error
	uploads []services.Upload
	nextID  int64
}

func (f *fakeAdmitter) Submit(ctx context.Context, p *models.User, k *models.APIKey, u services.Upload) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if int64(len(u.Content)) > f.max {
		return nil, common.ErrPayloadTooLarge
	}
	f.uploads = append(f.uploads, u)
	f.nextID++
	return &models.Task{ID: f.nextID, OwnerID: p.ID, APIKeyID: k.ID, State: models.TaskProcessing}, nil
}

func (f *fakeAdmitter) MaxUploadBytes() int64 { return f.max }

type fakeUsers struct {
	token     *services.AccessToken
	loginErr  error
	signupErr error
	created   []services.NewUser
	users     map[int64]*models.User
	lastList  models.UserFilter
	deleted   []int64
}

func (f *fakeUsers) Login(ctx context.Context, name, pw string) (*services.AccessToken, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.token, nil
}

func (f *fakeUsers) Signup(ctx context.Context, in services.NewUser) (*models.User, error) {
	if f.signupErr != nil {
		return nil, f.signupErr
	}
	f.created = append(f.created, in)
	return &models.User{ID: 10, UserName: in.UserName, Email: in.Email, Role: models.RoleNormal, IsActive: true}, nil
}

func (f *fakeUsers) Create(ctx context.Context, in services.NewUser) (*models.User, error) {
	if f.signupErr != nil {
		return nil, f.signupErr
	}
	f.created = append(f.created, in)
	return &models.User{ID: 11, UserName: in.UserName, Email: in.Email, Role: in.Role, IsActive: true}, nil
}

func (f *fakeUsers) Get(ctx context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsers) List(ctx context.Context, filter models.UserFilter) ([]*models.User, error) {
	f.lastList = filter
	return nil, nil
}

func (f *fakeUsers) Update(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	return u, nil
}

func (f *fakeUsers) Delete(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeKeys struct {
	issued   []services.NewAPIKey
	issueErr error
	owned    []*models.APIKey
	lastOnly bool
	deleted  []int64
	lastList models.APIKeyFilter
}

func (f *fakeKeys) Issue(ctx context.Context, in services.NewAPIKey) (*models.IssuedAPIKey, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issued = append(f.issued, in)
	return &models.IssuedAPIKey{APIKey: models.APIKey{ID: 5, OwnerID: in.OwnerID, KeyPrefix: "abcd1234", IsActive: true}, Secret: "abcd1234secret"}, nil
}

func (f *fakeKeys) ListOwned(ctx context.Context, ownerID int64, activeOnly bool) ([]*models.APIKey, error) {
	f.lastOnly = activeOnly
	return f.owned, nil
}

func (f *fakeKeys) DeleteOwned(ctx context.Context, ownerID, id int64) error {
	if id == 404 {
		return common.ErrorNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeKeys) Get(ctx context.Context, id int64) (*models.APIKey, error) {
	return nil, common.ErrorNotFound
}

func (f *fakeKeys) List(ctx context.Context, filter models.APIKeyFilter) ([]*models.APIKey, error) {
	f.lastList = filter
	return nil, nil
}

func (f *fakeKeys) Update(ctx context.Context, id int64, upd models.APIKeyUpdate) (*models.APIKey, error) {
	k := &models.APIKey{ID: id}
	if upd.IsActive != nil {
		k.IsActive = *upd.IsActive
	}
	return k, nil
}

func (f *fakeKeys) Delete(ctx context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeTasks struct {
	lastOwner  int64
	lastFilter models.TaskFilter
	tasks      map[int64]*models.Task
	listErr    error
}

func (f *fakeTasks) ListOwned(ctx context.Context, ownerID int64, filter models.TaskFilter) ([]*models.Task, error) {
	f.lastOwner = ownerID
	f.lastFilter = filter
	return nil, f.listErr
}

func (f *fakeTasks) GetOwned(ctx context.Context, ownerID, id int64) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok || t.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

func (f *fakeTasks) Get(ctx context.Context, id int64) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return t, nil
}

func (f *fakeTasks) List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	f.lastFilter = filter
	return nil, f.listErr
}

func (f *fakeTasks) Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if upd.State != nil {
		t.State = *upd.State
	}
	return t, nil
}

func (f *fakeTasks) Delete(ctx context.Context, id int64) error {
	if _, ok := f.tasks[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.tasks, id)
	return nil
}

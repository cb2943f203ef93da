// Package httpapi is the public HTTP surface of the classification service.
package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type verifier interface {
	VerifyAPIKey(ctx context.Context, secret string) (*models.APIKey, error)
	KeyOwner(ctx context.Context, key *models.APIKey) (*models.User, error)
	VerifySessionToken(ctx context.Context, token string) (*models.User, []auth.Scope, error)
}

type rateChecker interface {
	Check(ctx context.Context, ip string, credentialID int64) error
}

type admitter interface {
	Submit(ctx context.Context, principal *models.User, key *models.APIKey, upload services.Upload) (*models.Task, error)
	MaxUploadBytes() int64
}

type userSvc interface {
	Login(ctx context.Context, userName, password string) (*services.AccessToken, error)
	Signup(ctx context.Context, in services.NewUser) (*models.User, error)
	Create(ctx context.Context, in services.NewUser) (*models.User, error)
	Get(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]*models.User, error)
	Update(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error)
	Delete(ctx context.Context, id int64) error
}

type apiKeySvc interface {
	Issue(ctx context.Context, in services.NewAPIKey) (*models.IssuedAPIKey, error)
	ListOwned(ctx context.Context, ownerID int64, activeOnly bool) ([]*models.APIKey, error)
	DeleteOwned(ctx context.Context, ownerID, id int64) error
	Get(ctx context.Context, id int64) (*models.APIKey, error)
	List(ctx context.Context, filter models.APIKeyFilter) ([]*models.APIKey, error)
	Update(ctx context.Context, id int64, upd models.APIKeyUpdate) (*models.APIKey, error)
	Delete(ctx context.Context, id int64) error
}

type taskSvc interface {
	ListOwned(ctx context.Context, ownerID int64, filter models.TaskFilter) ([]*models.Task, error)
	GetOwned(ctx context.Context, ownerID, id int64) (*models.Task, error)
	Get(ctx context.Context, id int64) (*models.Task, error)
	List(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
	Update(ctx context.Context, id int64, upd models.TaskUpdate) (*models.Task, error)
	Delete(ctx context.Context, id int64) error
}

// Deps are the collaborators of the HTTP API.
type Deps struct {
	Verifier          verifier
	Limiter           rateChecker
	Admission         admitter
	Users             userSvc
	APIKeys           apiKeySvc
	Tasks             taskSvc
	Logger            logging.Logger
	TrustForwardedFor bool
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	Deps
	logger   logging.Logger
	clientIP func(r *http.Request) string
}

func NewServer(d Deps) *Server {
	return &Server{
		Deps:     d,
		logger:   d.Logger.With("module", "http"),
		clientIP: ClientIPFunc(d.TrustForwardedFor),
	}
}

func (s *Server) maxUploadBytes() int64 {
	if s.Admission == nil {
		return 0
	}
	return s.Admission.MaxUploadBytes()
}

// Handler builds the routed handler with access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /token", s.handleToken)
	mux.HandleFunc("POST /signup", s.handleSignup)
	mux.HandleFunc("POST /users/new", s.handleSignup)

	mux.Handle("POST /classify", s.requireAPIKey(http.HandlerFunc(s.handleClassify)))

	bearer := func(h http.HandlerFunc) http.Handler { return s.requireBearer(h) }
	mux.Handle("GET /users/me", bearer(s.handleMe))
	mux.Handle("POST /api-keys/new", bearer(s.handleIssueOwnKey))
	mux.Handle("GET /my-api-keys", bearer(s.handleListOwnKeys))
	mux.Handle("DELETE /my-api-keys/{id}", bearer(s.handleDeleteOwnKey))
	mux.Handle("GET /my-tasks", bearer(s.handleListOwnTasks))
	mux.Handle("GET /my-tasks/{id}", bearer(s.handleGetOwnTask))

	admin := func(h http.HandlerFunc) http.Handler {
		return s.requireBearer(s.requireScopes(h, auth.ScopeAdmin))
	}
	mux.Handle("GET /admin/users", admin(s.handleAdminListUsers))
	mux.Handle("POST /admin/users/new", admin(s.handleAdminCreateUser))
	mux.Handle("GET /admin/users/{id}", admin(s.handleAdminGetUser))
	mux.Handle("PATCH /admin/users/{id}", admin(s.handleAdminUpdateUser))
	mux.Handle("DELETE /admin/users/{id}", admin(s.handleAdminDeleteUser))

	mux.Handle("GET /admin/apikeys", admin(s.handleAdminListKeys))
	mux.Handle("POST /admin/apikeys/new", admin(s.handleAdminIssueKey))
	mux.Handle("GET /admin/apikeys/{id}", admin(s.handleAdminGetKey))
	mux.Handle("PATCH /admin/apikeys/{id}", admin(s.handleAdminUpdateKey))
	mux.Handle("DELETE /admin/apikeys/{id}", admin(s.handleAdminDeleteKey))

	mux.Handle("GET /admin/tasks", admin(s.handleAdminListTasks))
	mux.Handle("GET /admin/tasks/{id}", admin(s.handleAdminGetTask))
	mux.Handle("PATCH /admin/tasks/{id}", admin(s.handleAdminUpdateTask))
	mux.Handle("DELETE /admin/tasks/{id}", admin(s.handleAdminDeleteTask))

	return s.accessLog(s.recoverer(mux))
}

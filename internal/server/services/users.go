package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/dbx"
	"github.com/dmitrijs2005/classifyd/internal/logging"
	"github.com/dmitrijs2005/classifyd/internal/server/auth"
	"github.com/dmitrijs2005/classifyd/internal/server/models"
	"github.com/dmitrijs2005/classifyd/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/classifyd/internal/server/staging"
)

// AccessToken is the result of a successful login.
type AccessToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewUser is the input of signup and administrative user creation.
type NewUser struct {
	UserName string      `json:"username"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	FullName *string     `json:"full_name"`
	Role     models.Role `json:"role"`
	IsActive *bool       `json:"is_active"`
}

// UserService handles login, signup and the administrative user operations.
type UserService struct {
	db          dbx.Runner
	repomanager repomanager.RepositoryManager
	signer      *auth.TokenSigner
	stager      staging.Stager
	logger      logging.Logger
	now         func() time.Time
}

func NewUserService(db dbx.Runner, m repomanager.RepositoryManager, signer *auth.TokenSigner, stager staging.Stager, logger logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		signer:      signer,
		stager:      stager,
		logger:      logger.With("module", "users"),
		now:         time.Now,
	}
}

// Login checks the password and mints a session token carrying the scopes of
// the user's role. Unknown user and wrong password are indistinguishable.
func (s *UserService) Login(ctx context.Context, userName, password string) (*AccessToken, error) {
	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, userName)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	if !auth.CheckPassword(user.HashedPassword, password) {
		return nil, common.ErrorUnauthorized
	}
	if !user.IsActive {
		return nil, common.ErrInactivePrincipal
	}

	token, expires, err := s.signer.GenerateToken(user.UserName, auth.ScopesForRole(user.Role), s.now())
	if err != nil {
		return nil, common.ErrorInternal
	}

	return &AccessToken{AccessToken: token, TokenType: "bearer", ExpiresAt: expires}, nil
}

// Signup registers a normal, active user.
func (s *UserService) Signup(ctx context.Context, in NewUser) (*models.User, error) {
	in.Role = models.RoleNormal
	in.IsActive = nil
	return s.Create(ctx, in)
}

// Create registers a user with the requested role. Username or email
// collisions yield common.ErrorAlreadyExists.
func (s *UserService) Create(ctx context.Context, in NewUser) (*models.User, error) {
	in.UserName = strings.TrimSpace(in.UserName)
	in.Email = strings.TrimSpace(in.Email)

	if in.UserName == "" || in.Password == "" || !strings.Contains(in.Email, "@") {
		return nil, fmt.Errorf("%w: username, email and password are required", common.ErrorValidation)
	}
	if in.Role == "" {
		in.Role = models.RoleNormal
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrorValidation, in.Role)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		UserName:       in.UserName,
		Email:          in.Email,
		HashedPassword: hash,
		FullName:       in.FullName,
		Role:           in.Role,
		IsActive:       active,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "user created", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]*models.User, error) {
	filter.Page = filter.Page.Normalize()
	return s.repomanager.Users(s.db).List(ctx, filter)
}

func (s *UserService) Update(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	if upd.Role != nil && !upd.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrorValidation, *upd.Role)
	}
	return s.repomanager.Users(s.db).Update(ctx, id, upd)
}

// Delete removes a user together with its tasks and API keys in one
// transaction. Staged files of tasks that were still processing are released
// once the transaction committed.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	var released []models.ReleasedTask

	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		released, err = s.repomanager.Tasks(tx).DeleteByOwner(ctx, id)
		if err != nil {
			return err
		}
		if _, err := s.repomanager.APIKeys(tx).DeleteByOwner(ctx, id); err != nil {
			return err
		}
		return s.repomanager.Users(tx).Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	releaseStaged(ctx, s.stager, released)
	s.logger.Info(ctx, "user deleted", "user_id", id, "released", len(released))
	return nil
}

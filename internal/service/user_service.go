package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-service/internal/auth"
	"market-service/internal/entity"
	"market-service/internal/kv"
	"market-service/internal/models"
	"market-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserConfig holds the user administration parameters
type UserConfig struct {
	KYCReviewDelay time.Duration
	SessionTTL     time.Duration
}

// UserService manages marketplace users, their sessions and KYC state
type UserService struct {
	users    *entity.Store[models.User]
	sessions kv.KeyValueStore
	cfg      UserConfig
	newToken func() string
	logger   *zap.Logger
}

// NewUserService creates a user service. sessions holds login tokens.
func NewUserService(users *entity.Store[models.User], sessions kv.KeyValueStore, cfg UserConfig) *UserService {
	return &UserService{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		newToken: func() string { return uuid.New().String() },
		logger:   util.Component("users"),
	}
}

// RegisterRequest represents a self-service signup
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateUserRequest represents a user created without credentials
type CreateUserRequest struct {
	Name     string      `json:"name" binding:"required"`
	Email    string      `json:"email" binding:"required"`
	Role     models.Role `json:"role"`
	Location string      `json:"location"`
}

// ProfileUpdate carries the fields a profile edit may change. Nil fields are
// left untouched.
type ProfileUpdate struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
}

// Session is the result of a successful login
type Session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Register creates a Farmer account with a hashed password
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	if !auth.ValidatePassword(req.Password) {
		return nil, fmt.Errorf("%w: password must be at least %d characters",
			models.ErrInvalidInput, auth.MinPasswordLength)
	}
	hash, salt, err := auth.HashPassword(req.Password)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	user, err := s.create(ctx, req.Email, req.Name, models.RoleFarmer, "")
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	user.PasswordHash = hash
	user.PasswordSalt = salt

	if err := s.users.Create(ctx, user); err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID))
	public := user.Public()
	return &public, nil
}

// CreateUser creates an account without credentials
func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*models.User, error) {
	role := req.Role
	if role == "" {
		role = models.RoleFarmer
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, req.Role)
	}

	user, err := s.create(ctx, req.Email, req.Name, role, req.Location)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("User created", zap.String("user_id", user.ID), zap.String("role", string(role)))
	public := user.Public()
	return &public, nil
}

func (s *UserService) create(ctx context.Context, email, name string, role models.Role, location string) (models.User, error) {
	id := models.NormalizeUserID(email)
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return models.User{}, fmt.Errorf("%w: name and email are required", models.ErrInvalidInput)
	}

	exists, err := s.users.Exists(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if exists {
		return models.User{}, fmt.Errorf("%w: user %s", models.ErrAlreadyExists, id)
	}

	return models.User{
		ID:        id,
		Name:      name,
		Role:      role,
		KYCStatus: models.KYCNotSubmitted,
		Location:  location,
	}, nil
}

// Login verifies credentials and opens a session
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetState(ctx, models.NormalizeUserID(email))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(password, user.PasswordHash, user.PasswordSalt) {
		return nil, models.ErrUnauthorized
	}

	token := s.newToken()
	if err := s.sessions.Put(ctx, sessionKey(token), []byte(user.ID), kv.WithTTL(s.cfg.SessionTTL)); err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	s.logger.Info("User logged in", zap.String("user_id", user.ID))
	return &Session{Token: token, User: user.Public()}, nil
}

// Logout closes a session. Unknown tokens are ignored.
func (s *UserService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, sessionKey(token))
}

// Authenticate resolves a session token to its user
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, models.ErrUnauthorized
	}
	raw, err := s.sessions.Get(ctx, sessionKey(token))
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetState(ctx, string(raw))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

func sessionKey(token string) string {
	return "session:" + token
}

// ResolveActor looks up the role of the user acting under id
func (s *UserService) ResolveActor(ctx context.Context, id string) (models.Actor, error) {
	user, err := s.users.GetState(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Actor{}, models.ErrUnauthorized
	}
	if err != nil {
		return models.Actor{}, err
	}
	return models.Actor{ID: user.ID, Role: user.Role}, nil
}

// GetUser returns a user without credentials
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.GetState(ctx, id)
	if err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

// ListUsers returns every user without credentials
func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = users[i].Public()
	}
	return users, nil
}

// UpdateProfile edits name and location. Only the user or an Admin may do
// so, and the name is frozen once KYC is Verified.
func (s *UserService) UpdateProfile(ctx context.Context, actor models.Actor, id string, update *ProfileUpdate) (*models.User, error) {
	if actor.ID != id && actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: cannot edit another user's profile", models.ErrForbidden)
	}

	user, err := s.users.Patch(ctx, id, func(u *models.User) error {
		if update.Name != nil && u.KYCStatus != models.KYCVerified {
			if name := strings.TrimSpace(*update.Name); name != "" {
				u.Name = name
			}
		}
		if update.Location != nil {
			u.Location = strings.TrimSpace(*update.Location)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	public := user.Public()
	return &public, nil
}

// SetRole assigns a role. Admin only.
func (s *UserService) SetRole(ctx context.Context, actor models.Actor, id string, role models.Role) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: only an admin can change roles", models.ErrForbidden)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrInvalidInput, role)
	}

	user, err := s.users.Patch(ctx, id, func(u *models.User) error {
		u.Role = role
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User role changed",
		zap.String("user_id", id),
		zap.String("actor_id", actor.ID),
		zap.String("role", string(role)))
	public := user.Public()
	return &public, nil
}

// Promote makes the user with email an Admin. An existing Admin may
// promote anyone; while no Admin exists any actor may, which bootstraps the
// first one.
func (s *UserService) Promote(ctx context.Context, actor models.Actor, email string) (*models.User, error) {
	if actor.Role != models.RoleAdmin {
		hasAdmin, err := s.adminExists(ctx)
		if err != nil {
			return nil, err
		}
		if hasAdmin {
			return nil, fmt.Errorf("%w: only an admin can promote users", models.ErrForbidden)
		}
	}

	id := models.NormalizeUserID(email)
	if id == "" {
		return nil, fmt.Errorf("%w: email is required", models.ErrInvalidInput)
	}

	user, err := s.users.Patch(ctx, id, func(u *models.User) error {
		if u.Role == models.RoleAdmin {
			return fmt.Errorf("%w: user is already an admin", models.ErrInvalidInput)
		}
		u.Role = models.RoleAdmin
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User promoted to admin", zap.String("user_id", id), zap.String("actor_id", actor.ID))
	public := user.Public()
	return &public, nil
}

func (s *UserService) adminExists(ctx context.Context) (bool, error) {
	found := false
	err := s.users.Walk(ctx, func(u models.User) error {
		if u.Role == models.RoleAdmin {
			found = true
			return errStopWalk
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return false, err
	}
	return found, nil
}

// SubmitKYC marks the user Pending, waits for the review delay, then marks
// them Verified. The two writes are independent; if the context ends during
// the review the user stays Pending.
func (s *UserService) SubmitKYC(ctx context.Context, actor models.Actor, id string) (*models.User, error) {
	if actor.ID != id && actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("%w: cannot submit KYC for another user", models.ErrForbidden)
	}

	if _, err := s.setKYC(ctx, id, models.KYCPending); err != nil {
		return nil, err
	}

	if s.cfg.KYCReviewDelay > 0 {
		timer := time.NewTimer(s.cfg.KYCReviewDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	user, err := s.setKYC(ctx, id, models.KYCVerified)
	if err != nil {
		return nil, err
	}
	s.logger.Info("KYC verified", zap.String("user_id", id))
	public := user.Public()
	return &public, nil
}

func (s *UserService) setKYC(ctx context.Context, id string, status models.KYCStatus) (models.User, error) {
	return s.users.Patch(ctx, id, func(u *models.User) error {
		u.KYCStatus = status
		return nil
	})
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/events"
	"github.com/example/rental-broker/internal/persistence"
)

// UserRepository captures the persistence operations needed by the user service.
type UserRepository interface {
	CreateUser(ctx context.Context, user persistence.User) error
	UpdateUser(ctx context.Context, user persistence.User) error
	GetUser(ctx context.Context, id string) (persistence.User, error)
	GetUserByEmail(ctx context.Context, email string) (persistence.User, error)
	ListUsers(ctx context.Context) ([]persistence.User, error)
}

// UserService orchestrates validation, authorization, and persistence for users.
type UserService struct {
	users       UserRepository
	hash        PasswordHasher
	limiter     RateLimiter
	publisher   EventPublisher
	idGenerator func() string
	now         func() time.Time
	adminEmail  string
	logger      *slog.Logger
}

// NewUserService wires dependencies for the user service.
func NewUserService(users UserRepository, hash PasswordHasher, limiter RateLimiter, publisher EventPublisher, idGenerator func() string, now func() time.Time) *UserService {
	return NewUserServiceWithLogger(users, hash, limiter, publisher, idGenerator, now, nil)
}

// NewUserServiceWithLogger wires dependencies for the user service with a specified logger.
func NewUserServiceWithLogger(users UserRepository, hash PasswordHasher, limiter RateLimiter, publisher EventPublisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *UserService {
	if hash == nil {
		hash = HashPassword
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &UserService{
		users:       users,
		hash:        hash,
		limiter:     limiter,
		publisher:   publisher,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// WithAdminEmail makes a registration with email an administrator account.
func (s *UserService) WithAdminEmail(email string) *UserService {
	if s != nil {
		s.adminEmail = strings.ToLower(strings.TrimSpace(email))
	}
	return s
}

// Register opens a USER or LANDLORD account. Attempts are rate limited per
// client key.
func (s *UserService) Register(ctx context.Context, params RegisterParams) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}

	logger := serviceLogger(ctx, s.logger, "UserService", "Register", "client", params.ClientKey)
	if err := checkRate(ctx, s.limiter, "register:"+params.ClientKey); err != nil {
		logger.WarnContext(ctx, "registration rejected", "error", err, "error_kind", ErrorKind(err))
		return User{}, err
	}

	normalized := normalizeRegistration(params)
	if vErr := validateRegistration(normalized); vErr.HasErrors() {
		return User{}, vErr
	}
	if s.adminEmail != "" && normalized.Email == s.adminEmail {
		normalized.Role = authz.RoleAdmin
	}

	if _, err := s.users.GetUserByEmail(ctx, normalized.Email); err == nil {
		return User{}, ErrAlreadyExists
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return User{}, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := s.hash(normalized.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	record := persistence.User{
		ID:           s.idGenerator(),
		Email:        normalized.Email,
		DisplayName:  normalized.DisplayName,
		PasswordHash: hash,
		Role:         normalized.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, record); err != nil {
		err = mapRepoError(err, "create user")
		logger.ErrorContext(ctx, "registration failed", "error", err, "error_kind", ErrorKind(err))
		return User{}, err
	}

	logger.With("user_id", record.ID, "role", string(record.Role)).InfoContext(ctx, "user registered")
	publish(ctx, s.publisher, logger, events.Event{
		ID:          s.idGenerator(),
		Type:        events.UserRegistered,
		AggregateID: record.ID,
		ActorID:     record.ID,
		Status:      string(record.Role),
		OccurredAt:  now,
		Attributes:  map[string]string{"email": record.Email},
	})
	return userFromRecord(record), nil
}

// GetUser returns the account with id.
func (s *UserService) GetUser(ctx context.Context, id string) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	record, err := s.users.GetUser(ctx, strings.TrimSpace(id))
	if err != nil {
		return User{}, mapRepoError(err, "get user")
	}
	return userFromRecord(record), nil
}

// ListUsers returns every account ordered by email. Administrators only.
func (s *UserService) ListUsers(ctx context.Context, actor authz.Actor) ([]User, error) {
	if s == nil {
		return nil, fmt.Errorf("UserService is nil")
	}
	if !authz.Allow(actor, authz.AdminOnly, authz.Resource{}) {
		return nil, ErrForbidden
	}

	records, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, mapRepoError(err, "list users")
	}
	users := make([]User, 0, len(records))
	for _, record := range records {
		users = append(users, userFromRecord(record))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Email < users[j].Email
	})
	return users, nil
}

// ChangeRole assigns a new role to an account. Administrators only, and an
// administrator cannot change their own role.
func (s *UserService) ChangeRole(ctx context.Context, params ChangeRoleParams) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if !authz.Allow(params.Actor, authz.AdminOnly, authz.Resource{}) {
		return User{}, ErrForbidden
	}

	vErr := &ValidationError{}
	if !params.Role.Valid() {
		vErr.add("role", "role must be USER, LANDLORD or ADMIN")
	}
	if params.UserID == params.Actor.ID {
		vErr.add("role", "administrators cannot change their own role")
	}
	if vErr.HasErrors() {
		return User{}, vErr
	}

	record, err := s.users.GetUser(ctx, strings.TrimSpace(params.UserID))
	if err != nil {
		return User{}, mapRepoError(err, "get user")
	}
	if record.Role == params.Role {
		return userFromRecord(record), nil
	}

	previous := record.Role
	record.Role = params.Role
	record.UpdatedAt = s.now().UTC()
	if err := s.users.UpdateUser(ctx, record); err != nil {
		return User{}, mapRepoError(err, "update user")
	}

	serviceLogger(ctx, s.logger, "UserService", "ChangeRole",
		"actor_id", params.Actor.ID,
		"user_id", record.ID,
		"previous_role", string(previous),
		"role", string(record.Role),
	).InfoContext(ctx, "user role changed")
	return userFromRecord(record), nil
}

func normalizeRegistration(params RegisterParams) RegisterParams {
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.DisplayName = strings.TrimSpace(params.DisplayName)
	if params.Role == "" {
		params.Role = authz.RoleUser
	}
	return params
}

func validateRegistration(params RegisterParams) *ValidationError {
	vErr := &ValidationError{}

	if params.Email == "" {
		vErr.add("email", "email is required")
	} else if addr, err := mail.ParseAddress(params.Email); err != nil || addr.Address != params.Email {
		vErr.add("email", "email is invalid")
	}

	if utf8.RuneCountInString(params.Password) < MinPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	if params.DisplayName == "" {
		vErr.add("displayName", "display name is required")
	} else if utf8.RuneCountInString(params.DisplayName) > MaxDisplayNameLength {
		vErr.add("displayName", fmt.Sprintf("display name must be at most %d characters", MaxDisplayNameLength))
	}

	if params.Role != authz.RoleUser && params.Role != authz.RoleLandlord {
		vErr.add("role", "role must be USER or LANDLORD")
	}

	return vErr
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/persistence"
	"github.com/example/rental-broker/internal/token"
)

// CredentialStore exposes user credential lookup operations required by the auth service.
type CredentialStore interface {
	GetUserByEmail(ctx context.Context, email string) (persistence.User, error)
	GetUser(ctx context.Context, id string) (persistence.User, error)
}

// SessionRepository captures the persistence interactions for issued sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, error)
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	UpdateSession(ctx context.Context, session persistence.Session) (persistence.Session, error)
	RevokeSession(ctx context.Context, id string, revokedAt time.Time) (persistence.Session, error)
	DeleteExpiredSessions(ctx context.Context, reference time.Time) error
}

// TokenIssuer signs and verifies bearer tokens bound to a session.
type TokenIssuer interface {
	Issue(userID, sessionID, role string, ttl time.Duration) (token.Issued, error)
	Verify(raw string) (token.Claims, error)
}

// AuthService coordinates authentication flows such as login and session refresh.
type AuthService struct {
	credentials    CredentialStore
	sessions       SessionRepository
	tokens         TokenIssuer
	verifyPassword PasswordVerifier
	limiter        RateLimiter
	idGenerator    func() string
	now            func() time.Time
	sessionTTL     time.Duration
	logger         *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(credentials CredentialStore, sessions SessionRepository, tokens TokenIssuer, verify PasswordVerifier, limiter RateLimiter, idGenerator func() string, now func() time.Time, sessionTTL time.Duration) *AuthService {
	return NewAuthServiceWithLogger(credentials, sessions, tokens, verify, limiter, idGenerator, now, sessionTTL, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(credentials CredentialStore, sessions SessionRepository, tokens TokenIssuer, verify PasswordVerifier, limiter RateLimiter, idGenerator func() string, now func() time.Time, sessionTTL time.Duration, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifyPassword
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	return &AuthService{
		credentials:    credentials,
		sessions:       sessions,
		tokens:         tokens,
		verifyPassword: verify,
		limiter:        limiter,
		idGenerator:    idGenerator,
		now:            now,
		sessionTTL:     sessionTTL,
		logger:         defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

func (s *AuthService) ready() error {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if s.credentials == nil {
		return fmt.Errorf("credential store not configured")
	}
	if s.sessions == nil {
		return fmt.Errorf("session repository not configured")
	}
	if s.tokens == nil {
		return fmt.Errorf("token issuer not configured")
	}
	return nil
}

// Authenticate validates credentials, persists a new session and signs a
// token for it. Attempts are rate limited per email.
func (s *AuthService) Authenticate(ctx context.Context, params AuthenticateParams) (result AuthenticateResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	email := strings.TrimSpace(strings.ToLower(params.Email))
	password := params.Password

	logger := s.loggerWith(ctx, "Authenticate",
		"email", email,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"user_id", result.User.ID,
			"session_id", result.Session.ID,
		).InfoContext(ctx, "authentication succeeded")
	}()

	if email == "" || password == "" {
		err = ErrInvalidCredentials
		return
	}
	if err = checkRate(ctx, s.limiter, "login:"+email); err != nil {
		return
	}

	var user persistence.User
	user, err = s.credentials.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
			return
		}
		err = fmt.Errorf("lookup credentials: %w", err)
		return
	}

	if verifyErr := s.verifyPassword(user.PasswordHash, password); verifyErr != nil {
		err = ErrInvalidCredentials
		return
	}

	now := s.now().UTC()
	if err = s.sessions.DeleteExpiredSessions(ctx, now); err != nil {
		err = fmt.Errorf("prune sessions: %w", err)
		return
	}

	var persisted persistence.Session
	persisted, err = s.sessions.CreateSession(ctx, persistence.Session{
		ID:          s.idGenerator(),
		UserID:      user.ID,
		Fingerprint: strings.TrimSpace(params.Fingerprint),
		ExpiresAt:   now.Add(s.sessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		err = mapRepoError(err, "create session")
		return
	}

	var issued token.Issued
	issued, err = s.tokens.Issue(user.ID, persisted.ID, string(user.Role), s.sessionTTL)
	if err != nil {
		err = fmt.Errorf("sign session token: %w", err)
		return
	}

	result = AuthenticateResult{
		User:    userFromRecord(user),
		Session: sessionFromRecord(persisted, issued.Token),
	}
	return
}

// RefreshSession extends an active session and signs a fresh token for it.
func (s *AuthService) RefreshSession(ctx context.Context, params RefreshSessionParams) (result RefreshSessionResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	raw := strings.TrimSpace(params.Token)
	logger := s.loggerWith(ctx, "RefreshSession",
		"token_provided", raw != "",
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "session refresh failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"session_id", result.Session.ID,
			"user_id", result.Session.UserID,
		).InfoContext(ctx, "session refreshed")
	}()

	var (
		session persistence.Session
		user    persistence.User
	)
	session, user, err = s.activeSession(ctx, raw)
	if err != nil {
		return
	}

	now := s.now().UTC()
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(s.sessionTTL)
	if fp := strings.TrimSpace(params.Fingerprint); fp != "" {
		session.Fingerprint = fp
	}

	session, err = s.sessions.UpdateSession(ctx, session)
	if err != nil {
		err = mapRepoError(err, "update session")
		return
	}

	var issued token.Issued
	issued, err = s.tokens.Issue(user.ID, session.ID, string(user.Role), s.sessionTTL)
	if err != nil {
		err = fmt.Errorf("sign session token: %w", err)
		return
	}

	result = RefreshSessionResult{Session: sessionFromRecord(session, issued.Token)}
	return
}

// RevokeSession invalidates the session bound to raw and prunes expired sessions.
func (s *AuthService) RevokeSession(ctx context.Context, raw string) error {
	if err := s.ready(); err != nil {
		return err
	}

	raw = strings.TrimSpace(raw)
	logger := s.loggerWith(ctx, "RevokeSession", "token_provided", raw != "")

	claims, err := s.tokens.Verify(raw)
	if err != nil {
		err = tokenError(err)
		logger.ErrorContext(ctx, "failed to revoke session", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	if _, err := s.sessions.RevokeSession(ctx, claims.SessionID, s.now().UTC()); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			logger.ErrorContext(ctx, "failed to revoke session", "error", ErrInvalidCredentials, "error_kind", ErrorKind(ErrInvalidCredentials))
			return ErrInvalidCredentials
		}
		logger.ErrorContext(ctx, "failed to revoke session", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	if err := s.sessions.DeleteExpiredSessions(ctx, s.now().UTC()); err != nil {
		logger.ErrorContext(ctx, "failed to prune expired sessions", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.With("session_id", claims.SessionID).InfoContext(ctx, "session revoked")
	return nil
}

// ValidateSession checks the token signature and expiry, then the session
// row, then the user row, and returns the actor with the user's current role.
func (s *AuthService) ValidateSession(ctx context.Context, raw string) (actor authz.Actor, err error) {
	if err = s.ready(); err != nil {
		return
	}

	raw = strings.TrimSpace(raw)
	logger := s.loggerWith(ctx, "ValidateSession", "token_provided", raw != "")
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "session validation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("actor_id", actor.ID).DebugContext(ctx, "session validated")
	}()

	var user persistence.User
	if _, user, err = s.activeSession(ctx, raw); err != nil {
		return
	}
	actor = authz.Actor{ID: user.ID, Role: user.Role}
	return
}

// activeSession resolves raw to a live session and its user.
func (s *AuthService) activeSession(ctx context.Context, raw string) (persistence.Session, persistence.User, error) {
	if raw == "" {
		return persistence.Session{}, persistence.User{}, ErrInvalidCredentials
	}

	claims, err := s.tokens.Verify(raw)
	if err != nil {
		return persistence.Session{}, persistence.User{}, tokenError(err)
	}

	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Session{}, persistence.User{}, ErrInvalidCredentials
		}
		return persistence.Session{}, persistence.User{}, fmt.Errorf("get session: %w", err)
	}
	if session.UserID != claims.Subject {
		return persistence.Session{}, persistence.User{}, ErrInvalidCredentials
	}

	now := s.now()
	if session.RevokedAt != nil && !session.RevokedAt.IsZero() {
		return persistence.Session{}, persistence.User{}, ErrSessionRevoked
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(now) {
		return persistence.Session{}, persistence.User{}, ErrSessionExpired
	}

	user, err := s.credentials.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return persistence.Session{}, persistence.User{}, ErrInvalidCredentials
		}
		return persistence.Session{}, persistence.User{}, fmt.Errorf("get user: %w", err)
	}
	return session, user, nil
}

func tokenError(err error) error {
	if errors.Is(err, token.ErrExpired) {
		return ErrSessionExpired
	}
	return ErrInvalidCredentials
}

package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/rental-broker/internal/persistence"
)

// SessionRepository implements persistence.SessionRepository on SQL.
type SessionRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const sessionColumns = `id, user_id, fingerprint, expires_at, revoked_at, created_at, updated_at`

type sessionRow struct {
	ID          string         `db:"id"`
	UserID      string         `db:"user_id"`
	Fingerprint string         `db:"fingerprint"`
	ExpiresAt   string         `db:"expires_at"`
	RevokedAt   sql.NullString `db:"revoked_at"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
}

func (row sessionRow) toSession() (persistence.Session, error) {
	session := persistence.Session{
		ID:          row.ID,
		UserID:      row.UserID,
		Fingerprint: row.Fingerprint,
	}
	var err error
	if session.ExpiresAt, err = parseTime("expires_at", row.ExpiresAt); err != nil {
		return persistence.Session{}, err
	}
	if session.RevokedAt, err = parseNullTime("revoked_at", row.RevokedAt); err != nil {
		return persistence.Session{}, err
	}
	if session.CreatedAt, err = parseTime("created_at", row.CreatedAt); err != nil {
		return persistence.Session{}, err
	}
	if session.UpdatedAt, err = parseTime("updated_at", row.UpdatedAt); err != nil {
		return persistence.Session{}, err
	}
	return session, nil
}

// CreateSession stores a new session for a user
func (r *SessionRepository) CreateSession(ctx context.Context, session persistence.Session) (persistence.Session, error) {
	if session.ID == "" || session.UserID == "" {
		return persistence.Session{}, persistence.ErrConstraintViolation
	}
	session.Fingerprint = strings.TrimSpace(session.Fingerprint)

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.helper.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.Fingerprint,
		formatTime(session.ExpiresAt),
		formatNullTime(session.RevokedAt),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	return r.GetSession(ctx, session.ID)
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	var row sessionRow
	if err := r.helper.Get(ctx, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id); err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	return row.toSession()
}

// UpdateSession rewrites the mutable session columns
func (r *SessionRepository) UpdateSession(ctx context.Context, session persistence.Session) (persistence.Session, error) {
	query := `
		UPDATE sessions
		SET fingerprint = ?, expires_at = ?, revoked_at = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.helper.Exec(ctx, query,
		strings.TrimSpace(session.Fingerprint),
		formatTime(session.ExpiresAt),
		formatNullTime(session.RevokedAt),
		formatTime(session.UpdatedAt),
		session.ID,
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	if err := requireRow(result); err != nil {
		return persistence.Session{}, err
	}
	return r.GetSession(ctx, session.ID)
}

// RevokeSession marks a session as revoked
func (r *SessionRepository) RevokeSession(ctx context.Context, id string, revokedAt time.Time) (persistence.Session, error) {
	at := formatTime(revokedAt)
	result, err := r.helper.Exec(ctx,
		`UPDATE sessions SET revoked_at = ?, updated_at = ? WHERE id = ?`,
		at, at, id,
	)
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	if err := requireRow(result); err != nil {
		return persistence.Session{}, err
	}
	return r.GetSession(ctx, id)
}

// DeleteExpiredSessions removes sessions that expired at or before reference
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, reference time.Time) error {
	_, err := r.helper.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(reference))
	return r.mapper.MapError(err)
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

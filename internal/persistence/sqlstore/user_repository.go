package sqlstore

import (
	"context"
	"fmt"

	"github.com/example/rental-broker/internal/authz"
	"github.com/example/rental-broker/internal/persistence"
)

// UserRepository implements persistence.UserRepository on SQL.
type UserRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

var _ persistence.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new user repository
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const userColumns = `id, email, display_name, password_hash, role, created_at, updated_at`

type userRow struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	DisplayName  string `db:"display_name"`
	PasswordHash string `db:"password_hash"`
	Role         string `db:"role"`
	CreatedAt    string `db:"created_at"`
	UpdatedAt    string `db:"updated_at"`
}

func (row userRow) toUser() (persistence.User, error) {
	role, err := authz.ParseRole(row.Role)
	if err != nil || string(role) != row.Role {
		return persistence.User{}, fmt.Errorf("%w: role %q", persistence.ErrUnknownEnum, row.Role)
	}
	user := persistence.User{
		ID:           row.ID,
		Email:        row.Email,
		DisplayName:  row.DisplayName,
		PasswordHash: row.PasswordHash,
		Role:         role,
	}
	if user.CreatedAt, err = parseTime("created_at", row.CreatedAt); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime("updated_at", row.UpdatedAt); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}

// CreateUser inserts a new user
func (r *UserRepository) CreateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" || user.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}
	if err := persistence.CheckUser(user); err != nil {
		return err
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.helper.Exec(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		string(user.Role),
		formatTime(user.CreatedAt),
		formatTime(user.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// UpdateUser updates the mutable columns of an existing user
func (r *UserRepository) UpdateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" || user.PasswordHash == "" {
		return persistence.ErrConstraintViolation
	}
	if err := persistence.CheckUser(user); err != nil {
		return err
	}

	query := `
		UPDATE users
		SET email = ?, display_name = ?, password_hash = ?, role = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.helper.Exec(ctx, query,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		string(user.Role),
		formatTime(user.UpdatedAt),
		user.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email address
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	if email == "" {
		return persistence.User{}, persistence.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg string) (persistence.User, error) {
	var row userRow
	if err := r.helper.Get(ctx, &row, query, arg); err != nil {
		return persistence.User{}, r.mapper.MapError(err)
	}
	return row.toUser()
}

// ListUsers returns all users ordered by creation timestamp then ID
func (r *UserRepository) ListUsers(ctx context.Context) ([]persistence.User, error) {
	var rows []userRow
	if err := r.helper.Select(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC`); err != nil {
		return nil, r.mapper.MapError(err)
	}

	users := make([]persistence.User, 0, len(rows))
	for _, row := range rows {
		user, err := row.toUser()
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", row.ID, err)
		}
		users = append(users, user)
	}
	return users, nil
}

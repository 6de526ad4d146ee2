package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"portal_go/internal/domain"
)

const userColumns = `id, full_name, email, role, hashed_password, is_active, created_at`

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ domain.UserRepository = (*UserRepo)(nil)

// Create inserts u. An empty ID is replaced by a new UUID.
func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleStandard
	}
	u.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email, role, hashed_password, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.FullName, u.Email, u.Role, u.HashedPassword, u.IsActive, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepo) ListExcept(ctx context.Context, excludeID string) ([]*domain.User, error) {
	return r.listUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id != ? AND is_active = 1
		ORDER BY full_name ASC
	`, excludeID)
}

func (r *UserRepo) ListByRole(ctx context.Context, role string) ([]*domain.User, error) {
	return r.listUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = ? AND is_active = 1
		ORDER BY full_name ASC
	`, role)
}

func (r *UserRepo) listUsers(ctx context.Context, query string, arg any) ([]*domain.User, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.Role, &u.HashedPassword, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepo) scanUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	u := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.FullName, &u.Email, &u.Role, &u.HashedPassword, &u.IsActive, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

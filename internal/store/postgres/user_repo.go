package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleStandard
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, full_name, email, role, hashed_password, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`, u.ID, u.FullName, u.Email, u.Role, u.HashedPassword, u.IsActive,
	).Scan(&u.CreatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *UserRepo) ListExcept(ctx context.Context, excludeID string) ([]*domain.User, error) {
	return r.listUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id <> $1 AND is_active = TRUE
		ORDER BY full_name ASC
	`, excludeID)
}

func (r *UserRepo) ListByRole(ctx context.Context, role string) ([]*domain.User, error) {
	return r.listUsers(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role = $1 AND is_active = TRUE
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

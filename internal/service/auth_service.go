package service

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"

	"portal_go/internal/domain"
	"portal_go/internal/security"
)

// minPasswordLen matches the portal's signup form.
const minPasswordLen = 8

// AuthService handles registration, login and the admin bootstrap account.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
	logger *slog.Logger
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
		logger: logger.With("component", "auth"),
	}
}

type RegisterInput struct {
	FullName string
	Email    string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type TokenResponse struct {
	AccessToken string
	TokenType   string
	User        *domain.User
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", domain.Validation("a valid email is required")
	}
	return email, nil
}

// Register creates a standard account. Admin accounts only come from
// EnsureAdmin.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		return nil, domain.Validation("full name is required")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLen {
		return nil, domain.Validation("password must be at least 8 characters")
	}
	if len(in.Password) > security.MaxPasswordBytes {
		return nil, domain.Validation("password must be at most 72 bytes")
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, domain.Internal("check email", err)
	}
	if existing != nil {
		return nil, domain.Conflict("email already registered")
	}

	return s.create(ctx, fullName, email, in.Password, domain.RoleStandard)
}

func (s *AuthService) create(ctx context.Context, fullName, email, password, role string) (*domain.User, error) {
	hashed, err := s.hash.Hash(password)
	if err != nil {
		return nil, domain.Internal("hash password", err)
	}
	user := &domain.User{
		FullName:       fullName,
		Email:          email,
		Role:           role,
		HashedPassword: hashed,
		IsActive:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, domain.Internal("create user", err)
	}
	return user, nil
}

// Login checks the credentials and issues a session token whose subject is
// the user id.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, domain.Internal("get user", err)
	}
	if user == nil || !user.IsActive {
		return nil, domain.Authentication("incorrect email or password")
	}
	if !s.hash.Matches(in.Password, user.HashedPassword) {
		return nil, domain.Authentication("incorrect email or password")
	}

	token, err := s.tokens.CreateForUser(user.ID)
	if err != nil {
		return nil, domain.Internal("create token", err)
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}

// EnsureAdmin creates the bootstrap admin account unless the email is taken.
func (s *AuthService) EnsureAdmin(ctx context.Context, fullName, email, password string) (*domain.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, domain.Internal("check admin email", err)
	}
	if existing != nil {
		if !existing.IsAdmin() {
			s.logger.Warn("admin email belongs to a non-admin account", "email", email)
		}
		return existing, nil
	}
	if fullName == "" {
		fullName = "Portal Admin"
	}
	u, err := s.create(ctx, fullName, email, password, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin account created", "email", email, "user_id", u.ID)
	return u, nil
}

package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal_go/internal/domain"
	"portal_go/internal/security"
	"portal_go/internal/service"
)

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	if u.ID == "" {
		u.ID = "generated-id"
	}
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) ListExcept(ctx context.Context, excludeID string) ([]*domain.User, error) {
	return nil, nil
}

func (m *MockUserRepo) ListByRole(ctx context.Context, role string) ([]*domain.User, error) {
	return nil, nil
}

func newAuthService(repo *MockUserRepo) (*service.AuthService, *security.TokenService) {
	tokens := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4) // low cost for tests
	return service.NewAuthService(repo, tokens, hasher, nil), tokens
}

func TestRegister(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)

		repo.On("GetByEmail", mock.Anything, "new@example.com").Return(nil, nil)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Email == "new@example.com" && u.Role == domain.RoleStandard && u.HashedPassword != "Password1!"
		})).Return(nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			FullName: "New User",
			Email:    "  New@Example.com ",
			Password: "Password1!",
		})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", user.Email)
		assert.True(t, user.IsActive)
		repo.AssertExpectations(t)
	})

	t.Run("EmailTaken", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)

		repo.On("GetByEmail", mock.Anything, "existing@example.com").Return(&domain.User{Email: "existing@example.com"}, nil)

		user, err := svc.Register(context.Background(), service.RegisterInput{
			FullName: "Someone",
			Email:    "existing@example.com",
			Password: "Password1!",
		})
		assert.Nil(t, user)
		assert.ErrorIs(t, err, domain.ErrConflict)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("Invalid", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)

		_, err := svc.Register(context.Background(), service.RegisterInput{FullName: "x", Email: "not-an-email", Password: "Password1!"})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = svc.Register(context.Background(), service.RegisterInput{FullName: "x", Email: "a@b.com", Password: "short"})
		assert.ErrorIs(t, err, domain.ErrValidation)

		_, err = svc.Register(context.Background(), service.RegisterInput{FullName: "x", Email: "a@b.com", Password: strings.Repeat("p", 73)})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("RepoFailureIsInternal", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)

		repo.On("GetByEmail", mock.Anything, "a@b.com").Return(nil, errors.New("db down"))
		_, err := svc.Register(context.Background(), service.RegisterInput{FullName: "x", Email: "a@b.com", Password: "Password1!"})
		assert.Equal(t, domain.CodeInternal, domain.CodeOf(err))
	})
}

func TestLogin(t *testing.T) {
	hasher := security.NewPasswordHasher(4)
	hashed, err := hasher.Hash("Password1!")
	require.NoError(t, err)
	stored := &domain.User{ID: "user-1", Email: "a@b.com", HashedPassword: hashed, IsActive: true}

	t.Run("IssuesTokenForUserID", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, tokens := newAuthService(repo)
		repo.On("GetByEmail", mock.Anything, "a@b.com").Return(stored, nil)

		res, err := svc.Login(context.Background(), service.LoginInput{Email: "A@b.com", Password: "Password1!"})
		require.NoError(t, err)
		assert.Equal(t, "bearer", res.TokenType)

		sub, err := tokens.Verify(res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "user-1", sub)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)
		repo.On("GetByEmail", mock.Anything, "a@b.com").Return(stored, nil)

		_, err := svc.Login(context.Background(), service.LoginInput{Email: "a@b.com", Password: "nope"})
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})

	t.Run("UnknownOrInactive", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)
		repo.On("GetByEmail", mock.Anything, "ghost@b.com").Return(nil, nil)
		repo.On("GetByEmail", mock.Anything, "off@b.com").Return(&domain.User{ID: "u", HashedPassword: hashed}, nil)

		_, err := svc.Login(context.Background(), service.LoginInput{Email: "ghost@b.com", Password: "Password1!"})
		assert.ErrorIs(t, err, domain.ErrAuthentication)
		_, err = svc.Login(context.Background(), service.LoginInput{Email: "off@b.com", Password: "Password1!"})
		assert.ErrorIs(t, err, domain.ErrAuthentication)
	})
}

func TestEnsureAdmin(t *testing.T) {
	t.Run("CreatesWhenMissing", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)
		repo.On("GetByEmail", mock.Anything, "admin@portal.test").Return(nil, nil)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Role == domain.RoleAdmin
		})).Return(nil)

		u, err := svc.EnsureAdmin(context.Background(), "", "admin@portal.test", "Password1!")
		require.NoError(t, err)
		assert.True(t, u.IsAdmin())
		assert.Equal(t, "Portal Admin", u.FullName)
	})

	t.Run("KeepsExisting", func(t *testing.T) {
		repo := new(MockUserRepo)
		svc, _ := newAuthService(repo)
		existing := &domain.User{ID: "a1", Email: "admin@portal.test", Role: domain.RoleAdmin}
		repo.On("GetByEmail", mock.Anything, "admin@portal.test").Return(existing, nil)

		u, err := svc.EnsureAdmin(context.Background(), "Admin", "admin@portal.test", "Password1!")
		require.NoError(t, err)
		assert.Same(t, existing, u)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

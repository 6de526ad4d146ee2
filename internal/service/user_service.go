package service

import (
	"context"

	"portal_go/internal/domain"
)

// UserService is the read-only user directory the messaging layer consults.
type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

// LookupPrincipal resolves an authenticated principal id. Unknown and
// inactive accounts are both reported as NotFound.
func (s *UserService) LookupPrincipal(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, domain.Internal("look up user", err)
	}
	if u == nil || !u.IsActive {
		return nil, domain.NotFound("user not found")
	}
	return u, nil
}

package user

import (
	"context"

	"log/slog"

	"github.com/splax/placeshare/internal/apperr"
	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/repository"
)

// Service serves user directory reads.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// New returns a user service.
func New(users repository.UserRepository, logger *slog.Logger) Service {
	return Service{users: users, logger: logger}
}

// List returns every user without credentials.
func (s Service) List(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, apperr.E(apperr.StoreUnavailable, "Fetching users failed, please try again later.", err)
	}
	for i := range users {
		users[i].PasswordHash = nil
	}
	return users, nil
}

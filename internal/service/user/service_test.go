package user

import (
	"context"
	"errors"
	"testing"

	"github.com/splax/placeshare/internal/apperr"
	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/pkg/logger"
)

type stubUsers struct {
	users []domain.User
	err   error
}

func (s stubUsers) CreateUser(context.Context, *domain.User) error { return nil }
func (s stubUsers) GetUserByEmail(context.Context, string) (*domain.User, error) {
	return nil, errors.New("not implemented")
}
func (s stubUsers) GetUserByID(context.Context, domain.UserID) (*domain.User, error) {
	return nil, errors.New("not implemented")
}
func (s stubUsers) ListUsers(context.Context) ([]domain.User, error) { return s.users, s.err }

func TestListStripsPasswordHash(t *testing.T) {
	svc := New(stubUsers{users: []domain.User{{ID: "u1", PasswordHash: []byte("leak")}}}, logger.Discard())
	users, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].PasswordHash != nil {
		t.Fatalf("password hash must not be returned: %+v", users)
	}
}

func TestListWrapsStoreFailure(t *testing.T) {
	svc := New(stubUsers{err: errors.New("connection refused")}, logger.Discard())
	if _, err := svc.List(context.Background()); !apperr.Is(err, apperr.StoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}

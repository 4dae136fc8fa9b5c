package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/placeshare/internal/apperr"
	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/repository"
)

const (
	minPasswordLength  = 6
	maxPasswordBytes   = 72
	invalidCredentials = "Invalid credentials, could not log you in."
)

// SignupInput carries the fields of a new account. Image is a stored media reference.
type SignupInput struct {
	Name     string
	Email    string
	Password string
	Image    string
}

// Session is returned by signup and login.
type Session struct {
	UserID domain.UserID
	Email  string
	Token  string
}

// Identity is the authenticated caller behind a bearer token.
type Identity struct {
	UserID domain.UserID
	Email  string
}

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	creds  Credentials
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, creds Credentials, logger *slog.Logger) Service {
	return Service{users: users, creds: creds, logger: logger, now: time.Now}
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateSignup checks the signup fields without touching storage.
func ValidateSignup(input SignupInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return apperr.E(apperr.Validation, "Invalid inputs passed, please check your data.", errors.New("name is required"))
	}
	if !validEmail(NormalizeEmail(input.Email)) {
		return apperr.E(apperr.Validation, "Invalid inputs passed, please check your data.", errors.New("email is malformed"))
	}
	if len(input.Password) < minPasswordLength {
		return apperr.E(apperr.Validation, "Invalid inputs passed, please check your data.", errors.New("password too short"))
	}
	// bcrypt only hashes the first 72 bytes and refuses longer input.
	if len(input.Password) > maxPasswordBytes {
		return apperr.E(apperr.Validation, "Password must not exceed 72 bytes.", errors.New("password too long"))
	}
	return nil
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && strings.Contains(email[at+1:], ".")
}

// Signup registers a new user and returns a session for them.
func (s Service) Signup(ctx context.Context, input SignupInput) (*domain.User, Session, error) {
	if err := ValidateSignup(input); err != nil {
		return nil, Session{}, err
	}
	email := NormalizeEmail(input.Email)

	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, Session{}, apperr.E(apperr.Conflict, "User exists already, please login instead.", nil)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, Session{}, apperr.E(apperr.StoreUnavailable, "Signing up failed, please try again later.", err)
	}

	hash, err := s.creds.Hash(input.Password)
	if err != nil {
		return nil, Session{}, err
	}
	user := &domain.User{
		ID:           domain.UserID(uuid.NewString()),
		Name:         strings.TrimSpace(input.Name),
		Email:        email,
		PasswordHash: hash,
		Image:        input.Image,
		Places:       []domain.PlaceID{},
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, Session{}, apperr.E(apperr.Conflict, "User exists already, please login instead.", err)
		}
		return nil, Session{}, apperr.E(apperr.StoreUnavailable, "Signing up failed, please try again later.", err)
	}
	token, err := s.creds.IssueToken(string(user.ID), user.Email)
	if err != nil {
		return nil, Session{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, Session{UserID: user.ID, Email: user.Email, Token: token}, nil
}

// Login authenticates a user by email and password.
func (s Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Session{}, apperr.E(apperr.Unauthorized, invalidCredentials, nil)
		}
		return Session{}, apperr.E(apperr.StoreUnavailable, "Logging in failed, please try again later.", err)
	}
	ok, err := s.creds.Verify(password, user.PasswordHash)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, apperr.E(apperr.Unauthorized, invalidCredentials, nil)
	}
	token, err := s.creds.IssueToken(string(user.ID), user.Email)
	if err != nil {
		return Session{}, apperr.E(apperr.Internal, "Logging in failed, please try again later.", err)
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return Session{UserID: user.ID, Email: user.Email, Token: token}, nil
}

// Authorize validates a bearer token and returns the identity it carries.
func (s Service) Authorize(token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, apperr.E(apperr.Unauthorized, "Authentication failed!", errors.New("token required"))
	}
	claims, err := s.creds.VerifyToken(trimmed)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: domain.UserID(claims.UserID), Email: claims.Email}, nil
}

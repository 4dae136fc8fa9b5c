package auth

import (
	"errors"
	"time"

	"github.com/splax/placeshare/internal/apperr"
	"github.com/splax/placeshare/pkg/crypto"
	jwtpkg "github.com/splax/placeshare/pkg/jwt"
)

// Credentials hashes passwords and signs bearer tokens.
type Credentials struct {
	secret string
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

// NewCredentials returns Credentials signing with secret. A zero ttl means one hour.
func NewCredentials(secret string, ttl time.Duration, cost int) Credentials {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return Credentials{secret: secret, ttl: ttl, cost: cost, now: time.Now}
}

// WithClock returns a copy reading time from now.
func (c Credentials) WithClock(now func() time.Time) Credentials {
	c.now = now
	return c
}

// TTL is the lifetime of issued tokens.
func (c Credentials) TTL() time.Duration {
	return c.ttl
}

// Hash derives a bcrypt hash for password.
func (c Credentials) Hash(password string) ([]byte, error) {
	hash, err := crypto.HashPassword(password, c.cost)
	if err != nil {
		return nil, apperr.E(apperr.Internal, "Could not create user, please try again.", err)
	}
	return hash, nil
}

// Verify reports whether password matches hash.
func (c Credentials) Verify(password string, hash []byte) (bool, error) {
	ok, err := crypto.ComparePassword(hash, password)
	if err != nil {
		return false, apperr.E(apperr.Internal, "Could not log you in, please check your credentials and try again.", err)
	}
	return ok, nil
}

// IssueToken signs a token for the user.
func (c Credentials) IssueToken(userID, email string) (string, error) {
	token, err := jwtpkg.GenerateToken(userID, email, c.secret, c.ttl, c.now())
	if err != nil {
		return "", apperr.E(apperr.Internal, "Signing up failed, please try again later.", err)
	}
	return token, nil
}

// VerifyToken validates token and returns its claims.
func (c Credentials) VerifyToken(token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.Parse(token, c.secret, c.now())
	if err != nil {
		if errors.Is(err, jwtpkg.ErrExpired) {
			return nil, apperr.E(apperr.Unauthorized, "Authentication expired, please log in again.", err)
		}
		return nil, apperr.E(apperr.Unauthorized, "Authentication failed!", err)
	}
	return claims, nil
}

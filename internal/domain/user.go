package domain

import "time"

// UserID identifies a user account.
type UserID string

// User represents a registered account.
type User struct {
	ID           UserID
	Name         string
	Email        string
	PasswordHash []byte
	Image        string
	Places       []PlaceID
	CreatedAt    time.Time
}

// Owns reports whether placeID is in the user's place set.
func (u User) Owns(placeID PlaceID) bool {
	for _, id := range u.Places {
		if id == placeID {
			return true
		}
	}
	return false
}

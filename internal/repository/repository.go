package repository

import (
	"context"

	"github.com/splax/placeshare/internal/domain"
)

// UserRepository persists user accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	// ListUsers never loads password hashes.
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// PlaceRepository serves place reads outside of a transaction.
type PlaceRepository interface {
	GetPlaceByID(ctx context.Context, id domain.PlaceID) (*domain.Place, error)
	ListPlacesByCreator(ctx context.Context, userID domain.UserID) ([]domain.Place, error)
}

// PlaceTx exposes the writes that must happen inside a transaction.
type PlaceTx interface {
	InsertPlace(ctx context.Context, place *domain.Place) error
	AppendUserPlace(ctx context.Context, userID domain.UserID, placeID domain.PlaceID) error
	// LockPlace re-reads the place and holds it until the transaction ends.
	LockPlace(ctx context.Context, id domain.PlaceID) (*domain.Place, error)
	UpdatePlace(ctx context.Context, place *domain.Place) error
	RemoveUserPlace(ctx context.Context, userID domain.UserID, placeID domain.PlaceID) error
	DeletePlace(ctx context.Context, id domain.PlaceID) error
}

// Transactor runs fn atomically: either every write made through tx commits
// or none does. A non-nil error from fn rolls back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx PlaceTx) error) error
}

// Store is the full storage surface used by the API.
type Store interface {
	UserRepository
	PlaceRepository
	Transactor
	Ping(ctx context.Context) error
	Close()
}

// Package memory provides an in-process implementation of repository.Store.
//
// Transactions take an exclusive lock, run against a copy of the current
// state and swap it in only when the callback succeeds, so a failed callback
// leaves no trace. It backs STORE_DRIVER=memory and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/repository"
)

var (
	_ repository.Store   = (*Store)(nil)
	_ repository.PlaceTx = (*txView)(nil)
)

// Op names the store operations faults can be injected into.
type Op string

const (
	OpCreateUser      Op = "CreateUser"
	OpInsertPlace     Op = "InsertPlace"
	OpAppendUserPlace Op = "AppendUserPlace"
	OpLockPlace       Op = "LockPlace"
	OpUpdatePlace     Op = "UpdatePlace"
	OpRemoveUserPlace Op = "RemoveUserPlace"
	OpDeletePlace     Op = "DeletePlace"
	OpCommit          Op = "Commit"
	OpRead            Op = "Read"
)

type state struct {
	users      map[domain.UserID]domain.User
	emails     map[string]domain.UserID
	places     map[domain.PlaceID]domain.Place
	userPlaces map[domain.UserID][]domain.PlaceID
}

func newState() *state {
	return &state{
		users:      make(map[domain.UserID]domain.User),
		emails:     make(map[string]domain.UserID),
		places:     make(map[domain.PlaceID]domain.Place),
		userPlaces: make(map[domain.UserID][]domain.PlaceID),
	}
}

func (s *state) clone() *state {
	next := newState()
	for k, v := range s.users {
		next.users[k] = v
	}
	for k, v := range s.emails {
		next.emails[k] = v
	}
	for k, v := range s.places {
		next.places[k] = v
	}
	for k, v := range s.userPlaces {
		next.userPlaces[k] = append([]domain.PlaceID(nil), v...)
	}
	return next
}

// Store keeps users and places in memory.
type Store struct {
	mu      sync.RWMutex
	data    *state
	faultMu sync.Mutex
	faults  map[Op]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: newState(), faults: make(map[Op]error)}
}

// FailNext makes the next call of op return err. Used to exercise rollback paths.
func (s *Store) FailNext(op Op, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[op] = err
}

// fault consumes an injected failure.
func (s *Store) fault(op Op) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// CreateUser inserts user, rejecting duplicate emails.
func (s *Store) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(OpCreateUser); err != nil {
		return err
	}
	if _, exists := s.data.emails[user.Email]; exists {
		return repository.ErrConflict
	}
	if _, exists := s.data.users[user.ID]; exists {
		return repository.ErrConflict
	}
	stored := *user
	stored.PasswordHash = append([]byte(nil), user.PasswordHash...)
	stored.Places = nil
	s.data.users[user.ID] = stored
	s.data.emails[user.Email] = user.ID
	return nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpRead); err != nil {
		return nil, err
	}
	id, ok := s.data.emails[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.data.userCopy(id, true), nil
}

// GetUserByID fetches a user by identifier.
func (s *Store) GetUserByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpRead); err != nil {
		return nil, err
	}
	if _, ok := s.data.users[id]; !ok {
		return nil, repository.ErrNotFound
	}
	return s.data.userCopy(id, true), nil
}

// ListUsers returns users ordered by creation, without password hashes.
func (s *Store) ListUsers(context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpRead); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(s.data.users))
	for id := range s.data.users {
		users = append(users, *s.data.userCopy(id, false))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (st *state) userCopy(id domain.UserID, withHash bool) *domain.User {
	u := st.users[id]
	if withHash {
		u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	} else {
		u.PasswordHash = nil
	}
	u.Places = append(make([]domain.PlaceID, 0, len(st.userPlaces[id])), st.userPlaces[id]...)
	return &u
}

// GetPlaceByID fetches a place.
func (s *Store) GetPlaceByID(_ context.Context, id domain.PlaceID) (*domain.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpRead); err != nil {
		return nil, err
	}
	place, ok := s.data.places[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &place, nil
}

// ListPlacesByCreator returns places owned by userID, oldest first.
func (s *Store) ListPlacesByCreator(_ context.Context, userID domain.UserID) ([]domain.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fault(OpRead); err != nil {
		return nil, err
	}
	places := make([]domain.Place, 0)
	for _, place := range s.data.places {
		if place.Creator == userID {
			places = append(places, place)
		}
	}
	sort.Slice(places, func(i, j int) bool {
		if places[i].CreatedAt.Equal(places[j].CreatedAt) {
			return places[i].ID < places[j].ID
		}
		return places[i].CreatedAt.Before(places[j].CreatedAt)
	})
	return places, nil
}

// InTx runs fn against a private copy of the state and publishes it on success.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.PlaceTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &txView{store: s, data: s.data.clone()}
	if err := fn(ctx, view); err != nil {
		return err
	}
	if err := s.fault(OpCommit); err != nil {
		return err
	}
	s.data = view.data
	return nil
}

// txView is the PlaceTx handed to InTx callbacks. The store lock is held.
type txView struct {
	store *Store
	data  *state
}

func (v *txView) InsertPlace(_ context.Context, place *domain.Place) error {
	if err := v.store.fault(OpInsertPlace); err != nil {
		return err
	}
	if _, exists := v.data.places[place.ID]; exists {
		return repository.ErrConflict
	}
	if _, ok := v.data.users[place.Creator]; !ok {
		return repository.ErrNotFound
	}
	v.data.places[place.ID] = *place
	return nil
}

func (v *txView) AppendUserPlace(_ context.Context, userID domain.UserID, placeID domain.PlaceID) error {
	if err := v.store.fault(OpAppendUserPlace); err != nil {
		return err
	}
	if _, ok := v.data.users[userID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := v.data.places[placeID]; !ok {
		return repository.ErrNotFound
	}
	for _, owned := range v.data.userPlaces {
		for _, id := range owned {
			if id == placeID {
				return repository.ErrConflict
			}
		}
	}
	v.data.userPlaces[userID] = append(v.data.userPlaces[userID], placeID)
	return nil
}

func (v *txView) LockPlace(_ context.Context, id domain.PlaceID) (*domain.Place, error) {
	if err := v.store.fault(OpLockPlace); err != nil {
		return nil, err
	}
	place, ok := v.data.places[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &place, nil
}

func (v *txView) UpdatePlace(_ context.Context, place *domain.Place) error {
	if err := v.store.fault(OpUpdatePlace); err != nil {
		return err
	}
	current, ok := v.data.places[place.ID]
	if !ok {
		return repository.ErrNotFound
	}
	current.Title = place.Title
	current.Description = place.Description
	v.data.places[place.ID] = current
	return nil
}

func (v *txView) RemoveUserPlace(_ context.Context, userID domain.UserID, placeID domain.PlaceID) error {
	if err := v.store.fault(OpRemoveUserPlace); err != nil {
		return err
	}
	owned := v.data.userPlaces[userID]
	for i, id := range owned {
		if id == placeID {
			v.data.userPlaces[userID] = append(owned[:i:i], owned[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (v *txView) DeletePlace(_ context.Context, id domain.PlaceID) error {
	if err := v.store.fault(OpDeletePlace); err != nil {
		return err
	}
	if _, ok := v.data.places[id]; !ok {
		return repository.ErrNotFound
	}
	for _, owned := range v.data.userPlaces {
		for _, placeID := range owned {
			if placeID == id {
				return repository.ErrConflict
			}
		}
	}
	delete(v.data.places, id)
	return nil
}

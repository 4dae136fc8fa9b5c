package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/repository"
)

func seedUser(t *testing.T, s *Store, id domain.UserID, email string) {
	t.Helper()
	err := s.CreateUser(context.Background(), &domain.User{
		ID:           id,
		Name:         string(id),
		Email:        email,
		PasswordHash: []byte("hash"),
		Image:        "uploads/images/" + string(id) + ".png",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func createPlace(ctx context.Context, s *Store, place domain.Place) error {
	return s.InTx(ctx, func(ctx context.Context, tx repository.PlaceTx) error {
		if err := tx.InsertPlace(ctx, &place); err != nil {
			return err
		}
		return tx.AppendUserPlace(ctx, place.Creator, place.ID)
	})
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@x.com")
	err := s.CreateUser(context.Background(), &domain.User{ID: "u2", Email: "a@x.com"})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestListUsersOmitsPasswordHash(t *testing.T) {
	s := New()
	seedUser(t, s, "u1", "a@x.com")
	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].PasswordHash != nil {
		t.Fatalf("unexpected users: %+v", users)
	}
	full, err := s.GetUserByEmail(context.Background(), "a@x.com")
	if err != nil || string(full.PasswordHash) != "hash" {
		t.Fatalf("lookup by email should carry hash: %+v %v", full, err)
	}
}

func TestInTxCommitsBothWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u1", "a@x.com")
	if err := createPlace(ctx, s, domain.Place{ID: "p1", Title: "t", Creator: "u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	user, _ := s.GetUserByID(ctx, "u1")
	if !user.Owns("p1") {
		t.Fatalf("expected u1 to own p1, got %v", user.Places)
	}
	if _, err := s.GetPlaceByID(ctx, "p1"); err != nil {
		t.Fatalf("expected place stored: %v", err)
	}
}

func TestInTxRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u1", "a@x.com")
	boom := errors.New("boom")
	s.FailNext(OpAppendUserPlace, boom)

	err := createPlace(ctx, s, domain.Place{ID: "p1", Title: "t", Creator: "u1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if _, err := s.GetPlaceByID(ctx, "p1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("place must not survive rollback, got %v", err)
	}
	user, _ := s.GetUserByID(ctx, "u1")
	if len(user.Places) != 0 {
		t.Fatalf("user places must be empty, got %v", user.Places)
	}
}

func TestCommitFailureDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u1", "a@x.com")
	s.FailNext(OpCommit, errors.New("commit lost"))
	if err := createPlace(ctx, s, domain.Place{ID: "p1", Creator: "u1"}); err == nil {
		t.Fatalf("expected commit failure")
	}
	if _, err := s.GetPlaceByID(ctx, "p1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("place must not be visible, got %v", err)
	}
}

func TestDeletePlaceRequiresLinkRemovalFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedUser(t, s, "u1", "a@x.com")
	if err := createPlace(ctx, s, domain.Place{ID: "p1", Creator: "u1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := s.InTx(ctx, func(ctx context.Context, tx repository.PlaceTx) error {
		return tx.DeletePlace(ctx, "p1")
	})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected dangling reference to be refused, got %v", err)
	}
}

func TestListPlacesByCreatorEmpty(t *testing.T) {
	s := New()
	places, err := s.ListPlacesByCreator(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if places == nil || len(places) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", places)
	}
}

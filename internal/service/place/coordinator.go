package place

import (
	"context"
	"errors"

	"github.com/splax/placeshare/internal/apperr"
	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/repository"
)

// Coordinator performs the place writes that touch more than one record.
// Each method runs in a single transaction: readers see all of it or none.
type Coordinator struct {
	tx repository.Transactor
}

// NewCoordinator returns a Coordinator over tx.
func NewCoordinator(tx repository.Transactor) Coordinator {
	return Coordinator{tx: tx}
}

// CreatePlace inserts place and appends it to its creator's place set.
func (c Coordinator) CreatePlace(ctx context.Context, place *domain.Place) error {
	err := c.tx.InTx(ctx, func(ctx context.Context, tx repository.PlaceTx) error {
		if err := tx.InsertPlace(ctx, place); err != nil {
			return err
		}
		return tx.AppendUserPlace(ctx, place.Creator, place.ID)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.E(apperr.NotFound, "Could not find user for provided id.", err)
	}
	return apperr.E(apperr.TransactionFailed, "Creating place failed, please try again.", err)
}

// UpdatePlace applies patch after confirming caller owns the place.
func (c Coordinator) UpdatePlace(ctx context.Context, id domain.PlaceID, caller domain.UserID, patch domain.PlacePatch) (*domain.Place, error) {
	var updated domain.Place
	err := c.tx.InTx(ctx, func(ctx context.Context, tx repository.PlaceTx) error {
		current, err := lockOwned(ctx, tx, id, caller, "You are not allowed to edit this place.")
		if err != nil {
			return err
		}
		updated = patch.Apply(*current)
		return tx.UpdatePlace(ctx, &updated)
	})
	if err != nil {
		return nil, classify(err, "Something went wrong, could not update place.")
	}
	return &updated, nil
}

// DeletePlace removes the place and its membership in the creator's place
// set, returning the deleted record so the caller can release its image.
func (c Coordinator) DeletePlace(ctx context.Context, id domain.PlaceID, caller domain.UserID) (*domain.Place, error) {
	var deleted *domain.Place
	err := c.tx.InTx(ctx, func(ctx context.Context, tx repository.PlaceTx) error {
		current, err := lockOwned(ctx, tx, id, caller, "You are not allowed to delete this place.")
		if err != nil {
			return err
		}
		if err := tx.RemoveUserPlace(ctx, current.Creator, current.ID); err != nil {
			return err
		}
		if err := tx.DeletePlace(ctx, current.ID); err != nil {
			return err
		}
		deleted = current
		return nil
	})
	if err != nil {
		return nil, classify(err, "Something went wrong, could not delete place.")
	}
	return deleted, nil
}

func lockOwned(ctx context.Context, tx repository.PlaceTx, id domain.PlaceID, caller domain.UserID, forbidden string) (*domain.Place, error) {
	current, err := tx.LockPlace(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "Could not find place for this id.", err)
		}
		return nil, err
	}
	if current.Creator != caller {
		return nil, apperr.E(apperr.Forbidden, forbidden, nil)
	}
	return current, nil
}

// classify keeps not-found and ownership failures and reports everything
// else as a failed transaction.
func classify(err error, message string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.NotFound, apperr.Forbidden, apperr.Validation:
			return appErr
		}
	}
	return apperr.E(apperr.TransactionFailed, message, err)
}

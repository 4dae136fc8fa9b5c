package place

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/placeshare/internal/apperr"
	"github.com/splax/placeshare/internal/domain"
	"github.com/splax/placeshare/internal/repository"
)

const (
	minDescriptionLength = 5
	invalidInputs        = "Invalid inputs passed, please check your data."
)

// MediaDiscarder releases stored images. Discard must not block.
type MediaDiscarder interface {
	Discard(ref string)
}

// Publisher fans committed place events out to subscribers.
type Publisher interface {
	Publish(event domain.PlaceEvent)
}

// CreateInput holds the attributes of a new place. Image is a stored media reference.
type CreateInput struct {
	Title       string
	Description string
	Address     string
	Image       string
	Creator     domain.UserID
}

// Service orchestrates place reads and writes.
type Service struct {
	places repository.PlaceRepository
	users  repository.UserRepository
	coord  Coordinator
	media  MediaDiscarder
	events Publisher
	logger *slog.Logger
	now    func() time.Time
}

// New returns a place service. events may be nil.
func New(places repository.PlaceRepository, users repository.UserRepository, tx repository.Transactor, media MediaDiscarder, events Publisher, logger *slog.Logger) Service {
	return Service{
		places: places,
		users:  users,
		coord:  NewCoordinator(tx),
		media:  media,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// ListByUser returns the places created by userID. An empty result is NotFound.
func (s Service) ListByUser(ctx context.Context, userID domain.UserID) ([]domain.Place, error) {
	places, err := s.places.ListPlacesByCreator(ctx, userID)
	if err != nil {
		return nil, apperr.E(apperr.StoreUnavailable, "Fetching places failed, please try again later.", err)
	}
	if len(places) == 0 {
		return nil, apperr.E(apperr.NotFound, "Could not find places for the provided user id.", nil)
	}
	return places, nil
}

// Get returns a single place.
func (s Service) Get(ctx context.Context, id domain.PlaceID) (*domain.Place, error) {
	place, err := s.places.GetPlaceByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "Could not find place for the provided id.", err)
		}
		return nil, apperr.E(apperr.StoreUnavailable, "Something went wrong, could not find a place.", err)
	}
	return place, nil
}

// ValidateCreate checks a new place's fields without touching storage.
func ValidateCreate(input CreateInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return apperr.E(apperr.Validation, invalidInputs, errors.New("title is required"))
	}
	if !validDescription(input.Description) {
		return apperr.E(apperr.Validation, invalidInputs, errors.New("description too short"))
	}
	if strings.TrimSpace(input.Address) == "" {
		return apperr.E(apperr.Validation, invalidInputs, errors.New("address is required"))
	}
	if strings.TrimSpace(input.Image) == "" {
		return apperr.E(apperr.Validation, "An image is required.", nil)
	}
	return nil
}

// ValidatePatch checks the fields a patch provides.
func ValidatePatch(patch domain.PlacePatch) error {
	if patch.Empty() {
		return apperr.E(apperr.Validation, invalidInputs, errors.New("nothing to update"))
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return apperr.E(apperr.Validation, invalidInputs, errors.New("title cannot be empty"))
	}
	if patch.Description != nil && !validDescription(*patch.Description) {
		return apperr.E(apperr.Validation, invalidInputs, errors.New("description too short"))
	}
	return nil
}

func validDescription(description string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(description)) >= minDescriptionLength
}

// Create stores a new place owned by input.Creator.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Place, error) {
	if err := ValidateCreate(input); err != nil {
		return nil, err
	}
	if _, err := s.users.GetUserByID(ctx, input.Creator); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.E(apperr.NotFound, "Could not find user for provided id.", err)
		}
		return nil, apperr.E(apperr.StoreUnavailable, "Creating place failed, please try again.", err)
	}

	place := &domain.Place{
		ID:          domain.PlaceID(uuid.NewString()),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Address:     strings.TrimSpace(input.Address),
		Image:       input.Image,
		Creator:     input.Creator,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.coord.CreatePlace(ctx, place); err != nil {
		return nil, err
	}
	s.logger.Info("place created", "place_id", place.ID, "user_id", place.Creator)
	s.publish(domain.PlaceEventCreated, place)
	return place, nil
}

// Update changes the title and/or description of a place the caller owns.
func (s Service) Update(ctx context.Context, id domain.PlaceID, caller domain.UserID, patch domain.PlacePatch) (*domain.Place, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}
	trimmed := domain.PlacePatch{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		trimmed.Title = &title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		trimmed.Description = &description
	}
	place, err := s.coord.UpdatePlace(ctx, id, caller, trimmed)
	if err != nil {
		if apperr.Is(err, apperr.Forbidden) {
			s.logger.Warn("place update refused", "place_id", id, "user_id", caller)
		}
		return nil, err
	}
	s.logger.Info("place updated", "place_id", place.ID, "user_id", caller)
	s.publish(domain.PlaceEventUpdated, place)
	return place, nil
}

// Delete removes a place the caller owns. Its image is discarded once the
// deletion has committed; a failed discard does not undo the deletion.
func (s Service) Delete(ctx context.Context, id domain.PlaceID, caller domain.UserID) error {
	place, err := s.coord.DeletePlace(ctx, id, caller)
	if err != nil {
		if apperr.Is(err, apperr.Forbidden) {
			s.logger.Warn("place delete refused", "place_id", id, "user_id", caller)
		}
		return err
	}
	if s.media != nil {
		s.media.Discard(place.Image)
	}
	s.logger.Info("place deleted", "place_id", place.ID, "user_id", caller)
	s.publish(domain.PlaceEventDeleted, place)
	return nil
}

func (s Service) publish(eventType string, place *domain.Place) {
	if s.events == nil {
		return
	}
	s.events.Publish(domain.PlaceEvent{
		Type:       eventType,
		PlaceID:    place.ID,
		CreatorID:  place.Creator,
		OccurredAt: s.now().UTC(),
	})
}

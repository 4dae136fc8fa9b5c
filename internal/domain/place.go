package domain

import "time"

// PlaceID identifies a place record.
type PlaceID string

// Place is a user-owned catalog entry.
type Place struct {
	ID          PlaceID
	Title       string
	Description string
	Address     string
	Image       string
	Creator     UserID
	CreatedAt   time.Time
}

// PlacePatch carries the mutable fields of a place. Nil fields are left alone.
type PlacePatch struct {
	Title       *string
	Description *string
}

// Empty reports whether the patch changes nothing.
func (p PlacePatch) Empty() bool {
	return p.Title == nil && p.Description == nil
}

// Apply returns a copy of place with the patch applied.
func (p PlacePatch) Apply(place Place) Place {
	if p.Title != nil {
		place.Title = *p.Title
	}
	if p.Description != nil {
		place.Description = *p.Description
	}
	return place
}

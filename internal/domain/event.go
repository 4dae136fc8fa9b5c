package domain

import "time"

// Place event types broadcast after a committed write.
const (
	PlaceEventCreated = "place.created"
	PlaceEventUpdated = "place.updated"
	PlaceEventDeleted = "place.deleted"
)

// PlaceEvent describes a committed place mutation.
type PlaceEvent struct {
	Type       string    `json:"type"`
	PlaceID    PlaceID   `json:"placeId"`
	CreatorID  UserID    `json:"creatorId"`
	OccurredAt time.Time `json:"occurredAt"`
}

package httpx

import (
	"time"

	"github.com/splax/placeshare/internal/domain"
)

type placeView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Address     string    `json:"address"`
	Image       string    `json:"image"`
	Creator     string    `json:"creator"`
	CreatedAt   time.Time `json:"createdAt"`
}

// userView deliberately has no password field.
type userView struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Image  string   `json:"image"`
	Places []string `json:"places"`
}

type sessionView struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

func newPlaceView(p domain.Place) placeView {
	return placeView{
		ID:          string(p.ID),
		Title:       p.Title,
		Description: p.Description,
		Address:     p.Address,
		Image:       p.Image,
		Creator:     string(p.Creator),
		CreatedAt:   p.CreatedAt.UTC(),
	}
}

func newPlaceViews(places []domain.Place) []placeView {
	views := make([]placeView, 0, len(places))
	for _, p := range places {
		views = append(views, newPlaceView(p))
	}
	return views
}

func newUserViews(users []domain.User) []userView {
	views := make([]userView, 0, len(users))
	for _, u := range users {
		places := make([]string, 0, len(u.Places))
		for _, id := range u.Places {
			places = append(places, string(id))
		}
		views = append(views, userView{
			ID:     string(u.ID),
			Name:   u.Name,
			Email:  u.Email,
			Image:  u.Image,
			Places: places,
		})
	}
	return views
}

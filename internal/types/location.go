package types

import "time"

// Location is a catalog entry for a place of interest. The ID is a
// URL-safe slug derived from the Vietnamese name.
type Location struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// LocationMatch pairs a catalog location with its similarity to a query
// embedding. Similarity is 1 - cosine distance, higher is closer.
type LocationMatch struct {
	Location
	Similarity float64 `json:"similarity"`
}

// TravelLogEntry records that a user visited a location, with an
// optional free-form note.
type TravelLogEntry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	LocationID string    `json:"location_id"`
	Name       string    `json:"name,omitempty"`
	Address    string    `json:"address,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	Note       string    `json:"note"`
	VisitedAt  time.Time `json:"visited_at"`
}

package models

import "time"

// Event is a sport/social event as stored by the data layer.
// The discovery engine treats it as read-only input.
type Event struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Category         string      `json:"category"`
	Description      string      `json:"description,omitempty"`
	LocationName     string      `json:"location_name,omitempty"`
	Coordinates      Coordinates `json:"coordinates"`
	ParticipantCount int         `json:"participant_count"`
	MaxParticipants  int         `json:"max_participants"`
	IsJoined         bool        `json:"is_joined"`
	StartsAt         time.Time   `json:"starts_at"`
}

// IsFull reports whether the event has reached its participant limit.
// A non-positive limit means the event is unbounded.
func (e Event) IsFull() bool {
	return e.MaxParticipants > 0 && e.ParticipantCount >= e.MaxParticipants
}

// AnnotatedEvent is an Event plus its distance from a reference coordinate.
type AnnotatedEvent struct {
	Event

	DistanceKm    float64 `json:"distance_km"`
	DistanceLabel string  `json:"distance_label"`
}

package discovery_test

import (
	"github.com/UnknownOlympus/meydan/internal/models"
)

// alaaddinTepesi is the reference point used across the engine tests.
var alaaddinTepesi = models.Coordinates{Latitude: 37.8717, Longitude: 32.4930}

// kmNorth returns a point roughly km kilometres north of alaaddinTepesi.
func kmNorth(km float64) models.Coordinates {
	return models.Coordinates{Latitude: alaaddinTepesi.Latitude + km/111.195, Longitude: alaaddinTepesi.Longitude}
}

func scenarioEvents() []models.Event {
	return []models.Event{
		{ID: "A", Title: "Sabah koşusu", Category: "Koşu", Coordinates: kmNorth(0.8), MaxParticipants: 10},
		{ID: "B", Title: "Tenis maçı", Category: "Tenis", Coordinates: kmNorth(4.1), MaxParticipants: 4},
	}
}

func ids(events []models.AnnotatedEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}

	return out
}

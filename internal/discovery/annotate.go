// Package discovery implements the proximity-based event filtering engine.
// All functions are pure: events and settings in, a fresh slice out.
package discovery

import (
	"fmt"
	"math"

	"github.com/UnknownOlympus/meydan/internal/geo"
	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/samber/lo"
)

// unknownDistanceLabel is shown for events whose coordinates are malformed.
const unknownDistanceLabel = "n/a"

// Annotate computes the distance of every event from ref.
// The result has the same length and order as events; events is not modified.
func Annotate(events []models.Event, ref models.Coordinates) []models.AnnotatedEvent {
	return lo.Map(events, func(event models.Event, _ int) models.AnnotatedEvent {
		distance := geo.DistanceKm(ref, event.Coordinates)

		return models.AnnotatedEvent{
			Event:         event,
			DistanceKm:    distance,
			DistanceLabel: FormatDistance(distance),
		}
	})
}

// FormatDistance renders a distance rounded to one decimal with a km suffix.
func FormatDistance(km float64) string {
	if math.IsNaN(km) || math.IsInf(km, 0) {
		return unknownDistanceLabel
	}

	return fmt.Sprintf("%.1f km", km)
}

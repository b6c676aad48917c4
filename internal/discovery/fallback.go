package discovery

import (
	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/samber/lo"
)

// Fallback decides what to show when a recompute produced an empty list.
//
//	nearby  -> every annotated event, unfiltered by category and distance
//	nearest -> the single globally nearest event
//	joined  -> nothing; an empty joined list is a valid answer
//
// The second return value reports whether the mode has a fallback at all. The
// fallback list itself may still be empty when there are no events; that is terminal.
func Fallback(mode models.FilterMode, events []models.Event, ref models.Coordinates) ([]models.AnnotatedEvent, bool) {
	switch mode {
	case models.ModeJoined:
		return nil, false
	case models.ModeNearest:
		annotated := Dedup(Annotate(events, ref))
		if len(annotated) == 0 {
			return []models.AnnotatedEvent{}, true
		}
		nearest := lo.MinBy(annotated, func(a, b models.AnnotatedEvent) bool {
			return ByDistance(a, b) < 0
		})

		return []models.AnnotatedEvent{nearest}, true
	default:
		annotated := Dedup(Annotate(events, ref))
		if annotated == nil {
			annotated = []models.AnnotatedEvent{}
		}

		return annotated, true
	}
}

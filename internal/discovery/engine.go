package discovery

import (
	"slices"

	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/samber/lo"
)

// Filter annotates events against ref and applies the plan for settings.
// Identical inputs always produce an identical, order-stable result. An empty
// result is returned as an empty, non-nil slice.
func Filter(events []models.Event, ref models.Coordinates, settings models.FilterSettings) []models.AnnotatedEvent {
	return Apply(Dedup(Annotate(events, ref)), BuildPlan(settings))
}

// Apply runs the predicates, comparator and limit of plan over annotated.
// annotated is not modified.
func Apply(annotated []models.AnnotatedEvent, plan Plan) []models.AnnotatedEvent {
	result := slices.Clone(annotated)
	if result == nil {
		result = []models.AnnotatedEvent{}
	}

	for _, keep := range plan.Predicates {
		result = lo.Filter(result, func(e models.AnnotatedEvent, _ int) bool {
			return keep(e)
		})
	}

	if plan.Compare != nil {
		slices.SortStableFunc(result, plan.Compare)
	}

	if plan.Limit > 0 && len(result) > plan.Limit {
		result = result[:plan.Limit]
	}

	return result
}

// Dedup removes events with a repeated ID. First occurrence wins.
func Dedup(annotated []models.AnnotatedEvent) []models.AnnotatedEvent {
	return lo.UniqBy(annotated, func(e models.AnnotatedEvent) string {
		return e.ID
	})
}

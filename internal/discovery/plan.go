package discovery

import (
	"cmp"
	"math"

	"github.com/UnknownOlympus/meydan/internal/models"
)

// Predicate reports whether an annotated event stays in the result.
type Predicate func(models.AnnotatedEvent) bool

// Plan is the ordered description of how a mode selects events.
// A nil Compare keeps the annotated order; a zero Limit means no limit.
type Plan struct {
	Mode       models.FilterMode
	Predicates []Predicate
	Compare    func(a, b models.AnnotatedEvent) int
	Limit      int
}

// BuildPlan translates a settings snapshot into a Plan.
// Unknown modes are treated as nearby.
func BuildPlan(settings models.FilterSettings) Plan {
	switch settings.Mode {
	case models.ModeJoined:
		return Plan{
			Mode:       models.ModeJoined,
			Predicates: []Predicate{IsJoined},
		}
	case models.ModeNearest:
		// Category and threshold are ignored on purpose: this answers "what is nearest to me".
		return Plan{
			Mode:    models.ModeNearest,
			Compare: ByDistance,
			Limit:   1,
		}
	default:
		plan := Plan{Mode: models.ModeNearby}
		if settings.HasThreshold() {
			plan.Predicates = append(plan.Predicates, WithinDistance(settings.MaxDistanceKm))
		}
		if category := settings.CategoryFilter(); category != models.CategoryAll {
			plan.Predicates = append(plan.Predicates, InCategory(category))
		}

		return plan
	}
}

// IsJoined keeps events the user has joined.
func IsJoined(e models.AnnotatedEvent) bool {
	return e.IsJoined
}

// WithinDistance keeps events no farther than maxKm. NaN distances never match.
func WithinDistance(maxKm float64) Predicate {
	return func(e models.AnnotatedEvent) bool {
		return e.DistanceKm <= maxKm
	}
}

// InCategory keeps events of exactly the given category.
func InCategory(category string) Predicate {
	return func(e models.AnnotatedEvent) bool {
		return e.Category == category
	}
}

// ByDistance orders events by ascending distance, with unknown (NaN) distances last.
func ByDistance(a, b models.AnnotatedEvent) int {
	aNaN, bNaN := math.IsNaN(a.DistanceKm), math.IsNaN(b.DistanceKm)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	}

	return cmp.Compare(a.DistanceKm, b.DistanceKm)
}

package models

import (
	"fmt"
	"strings"
)

// FilterMode selects which events are displayed and how they are picked.
type FilterMode string

const (
	// ModeNearby shows events within the distance threshold and selected category.
	ModeNearby FilterMode = "nearby"
	// ModeNearest shows the single closest event, ignoring category and threshold.
	ModeNearest FilterMode = "nearest"
	// ModeJoined shows only events the user has joined.
	ModeJoined FilterMode = "joined"
)

// CategoryAll disables category filtering.
const CategoryAll = "ALL"

// ParseFilterMode parses a mode name, case-insensitively.
func ParseFilterMode(s string) (FilterMode, error) {
	switch FilterMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNearby:
		return ModeNearby, nil
	case ModeNearest:
		return ModeNearest, nil
	case ModeJoined:
		return ModeJoined, nil
	default:
		return ModeNearby, fmt.Errorf("invalid filter mode: %s (must be nearby, nearest, or joined)", s)
	}
}

// FilterSettings is a snapshot of the user's filter choices.
// A MaxDistanceKm that is not a positive number means "no threshold".
type FilterSettings struct {
	Mode          FilterMode `json:"mode"`
	Category      string     `json:"category"`
	MaxDistanceKm float64    `json:"max_distance_km"`
}

// DefaultSettings returns the settings a fresh screen starts with.
func DefaultSettings() FilterSettings {
	return FilterSettings{Mode: ModeNearby, Category: CategoryAll}
}

// HasThreshold reports whether the distance threshold is in effect.
func (s FilterSettings) HasThreshold() bool {
	return s.MaxDistanceKm > 0
}

// CategoryFilter returns the category to match, or CategoryAll when filtering is disabled.
func (s FilterSettings) CategoryFilter() string {
	if s.Category == "" || strings.EqualFold(s.Category, CategoryAll) {
		return CategoryAll
	}

	return s.Category
}

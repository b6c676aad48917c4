// Package locator resolves the reference coordinate of a discovery session.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/meydan/internal/geocoding"
	"github.com/UnknownOlympus/meydan/internal/models"
)

var (
	// ErrPermissionDenied is returned when the client refused to share its location.
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrInvalidCoordinates is returned when a provider produced an unusable point.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// DefaultFallback is Alaaddin Tepesi, Konya. It is used whenever live location is unavailable.
var DefaultFallback = models.Coordinates{Latitude: 37.8717, Longitude: 32.4930}

// Locator resolves the current user position.
type Locator interface {
	Locate(ctx context.Context) (models.Coordinates, error)
}

// Static returns coordinates reported by the client device.
type Static models.Coordinates

// Locate implements Locator.
func (s Static) Locate(_ context.Context) (models.Coordinates, error) {
	return models.Coordinates(s), nil
}

// Denied models a client that refused location access.
type Denied struct{}

// Locate implements Locator.
func (Denied) Locate(_ context.Context) (models.Coordinates, error) {
	return models.Coordinates{}, ErrPermissionDenied
}

// Geocoded resolves a free-text address through a geocoding provider.
type Geocoded struct {
	Provider geocoding.Provider
	Address  string
}

// Locate implements Locator.
func (g Geocoded) Locate(ctx context.Context) (models.Coordinates, error) {
	coords, err := g.Provider.Geocode(ctx, g.Address)
	if err != nil {
		return models.Coordinates{}, fmt.Errorf("failed to geocode %q: %w", g.Address, err)
	}

	return *coords, nil
}

// Resolve asks loc for a position and substitutes fallback on any failure.
// The second result reports whether fallback was used. Failures are logged, never returned.
func Resolve(
	ctx context.Context,
	loc Locator,
	fallback models.Coordinates,
	log *slog.Logger,
) (models.Coordinates, bool) {
	if loc == nil {
		return fallback, true
	}

	coords, err := loc.Locate(ctx)
	if err == nil && !coords.Valid() {
		err = fmt.Errorf("%w: %v", ErrInvalidCoordinates, coords)
	}
	if err != nil {
		log.WarnContext(ctx, "Location unavailable, using fallback coordinate",
			"error", err,
			"fallback_lat", fallback.Latitude,
			"fallback_lon", fallback.Longitude)
		return fallback, true
	}

	return coords, false
}

package geocoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/meydan/internal/models"
	"googlemaps.github.io/maps"
)

// Location types reported by Google, from most to least precise.
const (
	locationRooftop     = "ROOFTOP"
	locationApproximate = "APPROXIMATE"
)

var (
	// ErrEmptyResponse is returned when Google finds nothing for the address.
	ErrEmptyResponse = errors.New("google maps returned no results")
	// ErrGoogleInvalidCoords is returned when the best match lies outside WGS84 ranges.
	ErrGoogleInvalidCoords = errors.New("google maps returned invalid coordinates")
)

// GoogleAPIClient is the part of *maps.Client used by GoogleProvider.
type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleProvider resolves venue addresses with the Google Maps Geocoding API.
type GoogleProvider struct {
	client   GoogleAPIClient
	language string
	region   string
	log      *slog.Logger
}

// NewGoogleProvider creates a provider on top of an existing Google Maps client.
// region is a ccTLD bias such as "tr"; empty disables biasing.
func NewGoogleProvider(client GoogleAPIClient, language, region string, log *slog.Logger) *GoogleProvider {
	return &GoogleProvider{client: client, language: language, region: region, log: log}
}

// Geocode returns the most precise match for address. Approximate matches
// (a whole city or district) are used only when nothing better exists.
func (gp *GoogleProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	req := &maps.GeocodingRequest{Address: address, Language: gp.language, Region: gp.region}
	results, err := gp.client.Geocode(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to geocode address: %w", err)
	}
	if len(results) == 0 {
		return nil, ErrEmptyResponse
	}

	best := pickGoogleResult(results)
	coords := models.Coordinates{
		Latitude:  best.Geometry.Location.Lat,
		Longitude: best.Geometry.Location.Lng,
	}
	if !coords.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrGoogleInvalidCoords, coords)
	}

	gp.log.DebugContext(ctx, "Address geocoded by Google",
		"address", address,
		"match", best.FormattedAddress,
		"location_type", best.Geometry.LocationType,
		"partial", best.PartialMatch)

	return &coords, nil
}

func pickGoogleResult(results []maps.GeocodingResult) maps.GeocodingResult {
	for _, result := range results {
		if result.Geometry.LocationType == locationRooftop {
			return result
		}
	}
	for _, result := range results {
		if result.Geometry.LocationType != locationApproximate && !result.PartialMatch {
			return result
		}
	}

	return results[0]
}

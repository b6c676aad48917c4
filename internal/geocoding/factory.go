package geocoding

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"googlemaps.github.io/maps"
)

// ProviderType names a geocoding backend.
type ProviderType string

const (
	// ProviderTypeGoogle is the Google Maps Geocoding API. Requires an API key.
	ProviderTypeGoogle ProviderType = "google"
	// ProviderTypeNominatim is OpenStreetMap Nominatim. Free, one request per second.
	ProviderTypeNominatim ProviderType = "nominatim"
)

// ErrMissingAPIKey is returned when a provider that needs credentials has none.
var ErrMissingAPIKey = errors.New("API key is required for Google provider")

// ProviderConfig holds configuration for creating a geocoding provider.
type ProviderConfig struct {
	Type         ProviderType // Case-insensitive provider name
	APIKey       string       // Google only
	RateLimit    int          // Requests per second; 0 keeps the provider default
	CountryCodes string       // Comma separated ISO codes; the first one biases Google, all narrow Nominatim
	Language     string       // Preferred result language
	Logger       *slog.Logger
}

type constructor func(config ProviderConfig) (Provider, error)

var constructors = map[ProviderType]constructor{
	ProviderTypeGoogle:    newGoogleProvider,
	ProviderTypeNominatim: newNominatimProvider,
}

// NewProvider creates the provider selected by config.Type.
func NewProvider(config ProviderConfig) (Provider, error) {
	config.Type = ProviderType(strings.ToLower(strings.TrimSpace(string(config.Type))))
	build, ok := constructors[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}

	provider, err := build(config)
	if err != nil {
		return nil, err
	}

	return provider, nil
}

func newGoogleProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	options := []maps.ClientOption{maps.WithAPIKey(config.APIKey)}
	if config.RateLimit > 0 {
		options = append(options, maps.WithRateLimit(config.RateLimit))
	}

	client, err := maps.NewClient(options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	region, _, _ := strings.Cut(config.CountryCodes, ",")

	return NewGoogleProvider(client, config.Language, strings.TrimSpace(region), config.Logger), nil
}

func newNominatimProvider(config ProviderConfig) (Provider, error) {
	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = 1
	}

	return NewNominatimProvider(config.CountryCodes, config.Language, rateLimit, config.Logger), nil
}

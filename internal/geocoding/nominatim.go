package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/UnknownOlympus/meydan/internal/models"
	"golang.org/x/time/rate"
)

// NominatimBaseURL is the public OpenStreetMap search endpoint.
const NominatimBaseURL = "https://nominatim.openstreetmap.org/search"

// nominatimUserAgent must identify the application per the Nominatim usage policy.
const nominatimUserAgent = "Meydan-Event-Discovery/1.0 (https://github.com/UnknownOlympus/meydan)"

// NominatimProvider implements the Provider interface using OpenStreetMap's Nominatim API.
type NominatimProvider struct {
	client       HTTPClient
	baseURL      string
	countryCodes string
	language     string
	limiter      *rate.Limiter
	log          *slog.Logger
}

// HTTPClient defines the interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type nominatimResponse struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

// nominatimCandidates is how many matches are requested per search.
const nominatimCandidates = 5

// Common errors for Nominatim provider.
var (
	ErrNominatimEmptyAddress  = errors.New("nominatim provider got empty address")
	ErrNominatimEmptyResponse = errors.New("nominatim API returned empty response")
	ErrNominatimInvalidCoords = errors.New("nominatim API returned invalid coordinates")
)

// NewNominatimProvider creates a Nominatim provider talking to the public endpoint.
func NewNominatimProvider(countryCodes, language string, rateLimit int, log *slog.Logger) *NominatimProvider {
	const timeout = 10 * time.Second

	return NewNominatimProviderWithClient(
		&http.Client{Timeout: timeout},
		NominatimBaseURL,
		countryCodes,
		language,
		rate.NewLimiter(rate.Limit(rateLimit), 1),
		log,
	)
}

// NewNominatimProviderWithClient allows injecting the HTTP client, endpoint and limiter.
func NewNominatimProviderWithClient(
	client HTTPClient,
	baseURL string,
	countryCodes string,
	language string,
	limiter *rate.Limiter,
	log *slog.Logger,
) *NominatimProvider {
	return &NominatimProvider{
		client:       client,
		baseURL:      baseURL,
		countryCodes: countryCodes,
		language:     language,
		limiter:      limiter,
		log:          log,
	}
}

// Geocode converts a venue address to coordinates. Nominatim returns up to
// nominatimCandidates matches; the most important one with a usable position wins.
func (np *NominatimProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	if address == "" {
		return nil, ErrNominatimEmptyAddress
	}

	if err := np.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	reqURL, err := np.searchURL(address)
	if err != nil {
		return nil, err
	}

	results, err := np.search(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNominatimEmptyResponse
	}

	best, err := pickNominatimResult(results)
	if err != nil {
		return nil, err
	}

	np.log.DebugContext(ctx, "Address geocoded by Nominatim",
		"address", address,
		"match", best.name,
		"importance", best.importance,
		"lat", best.coords.Latitude,
		"lon", best.coords.Longitude)

	return &best.coords, nil
}

func (np *NominatimProvider) searchURL(address string) (string, error) {
	reqURL, err := url.Parse(np.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %w", err)
	}

	query := reqURL.Query()
	query.Set("q", address)
	query.Set("format", "jsonv2")
	query.Set("limit", strconv.Itoa(nominatimCandidates))
	if np.countryCodes != "" {
		query.Set("countrycodes", np.countryCodes)
	}
	if np.language != "" {
		query.Set("accept-language", np.language)
	}
	reqURL.RawQuery = query.Encode()

	return reqURL.String(), nil
}

func (np *NominatimProvider) search(ctx context.Context, reqURL string) ([]nominatimResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", nominatimUserAgent)

	resp, err := np.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute geocoding request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		np.log.ErrorContext(ctx, "Nominatim API error", "status", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("nominatim API returned status %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResponse
	if err = json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode nominatim response: %w", err)
	}

	return results, nil
}

type nominatimCandidate struct {
	name       string
	importance float64
	coords     models.Coordinates
}

// pickNominatimResult returns the valid candidate with the highest importance.
// Ties keep the order Nominatim returned.
func pickNominatimResult(results []nominatimResponse) (nominatimCandidate, error) {
	var (
		best    nominatimCandidate
		found   bool
		lastErr error
	)

	for _, result := range results {
		candidate, err := result.candidate()
		if err != nil {
			lastErr = err
			continue
		}
		if !found || candidate.importance > best.importance {
			best, found = candidate, true
		}
	}

	if !found {
		return nominatimCandidate{}, lastErr
	}

	return best, nil
}

func (r nominatimResponse) candidate() (nominatimCandidate, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return nominatimCandidate{}, fmt.Errorf("%w: invalid latitude: %s", ErrNominatimInvalidCoords, r.Lat)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return nominatimCandidate{}, fmt.Errorf("%w: invalid longitude: %s", ErrNominatimInvalidCoords, r.Lon)
	}

	coords := models.Coordinates{Latitude: lat, Longitude: lon}
	if !coords.Valid() {
		return nominatimCandidate{}, fmt.Errorf("%w: out of range: %v", ErrNominatimInvalidCoords, coords)
	}

	return nominatimCandidate{name: r.DisplayName, importance: r.Importance, coords: coords}, nil
}

// Package geocoding resolves free-text addresses into coordinates. It backs the
// address-based location provider used when a client cannot share its device location.
package geocoding

import (
	"context"
	"time"

	"github.com/UnknownOlympus/meydan/internal/metrics"
	"github.com/UnknownOlympus/meydan/internal/models"
)

// Provider turns a free-text address into a single point.
type Provider interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
}

// InstrumentedProvider records request duration and errors of the wrapped provider.
type InstrumentedProvider struct {
	next    Provider
	name    string
	metrics *metrics.Metrics
}

// NewInstrumentedProvider wraps next so that every call is observed under the given provider name.
func NewInstrumentedProvider(next Provider, name string, metrics *metrics.Metrics) *InstrumentedProvider {
	return &InstrumentedProvider{next: next, name: name, metrics: metrics}
}

// Geocode delegates to the wrapped provider.
func (ip *InstrumentedProvider) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	startTime := time.Now()
	coords, err := ip.next.Geocode(ctx, address)
	ip.metrics.ProviderSeconds.WithLabelValues(ip.name).Observe(time.Since(startTime).Seconds())
	if err != nil {
		ip.metrics.ProviderErrors.Inc()
	}

	return coords, err
}

package locator_test

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/UnknownOlympus/meydan/internal/locator"
	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/UnknownOlympus/meydan/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	ctx := t.Context()
	logger := slog.Default()
	fallback := locator.DefaultFallback

	t.Run("static coordinates", func(t *testing.T) {
		want := models.Coordinates{Latitude: 41.0082, Longitude: 28.9784}

		got, usedFallback := locator.Resolve(ctx, locator.Static(want), fallback, logger)

		assert.Equal(t, want, got)
		assert.False(t, usedFallback)
	})

	t.Run("permission denied", func(t *testing.T) {
		got, usedFallback := locator.Resolve(ctx, locator.Denied{}, fallback, logger)

		assert.Equal(t, fallback, got)
		assert.True(t, usedFallback)
	})

	t.Run("nil locator", func(t *testing.T) {
		got, usedFallback := locator.Resolve(ctx, nil, fallback, logger)

		assert.Equal(t, fallback, got)
		assert.True(t, usedFallback)
	})

	t.Run("invalid coordinates", func(t *testing.T) {
		for _, bad := range []models.Coordinates{
			{Latitude: math.NaN(), Longitude: 32},
			{Latitude: 91, Longitude: 32},
			{Latitude: 37, Longitude: math.Inf(1)},
		} {
			got, usedFallback := locator.Resolve(ctx, locator.Static(bad), fallback, logger)

			assert.Equal(t, fallback, got)
			assert.True(t, usedFallback)
		}
	})

	t.Run("geocoded address", func(t *testing.T) {
		provider := mocks.NewProvider(t)
		want := &models.Coordinates{Latitude: 37.87, Longitude: 32.48}
		provider.On("Geocode", ctx, "Meram, Konya").Return(want, nil).Once()

		got, usedFallback := locator.Resolve(ctx, locator.Geocoded{Provider: provider, Address: "Meram, Konya"}, fallback, logger)

		assert.Equal(t, *want, got)
		assert.False(t, usedFallback)
	})

	t.Run("geocoding failure", func(t *testing.T) {
		provider := mocks.NewProvider(t)
		provider.On("Geocode", ctx, "nowhere").Return(nil, assert.AnError).Once()

		got, usedFallback := locator.Resolve(ctx, locator.Geocoded{Provider: provider, Address: "nowhere"}, fallback, logger)

		assert.Equal(t, fallback, got)
		assert.True(t, usedFallback)
	})
}

func TestLocators(t *testing.T) {
	_, err := locator.Denied{}.Locate(context.Background())
	require.ErrorIs(t, err, locator.ErrPermissionDenied)

	provider := mocks.NewProvider(t)
	provider.On("Geocode", context.Background(), "x").Return(nil, assert.AnError).Once()
	_, err = locator.Geocoded{Provider: provider, Address: "x"}.Locate(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), `failed to geocode "x"`)
}

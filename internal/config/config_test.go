package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Flaque/filet"
	"github.com/UnknownOlympus/meydan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MustLoadFromEnv(t *testing.T) {
	t.Setenv("MEYDAN_ENV", "local")
	t.Setenv("MEYDAN_DEBOUNCE", "150ms")
	t.Setenv("MEYDAN_PROVIDER_KEY", "testAPIKey")
	t.Setenv("MEYDAN_PROVIDER_TYPE", "google")
	t.Setenv("MEYDAN_CORS_ORIGINS", "https://meydan.app, http://localhost:3000")
	t.Setenv("MEYDAN_DEFAULT_DISTANCE_KM", "2.5")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("DB_HOST", "testHost")
	t.Setenv("DB_PORT", "12345")
	t.Setenv("DB_USERNAME", "admin")
	t.Setenv("DB_PASSWORD", "adminpass")
	t.Setenv("DB_NAME", "testName")

	cfg := config.MustLoad()

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "testHost", cfg.Database.Host)
	assert.Equal(t, "12345", cfg.Database.Port)
	assert.Equal(t, "admin", cfg.Database.User)
	assert.Equal(t, "adminpass", cfg.Database.Password)
	assert.Equal(t, "testName", cfg.Database.Name)
	assert.Equal(t, 8080, cfg.HealthPort)
	assert.Equal(t, 8000, cfg.APIPort)
	assert.Equal(t, []string{"https://meydan.app", "http://localhost:3000"}, cfg.CORSOrigins)
	assert.Equal(t, "google", cfg.Provider.Type)
	assert.Equal(t, "testAPIKey", cfg.Provider.APIKey)
	assert.Equal(t, 150*time.Millisecond, cfg.Discovery.Debounce)
	assert.InDelta(t, 2.5, cfg.Discovery.DistanceKm, 1e-9)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func Test_MustLoadDefaults(t *testing.T) {
	cfg := config.MustLoadFiles(filepath.Join(t.TempDir(), "missing.env"))

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "nominatim", cfg.Provider.Type)
	assert.Equal(t, 1, cfg.Provider.RateLimit)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 300*time.Millisecond, cfg.Discovery.Debounce)
	assert.Equal(t, "ALL", cfg.Discovery.Category)
	assert.InDelta(t, 37.8717, cfg.Discovery.FallbackLat, 1e-9)
	assert.InDelta(t, 32.4930, cfg.Discovery.FallbackLon, 1e-9)
	assert.Equal(t, 200, cfg.Discovery.EventLimit)
	assert.Equal(t, time.Minute, cfg.Discovery.RefreshInterval)
	assert.Equal(t, 30*time.Minute, cfg.Discovery.SessionTTL)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Empty(t, cfg.NATSURL)
}

func Test_MustLoadFromFile(t *testing.T) {
	defer filet.CleanUp(t)

	dir := filet.TmpDir(t, "")
	path := filepath.Join(dir, ".env")
	filet.File(t, path, "MEYDAN_EVENT_LIMIT=25\nMEYDAN_DEFAULT_CATEGORY=Koşu\nMEYDAN_SESSION_TTL=5m\n")
	// godotenv exports file values into the process; restore them after the test.
	for _, key := range []string{"MEYDAN_EVENT_LIMIT", "MEYDAN_SESSION_TTL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("MEYDAN_DEFAULT_CATEGORY", "Tenis")

	cfg := config.MustLoadFiles(path)

	assert.Equal(t, 25, cfg.Discovery.EventLimit)
	assert.Equal(t, "Tenis", cfg.Discovery.Category)
	assert.Equal(t, 5*time.Minute, cfg.Discovery.SessionTTL)
}

func TestMustLoad_DebounceError(t *testing.T) {
	t.Setenv("MEYDAN_DEBOUNCE", "error_value")

	assert.PanicsWithValue(t, "failed to parse debounce from configuration", func() {
		config.MustLoad()
	})
}

func TestMustLoad_PortError(t *testing.T) {
	t.Setenv("MEYDAN_HEALTH_PORT", "error_value")

	assert.PanicsWithValue(t, "failed to parse port for monitoring server from configuration", func() {
		config.MustLoad()
	})
}

func TestMustLoad_EventLimitError(t *testing.T) {
	t.Setenv("MEYDAN_EVENT_LIMIT", "error_value")

	assert.PanicsWithValue(t, "failed to parse event limit from configuration, must be an integer types", func() {
		config.MustLoad()
	})
}

func TestMustLoad_FallbackError(t *testing.T) {
	t.Setenv("MEYDAN_FALLBACK_LAT", "north")

	assert.PanicsWithValue(t, "failed to parse fallback latitude from configuration", func() {
		config.MustLoad()
	})
}

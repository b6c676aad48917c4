package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration settings for the discovery service.
//
// Fields:
// - Env: The current environment (local, development, production).
// - HealthPort: The port for the monitoring server (/healthz, /metrics).
// - APIPort: The port for the session API.
// - CORSOrigins: Origins allowed to call the session API.
// - Provider: Geocoding provider used for address based locations.
// - Discovery: Defaults applied to every new session.
// - NATSURL: Address of the NATS server; empty disables cross-instance updates.
// - Database: Configuration settings for the PostgreSQL database.
type Config struct {
	Env         string
	HealthPort  int
	APIPort     int
	CORSOrigins []string
	Provider    ProviderConfig
	Discovery   DiscoveryConfig
	NATSURL     string
	Database    PostgresConfig
}

// ProviderConfig selects the geocoding provider.
type ProviderConfig struct {
	Type      string // google or nominatim
	APIKey    string // required for google
	RateLimit int    // requests per second
	Language  string
	Countries string // comma separated ISO codes, nominatim only
}

// DiscoveryConfig holds the defaults of the discovery controller.
type DiscoveryConfig struct {
	Debounce        time.Duration
	DistanceKm      float64
	Category        string
	FallbackLat     float64
	FallbackLon     float64
	EventLimit      int
	RefreshInterval time.Duration
	SessionTTL      time.Duration
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string // Host is the database server address.
	Port     string // Port is the database server port.
	User     string // User is the database user.
	Password string // Password is the database user's password.
	Name     string // Name is the name of the database.
}

// MustLoad reads .env from the working directory (if present) and the process
// environment. Malformed values panic.
func MustLoad() *Config {
	return MustLoadFiles()
}

// MustLoadFiles is MustLoad with explicit dotenv files. Variables already set in
// the environment take precedence over file values.
func MustLoadFiles(files ...string) *Config {
	_ = godotenv.Load(files...)

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Env:         v.GetString("MEYDAN_ENV"),
		HealthPort:  mustInt(v, "MEYDAN_HEALTH_PORT", "failed to parse port for monitoring server from configuration"),
		APIPort:     mustInt(v, "MEYDAN_API_PORT", "failed to parse port for api server from configuration"),
		CORSOrigins: splitList(v.GetString("MEYDAN_CORS_ORIGINS")),
		Provider: ProviderConfig{
			Type:      v.GetString("MEYDAN_PROVIDER_TYPE"),
			APIKey:    v.GetString("MEYDAN_PROVIDER_KEY"),
			RateLimit: mustInt(v, "MEYDAN_PROVIDER_RATE_LIMIT", "failed to parse provider rate limit from configuration"),
			Language:  v.GetString("MEYDAN_PROVIDER_LANGUAGE"),
			Countries: v.GetString("MEYDAN_PROVIDER_COUNTRIES"),
		},
		Discovery: DiscoveryConfig{
			Debounce: mustDuration(v, "MEYDAN_DEBOUNCE", "failed to parse debounce from configuration"),
			DistanceKm: mustFloat(v, "MEYDAN_DEFAULT_DISTANCE_KM",
				"failed to parse default distance from configuration"),
			Category:    v.GetString("MEYDAN_DEFAULT_CATEGORY"),
			FallbackLat: mustFloat(v, "MEYDAN_FALLBACK_LAT", "failed to parse fallback latitude from configuration"),
			FallbackLon: mustFloat(v, "MEYDAN_FALLBACK_LON", "failed to parse fallback longitude from configuration"),
			EventLimit: mustInt(v, "MEYDAN_EVENT_LIMIT",
				"failed to parse event limit from configuration, must be an integer types"),
			RefreshInterval: mustDuration(v, "MEYDAN_REFRESH_INTERVAL",
				"failed to parse refresh interval from configuration"),
			SessionTTL: mustDuration(v, "MEYDAN_SESSION_TTL", "failed to parse session ttl from configuration"),
		},
		NATSURL: v.GetString("NATS_URL"),
		Database: PostgresConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USERNAME"),
			Password: v.GetString("DB_PASSWORD"),
			Name:     v.GetString("DB_NAME"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("MEYDAN_ENV", "production")
	v.SetDefault("MEYDAN_HEALTH_PORT", "8080")
	v.SetDefault("MEYDAN_API_PORT", "8000")
	v.SetDefault("MEYDAN_CORS_ORIGINS", "*")
	v.SetDefault("MEYDAN_PROVIDER_TYPE", "nominatim")
	v.SetDefault("MEYDAN_PROVIDER_RATE_LIMIT", "1")
	v.SetDefault("MEYDAN_PROVIDER_LANGUAGE", "tr")
	v.SetDefault("MEYDAN_PROVIDER_COUNTRIES", "tr")
	v.SetDefault("MEYDAN_DEBOUNCE", "300ms")
	v.SetDefault("MEYDAN_DEFAULT_DISTANCE_KM", "0")
	v.SetDefault("MEYDAN_DEFAULT_CATEGORY", "ALL")
	v.SetDefault("MEYDAN_FALLBACK_LAT", "37.8717")
	v.SetDefault("MEYDAN_FALLBACK_LON", "32.4930")
	v.SetDefault("MEYDAN_EVENT_LIMIT", "200")
	v.SetDefault("MEYDAN_REFRESH_INTERVAL", "1m")
	v.SetDefault("MEYDAN_SESSION_TTL", "30m")
	v.SetDefault("DB_PORT", "5432")
}

// Values are parsed by hand: viper's typed getters turn garbage into zero values.
func mustInt(v *viper.Viper, key, msg string) int {
	value, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		panic(msg)
	}

	return value
}

func mustFloat(v *viper.Viper, key, msg string) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
	if err != nil {
		panic(msg)
	}

	return value
}

func mustDuration(v *viper.Viper, key, msg string) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		panic(msg)
	}

	return value
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

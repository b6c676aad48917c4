package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnknownOlympus/meydan/internal/config"
	"github.com/UnknownOlympus/meydan/internal/geocoding"
	"github.com/UnknownOlympus/meydan/internal/metrics"
	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/UnknownOlympus/meydan/internal/notify"
	"github.com/UnknownOlympus/meydan/internal/repository"
	"github.com/UnknownOlympus/meydan/internal/server"
	"github.com/UnknownOlympus/meydan/internal/service"
	"github.com/UnknownOlympus/meydan/internal/session"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

const (
	natsMaxReconnects = 10
	natsReconnectWait = 2 * time.Second
)

// main is the entry point of the application.
func main() {
	// Create a context that will be canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()
	logger := setupLogger(cfg.Env)

	// Create a separate registry for metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	dtb, err := repository.NewDatabase(ctx,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password, cfg.Database.Name,
	)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer dtb.Close()

	repo := repository.NewRepository(dtb, logger)

	// The provider resolves sessions that report an address instead of a position.
	geoProvider, err := geocoding.NewProvider(geocoding.ProviderConfig{
		Type:         geocoding.ProviderType(cfg.Provider.Type),
		APIKey:       cfg.Provider.APIKey,
		RateLimit:    cfg.Provider.RateLimit,
		CountryCodes: cfg.Provider.Countries,
		Language:     cfg.Provider.Language,
		Logger:       logger,
	})
	if err != nil {
		log.Fatalf("Failed to create geocoding provider: %v", err)
	}
	geoProvider = geocoding.NewInstrumentedProvider(geoProvider, cfg.Provider.Type, appMetrics)
	logger.InfoContext(ctx, "Geocoding provider initialized", "type", cfg.Provider.Type)

	nc, err := notify.Connect(cfg.NATSURL, natsMaxReconnects, natsReconnectWait, logger)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	var publisher notify.Publisher
	if nc != nil {
		publisher = nc
		defer nc.Close()
	}

	origin := uuid.NewString()
	hub := session.NewHub(logger, appMetrics, repo, notify.NewNotifier(publisher, origin, logger), session.Options{
		Controller: service.ControllerOptions{
			Debounce: cfg.Discovery.Debounce,
			Fallback: models.Coordinates{Latitude: cfg.Discovery.FallbackLat, Longitude: cfg.Discovery.FallbackLon},
			Settings: models.FilterSettings{
				Mode:          models.ModeNearby,
				Category:      cfg.Discovery.Category,
				MaxDistanceKm: cfg.Discovery.DistanceKm,
			},
		},
		EventLimit:      cfg.Discovery.EventLimit,
		RefreshInterval: cfg.Discovery.RefreshInterval,
		TTL:             cfg.Discovery.SessionTTL,
	})

	if nc != nil {
		sub, listenErr := notify.Listen(nc, origin, logger, hub.HandleChange(ctx))
		if listenErr != nil {
			log.Fatalf("Failed to listen for event changes: %v", listenErr)
		}
		defer func() { _ = sub.Unsubscribe() }()
		logger.InfoContext(ctx, "Listening for event changes", "subject", notify.SubjectEventsChanged)
	}

	api := server.NewServer(logger, hub, geoProvider, cfg.CORSOrigins, cfg.APIPort)

	logger.InfoContext(ctx, "Application started. Press Ctrl+C to stop.")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return startMonitoringServer(groupCtx, logger, reg, dtb, cfg.HealthPort) })
	group.Go(func() error { return api.Run(groupCtx) })
	group.Go(func() error { return hub.Run(groupCtx) })

	if err = group.Wait(); err != nil {
		logger.ErrorContext(ctx, "Application stopped with error", "error", err)
		return
	}

	logger.InfoContext(ctx, "Application stopped gracefully.")
}

// startMonitoringServer starts an HTTP server that provides health check and metrics endpoints.
// It returns when ctx is canceled or the server fails.
//
// Parameters:
// - ctx: A context.Context for managing cancellation and timeouts.
// - log: A logger for logging server events and errors.
// - reg: A registry with Prometheus collectors.
// - dtb: A pgxpool connector for database methods (ping)
// - port: The port number on which the server will listen.
func startMonitoringServer(
	ctx context.Context,
	log *slog.Logger,
	reg *prometheus.Registry,
	dtb *pgxpool.Pool,
	port int,
) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(writer http.ResponseWriter, req *http.Request) {
		log.DebugContext(req.Context(), "Performing health checks...")
		status, body := http.StatusOK, "OK"
		if err := dtb.Ping(req.Context()); err != nil {
			status, body = http.StatusServiceUnavailable, "DB ping failed"
		}
		writer.WriteHeader(status)
		_, err := writer.Write([]byte(body))
		if err != nil {
			log.ErrorContext(req.Context(), "failed to write reply", "error", err)
		}

		log.DebugContext(req.Context(), "Health checks completed", "status", status)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.InfoContext(ctx, "Starting monitoring server", "port", port)
	readTimeout := 5
	writeTimeout := 10
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(writeTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.ErrorContext(shutdownCtx, "Monitoring server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.ErrorContext(ctx, "Monitoring server failed", "error", err)
		return fmt.Errorf("monitoring server failed: %w", err)
	}

	return nil
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelWarn,
				ReplaceAttr: dropTime,
			}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level:       slog.LevelError,
				ReplaceAttr: dropTime,
			}),
		)

		log.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}

func dropTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

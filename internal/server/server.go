// Package server exposes discovery sessions over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/UnknownOlympus/meydan/internal/geocoding"
	"github.com/UnknownOlympus/meydan/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	readTimeout     = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Server is the session API.
type Server struct {
	log      *slog.Logger
	hub      *session.Hub
	provider geocoding.Provider
	stream   StreamConfig
	upgrader websocket.Upgrader
	router   *chi.Mux
	server   *http.Server
}

// NewServer builds the router. provider may be nil, in which case sessions
// created with an address fall back to the default location.
func NewServer(
	log *slog.Logger,
	hub *session.Hub,
	provider geocoding.Provider,
	origins []string,
	port int,
) *Server {
	srv := &Server{
		log:      log,
		hub:      hub,
		provider: provider,
		stream:   DefaultStreamConfig(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(origins),
		},
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(log))
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", srv.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", srv.deleteSession)
			r.Get("/events", srv.listEvents)
			r.Put("/category", srv.setCategory)
			r.Put("/distance", srv.setDistance)
			r.Put("/mode", srv.setMode)
			r.Put("/location", srv.setLocation)
			r.Post("/events/{eventID}/participation", srv.joinEvent)
			r.Delete("/events/{eventID}/participation", srv.leaveEvent)
			r.Get("/stream", srv.streamEvents)
		})
	})

	srv.router = router
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: readTimeout,
	}

	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.InfoContext(ctx, "Starting api server", "addr", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down api server: %w", err)
	}
	s.log.InfoContext(ctx, "Api server stopped")

	return nil
}

func checkOrigin(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || lo.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(origins, origin)
	}
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.DebugContext(r.Context(), "Request served",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

// Package session keeps one discovery controller per client session and
// feeds them with events from the repository.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/UnknownOlympus/meydan/internal/locator"
	"github.com/UnknownOlympus/meydan/internal/metrics"
	"github.com/UnknownOlympus/meydan/internal/notify"
	"github.com/UnknownOlympus/meydan/internal/repository"
	"github.com/UnknownOlympus/meydan/internal/service"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or evicted session IDs.
var ErrSessionNotFound = errors.New("session not found")

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Options configures a Hub.
type Options struct {
	Controller      service.ControllerOptions
	EventLimit      int
	RefreshInterval time.Duration
	TTL             time.Duration // Idle sessions older than TTL are evicted; zero disables eviction
}

// Session binds a user to a discovery controller.
type Session struct {
	ID         string
	UserID     string
	Controller *service.Controller
	CreatedAt  time.Time

	now      func() time.Time
	mu       sync.Mutex
	lastSeen time.Time
}

// Touch marks the session as active, e.g. while a stream is open.
func (s *Session) Touch() {
	now := s.now()
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the time of the last request that used the session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSeen
}

// Hub owns all open sessions.
type Hub struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	repo     repository.Interface
	notifier *notify.Notifier
	opts     Options
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub creates an empty hub.
func NewHub(
	log *slog.Logger,
	metrics *metrics.Metrics,
	repo repository.Interface,
	notifier *notify.Notifier,
	opts Options,
) *Hub {
	return &Hub{
		log:      log,
		metrics:  metrics,
		repo:     repo,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create opens a session for userID, loads its events and starts resolving
// the reference location through loc.
func (h *Hub) Create(ctx context.Context, userID string, loc locator.Locator) (*Session, error) {
	events, err := h.repo.ListEvents(ctx, userID, h.opts.EventLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for session: %w", err)
	}

	controller := service.NewController(h.log, h.metrics, loc, h.opts.Controller)
	controller.SetEvents(events)

	now := h.now()
	session := &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Controller: controller,
		CreatedAt:  now,
		now:        h.now,
		lastSeen:   now,
	}

	h.mu.Lock()
	h.sessions[session.ID] = session
	h.mu.Unlock()
	h.metrics.ActiveSessions.Inc()

	// The request context ends with the response; resolution lives until the session is closed.
	controller.Start(context.WithoutCancel(ctx))

	h.log.InfoContext(ctx, "Session created", "session", session.ID, "user", userID, "events", len(events))

	return session, nil
}

// Get returns the session and marks it as active.
func (h *Hub) Get(id string) (*Session, error) {
	h.mu.RLock()
	session, ok := h.sessions[id]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	session.Touch()

	return session, nil
}

// Delete closes and forgets the session.
func (h *Hub) Delete(id string) error {
	h.mu.Lock()
	session, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	session.Controller.Close()
	h.metrics.ActiveSessions.Dec()

	return nil
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions)
}

// Join registers the session user as a participant of eventID.
func (h *Hub) Join(ctx context.Context, id, eventID string) error {
	return h.participate(ctx, id, eventID, notify.ActionJoined, h.repo.JoinEvent)
}

// Leave removes the session user from eventID.
func (h *Hub) Leave(ctx context.Context, id, eventID string) error {
	return h.participate(ctx, id, eventID, notify.ActionLeft, h.repo.LeaveEvent)
}

func (h *Hub) participate(
	ctx context.Context,
	id, eventID, action string,
	apply func(ctx context.Context, eventID, userID string) error,
) error {
	session, err := h.Get(id)
	if err != nil {
		return err
	}

	if err = apply(ctx, eventID, session.UserID); err != nil {
		h.metrics.ParticipationTotal.WithLabelValues(action, statusError).Inc()
		return fmt.Errorf("failed to update participation: %w", err)
	}
	h.metrics.ParticipationTotal.WithLabelValues(action, statusSuccess).Inc()

	change := notify.Change{EventID: eventID, UserID: session.UserID, Action: action}
	if err = h.notifier.Publish(ctx, change); err != nil {
		h.log.WarnContext(ctx, "Failed to broadcast participation change", "error", err, "event", eventID)
	}

	// Counts changed for everybody, not only for this user. The change is
	// already committed, so a failed reload must not fail the request.
	if err = h.Refresh(ctx); err != nil {
		h.log.WarnContext(ctx, "Failed to reload sessions after participation change",
			"error", err, "event", eventID, "action", action)
	}

	return nil
}

// Refresh reloads events for every open session. Each controller recomputes
// through its usual debounced path.
func (h *Hub) Refresh(ctx context.Context) error {
	var errs []error
	for _, session := range h.snapshot() {
		events, err := h.repo.ListEvents(ctx, session.UserID, h.opts.EventLimit)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", session.ID, err))
			continue
		}
		session.Controller.SetEvents(events)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to refresh sessions: %w", errors.Join(errs...))
	}

	return nil
}

// HandleChange reacts to participation changes made by other instances.
func (h *Hub) HandleChange(ctx context.Context) func(notify.Change) {
	return func(change notify.Change) {
		h.log.DebugContext(ctx, "Received remote event change", "event", change.EventID, "action", change.Action)
		if err := h.Refresh(ctx); err != nil {
			h.log.ErrorContext(ctx, "Failed to refresh sessions after remote change", "error", err)
		}
	}
}

// Run refreshes events and evicts idle sessions every RefreshInterval until ctx is done.
// All remaining sessions are closed on exit.
func (h *Hub) Run(ctx context.Context) error {
	interval := h.opts.RefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.log.InfoContext(ctx, "Session hub started", "refresh_interval", interval, "ttl", h.opts.TTL)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.InfoContext(ctx, "Session hub stopped")
			return nil
		case <-ticker.C:
			if evicted := h.Evict(); evicted > 0 {
				h.log.InfoContext(ctx, "Evicted idle sessions", "count", evicted)
			}
			if err := h.Refresh(ctx); err != nil {
				h.log.ErrorContext(ctx, "Failed to refresh sessions", "error", err)
			}
		}
	}
}

// Evict closes sessions idle for longer than the TTL and returns how many were removed.
// Sessions with a subscribed stream are never idle.
func (h *Hub) Evict() int {
	if h.opts.TTL <= 0 {
		return 0
	}

	deadline := h.now().Add(-h.opts.TTL)
	var evicted []*Session

	h.mu.Lock()
	for id, session := range h.sessions {
		if session.LastSeen().Before(deadline) && session.Controller.Subscribers() == 0 {
			evicted = append(evicted, session)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, session := range evicted {
		session.Controller.Close()
		h.metrics.ActiveSessions.Dec()
	}

	return len(evicted)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, session := range sessions {
		session.Controller.Close()
		h.metrics.ActiveSessions.Dec()
	}
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, session := range h.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

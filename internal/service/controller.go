// Package service hosts the reactive recompute controller that keeps a
// session's display list in sync with its inputs.
package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/UnknownOlympus/meydan/internal/discovery"
	"github.com/UnknownOlympus/meydan/internal/locator"
	"github.com/UnknownOlympus/meydan/internal/metrics"
	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/bep/debounce"
)

// DefaultDebounce is the quiet period before a recompute runs.
const DefaultDebounce = 300 * time.Millisecond

// Recompute triggers, used as metric labels.
const (
	TriggerLocation = "location"
	TriggerCategory = "category"
	TriggerDistance = "distance"
	TriggerMode     = "mode"
	TriggerEvents   = "events"
)

// State is the lifecycle state of a Controller.
type State int

const (
	// StateUninitialized means the reference coordinate is not resolved yet.
	StateUninitialized State = iota
	// StateReady means the display list reflects the latest inputs.
	StateReady
	// StateRecomputing means a debounced recompute is pending.
	StateRecomputing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRecomputing:
		return "recomputing"
	default:
		return "unknown"
	}
}

// Listener receives every newly installed display list.
type Listener func([]models.AnnotatedEvent)

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Debounce time.Duration         // Quiet period before recomputing; DefaultDebounce when zero
	Fallback models.Coordinates    // Reference used when the location is unavailable
	Settings models.FilterSettings // Initial filter settings
}

// Snapshot is a consistent view of a Controller.
type Snapshot struct {
	State         State
	Settings      models.FilterSettings
	Reference     models.Coordinates
	FallbackUsed  bool
	DisplayList   []models.AnnotatedEvent
	EventsTracked int
}

// Controller decides when the filter engine must run again. Every input change
// schedules a debounced recompute; changes inside the debounce window replace
// the pending one, so a burst of changes results in a single recompute that
// uses the latest snapshot.
type Controller struct {
	log       *slog.Logger
	metrics   *metrics.Metrics
	locator   locator.Locator
	fallback  models.Coordinates
	debounced func(func())

	// recomputeMu serializes recomputes so listeners see lists in install order.
	recomputeMu sync.Mutex

	mu           sync.Mutex
	state        State
	settings     models.FilterSettings
	reference    models.Coordinates
	fallbackUsed bool
	events       []models.Event
	display      []models.AnnotatedEvent
	listeners    map[int]Listener
	nextListener int
	closed       bool
	// requested counts scheduled recomputes; only the latest one may report Ready.
	requested   uint64
	stopResolve context.CancelFunc
}

// NewController creates a controller in the Uninitialized state.
func NewController(
	log *slog.Logger,
	metrics *metrics.Metrics,
	loc locator.Locator,
	opts ControllerOptions,
) *Controller {
	window := opts.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}

	return &Controller{
		log:       log,
		metrics:   metrics,
		locator:   loc,
		fallback:  opts.Fallback,
		debounced: debounce.New(window),
		state:     StateUninitialized,
		settings:  opts.Settings,
		display:   []models.AnnotatedEvent{},
		listeners: make(map[int]Listener),
	}
}

// Start resolves the reference coordinate in the background. Success or failure
// (fallback coordinate) moves the controller to Ready and schedules the first recompute.
// Close cancels a resolution that is still running.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.stopResolve = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()

		coords, usedFallback := locator.Resolve(ctx, c.locator, c.fallback, c.log)
		status := "resolved"
		if usedFallback {
			status = "fallback"
		}
		c.metrics.LocationResolutions.WithLabelValues(status).Inc()

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed || c.state != StateUninitialized {
			// A position reported through SetReference wins over a late resolution.
			return
		}
		c.reference = coords
		c.fallbackUsed = usedFallback
		c.state = StateReady
		c.log.DebugContext(ctx, "Reference location resolved",
			"lat", coords.Latitude, "lon", coords.Longitude, "fallback", usedFallback)
		c.requestLocked(TriggerLocation)
	}()
}

// SetCategory selects a category, or models.CategoryAll.
func (c *Controller) SetCategory(name string) {
	c.update(TriggerCategory, func() { c.settings.Category = name })
}

// SetDistanceThreshold sets the nearby radius in km. Non-positive values disable the threshold.
func (c *Controller) SetDistanceThreshold(km float64) {
	c.update(TriggerDistance, func() { c.settings.MaxDistanceKm = km })
}

// SetMode switches the tab mode.
func (c *Controller) SetMode(mode models.FilterMode) {
	c.update(TriggerMode, func() { c.settings.Mode = mode })
}

// SetEvents replaces the raw event list, e.g. after a join or leave.
func (c *Controller) SetEvents(events []models.Event) {
	events = slices.Clone(events)
	c.update(TriggerEvents, func() { c.events = events })
}

// SetReference installs a new reference coordinate. Invalid coordinates are ignored.
// The first valid coordinate also completes initialization.
func (c *Controller) SetReference(coords models.Coordinates) {
	if !coords.Valid() {
		c.log.Warn("Ignoring invalid reference coordinate", "lat", coords.Latitude, "lon", coords.Longitude)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.reference = coords
	c.fallbackUsed = false
	if c.state == StateUninitialized {
		c.state = StateReady
	}
	c.requestLocked(TriggerLocation)
}

// DisplayList returns the current filtered list. It may be stale while a recompute is pending.
func (c *Controller) DisplayList() []models.AnnotatedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.display)
}

// Settings returns the current filter settings.
func (c *Controller) Settings() models.FilterSettings {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Snapshot returns state, settings and display list read atomically.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		State:         c.state,
		Settings:      c.settings,
		Reference:     c.reference,
		FallbackUsed:  c.fallbackUsed,
		DisplayList:   slices.Clone(c.display),
		EventsTracked: len(c.events),
	}
}

// Subscribe registers fn for every installed display list and returns a function that removes it.
func (c *Controller) Subscribe(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// Subscribers returns the number of registered listeners.
func (c *Controller) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.listeners)
}

// Close turns pending and future recomputes into no-ops and drops all listeners.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.listeners = make(map[int]Listener)
	if c.stopResolve != nil {
		c.stopResolve()
	}
}

func (c *Controller) update(trigger string, apply func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	apply()
	c.requestLocked(trigger)
}

// requestLocked schedules a debounced recompute. c.mu must be held.
// Before initialization inputs are only stored; the first recompute picks them up.
func (c *Controller) requestLocked(trigger string) {
	if c.closed || c.state == StateUninitialized {
		return
	}

	c.metrics.RecomputeRequests.WithLabelValues(trigger).Inc()
	c.state = StateRecomputing
	c.requested++
	generation := c.requested
	c.debounced(func() { c.recompute(generation) })
}

// recompute always uses the latest inputs. A superseded generation installs
// its list but leaves the state Recomputing for the pending one.
func (c *Controller) recompute(generation uint64) {
	c.recomputeMu.Lock()
	defer c.recomputeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	startTime := time.Now()
	settings := c.settings
	result, fellBack := resolveDisplayList(c.events, c.reference, settings)

	c.display = result
	if generation == c.requested {
		c.state = StateReady
	}
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	mode := string(discovery.BuildPlan(settings).Mode)
	c.metrics.RecomputeSeconds.Observe(time.Since(startTime).Seconds())
	c.metrics.Recomputes.WithLabelValues(mode).Inc()
	c.metrics.DisplayedEvents.Observe(float64(len(result)))
	if fellBack {
		c.metrics.Fallbacks.WithLabelValues(mode).Inc()
	}

	c.log.Debug("Display list recomputed",
		"mode", mode,
		"category", settings.CategoryFilter(),
		"max_distance_km", settings.MaxDistanceKm,
		"events", len(result),
		"fallback", fellBack)

	for _, fn := range listeners {
		fn(slices.Clone(result))
	}
}

// resolveDisplayList runs the filter engine and applies the empty-result fallback.
func resolveDisplayList(
	events []models.Event,
	ref models.Coordinates,
	settings models.FilterSettings,
) ([]models.AnnotatedEvent, bool) {
	result := discovery.Filter(events, ref, settings)
	if len(result) > 0 {
		return result, false
	}

	fallback, ok := discovery.Fallback(settings.Mode, events, ref)
	if !ok {
		return result, false
	}

	return fallback, true
}

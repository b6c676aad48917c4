package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/UnknownOlympus/meydan/internal/locator"
	"github.com/UnknownOlympus/meydan/internal/metrics"
	"github.com/UnknownOlympus/meydan/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWindow = 40 * time.Millisecond
	waitFor    = 2 * time.Second
	tick       = 5 * time.Millisecond
)

var reference = models.Coordinates{Latitude: 37.8717, Longitude: 32.4930}

func kmNorth(km float64) models.Coordinates {
	return models.Coordinates{Latitude: reference.Latitude + km/111.195, Longitude: reference.Longitude}
}

func sampleEvents() []models.Event {
	return []models.Event{
		{ID: "A", Title: "Sabah koşusu", Category: "Koşu", Coordinates: kmNorth(0.8)},
		{ID: "B", Title: "Tenis maçı", Category: "Tenis", Coordinates: kmNorth(4.1)},
	}
}

func displayIDs(events []models.AnnotatedEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

// recorder counts installed display lists.
type recorder struct {
	mu    sync.Mutex
	lists [][]models.AnnotatedEvent
}

func (r *recorder) listen(list []models.AnnotatedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists = append(r.lists, list)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lists)
}

func (r *recorder) last() []models.AnnotatedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists[len(r.lists)-1]
}

func newTestController(
	t *testing.T,
	loc locator.Locator,
	window time.Duration,
	settings models.FilterSettings,
) (*Controller, *metrics.Metrics, *recorder) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	appMetrics := metrics.NewMetrics(prometheus.NewRegistry())
	ctrl := NewController(logger, appMetrics, loc, ControllerOptions{
		Debounce: window,
		Fallback: locator.DefaultFallback,
		Settings: settings,
	})
	rec := &recorder{}
	ctrl.Subscribe(rec.listen)
	t.Cleanup(ctrl.Close)

	return ctrl, appMetrics, rec
}

func startAndSettle(t *testing.T, ctrl *Controller, rec *recorder) {
	t.Helper()

	ctrl.Start(t.Context())
	require.Eventually(t, func() bool {
		return rec.count() == 1 && ctrl.State() == StateReady
	}, waitFor, tick)
}

func TestController_Lifecycle(t *testing.T) {
	t.Run("inputs before initialization are stored without recomputing", func(t *testing.T) {
		ctrl, appMetrics, rec := newTestController(t, locator.Static(reference), testWindow, models.DefaultSettings())

		ctrl.SetEvents(sampleEvents())
		ctrl.SetCategory("Tenis")
		ctrl.SetDistanceThreshold(10)
		time.Sleep(3 * testWindow)

		assert.Equal(t, StateUninitialized, ctrl.State())
		assert.Zero(t, rec.count())
		assert.Empty(t, ctrl.DisplayList())
		assert.Zero(t, testutil.CollectAndCount(appMetrics.RecomputeRequests))

		startAndSettle(t, ctrl, rec)

		assert.Equal(t, []string{"B"}, displayIDs(ctrl.DisplayList()))
	})

	t.Run("resolved location becomes the reference", func(t *testing.T) {
		here := kmNorth(4)
		ctrl, appMetrics, rec := newTestController(t, locator.Static(here), testWindow, models.DefaultSettings())

		startAndSettle(t, ctrl, rec)

		snap := ctrl.Snapshot()
		assert.Equal(t, here, snap.Reference)
		assert.False(t, snap.FallbackUsed)
		assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.LocationResolutions.WithLabelValues("resolved")), 0)
	})

	t.Run("denied location uses the fallback coordinate", func(t *testing.T) {
		ctrl, appMetrics, rec := newTestController(t, locator.Denied{}, testWindow, models.DefaultSettings())
		ctrl.SetEvents(sampleEvents())

		startAndSettle(t, ctrl, rec)

		snap := ctrl.Snapshot()
		assert.Equal(t, locator.DefaultFallback, snap.Reference)
		assert.True(t, snap.FallbackUsed)
		assert.Equal(t, StateReady, snap.State)
		assert.Equal(t, []string{"A", "B"}, displayIDs(snap.DisplayList))
		assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.LocationResolutions.WithLabelValues("fallback")), 0)
	})

	t.Run("reference reported before resolution wins", func(t *testing.T) {
		here := kmNorth(4.1)
		ctrl, _, rec := newTestController(t, locator.Denied{}, testWindow, models.FilterSettings{Mode: models.ModeNearest})
		ctrl.SetEvents(sampleEvents())

		ctrl.SetReference(here)
		require.Eventually(t, func() bool { return rec.count() >= 1 }, waitFor, tick)
		ctrl.Start(t.Context())
		time.Sleep(3 * testWindow)

		assert.Equal(t, here, ctrl.Snapshot().Reference)
		assert.Equal(t, []string{"B"}, displayIDs(ctrl.DisplayList()))
	})

	t.Run("invalid reference is ignored", func(t *testing.T) {
		ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, models.DefaultSettings())
		startAndSettle(t, ctrl, rec)

		ctrl.SetReference(models.Coordinates{Latitude: 200, Longitude: 0})
		time.Sleep(3 * testWindow)

		assert.Equal(t, reference, ctrl.Snapshot().Reference)
		assert.Equal(t, 1, rec.count())
	})

	t.Run("close drops pending recompute", func(t *testing.T) {
		ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, models.DefaultSettings())
		startAndSettle(t, ctrl, rec)

		ctrl.SetCategory("Koşu")
		ctrl.Close()
		time.Sleep(3 * testWindow)

		assert.Equal(t, 1, rec.count())
	})
}

func TestController_Debounce(t *testing.T) {
	const window = 150 * time.Millisecond
	ctrl, appMetrics, rec := newTestController(t, locator.Static(reference), window, models.DefaultSettings())
	ctrl.SetEvents(sampleEvents())
	startAndSettle(t, ctrl, rec)

	ctrl.SetMode(models.ModeJoined)
	ctrl.SetCategory("Tenis")
	ctrl.SetDistanceThreshold(1)
	ctrl.SetCategory("Koşu")
	ctrl.SetMode(models.ModeNearby)

	assert.Equal(t, StateRecomputing, ctrl.State())
	assert.Equal(t, []string{"A", "B"}, displayIDs(ctrl.DisplayList()), "stale list stays visible while pending")

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
	time.Sleep(2 * window)

	assert.Equal(t, 2, rec.count(), "burst must coalesce into one recompute")
	assert.Equal(t, StateReady, ctrl.State())
	assert.Equal(t, []string{"A"}, displayIDs(rec.last()))
	assert.Equal(t, models.FilterSettings{Mode: models.ModeNearby, Category: "Koşu", MaxDistanceKm: 1}, ctrl.Settings())
	assert.InDelta(t, 2, testutil.ToFloat64(appMetrics.RecomputeRequests.WithLabelValues(TriggerMode)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(appMetrics.RecomputeRequests.WithLabelValues(TriggerCategory)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(appMetrics.Recomputes.WithLabelValues("nearby")), 0)
}

// blockingLocator never answers on its own; it returns once its context ends.
type blockingLocator struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (b *blockingLocator) Locate(ctx context.Context) (models.Coordinates, error) {
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	return models.Coordinates{}, ctx.Err()
}

func TestController_CloseCancelsResolution(t *testing.T) {
	loc := &blockingLocator{started: make(chan struct{}), cancelled: make(chan struct{})}
	ctrl, _, rec := newTestController(t, loc, testWindow, models.DefaultSettings())

	ctrl.Start(context.Background())
	select {
	case <-loc.started:
	case <-time.After(waitFor):
		t.Fatal("location resolution did not start")
	}

	ctrl.Close()

	select {
	case <-loc.cancelled:
	case <-time.After(waitFor):
		t.Fatal("location resolution still running after Close")
	}
	time.Sleep(3 * testWindow)
	assert.Equal(t, StateUninitialized, ctrl.State())
	assert.Equal(t, 0, rec.count())
}

func TestController_StartAfterClose(t *testing.T) {
	loc := &blockingLocator{started: make(chan struct{}), cancelled: make(chan struct{})}
	ctrl, _, _ := newTestController(t, loc, testWindow, models.DefaultSettings())

	ctrl.Close()
	ctrl.Start(context.Background())

	select {
	case <-loc.started:
		t.Fatal("closed controller started resolving")
	case <-time.After(3 * testWindow):
	}
}

func TestController_SupersededRecomputeKeepsRecomputing(t *testing.T) {
	ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, models.DefaultSettings())
	ctrl.SetEvents(sampleEvents())
	startAndSettle(t, ctrl, rec)

	// Capture scheduled recomputes instead of running them on a timer.
	var scheduled []func()
	ctrl.mu.Lock()
	ctrl.debounced = func(f func()) { scheduled = append(scheduled, f) }
	ctrl.mu.Unlock()

	ctrl.SetCategory("Koşu")
	ctrl.SetCategory("Tenis")
	require.Len(t, scheduled, 2)

	// The first timer fires after the second input arrived.
	scheduled[0]()

	assert.Equal(t, StateRecomputing, ctrl.State())
	assert.Equal(t, []string{"B"}, displayIDs(ctrl.DisplayList()), "latest inputs are used")

	scheduled[1]()

	assert.Equal(t, StateReady, ctrl.State())
	assert.Equal(t, []string{"B"}, displayIDs(rec.last()))
}

func TestController_Modes(t *testing.T) {
	t.Run("nearby threshold", func(t *testing.T) {
		settings := models.FilterSettings{Mode: models.ModeNearby, MaxDistanceKm: 3, Category: models.CategoryAll}
		ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, settings)
		ctrl.SetEvents(sampleEvents())

		startAndSettle(t, ctrl, rec)

		assert.Equal(t, []string{"A"}, displayIDs(ctrl.DisplayList()))
		assert.Equal(t, "0.8 km", ctrl.DisplayList()[0].DistanceLabel)
	})

	t.Run("nearest ignores category and threshold", func(t *testing.T) {
		settings := models.FilterSettings{Mode: models.ModeNearest, MaxDistanceKm: 0.1, Category: "Tenis"}
		ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, settings)
		ctrl.SetEvents(sampleEvents())

		startAndSettle(t, ctrl, rec)

		assert.Equal(t, []string{"A"}, displayIDs(ctrl.DisplayList()))
	})

	t.Run("empty nearby result falls back to the full list", func(t *testing.T) {
		settings := models.FilterSettings{Mode: models.ModeNearby, MaxDistanceKm: 0.1, Category: models.CategoryAll}
		ctrl, appMetrics, rec := newTestController(t, locator.Static(reference), testWindow, settings)
		ctrl.SetEvents(sampleEvents())

		startAndSettle(t, ctrl, rec)

		assert.Equal(t, []string{"A", "B"}, displayIDs(ctrl.DisplayList()))
		assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.Fallbacks.WithLabelValues("nearby")), 0)
	})

	t.Run("empty joined result stays empty", func(t *testing.T) {
		ctrl, appMetrics, rec := newTestController(t, locator.Static(reference), testWindow, models.FilterSettings{Mode: models.ModeJoined})
		ctrl.SetEvents(sampleEvents())

		startAndSettle(t, ctrl, rec)

		assert.Empty(t, ctrl.DisplayList())
		assert.Zero(t, testutil.CollectAndCount(appMetrics.Fallbacks))
	})

	t.Run("nearest without events is terminal", func(t *testing.T) {
		ctrl, appMetrics, rec := newTestController(t, locator.Static(reference), testWindow, models.FilterSettings{Mode: models.ModeNearest})

		startAndSettle(t, ctrl, rec)
		time.Sleep(3 * testWindow)

		assert.Empty(t, ctrl.DisplayList())
		assert.Equal(t, 1, rec.count(), "fallback must not retry")
		assert.InDelta(t, 1, testutil.ToFloat64(appMetrics.Fallbacks.WithLabelValues("nearest")), 0)
	})

	t.Run("joining an event recomputes through the events path", func(t *testing.T) {
		ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, models.FilterSettings{Mode: models.ModeJoined})
		events := sampleEvents()
		ctrl.SetEvents(events)
		startAndSettle(t, ctrl, rec)
		require.Empty(t, ctrl.DisplayList())

		events[1].IsJoined = true
		events[1].ParticipantCount++
		ctrl.SetEvents(events)

		require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
		assert.Equal(t, []string{"B"}, displayIDs(ctrl.DisplayList()))
		assert.Equal(t, 1, ctrl.DisplayList()[0].ParticipantCount)
	})

	t.Run("moving the reference recomputes distances", func(t *testing.T) {
		ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, models.FilterSettings{Mode: models.ModeNearest})
		ctrl.SetEvents(sampleEvents())
		startAndSettle(t, ctrl, rec)
		require.Equal(t, []string{"A"}, displayIDs(ctrl.DisplayList()))

		ctrl.SetReference(kmNorth(5))

		require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
		assert.Equal(t, []string{"B"}, displayIDs(ctrl.DisplayList()))
		assert.InDelta(t, 0.9, ctrl.DisplayList()[0].DistanceKm, 0.01)
	})
}

func TestController_Subscribe(t *testing.T) {
	ctrl, _, rec := newTestController(t, locator.Static(reference), testWindow, models.DefaultSettings())
	other := &recorder{}
	unsubscribe := ctrl.Subscribe(other.listen)
	startAndSettle(t, ctrl, rec)
	require.Eventually(t, func() bool { return other.count() == 1 }, waitFor, tick)

	unsubscribe()
	ctrl.SetEvents(sampleEvents())

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
	assert.Equal(t, 1, other.count())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "recomputing", StateRecomputing.String())
	assert.Equal(t, "unknown", State(42).String())
}

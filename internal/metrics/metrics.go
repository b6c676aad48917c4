package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RecomputeRequests   *prometheus.CounterVec
	Recomputes          *prometheus.CounterVec
	Fallbacks           *prometheus.CounterVec
	RecomputeSeconds    prometheus.Histogram
	DisplayedEvents     prometheus.Histogram
	LocationResolutions *prometheus.CounterVec
	ProviderErrors      prometheus.Counter
	ProviderSeconds     *prometheus.HistogramVec
	ActiveSessions      prometheus.Gauge
	ParticipationTotal  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RecomputeRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_recompute_requests_total",
			Help: "Total number of input changes that requested a recompute.",
		}, []string{"trigger"}),
		Recomputes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_recomputes_total",
			Help: "Total number of filter recomputes actually executed after debouncing.",
		}, []string{"mode"}),
		Fallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_empty_result_fallbacks_total",
			Help: "Total number of empty results replaced by the fallback list.",
		}, []string{"mode"}),
		RecomputeSeconds: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "discovery_recompute_duration_seconds",
			Help:    "Duration of a single filter recompute.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		}),
		DisplayedEvents: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "discovery_displayed_events",
			Help:    "Number of events in each installed display list.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		LocationResolutions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_location_resolutions_total",
			Help: "Total number of reference location resolutions by outcome.",
		}, []string{"status"}),
		ProviderErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "geocoding_provider_api_errors_total",
			Help: "Total number of errors received from the geocoding provider API.",
		}),
		ProviderSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocoding_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "discovery_active_sessions",
			Help: "Current number of open discovery sessions.",
		}),
		ParticipationTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_participation_changes_total",
			Help: "Total number of join/leave actions by action and status.",
		}, []string{"action", "status"}),
	}
}

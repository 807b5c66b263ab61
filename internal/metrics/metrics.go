package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ad engine.
type Metrics struct {
	// Delivery metrics
	EligibilityRequests prometheus.Counter
	EligibleAds         prometheus.Histogram
	Exclusions          *prometheus.CounterVec

	// Event metrics
	Impressions *prometheus.CounterVec
	Clicks      *prometheus.CounterVec
	Conversions *prometheus.CounterVec

	// Reliability metrics
	TrackerErrors *prometheus.CounterVec
	DroppedWrites *prometheus.CounterVec
	RetriedWrites prometheus.Counter
	SweptExpiries prometheus.Counter
	RateLimitHits *prometheus.CounterVec

	// Latency metrics
	DashboardLatency prometheus.Histogram
	RequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EligibilityRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligibility_requests_total",
			Help:      "Total eligibility evaluations performed",
		}),
		EligibleAds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "eligible_ads_per_request",
			Help:      "Number of ads returned per eligibility request",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		Exclusions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exclusions_total",
			Help:      "Candidates excluded during eligibility, by reason",
		}, []string{"reason"}),

		Impressions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "impressions_total",
			Help:      "Total recorded impressions",
		}, []string{"ad_type"}),
		Clicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Total recorded clicks",
		}, []string{"ad_type"}),
		Conversions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Total recorded conversions",
		}, []string{"ad_type"}),

		TrackerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracker_errors_total",
			Help:      "Frequency tracker failures (caps served fail-open)",
		}, []string{"op"}),
		DroppedWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_writes_total",
			Help:      "Recording writes dropped after retry",
		}, []string{"kind"}),
		RetriedWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retried_writes_total",
			Help:      "Recording writes that needed a retry",
		}),
		SweptExpiries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_expiries_total",
			Help:      "Derived expirations persisted by the sweep",
		}),
		RateLimitHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"path"}),

		DashboardLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dashboard_latency_seconds",
			Help:      "Dashboard aggregation latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"route", "status"}),
	}
}

// RecordExclusion counts one excluded candidate.
func (m *Metrics) RecordExclusion(reason string) {
	m.Exclusions.WithLabelValues(reason).Inc()
}

// RecordTrackerError counts one fail-open tracker failure.
func (m *Metrics) RecordTrackerError(op string) {
	m.TrackerErrors.WithLabelValues(op).Inc()
}

// RecordImpression counts a recorded impression.
func (m *Metrics) RecordImpression(adType string) {
	m.Impressions.WithLabelValues(adType).Inc()
}

// RecordClick counts a recorded click.
func (m *Metrics) RecordClick(adType string) {
	m.Clicks.WithLabelValues(adType).Inc()
}

// RecordConversion counts a recorded conversion.
func (m *Metrics) RecordConversion(adType string) {
	m.Conversions.WithLabelValues(adType).Inc()
}

// RecordDroppedWrite counts a write abandoned after its retry.
func (m *Metrics) RecordDroppedWrite(kind string) {
	m.DroppedWrites.WithLabelValues(kind).Inc()
}

// RecordRateLimitHit counts one rejected request.
func (m *Metrics) RecordRateLimitHit(path string) {
	m.RateLimitHits.WithLabelValues(path).Inc()
}

// ObserveRequest records one HTTP request duration.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	m.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
}

// ObserveDashboard records one dashboard aggregation duration.
func (m *Metrics) ObserveDashboard(d time.Duration) {
	m.DashboardLatency.Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

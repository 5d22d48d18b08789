package monitoring

import (
	"strconv"
	"time"

	"tilecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.LayoutMetrics and carries the
// transport metrics of the HTTP and websocket surfaces.
type PrometheusCollector struct {
	// Gauges
	sessionsActive   prometheus.Gauge
	viewersConnected prometheus.Gauge

	// Counters
	resolutionsTotal    *prometheus.CounterVec
	commitsTotal        *prometheus.CounterVec
	sanitizedSlotsTotal prometheus.Counter
	pushesTotal         *prometheus.CounterVec

	// Histograms
	overflowViewports   prometheus.Histogram
	httpRequestDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers the collectors with reg, or with the
// default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tilecast_sessions_active",
			Help: "Number of sessions hosted by this instance",
		}),

		viewersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tilecast_viewers_connected",
			Help: "Number of open viewer websocket connections",
		}),

		resolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tilecast_layout_resolutions_total",
			Help: "Visual layouts resolved, by shape and display mode",
		}, []string{"shape", "wide"}),

		commitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tilecast_layout_commits_total",
			Help: "Layout commits, by whether the record was persisted",
		}, []string{"persisted"}),

		sanitizedSlotsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "tilecast_layout_sanitized_slots_total",
			Help: "Slots cleared on commit because their stream left the roster",
		}),

		pushesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tilecast_visual_pushes_total",
			Help: "Visual layouts pushed to viewers, by outcome",
		}, []string{"outcome"}),

		overflowViewports: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tilecast_layout_overflow_viewports",
			Help:    "Viewports left in the overflow strip per resolution",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tilecast_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route", "status"}),
	}
}

func (p *PrometheusCollector) RecordResolution(visual domain.VisualLayout, wide bool) {
	p.resolutionsTotal.WithLabelValues(string(visual.Shape()), strconv.FormatBool(wide)).Inc()
	p.overflowViewports.Observe(float64(len(visual.Overflow())))
}

// RecordCommit is not labelled by session to keep cardinality bounded.
func (p *PrometheusCollector) RecordCommit(sessionID domain.SessionID, persisted bool) {
	p.commitsTotal.WithLabelValues(strconv.FormatBool(persisted)).Inc()
}

func (p *PrometheusCollector) RecordSanitizedSlots(count int) {
	if count > 0 {
		p.sanitizedSlotsTotal.Add(float64(count))
	}
}

func (p *PrometheusCollector) SetActiveSessions(count int) {
	p.sessionsActive.Set(float64(count))
}

func (p *PrometheusCollector) RecordViewerConnected() {
	p.viewersConnected.Inc()
}

func (p *PrometheusCollector) RecordViewerDisconnected() {
	p.viewersConnected.Dec()
}

// RecordPush counts one queued message; outcome is "sent", "coalesced" or "dropped".
func (p *PrometheusCollector) RecordPush(outcome string) {
	p.pushesTotal.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/klyr/edgerewrite/internal/logging"
)

type Metrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	ruleApplications  *prometheus.CounterVec
	ruleErrors        *prometheus.CounterVec
	passthroughsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgerewrite_requests_total", Help: "Total requests"},
			[]string{"action", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edgerewrite_request_duration_seconds",
				Help:    "Request duration in seconds, including the streamed body",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		ruleApplications: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgerewrite_rule_applications_total", Help: "Elements a rule was applied to"},
			[]string{"rule"},
		),
		ruleErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgerewrite_rule_errors_total", Help: "Elements a rule failed on"},
			[]string{"rule"},
		),
		passthroughsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "edgerewrite_stream_passthrough_total", Help: "Rewrite-eligible responses sent unmodified"},
			[]string{"reason"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.ruleApplications,
		m.ruleErrors,
		m.passthroughsTotal,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Observe(rec logging.AccessRecord) {
	if m == nil {
		return
	}

	m.requestsTotal.WithLabelValues(rec.Action, strconv.Itoa(rec.StatusCode)).Inc()
	m.requestDuration.WithLabelValues(rec.Action).Observe((time.Duration(rec.DurationMS) * time.Millisecond).Seconds())

	for _, r := range rec.RulesApplied {
		m.ruleApplications.WithLabelValues(r.ID).Add(float64(r.Count))
	}
	for _, r := range rec.RuleErrors {
		m.ruleErrors.WithLabelValues(r.ID).Add(float64(r.Count))
	}
	if rec.Passthrough != "" {
		m.passthroughsTotal.WithLabelValues(rec.Passthrough).Inc()
	}
}

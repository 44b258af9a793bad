package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "terminals"

var (
	admissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Terminal admission decisions by result",
		},
		[]string{"result"},
	)
	provisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisions_total",
			Help:      "Completed provisioning workflows by outcome",
		},
		[]string{"outcome"},
	)
	provisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provision_duration_seconds",
			Help:      "Time from provisioning start to a final outcome",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
	)
	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Container callbacks by kind and result",
		},
		[]string{"kind", "result"},
	)
	sweepTerminals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_terminals_total",
			Help:      "Terminals handled by the reconciliation sweep by pass and result",
		},
		[]string{"pass", "result"},
	)
	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full reconciliation sweep",
			Buckets:   prometheus.DefBuckets,
		},
	)
	activeTerminals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active",
			Help:      "Active terminals observed at the last admission check",
		},
	)
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code",
		},
		[]string{"route", "method", "code"},
	)
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"route"},
	)
)

func RecordAdmission(result string) {
	admissionsTotal.WithLabelValues(result).Inc()
}

func SetActive(n int64) {
	activeTerminals.Set(float64(n))
}

func RecordProvision(outcome string, d time.Duration) {
	provisionsTotal.WithLabelValues(outcome).Inc()
	provisionDuration.Observe(d.Seconds())
}

func RecordCallback(kind, result string) {
	callbacksTotal.WithLabelValues(kind, result).Inc()
}

func RecordSweepPass(pass string, processed, failed int) {
	sweepTerminals.WithLabelValues(pass, "processed").Add(float64(processed))
	sweepTerminals.WithLabelValues(pass, "failed").Add(float64(failed))
}

func RecordSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

func RecordHTTP(route, method string, code int, d time.Duration) {
	httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics instruments the admin HTTP server.
type APIMetrics struct {
	// Requests counts requests.
	// Labels: route (the chi route pattern, never the raw path), code
	Requests *prometheus.CounterVec

	// Latency measures request handling time.
	// Labels: route
	Latency *prometheus.HistogramVec

	// InFlight is the number of requests being served.
	InFlight prometheus.Gauge

	registry *Registry
}

func newAPIMetrics(r *Registry) *APIMetrics {
	m := &APIMetrics{registry: r}

	m.Requests = r.newCounterVec(prometheus.CounterOpts{
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Admin API requests by route and status code",
	}, []string{"route", "code"})
	m.Latency = r.newHistogramVec(prometheus.HistogramOpts{
		Subsystem: "api",
		Name:      "request_latency_seconds",
		Help:      "Admin API request latency",
	}, []string{"route"})
	m.InFlight = r.newGauge(prometheus.GaugeOpts{
		Subsystem: "api",
		Name:      "requests_in_flight",
		Help:      "Admin API requests being served",
	})

	return m
}

// RecordRequest records one finished request.
func (m *APIMetrics) RecordRequest(route string, code int, latency float64) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.Requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.Latency.WithLabelValues(route).Observe(latency)
}

// AddInFlight adjusts the in-flight gauge.
func (m *APIMetrics) AddInFlight(delta int) {
	if m == nil || !m.registry.enabled {
		return
	}
	m.InFlight.Add(float64(delta))
}

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coordinator's Prometheus collectors. A fresh Metrics
// registers itself against a dedicated registry rather than the global
// default one, so multiple Coordinators (as in tests) don't collide on
// collector names.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	dvTicks          prometheus.Counter
	dvUpdatesApplied prometheus.Counter
	greenComputed    prometheus.Counter
	detectorFailures prometheus.Counter
}

// NewMetrics builds and registers the coordinator's collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficfabric_coordinator_http_requests_total",
			Help: "Coordinator HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		dvTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "trafficfabric_coordinator_dv_ticks_total",
			Help: "Distance-vector iterations run.",
		}),
		dvUpdatesApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "trafficfabric_coordinator_dv_updates_applied_total",
			Help: "Routing-entry writes applied across all DV iterations.",
		}),
		greenComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "trafficfabric_coordinator_green_computations_total",
			Help: "calculate_green calls that returned a schedule.",
		}),
		detectorFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "trafficfabric_coordinator_detector_failures_total",
			Help: "Detector invocations that returned an error.",
		}),
	}
}

func (m *Metrics) observeHTTP(route, statusClass string) {
	m.httpRequests.WithLabelValues(route, statusClass).Inc()
}

func (m *Metrics) observeDVTick(updatesApplied int) {
	m.dvTicks.Inc()
	m.dvUpdatesApplied.Add(float64(updatesApplied))
}

func (m *Metrics) observeGreenComputed() {
	m.greenComputed.Inc()
}

func (m *Metrics) observeDetectorFailure() {
	m.detectorFailures.Inc()
}

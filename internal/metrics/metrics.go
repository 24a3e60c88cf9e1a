// Package metrics exposes the Prometheus collectors for service lifecycle
// counters and the gopsutil-based per-tick resource sampler (spec.md §5).
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. Registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "systemg",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "systemg",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of restarts performed by the supervisor loop.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "systemg",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or forced).",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "systemg",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between service states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "systemg",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "1 if the service is currently in this state, else 0.",
		}, []string{"name", "state"},
	)
	cronSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "systemg",
			Subsystem: "cron",
			Name:      "skipped_total",
			Help:      "Number of scheduled fires skipped because the previous run was still in flight.",
		}, []string{"name"},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// subsequent calls after the first success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceRestarts, serviceStops, stateTransitions, currentStates, cronSkips}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the Prometheus text exposition for the default gatherer;
// the caller wires it into a debugserver route.
func Handler() http.Handler { return promhttp.Handler() }

// The following helpers no-op until Register has succeeded, so callers on
// the supervisor hot path never need a nil check.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		currentStates.WithLabelValues(name, state).Set(v)
	}
}

func IncCronSkip(name string) {
	if regOK.Load() {
		cronSkips.WithLabelValues(name).Inc()
	}
}

package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	moduleStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdctl",
			Subsystem: "module",
			Name:      "starts_total",
			Help:      "Number of modules spawned by the supervisor.",
		}, []string{"name"},
	)
	moduleStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdctl",
			Subsystem: "module",
			Name:      "stops_total",
			Help:      "Number of graceful termination signals delivered.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdctl",
			Subsystem: "module",
			Name:      "spawn_failures_total",
			Help:      "Number of start attempts whose spawn failed.",
		}, []string{"name"},
	)
	unexpectedStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdctl",
			Subsystem: "module",
			Name:      "unexpected_stops_total",
			Help:      "Number of modules found dead while believed running.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sdctl",
			Subsystem: "module",
			Name:      "state_transitions_total",
			Help:      "Number of module state transitions.",
		}, []string{"name", "from", "to"},
	)
	discoveredModules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sdctl",
			Subsystem: "module",
			Name:      "discovered_modules",
			Help:      "Modules currently in the supervisor collection by provenance.",
		}, []string{"provenance"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{moduleStarts, moduleStops, spawnFailures, unexpectedStops, stateTransitions, discoveredModules}
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

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// The helpers below no-op until Register succeeds.

func IncStart(name string) {
	if regOK.Load() {
		moduleStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		moduleStops.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name).Inc()
	}
}

func IncUnexpectedStop(name string) {
	if regOK.Load() {
		unexpectedStops.WithLabelValues(name).Inc()
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() && from != to {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetDiscovered(provenance string, n int) {
	if regOK.Load() {
		discoveredModules.WithLabelValues(provenance).Set(float64(n))
	}
}

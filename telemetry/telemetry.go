// Package telemetry holds the process-wide metrics registry and the
// counters the core components report into.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	NodesAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icnmesh",
			Name:      "nodes_admitted_total",
			Help:      "Nodes accepted into the graph store.",
		},
		[]string{"scope", "payload"},
	)

	NodesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icnmesh",
			Name:      "nodes_rejected_total",
			Help:      "Nodes rejected by the graph store.",
		},
		[]string{"reason"},
	)

	ManifestsIgnored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icnmesh",
			Name:      "manifests_ignored_total",
			Help:      "Capability manifests dropped by the index.",
		},
		[]string{"reason"},
	)

	QuorumEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icnmesh",
			Name:      "quorum_evaluations_total",
			Help:      "Quorum evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icnmesh",
			Name:      "dispatches_total",
			Help:      "Scheduler dispatch attempts by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		NodesAdmitted,
		NodesRejected,
		ManifestsIgnored,
		QuorumEvaluations,
		Dispatches,
	)
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

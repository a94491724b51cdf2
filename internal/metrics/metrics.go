// Package metrics exposes warden's Prometheus instruments and keeps a short
// in-memory history of resource snapshots for the API.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	serverState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "state",
			Help:      "Game server state (1 for the current state, 0 otherwise).",
		},
		[]string{"state"},
	)
	serverRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "restarts_total",
			Help:      "Number of completed game server restarts.",
		},
	)
	serverInstalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "server",
			Name:      "installs_total",
			Help:      "Number of install attempts by result.",
		},
		[]string{"result"},
	)
	procCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "warden", Subsystem: "process", Name: "cpu_percent", Help: "Process CPU percent"},
		[]string{"process"},
	)
	procRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "warden", Subsystem: "process", Name: "memory_rss_bytes", Help: "Process RSS bytes"},
		[]string{"process"},
	)
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Completed job runs by result.",
		},
		[]string{"id", "result"},
	)
)

func init() {
	prometheus.MustRegister(serverState, serverRestarts, serverInstalls, procCPU, procRSS, jobRuns)
}

var stateMu sync.Mutex
var lastState string

// ObserveServerState marks the current lifecycle state. The previously
// reported state is zeroed so at most one series carries a 1.
func ObserveServerState(state string) {
	stateMu.Lock()
	defer stateMu.Unlock()
	if lastState != "" && lastState != state {
		serverState.WithLabelValues(lastState).Set(0)
	}
	serverState.WithLabelValues(state).Set(1)
	lastState = state
}

func IncRestarts() { serverRestarts.Inc() }

// ObserveInstall counts an install attempt. result is "ok" or an error code.
func ObserveInstall(result string) { serverInstalls.WithLabelValues(result).Inc() }

// ObserveJobRun counts one completed job run.
func ObserveJobRun(id string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	jobRuns.WithLabelValues(id, result).Inc()
}

func setProcessGauges(name string, cpu float64, rss uint64) {
	procCPU.WithLabelValues(name).Set(cpu)
	procRSS.WithLabelValues(name).Set(float64(rss))
}

func clearProcessGauges(name string) {
	procCPU.DeleteLabelValues(name)
	procRSS.DeleteLabelValues(name)
}

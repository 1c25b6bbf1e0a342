// Package metrics exposes Prometheus counters for the mount engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	MountAttempts    prometheus.Counter
	MountResults     *prometheus.CounterVec
	Unmounts         prometheus.Counter
	ExternalUnmounts *prometheus.CounterVec
	Sweeps           prometheus.Counter
	AutomationRuns   *prometheus.CounterVec
}

// New creates and registers the engine metrics on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MountAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mountkeeper_mount_attempts_total",
			Help: "Total mount attempts started.",
		}),
		MountResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mountkeeper_mount_results_total",
			Help: "Mount attempt outcomes.",
		}, []string{"result"}),
		Unmounts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mountkeeper_unmounts_total",
			Help: "Unmounts performed by the engine.",
		}),
		ExternalUnmounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mountkeeper_external_unmounts_total",
			Help: "Mounts that disappeared outside the engine, by classification.",
		}, []string{"classification"}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mountkeeper_sweeps_total",
			Help: "Auto-mount sweeps executed.",
		}),
		AutomationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mountkeeper_automation_runs_total",
			Help: "Automation task executions, by outcome.",
		}, []string{"type", "result"}),
	}

	collectors := []prometheus.Collector{
		m.MountAttempts, m.MountResults, m.Unmounts,
		m.ExternalUnmounts, m.Sweeps, m.AutomationRuns,
	}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordMountAttempt implements the mount manager's recorder interface.
func (m *Metrics) RecordMountAttempt() {
	m.MountAttempts.Inc()
}

// RecordMountResult implements the mount manager's recorder interface.
func (m *Metrics) RecordMountResult(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.MountResults.WithLabelValues(result).Inc()
}

// RecordUnmount implements the mount manager's recorder interface.
func (m *Metrics) RecordUnmount() {
	m.Unmounts.Inc()
}

// RecordExternalUnmount implements the mount manager's recorder interface.
func (m *Metrics) RecordExternalUnmount(classification string) {
	m.ExternalUnmounts.WithLabelValues(classification).Inc()
}

// RecordSweep counts one auto-mount sweep.
func (m *Metrics) RecordSweep() {
	m.Sweeps.Inc()
}

// RecordAutomation counts one automation task execution.
func (m *Metrics) RecordAutomation(kind string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.AutomationRuns.WithLabelValues(kind, result).Inc()
}

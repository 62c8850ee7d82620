// Package metrics counts what a run did. The registry is per run and can be
// written as a node_exporter textfile at the end of the run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "instance_reaper"

// Metrics holds the run counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	checks         *prometheus.CounterVec
	instanceStates *prometheus.GaugeVec
	remediations   *prometheus.CounterVec
	imagesDeleted  prometheus.Counter
	extentsDeleted prometheus.Counter
	sweepErrors    *prometheus.CounterVec
	lastRun        prometheus.Gauge
}

// New registers the run counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		// checks counts health probe results.
		// Labels: check (tcp, http), result (OK, FAIL)
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Health probe results",
		}, []string{"check", "result"}),
		// instanceStates is 1 for the state observed per hostname in the last pass.
		instanceStates: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instance_state",
			Help:      "Observed instance state per monitored hostname",
		}, []string{"hostname", "state"}),
		// remediations counts final remediation phases.
		// Labels: phase (done, backup_failed, dry_run)
		remediations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Remediation attempts by final phase",
		}, []string{"phase"}),
		imagesDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "images_deleted_total",
			Help:      "Backup images deregistered by the retention sweep",
		}),
		extentsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "extents_deleted_total",
			Help:      "Storage extents deleted by the retention sweep",
		}),
		// sweepErrors counts per-item sweep failures.
		// Labels: stage (parse, extent_ref, deregister, delete_extent, list)
		sweepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "errors_total",
			Help:      "Retention sweep failures by stage",
		}, []string{"stage"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Check(check, result string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(check, result).Inc()
}

func (m *Metrics) InstanceState(hostname, state string) {
	if m == nil {
		return
	}
	m.instanceStates.DeletePartialMatch(prometheus.Labels{"hostname": hostname})
	m.instanceStates.WithLabelValues(hostname, state).Set(1)
}

func (m *Metrics) Remediation(phase string) {
	if m == nil {
		return
	}
	m.remediations.WithLabelValues(phase).Inc()
}

func (m *Metrics) ImageDeleted() {
	if m == nil {
		return
	}
	m.imagesDeleted.Inc()
}

func (m *Metrics) ExtentDeleted() {
	if m == nil {
		return
	}
	m.extentsDeleted.Inc()
}

func (m *Metrics) SweepError(stage string) {
	if m == nil {
		return
	}
	m.sweepErrors.WithLabelValues(stage).Inc()
}

// WriteTextfile stamps the run time and writes the registry to path.
func (m *Metrics) WriteTextfile(path string, unixSeconds float64) error {
	if m == nil || path == "" {
		return nil
	}
	m.lastRun.Set(unixSeconds)
	return prometheus.WriteToTextfile(path, m.reg)
}

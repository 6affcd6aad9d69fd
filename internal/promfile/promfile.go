// Package promfile records run metrics and writes them in the node-exporter
// textfile format.
package promfile

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

const namespace = "opsaudit"

// Recorder implements engine.Observer. Each Recorder owns its registry so
// several can live in one process.
type Recorder struct {
	path     string
	registry *prometheus.Registry

	scanned      *prometheus.CounterVec
	findings     *prometheus.CounterVec
	remediations *prometheus.CounterVec
	regionErrors *prometheus.CounterVec
	duration     *prometheus.GaugeVec
}

// NewRecorder returns a recorder that Flush writes to path.
func NewRecorder(path string) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		path:     path,
		registry: reg,
		scanned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resources_scanned_total",
			Help:      "Resources listed and classified.",
		}, []string{"auditor"}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Resources flagged by the classifier.",
		}, []string{"auditor"}),
		remediations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remediations_total",
			Help:      "Remediation calls by result.",
		}, []string{"auditor", "result"}),
		regionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "region_errors_total",
			Help:      "Regions skipped because listing failed.",
		}, []string{"auditor"}),
		duration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}, []string{"auditor"}),
	}
}

// ObserveRun implements engine.Observer.
func (r *Recorder) ObserveRun(report *models.AuditReport, elapsed time.Duration) {
	id := report.Auditor
	r.scanned.WithLabelValues(id).Add(float64(report.Summary.Scanned))
	r.findings.WithLabelValues(id).Add(float64(report.Summary.Flagged))
	r.remediations.WithLabelValues(id, "applied").Add(float64(report.Summary.Applied))
	r.remediations.WithLabelValues(id, "failed").Add(float64(report.Summary.Failed))
	r.regionErrors.WithLabelValues(id).Add(float64(len(report.RegionErrors)))
	r.duration.WithLabelValues(id).Set(elapsed.Seconds())
}

// Flush writes every recorded metric to the textfile atomically.
func (r *Recorder) Flush() error {
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}

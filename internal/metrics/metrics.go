package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"BillScanner/internal/ports"
)

// Recorder counts stage outcomes on a private registry.
type Recorder struct {
	registry    *prometheus.Registry
	records     *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

var _ ports.Recorder = (*Recorder)(nil)

// NewRecorder registers the pipeline collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billscanner",
			Name:      "records_total",
			Help:      "Bills processed per pipeline stage and outcome.",
		}, []string{"stage", "outcome"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "billscanner",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last stage run that completed.",
		}, []string{"stage"}),
	}
	r.registry.MustRegister(r.records, r.lastSuccess)
	return r
}

// Observe counts one bill outcome for a stage.
func (r *Recorder) Observe(stage, outcome string) {
	if r == nil {
		return
	}
	r.records.WithLabelValues(stage, outcome).Inc()
}

// StageSucceeded stamps the completion time of a stage.
func (r *Recorder) StageSucceeded(stage string, at time.Time) {
	if r == nil {
		return
	}
	r.lastSuccess.WithLabelValues(stage).Set(float64(at.Unix()))
}

// Handler serves the collectors in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteToTextfile exports the current values for the node exporter textfile collector.
func (r *Recorder) WriteToTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Package metrics holds the Prometheus collectors for a pipeline run. A run
// is short-lived, so collected values are pushed to a Pushgateway at the end
// rather than scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Metrics struct {
	reg *prometheus.Registry

	stepCounter     *prometheus.CounterVec
	stepDuration    *prometheus.SummaryVec
	recordCounter   *prometheus.CounterVec
	qualityFailures *prometheus.CounterVec
	filesCounter    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_etl_step_total",
				Help: "Pipeline step executions by step and status.",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       "listings_etl_step_duration_seconds",
				Help:       "Pipeline step duration in seconds by step and status.",
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			[]string{"step", "status"},
		),
		recordCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_etl_records_total",
				Help: "Record counts by kind (read, dropped_price, dropped_geo, output, merged).",
			},
			[]string{"kind"},
		),
		qualityFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_etl_quality_failures_total",
				Help: "Failed data quality checks by check name.",
			},
			[]string{"check"},
		),
		filesCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listings_etl_files_total",
				Help: "Input files handled by outcome.",
			},
			[]string{"status"},
		),
	}
	m.reg.MustRegister(m.stepCounter, m.stepDuration, m.recordCounter, m.qualityFailures, m.filesCounter)
	return m
}

// Registry exposes the collectors, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveStep records one execution of step that started at start.
func (m *Metrics) ObserveStep(step string, start time.Time, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.stepCounter.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	m.recordCounter.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) QualityFailure(check string) {
	m.qualityFailures.WithLabelValues(check).Inc()
}

func (m *Metrics) File(status string) {
	m.filesCounter.WithLabelValues(status).Inc()
}

// Push sends the registry to the Pushgateway at url under job.
func (m *Metrics) Push(url, job string) error {
	if url == "" {
		return fmt.Errorf("pushgateway url is required")
	}
	if job == "" {
		job = "listings_etl"
	}
	if err := push.New(url, job).Gatherer(m.reg).Push(); err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}

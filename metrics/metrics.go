// Package metrics holds the Prometheus collectors recorded for check runs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "navcheck"

// CustomMetrics are the collectors updated by the check runner. A nil
// *CustomMetrics records nothing.
type CustomMetrics struct {
	CheckDuration *prometheus.HistogramVec
	CheckSuccess  *prometheus.GaugeVec
	StepDuration  *prometheus.HistogramVec
}

// RegisterCustomMetrics creates the collectors and registers them with reg.
func RegisterCustomMetrics(reg prometheus.Registerer) *CustomMetrics {
	m := &CustomMetrics{
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_seconds",
			Help:      "Wall time of a check run, session start and release included.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"check", "outcome"}),
		CheckSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "check_success",
			Help:      "1 if the last run of the check ended with the given outcome, 0 otherwise.",
		}, []string{"check", "outcome"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of a single check step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"check", "step"}),
	}
	reg.MustRegister(m.CheckDuration, m.CheckSuccess, m.StepDuration)

	return m
}

// ObserveCheck records the end of a check run. Outcomes other than the one
// observed are reset to 0 for the check.
func (m *CustomMetrics) ObserveCheck(check, outcome string, outcomes []string, d time.Duration) {
	if m == nil {
		return
	}
	m.CheckDuration.WithLabelValues(check, outcome).Observe(d.Seconds())
	for _, o := range outcomes {
		v := 0.0
		if o == outcome {
			v = 1
		}
		m.CheckSuccess.WithLabelValues(check, o).Set(v)
	}
}

// ObserveStep records the duration of one step.
func (m *CustomMetrics) ObserveStep(check, step string, d time.Duration) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(check, step).Observe(d.Seconds())
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format, as read by the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("writing metrics textfile %q: %w", path, err)
	}
	return nil
}

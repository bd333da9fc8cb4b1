// Package report records run metrics and writes per-unit coverage
// workbooks.
package report

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abhisek/apgen/internal/problemgen"
)

// Final set outcomes. Each set is counted under exactly one of these.
const (
	OutcomeSuccess      = "success"
	OutcomeExhausted    = "exhausted"
	OutcomeAborted      = "aborted"
	OutcomeSkipped      = "skipped"
	OutcomeImageFailure = "image_failed"
	OutcomeRenderFailed = "render_failed"
	OutcomeDeferred     = "deferred"
	OutcomeSubmitFailed = "submit_failed"
)

// Metrics holds the run's Prometheus collectors in a private registry.
// It implements problemgen.Observer.
type Metrics struct {
	reg *prometheus.Registry

	sets         *prometheus.CounterVec
	loops        *prometheus.CounterVec
	modelCalls   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	rejections   *prometheus.CounterVec
	repairRounds *prometheus.HistogramVec
	images       *prometheus.CounterVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apgen_sets_total",
				Help: "Question sets by kind and final outcome",
			},
			[]string{"kind", "outcome"},
		),
		loops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apgen_generation_loops_total",
				Help: "Generate-validate-repair loops by kind and status",
			},
			[]string{"kind", "status"},
		),
		modelCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apgen_model_calls_total",
				Help: "Text model calls by kind, phase and result",
			},
			[]string{"kind", "phase", "result"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apgen_model_call_duration_seconds",
				Help:    "Duration of text model calls",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"kind", "phase"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apgen_rejections_total",
				Help: "Rejected rows by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		repairRounds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apgen_repair_rounds",
				Help:    "Repair rounds used per finished set",
				Buckets: []float64{0, 1, 2, 3, 4},
			},
			[]string{"kind"},
		),
		images: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apgen_images_total",
				Help: "Stimulus images by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.reg.MustRegister(m.sets, m.loops, m.modelCalls, m.callDuration, m.rejections, m.repairRounds, m.images)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ModelCall(kind problemgen.Kind, phase problemgen.Phase, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.modelCalls.WithLabelValues(string(kind), string(phase), result).Inc()
	m.callDuration.WithLabelValues(string(kind), string(phase)).Observe(elapsed.Seconds())
}

func (m *Metrics) Rejected(kind problemgen.Kind, r problemgen.RejectionReport) {
	m.rejections.WithLabelValues(string(kind), string(r.Reason)).Inc()
}

// Finished records the loop's own status. A successful loop can still end
// as a failed set, so set outcomes are recorded separately by SetOutcome.
func (m *Metrics) Finished(kind problemgen.Kind, res *problemgen.Result) {
	m.loops.WithLabelValues(string(kind), string(res.Status)).Inc()
	m.repairRounds.WithLabelValues(string(kind)).Observe(float64(res.RepairRounds))
}

// SetOutcome counts the final outcome of one set.
func (m *Metrics) SetOutcome(kind problemgen.Kind, outcome string) {
	m.sets.WithLabelValues(string(kind), outcome).Inc()
}

// Image counts one image outcome.
func (m *Metrics) Image(ok bool) {
	outcome := "generated"
	if !ok {
		outcome = "failed"
	}
	m.images.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes the registry in the text exposition format for a
// node-exporter textfile collector. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-engine/internal/apperr"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Metrics implements engine.Observer and worker.FlushRecorder.
type Metrics struct {
	gatherer prometheus.Gatherer

	SessionsOpened  *prometheus.CounterVec
	AttemptsSaved   *prometheus.CounterVec
	SubmitFailures  *prometheus.CounterVec
	SessionSeconds  *prometheus.HistogramVec
	RetakeDecisions *prometheus.CounterVec
	DraftWrites     *prometheus.CounterVec
}

// New builds the collectors under namespace and registers them with reg.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		SessionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_opened_total",
				Help:      "Assessment sessions opened",
			},
			[]string{"kind", "type"},
		),
		AttemptsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_submitted_total",
				Help:      "Attempts persisted, by submit trigger",
			},
			[]string{"kind", "trigger"},
		),
		SubmitFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submit_failures_total",
				Help:      "Failed submissions, by error code",
			},
			[]string{"code"},
		),
		SessionSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Time from session open to submission",
				Buckets:   []float64{30, 60, 300, 600, 1800, 3600, 7200},
			},
			[]string{"kind"},
		),
		RetakeDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retake_decisions_total",
				Help:      "Retake eligibility decisions, by reason",
			},
			[]string{"allowed", "reason"},
		),
		DraftWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "draft_writes_total",
				Help:      "Queued drafts written or requeued by the draft worker",
			},
			[]string{"op", "result"},
		),
	}
	reg.MustRegister(m.SessionsOpened, m.AttemptsSaved, m.SubmitFailures, m.SessionSeconds, m.RetakeDecisions, m.DraftWrites)
	return m
}

func (m *Metrics) SessionOpened(a *model.Assessment, _ string, _ int) {
	m.SessionsOpened.WithLabelValues(string(a.Kind), string(a.Type)).Inc()
}

func (m *Metrics) SessionSubmitted(a *model.Assessment, attempt *model.Attempt) {
	m.AttemptsSaved.WithLabelValues(string(a.Kind), string(attempt.Trigger)).Inc()
	m.SessionSeconds.WithLabelValues(string(a.Kind)).Observe(attempt.SubmittedAt.Sub(attempt.StartedAt).Seconds())
}

func (m *Metrics) SubmitFailed(_ *model.Assessment, _ *model.Attempt, err error) {
	m.SubmitFailures.WithLabelValues(string(apperr.CodeOf(err))).Inc()
}

// RetakeDecided records the outcome of a retake check.
func (m *Metrics) RetakeDecided(d engine.Decision) {
	allowed := "false"
	if d.Allowed {
		allowed = "true"
	}
	m.RetakeDecisions.WithLabelValues(allowed, d.Reason).Inc()
}

func (m *Metrics) DraftsFlushed(op string, written, failed int) {
	if written > 0 {
		m.DraftWrites.WithLabelValues(op, "written").Add(float64(written))
	}
	if failed > 0 {
		m.DraftWrites.WithLabelValues(op, "requeued").Add(float64(failed))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

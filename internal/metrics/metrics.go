// Package metrics exposes Prometheus counters for exam and game activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissions  *prometheus.CounterVec
	timeSpent    prometheus.Histogram
	gradeBatches *prometheus.CounterVec
	gamePlays    *prometheus.CounterVec
	countdowns   prometheus.GaugeFunc
}

// New registers the collectors on a fresh registry. activeCountdowns, if
// non-nil, reports the number of running exam countdowns.
func New(activeCountdowns func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctor",
			Name:      "submissions_total",
			Help:      "Exam submissions by submit reason and resulting status.",
		}, []string{"reason", "status"}),
		timeSpent: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "proctor",
			Name:      "submission_time_spent_seconds",
			Help:      "Time spent on submitted exam attempts.",
			Buckets:   []float64{60, 300, 600, 1200, 1800, 2700, 3600, 5400, 7200},
		}),
		gradeBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctor",
			Name:      "grade_batches_total",
			Help:      "Grade batches by outcome.",
		}, []string{"outcome"}),
		gamePlays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "proctor",
			Name:      "game_plays_total",
			Help:      "Completed learning-game plays by game type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submissions, m.timeSpent, m.gradeBatches, m.gamePlays,
	)
	if activeCountdowns != nil {
		m.countdowns = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "proctor",
			Name:      "active_countdowns",
			Help:      "Exam countdowns currently running.",
		}, func() float64 { return float64(activeCountdowns()) })
		m.registry.MustRegister(m.countdowns)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Submitted records one finalized submission.
func (m *Metrics) Submitted(reason, status string, timeSpentSeconds int) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(reason, status).Inc()
	m.timeSpent.Observe(float64(timeSpentSeconds))
}

// GradeBatch records the outcome of a grade batch: applied, rejected or
// stale.
func (m *Metrics) GradeBatch(outcome string) {
	if m == nil {
		return
	}
	m.gradeBatches.WithLabelValues(outcome).Inc()
}

// GamePlayed records one completed game play.
func (m *Metrics) GamePlayed(gameType string) {
	if m == nil {
		return
	}
	m.gamePlays.WithLabelValues(gameType).Inc()
}

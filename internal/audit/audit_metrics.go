package audit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szlapakariel-ux/auditoria-sofse/internal/classify"
	"github.com/szlapakariel-ux/auditoria-sofse/internal/rules"
)

// Metrics holds Prometheus metrics for the audit subsystem. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ImportsTotal         *prometheus.CounterVec
	ClassificationsTotal *prometheus.CounterVec
	TransitionsTotal     *prometheus.CounterVec
	BatchesTotal         *prometheus.CounterVec
	StaleRefreshTotal    prometheus.Counter
	CascadesTotal        *prometheus.CounterVec
	CascadeDuration      prometheus.Histogram
	CascadeMessages      *prometheus.CounterVec
	ConflictsTotal       *prometheus.CounterVec
	ClassificationPanics prometheus.Counter
}

// NewMetrics registers and returns audit metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_imports_total",
			Help: "Imported records by result.",
		}, []string{"result"}),
		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_classifications_total",
			Help: "Classification runs by resulting level.",
		}, []string{"nivel"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_transitions_total",
			Help: "Workflow actions by action and outcome.",
		}, []string{"action", "status"}),
		BatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_batches_total",
			Help: "Validator batches by result.",
		}, []string{"result"}),
		StaleRefreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditoria_stale_refresh_total",
			Help: "Messages reclassified before being served because their rule version was old.",
		}),
		CascadesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_cascades_total",
			Help: "Reclassification cascades by final status.",
		}, []string{"status"}),
		CascadeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auditoria_cascade_duration_seconds",
			Help:    "Duration of reclassification cascades in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
		CascadeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_cascade_messages_total",
			Help: "Messages affected by cascades by outcome.",
		}, []string{"outcome"}),
		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditoria_rule_conflicts_total",
			Help: "Rule conflicts detected by type.",
		}, []string{"type"}),
		ClassificationPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auditoria_classification_panics_total",
			Help: "Classification runs that panicked and were isolated.",
		}),
	}

	reg.MustRegister(
		m.ImportsTotal,
		m.ClassificationsTotal,
		m.TransitionsTotal,
		m.BatchesTotal,
		m.StaleRefreshTotal,
		m.CascadesTotal,
		m.CascadeDuration,
		m.CascadeMessages,
		m.ConflictsTotal,
		m.ClassificationPanics,
	)

	return m
}

func (m *Metrics) imported(res ImportResult) {
	if m == nil {
		return
	}
	m.ImportsTotal.WithLabelValues("new").Add(float64(res.New))
	m.ImportsTotal.WithLabelValues("duplicate").Add(float64(res.Duplicates))
	m.ImportsTotal.WithLabelValues("error").Add(float64(res.Errors))
}

func (m *Metrics) classified(level classify.Level) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) panicked() {
	if m == nil {
		return
	}
	m.ClassificationPanics.Inc()
}

func (m *Metrics) transition(a Action, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "rejected"
	}
	m.TransitionsTotal.WithLabelValues(string(a), status).Inc()
}

func (m *Metrics) batch(b *Batch) {
	if m == nil || b == nil {
		return
	}
	result := "issued"
	if b.Cleared {
		result = "cleared"
	}
	m.BatchesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) refreshed(n int) {
	if m == nil {
		return
	}
	m.StaleRefreshTotal.Add(float64(n))
}

func (m *Metrics) conflicts(cs []rules.Conflict) {
	if m == nil {
		return
	}
	for _, c := range cs {
		m.ConflictsTotal.WithLabelValues(string(c.Type)).Inc()
	}
}

func (m *Metrics) cascade(job *CascadeJob, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CascadesTotal.WithLabelValues(string(job.Status)).Inc()
	m.CascadeDuration.Observe(elapsed.Seconds())
	m.CascadeMessages.WithLabelValues("resolved").Add(float64(job.Resolved))
	m.CascadeMessages.WithLabelValues("reclassified").Add(float64(job.Reclassified))
}

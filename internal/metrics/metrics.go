// Package metrics defines the Prometheus metrics exported by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "implicit_session"

// Label values.
const (
	ResultSession = "session"
	ResultNone    = "none"

	LoadRestored = "restored"
	LoadEmpty    = "empty"
	LoadInvalid  = "invalid"
	LoadError    = "error"

	PersistOK      = "ok"
	PersistError   = "error"
	PersistGuarded = "guarded"

	TriggerChange   = "change"
	TriggerRedirect = "redirect"
)

// Metrics holds all Prometheus metrics for the daemon.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Derivations  *prometheus.CounterVec
	Loads        *prometheus.CounterVec
	Persists     *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Derivations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "derivations_total",
				Help:      "Redirect fragments processed, by outcome",
			},
			[]string{"result"}, // result=session/none
		),
		Loads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loads_total",
				Help:      "Start-up attempts to restore a persisted session",
			},
			[]string{"result"},
		),
		Persists: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persists_total",
				Help:      "Session writes to storage, by trigger and outcome",
			},
			[]string{"trigger", "result"},
		),
		HTTPRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "code"},
		),
	}
}

// Derivation records the outcome of one redirect derivation.
func (m *Metrics) Derivation(ok bool) {
	if m == nil {
		return
	}
	result := ResultNone
	if ok {
		result = ResultSession
	}
	m.Derivations.WithLabelValues(result).Inc()
}

// Load records the outcome of the start-up load attempt.
func (m *Metrics) Load(result string) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(result).Inc()
}

// Persist records one write attempt or a guarded skip.
func (m *Metrics) Persist(trigger, result string) {
	if m == nil {
		return
	}
	m.Persists.WithLabelValues(trigger, result).Inc()
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, code string) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, code).Inc()
}

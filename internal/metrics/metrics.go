// Package metrics exposes Prometheus counters for the attempt-defense core.
// Metrics are registered against an explicit registerer so tests can use a
// private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stuffguard"

// Outcome label values for LoginAttempts
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeBlocked  = "blocked"
	OutcomeDisabled = "disabled"
)

// Gate label values for GateDenials
const (
	GateRisk   = "risk"
	GateReAuth = "reauth"
	GateAPIKey = "api_key"
)

type Metrics struct {
	// LoginAttempts counts scored observations by outcome and with_jwt.
	LoginAttempts *prometheus.CounterVec

	// StuffingDetections counts observations that tipped an IP into blocking.
	StuffingDetections prometheus.Counter

	ChainRejections prometheus.Counter

	// GateDenials counts middleware rejections. gate: risk | reauth | api_key
	GateDenials *prometheus.CounterVec

	// DegradedDecisions counts decisions taken while a backing store was down.
	// dependency: ledger | policy_store, mode: open | closed
	DegradedDecisions *prometheus.CounterVec

	AccountWindows prometheus.Gauge
}

// New registers all collectors with reg. A nil reg creates a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "login_attempts_total",
				Help:      "Total number of scored login observations by outcome and session credential use.",
			},
			[]string{"outcome", "with_jwt"},
		),
		StuffingDetections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_stuffing_detections_total",
				Help:      "Total number of failed observations that resulted in an IP block.",
			},
		),
		ChainRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_token_rejections_total",
				Help:      "Total number of scoring submissions rejected for a missing or stale chain token.",
			},
		),
		GateDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_denials_total",
				Help:      "Total number of requests rejected by request gates.",
			},
			[]string{"gate"},
		),
		DegradedDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_decisions_total",
				Help:      "Total number of decisions made while a backing store was unavailable.",
			},
			[]string{"dependency", "mode"},
		),
		AccountWindows: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "account_windows_tracked",
				Help:      "Current number of accounts with an in-memory failure window.",
			},
		),
	}
}

// ObserveAttempt increments LoginAttempts
func (m *Metrics) ObserveAttempt(outcome string, withJWT bool) {
	if m == nil {
		return
	}
	jwtLabel := "false"
	if withJWT {
		jwtLabel = "true"
	}
	m.LoginAttempts.WithLabelValues(outcome, jwtLabel).Inc()
}

func (m *Metrics) ObserveDetection() {
	if m == nil {
		return
	}
	m.StuffingDetections.Inc()
}

func (m *Metrics) ObserveChainRejection() {
	if m == nil {
		return
	}
	m.ChainRejections.Inc()
}

func (m *Metrics) ObserveGateDenial(gate string) {
	if m == nil {
		return
	}
	m.GateDenials.WithLabelValues(gate).Inc()
}

func (m *Metrics) ObserveDegraded(dependency, mode string) {
	if m == nil {
		return
	}
	m.DegradedDecisions.WithLabelValues(dependency, mode).Inc()
}

func (m *Metrics) SetAccountWindows(n int) {
	if m == nil {
		return
	}
	m.AccountWindows.Set(float64(n))
}

// Handler serves the collectors of gatherer in the Prometheus text format
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

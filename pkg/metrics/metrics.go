// Package metrics exposes prometheus counters for the wallet subsystem.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// WalletMetrics holds the subsystem's counters on a private registry so
// embedding applications can expose or ignore them.
type WalletMetrics struct {
	registry        *prometheus.Registry
	submittedTotal  *prometheus.CounterVec
	confirmedTotal  *prometheus.CounterVec
	reconciledTotal *prometheus.CounterVec
	connectsTotal   *prometheus.CounterVec
}

// New creates and registers the wallet metric set.
func New() *WalletMetrics {
	submitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletcore_tx_submitted_total",
		Help: "Transactions handed to a wallet provider",
	}, []string{"result"})

	confirmed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletcore_tx_confirmed_total",
		Help: "Transaction confirmation outcomes",
	}, []string{"result"})

	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletcore_hash_reconciliations_total",
		Help: "Hash reconciliations where the wallet-reported hash was wrong",
	}, []string{"provider"})

	connects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "walletcore_session_connects_total",
		Help: "Wallet session connect attempts",
	}, []string{"provider", "status"})

	r := prometheus.NewRegistry()
	r.MustRegister(submitted, confirmed, reconciled, connects)

	return &WalletMetrics{
		registry:        r,
		submittedTotal:  submitted,
		confirmedTotal:  confirmed,
		reconciledTotal: reconciled,
		connectsTotal:   connects,
	}
}

// Handler serves the registry in prometheus exposition format.
func (m *WalletMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncSubmitted counts one submission with the given result.
func (m *WalletMetrics) IncSubmitted(result string) {
	m.submittedTotal.WithLabelValues(result).Inc()
}

// IncConfirmed counts one confirmation outcome.
func (m *WalletMetrics) IncConfirmed(result string) {
	m.confirmedTotal.WithLabelValues(result).Inc()
}

// IncReconciled counts one wrong-hash reconciliation per provider kind.
func (m *WalletMetrics) IncReconciled(provider string) {
	m.reconciledTotal.WithLabelValues(provider).Inc()
}

// IncConnect counts one session connect attempt.
func (m *WalletMetrics) IncConnect(provider, status string) {
	m.connectsTotal.WithLabelValues(provider, status).Inc()
}

package observability

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics counts ledger operations and, critically, detected
// balance desyncs, which drive the operator alert.
type LedgerMetrics struct {
	paymentsRecorded   prometheus.Counter
	allocationDesyncs  prometheus.Counter
	reconciliationRuns prometheus.Counter
}

// NewLedgerMetrics registers the ledger counters.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		paymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumina_ledger_payments_recorded_total",
			Help: "Payments successfully allocated and recorded.",
		}),
		allocationDesyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumina_ledger_desync_detected_total",
			Help: "Detected disagreements between cached balances and the ledger.",
		}),
		reconciliationRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumina_ledger_reconciliation_runs_total",
			Help: "Balance reconciliation runs, automatic and operator-invoked.",
		}),
	}
	reg.MustRegister(m.paymentsRecorded, m.allocationDesyncs, m.reconciliationRuns)
	return m
}

func (m *LedgerMetrics) PaymentRecorded()   { m.paymentsRecorded.Inc() }
func (m *LedgerMetrics) AllocationDesync()  { m.allocationDesyncs.Inc() }
func (m *LedgerMetrics) ReconciliationRun() { m.reconciliationRuns.Inc() }

package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/bank-ledger/internal/errs"
)

// Metrics are the ledger's Prometheus instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	postings            *prometheus.CounterVec
	postingDuration     *prometheus.HistogramVec
	lockWait            prometheus.Histogram
	retries             *prometheus.CounterVec
	invariantViolations prometheus.Counter
	reconciliations     prometheus.Counter

	TrialBalanceDifference prometheus.Gauge
	AccountDiscrepancies   prometheus.Gauge
	UnbalancedJournals     prometheus.Gauge
}

// NewMetrics registers the ledger instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		postings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "postings_total",
			Help:      "Posting operations by type and outcome.",
		}, []string{"operation", "outcome"}),
		postingDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "posting_duration_seconds",
			Help:      "Wall time of a posting unit of work including lock waits and retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for keyed locks.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "retries_total",
			Help:      "Units of work retried after a concurrency conflict.",
		}, []string{"operation"}),
		invariantViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "invariant_violations_total",
			Help:      "Units aborted because a bookkeeping invariant did not hold.",
		}),
		reconciliations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "reconciliations_total",
			Help:      "Cached balances overwritten from the ledger.",
		}),
		TrialBalanceDifference: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "trial_balance_difference",
			Help:      "Total debits minus total credits at the last trial balance.",
		}),
		AccountDiscrepancies: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "account_discrepancies",
			Help:      "Accounts whose cached balance disagrees with the ledger.",
		}),
		UnbalancedJournals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledger",
			Name:      "unbalanced_journal_entries",
			Help:      "Journal entries that failed the balance check.",
		}),
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindNotFound, errs.KindInsufficientFunds, errs.KindUnauthorized:
		return "rejected"
	case errs.KindConcurrencyConflict:
		return "conflict"
	default:
		return "error"
	}
}

func (m *Metrics) observePosting(op OperationType, started time.Time, err error) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(opLabel(op), outcome(err)).Inc()
	m.postingDuration.WithLabelValues(opLabel(op)).Observe(time.Since(started).Seconds())
}

// opLabel keeps caller-supplied operation types out of label values.
func opLabel(op OperationType) string {
	if !op.Known() {
		return "invalid"
	}
	return string(op)
}

// ObserveLockWait is suitable as a locking.WithWaitObserver callback.
func (m *Metrics) ObserveLockWait(_ string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(waited.Seconds())
}

func (m *Metrics) retried(op OperationType) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(opLabel(op)).Inc()
}

func (m *Metrics) invariantViolated() {
	if m == nil {
		return
	}
	m.invariantViolations.Inc()
}

func (m *Metrics) reconciled() {
	if m == nil {
		return
	}
	m.reconciliations.Inc()
}

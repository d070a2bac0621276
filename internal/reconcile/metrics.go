package reconcile

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts engine activity. The atomic fields are always maintained;
// Prometheus collectors are populated only after Register.
type Metrics struct {
	Submissions   atomic.Uint64
	SubmitErrors  atomic.Uint64
	Duplicates    atomic.Uint64
	Confirmed     atomic.Uint64
	TxFailed      atomic.Uint64
	TxUnknown     atomic.Uint64
	SyncOK        atomic.Uint64
	SyncRetries   atomic.Uint64
	SyncAbandoned atomic.Uint64
	ResyncRuns    atomic.Uint64
	ResyncSkipped atomic.Uint64
	ResyncDrift   atomic.Uint64

	counters map[*atomic.Uint64]prometheus.Counter
	pending  prometheus.Gauge

	registerOnce sync.Once
}

// Register registers Prometheus collectors with registry. A nil registry is
// a no-op; repeated calls are ignored.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if registry == nil {
		return
	}
	m.registerOnce.Do(func() {
		factory := promauto.With(registry)
		counter := func(name, help string) prometheus.Counter {
			return factory.NewCounter(prometheus.CounterOpts{
				Namespace: "predsync",
				Subsystem: "reconcile",
				Name:      name,
				Help:      help,
			})
		}
		m.counters = map[*atomic.Uint64]prometheus.Counter{
			&m.Submissions:   counter("submissions_total", "Ledger submissions accepted"),
			&m.SubmitErrors:  counter("submission_errors_total", "Ledger submissions rejected"),
			&m.Duplicates:    counter("duplicate_submissions_total", "Submissions suppressed as duplicates"),
			&m.Confirmed:     counter("confirmed_total", "Transactions confirmed on the ledger"),
			&m.TxFailed:      counter("tx_failed_total", "Transactions that failed on the ledger"),
			&m.TxUnknown:     counter("tx_unknown_total", "Transactions whose confirmation timed out"),
			&m.SyncOK:        counter("sync_ok_total", "Confirmations synced to the cache"),
			&m.SyncRetries:   counter("sync_retries_total", "Cache sync attempts retried"),
			&m.SyncAbandoned: counter("sync_abandoned_total", "Confirmations whose cache sync was abandoned"),
			&m.ResyncRuns:    counter("resync_runs_total", "Completed resync passes"),
			&m.ResyncSkipped: counter("resync_skipped_total", "Resync passes skipped because another replica held the lock"),
			&m.ResyncDrift:   counter("resync_drift_total", "Cache entries found out of date during resync"),
		}
		m.pending = factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "predsync",
			Subsystem: "reconcile",
			Name:      "pending",
			Help:      "Transactions currently being tracked",
		})
	})
}

func (m *Metrics) add(c *atomic.Uint64, n int) {
	if n <= 0 {
		return
	}
	c.Add(uint64(n))
	if pc, ok := m.counters[c]; ok {
		pc.Add(float64(n))
	}
}

func (m *Metrics) inc(c *atomic.Uint64) {
	m.add(c, 1)
}

func (m *Metrics) setPending(n int) {
	if m.pending == nil {
		return
	}
	m.pending.Set(float64(n))
}

package txn

import "github.com/prometheus/client_golang/prometheus"

// Metrics are per-Engine counters, registered against a private registry
// rather than prometheus.DefaultRegisterer so that opening more than one
// Engine in a process (as the tests do) never collides on a metric name.
type Metrics struct {
	registry *prometheus.Registry

	Commits        prometheus.Counter
	ConflictAborts prometheus.Counter
	LockAborts     prometheus.Counter
	LockRetries    prometheus.Counter
	Evictions      prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tictocdb_commits_total",
			Help: "Transactions that reached step 8 of the commit validator.",
		}),
		ConflictAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tictocdb_conflict_aborts_total",
			Help: "Commits aborted because a validated read's wts changed underneath it.",
		}),
		LockAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tictocdb_lock_aborts_total",
			Help: "Commits aborted because a validated read was locked by another committer.",
		}),
		LockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tictocdb_lock_retries_total",
			Help: "No-wait write-lock acquisition rounds that had to release and retry.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tictocdb_tsc_evictions_total",
			Help: "Timestamp cache cells evicted and written back to the KV engine.",
		}),
	}
	reg.MustRegister(m.Commits, m.ConflictAborts, m.LockAborts, m.LockRetries, m.Evictions)
	return m
}

// Gatherer exposes the Engine's metrics for scraping, e.g. via
// promhttp.HandlerFor(engine.Metrics().Gatherer(), ...).
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Package txn is the transactional layer: tuple headers and the merge
// function live in pkg/tuple, the soft lock table lives in pkg/tsc, and the
// per-transaction read/write set lives in pkg/rws. This package is where
// those pieces are wired together into
// Transaction.{Insert,Update,Delete,Lookup,Commit,Abort} and the TicToc
// commit validator.
package txn

import (
	"sync"
	"sync/atomic"

	txnerrors "github.com/bobboyms/tictocdb/pkg/errors"
	"github.com/bobboyms/tictocdb/pkg/kvstore"
	"github.com/bobboyms/tictocdb/pkg/rws"
	"github.com/bobboyms/tictocdb/pkg/tsc"
)

// Engine owns the KV engine, the timestamp cache, and the set of threads
// currently allowed to begin transactions against it.
type Engine struct {
	cfg Config
	kv  *kvstore.Engine

	cache *tsc.Cache

	isolation atomic.Int32

	threadsMu  sync.Mutex
	threads    map[int64]struct{}
	nextThread atomic.Int64

	metrics *Metrics

	closed atomic.Bool
}

// Create opens (creating if necessary) an Engine at cfg.Dir, or an
// in-memory one when cfg.InMemory is set. Create is an alias for Open:
// Pebble itself does not distinguish create-new from open-existing.
func Create(cfg Config) (*Engine, error) {
	return Open(cfg)
}

// Open opens the store at cfg.Dir, creating it if it does not exist yet,
// applying Config zero-value defaults the same way a Config/DefaultConfig
// pairing usually does.
func Open(cfg Config) (*Engine, error) {
	if cfg.CacheSizeLog2 <= 0 {
		cfg.CacheSizeLog2 = 16
	}
	if cfg.RWSLimit <= 0 {
		cfg.RWSLimit = rws.DefaultLimit
	}

	kv, err := kvstore.Open(cfg.kvConfig())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		kv:      kv,
		threads: make(map[int64]struct{}),
		metrics: newMetrics(),
	}
	e.isolation.Store(int32(cfg.Isolation))
	e.cache = tsc.New(cfg.CacheSizeLog2, e.writeback)
	return e, nil
}

// writeback is handed to the timestamp cache as its eviction hook: an
// evicted cell's current (wts, delta) must survive the eviction as a
// timestamp-only KV record before the slot is reused.
func (e *Engine) writeback(key []byte, w tsc.Word) error {
	e.metrics.Evictions.Inc()
	return e.kv.WriteTSUpdate(key, w.WTS, w.Delta)
}

// Close releases the KV engine. Any transactions still open against this
// Engine are left holding stale references; the caller is responsible for
// committing or aborting every transaction before calling Close.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return txnerrors.Assertf("engine already closed")
	}
	return e.kv.Close()
}

// RegisterThread admits a new worker thread/goroutine to the engine,
// returning the thread id it must pass back to DeregisterThread. This
// mirrors embedded engines (LMDB, SplinterDB) that require explicit
// thread/session registration rather than allowing unbounded concurrent
// access.
func (e *Engine) RegisterThread() int64 {
	id := e.nextThread.Add(1)
	e.threadsMu.Lock()
	e.threads[id] = struct{}{}
	e.threadsMu.Unlock()
	return id
}

// DeregisterThread releases a thread id obtained from RegisterThread.
func (e *Engine) DeregisterThread(id int64) error {
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	if _, ok := e.threads[id]; !ok {
		return txnerrors.Assertf("thread %d is not registered", id)
	}
	delete(e.threads, id)
	return nil
}

// isThreadRegistered reports whether id currently holds admission via
// RegisterThread. Consulted at Begin and on every Transaction operation so
// a thread deregistered mid-transaction (or one that never registered)
// hits the usage-error path instead of silently operating.
func (e *Engine) isThreadRegistered(id int64) bool {
	e.threadsMu.Lock()
	defer e.threadsMu.Unlock()
	_, ok := e.threads[id]
	return ok
}

// SetIsolationLevel changes the isolation level applied to transactions
// begun after this call. Existing in-flight
// transactions keep the level captured at Begin.
func (e *Engine) SetIsolationLevel(level IsolationLevel) {
	e.isolation.Store(int32(level))
}

// Metrics returns the Engine's private metrics, for scraping.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// Begin starts a new transaction on behalf of threadID, which must come
// from a prior, still-live RegisterThread call. It also rejects a closed handle
// rather than let the transaction run straight into a closed KV engine.
func (e *Engine) Begin(threadID int64) (*Transaction, error) {
	if e.closed.Load() {
		return nil, txnerrors.Assertf("begin on a closed engine handle")
	}
	if !e.isThreadRegistered(threadID) {
		return nil, txnerrors.Assertf("thread %d is not registered with this engine", threadID)
	}
	return &Transaction{
		engine:    e,
		rws:       rws.New(e.cfg.RWSLimit, e.cfg.PayloadMerge),
		isolation: IsolationLevel(e.isolation.Load()),
		threadID:  threadID,
	}, nil
}

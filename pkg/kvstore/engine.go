// Package kvstore is the concrete KV engine behind the transactional
// layer: an embedded Pebble LSM store whose merge operator folds
// timestamp-only updates into value-bearing tuples, invoked asynchronously
// by Pebble's own compactor during background compaction.
package kvstore

import (
	"github.com/cockroachdb/pebble"

	txnerrors "github.com/bobboyms/tictocdb/pkg/errors"
	"github.com/bobboyms/tictocdb/pkg/tuple"
)

// MergeName is the Pebble merger name embedded in the store's manifest;
// it must stay stable across opens of the same database (a mismatch is a
// usage error Pebble itself would refuse to open).
const MergeName = "tictocdb.tuple-merger"

// Config configures the Pebble-backed engine. It is intentionally a thin
// pass-through: anything the KV engine supports but the transactional
// layer has no opinion about belongs in PebbleOptions.
type Config struct {
	Dir           string
	InMemory      bool
	PayloadMerge  tuple.PayloadMerger
	FinalMerge    tuple.FinalMerger
	PebbleOptions *pebble.Options
}

// Engine wraps a *pebble.DB and exposes the point-query primitive the
// commit validator and lookup path need: insert/update/delete as merge
// operands, and a plain point Lookup.
type Engine struct {
	db *pebble.DB
}

// Open creates or opens a Pebble store at cfg.Dir (or an in-memory one if
// cfg.InMemory), installing the transactional merge function so the
// compactor can fold tuple records from the moment the store opens.
func Open(cfg Config) (*Engine, error) {
	opts := cfg.PebbleOptions
	if opts == nil {
		opts = &pebble.Options{}
	}
	opts.Merger = newMerger(cfg.PayloadMerge, cfg.FinalMerge)

	dir := cfg.Dir
	if cfg.InMemory {
		dir = ""
		opts.FS = vfsMemFS()
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, txnerrors.WrapStorage([]byte(cfg.Dir), err)
	}
	return &Engine{db: db}, nil
}

// Close drains and closes the underlying Pebble store.
func (e *Engine) Close() error {
	if err := e.db.Close(); err != nil {
		return txnerrors.WrapStorage(nil, err)
	}
	return nil
}

// writeMerge encodes h/payload and feeds it through Pebble's merge path so
// every record, real write or timestamp-only update, folds correctly
// with whatever is already stored for the key.
func (e *Engine) writeMerge(key []byte, h tuple.Header, payload []byte) error {
	raw, err := tuple.Encode(h, payload)
	if err != nil {
		return txnerrors.WrapStorage(key, err)
	}
	if err := e.db.Merge(key, raw, pebble.Sync); err != nil {
		return txnerrors.WrapStorage(key, err)
	}
	return nil
}

// Insert installs a value-bearing insert record.
func (e *Engine) Insert(key []byte, wts, delta uint64, payload []byte) error {
	return e.writeMerge(key, tuple.Header{Class: tuple.ClassInsert, WTS: wts, Delta: delta}, payload)
}

// Update installs a value-bearing update record.
func (e *Engine) Update(key []byte, wts, delta uint64, payload []byte) error {
	return e.writeMerge(key, tuple.Header{Class: tuple.ClassUpdate, WTS: wts, Delta: delta}, payload)
}

// Delete installs a definitive delete record.
func (e *Engine) Delete(key []byte, wts, delta uint64) error {
	return e.writeMerge(key, tuple.Header{Class: tuple.ClassDelete, WTS: wts, Delta: delta}, nil)
}

// WriteTSUpdate installs a timestamp-only record: no payload, is_ts_update
// set, produced by TSC eviction writeback so a cell's validity interval
// survives leaving the cache.
func (e *Engine) WriteTSUpdate(key []byte, wts, delta uint64) error {
	return e.writeMerge(key, tuple.Header{IsTSUpdate: true, WTS: wts, Delta: delta}, nil)
}

// BatchWrite is one key's final commit-time record, ready to fold into an
// atomic install batch.
type BatchWrite struct {
	Key     []byte
	Header  tuple.Header
	Payload []byte
}

// InstallBatch persists every write in writes through a single Pebble
// batch: either all of them become durable or none do. The commit
// validator's step 6 relies on this to satisfy the no-partial-install
// requirement on a storage error partway through a multi-key commit:
// by construction there is no "partway" once the writes are staged in one
// batch and committed as one atomic unit.
func (e *Engine) InstallBatch(writes []BatchWrite) error {
	if len(writes) == 0 {
		return nil
	}

	batch := e.db.NewBatch()
	defer batch.Close()

	for _, w := range writes {
		raw, err := tuple.Encode(w.Header, w.Payload)
		if err != nil {
			return txnerrors.WrapStorage(w.Key, err)
		}
		if err := batch.Merge(w.Key, raw, nil); err != nil {
			return txnerrors.WrapStorage(w.Key, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return txnerrors.WrapStorage(nil, err)
	}
	return nil
}

// Lookup performs the KV engine's serializable point-query primitive,
// returning the decoded header
// and payload. found is false only when the key has never been written
// (a definitive delete is a value-bearing class, not an absence).
func (e *Engine) Lookup(key []byte) (header tuple.Header, payload []byte, found bool, err error) {
	raw, closer, err := e.db.Get(key)
	if err == pebble.ErrNotFound {
		return tuple.Header{}, nil, false, nil
	}
	if err != nil {
		return tuple.Header{}, nil, false, txnerrors.WrapStorage(key, err)
	}
	defer closer.Close()

	h, p, decErr := tuple.Decode(raw)
	if decErr != nil {
		return tuple.Header{}, nil, false, txnerrors.WrapStorage(key, decErr)
	}
	// payload aliases Pebble's internal buffer; copy it out before closer
	// releases it back to the store.
	out := append([]byte(nil), p...)
	return h, out, true, nil
}

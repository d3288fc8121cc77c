package txn

import (
	"bytes"
	"runtime"
	"sort"
	"time"

	txnerrors "github.com/bobboyms/tictocdb/pkg/errors"
	"github.com/bobboyms/tictocdb/pkg/kvstore"
	"github.com/bobboyms/tictocdb/pkg/rws"
	"github.com/bobboyms/tictocdb/pkg/tsc"
	"github.com/bobboyms/tictocdb/pkg/tuple"
)

// noWaitBackoff is the brief pause a committer takes between no-wait lock
// rounds after releasing everything it had locked.
const noWaitBackoff = time.Microsecond

// Commit runs the TicToc commit validator: partition the read/write set,
// sort and lock the write set, compute the commit timestamp, validate
// every read, install the writes, release the locks. It returns
// (false, err) for both kinds of abort (err satisfies errors.IsAbort) and
// (false, err) for a fatal storage error partway through step 6. On success
// it returns (true, nil); the transaction is done either way.
func (tx *Transaction) Commit() (bool, error) {
	if err := tx.checkOpen(); err != nil {
		return false, err
	}
	defer func() { tx.done = true }()

	writes, reads := tx.rws.Partition()

	// Step 1: seed commit_ts from every read's observed wts. Silo-style
	// isolation biases each observed wts forward by one before the max.
	var bias uint64
	if tx.isolation == SiloStyle {
		bias = 1
	}
	var commitTS uint64
	for _, r := range reads {
		if v := r.WTS + bias; v > commitTS {
			commitTS = v
		}
	}

	// Step 2: sort W by key so every transaction acquires write locks in
	// the same global order, making the no-wait protocol deadlock-free.
	sort.Slice(writes, func(i, j int) bool {
		return bytes.Compare(writes[i].Key, writes[j].Key) < 0
	})

	// Step 3: lock W, no-wait.
	for {
		if tx.tryLockAll(writes) {
			break
		}
		tx.engine.metrics.LockRetries.Inc()
		time.Sleep(noWaitBackoff)
	}

	// Step 4: raise commit_ts above every locked write's current rts.
	for _, w := range writes {
		cur := w.Cell.Load()
		if rts := cur.RTS(); rts+1 > commitTS {
			commitTS = rts + 1
		}
	}

	// Step 5: validate R.
	if err := tx.validateReads(reads, writes, commitTS); err != nil {
		tx.unlockAll(writes)
		tx.releaseAll()
		return false, err
	}

	// Step 6: install every write in W as one atomic Pebble batch: either
	// the whole commit becomes durable or none of it does, so a storage
	// error partway through a multi-key commit can never leave a partial
	// set of installs behind: the commit is rejected before installing
	// anything rather than unwound after the fact.
	// Only once the batch has durably committed are the cells unlocked to
	// their final (lock_bit=0, delta=0, wts=commit_ts) state.
	batchWrites := make([]kvstore.BatchWrite, len(writes))
	for i, w := range writes {
		h, err := writeHeader(w, commitTS)
		if err != nil {
			tx.unlockAll(writes)
			tx.releaseAll()
			return false, err
		}
		batchWrites[i] = kvstore.BatchWrite{Key: w.Key, Header: h, Payload: w.Write.Payload}
	}
	if err := tx.engine.kv.InstallBatch(batchWrites); err != nil {
		tx.unlockAll(writes)
		tx.releaseAll()
		return false, err
	}
	for _, w := range writes {
		for {
			cur := w.Cell.Load()
			desired := tsc.Word{LockBit: false, Delta: 0, WTS: commitTS}
			if _, ok := w.Cell.CAS(cur, desired); ok {
				break
			}
		}
	}

	// Step 7: release every TSC reference this transaction acquired.
	tx.releaseAll()

	// Step 8: the read/write set itself is discarded with the
	// transaction; nothing further to do.
	tx.engine.metrics.Commits.Inc()
	return true, nil
}

// tryLockAll attempts to CAS every write entry's cell to lock_bit=1, in
// order. On the first cell that is already locked or that fails its CAS
// (another committer raced it), every cell locked so far in this attempt is
// unlocked and tryLockAll reports false so the caller can back off and
// retry the whole round (no-wait: never blocks waiting for a lock).
func (tx *Transaction) tryLockAll(writes []*rws.Entry) bool {
	for i, w := range writes {
		cur := w.Cell.Load()
		if cur.LockBit {
			tx.unlockAll(writes[:i])
			return false
		}
		desired := cur
		desired.LockBit = true
		if _, ok := w.Cell.CAS(cur, desired); !ok {
			tx.unlockAll(writes[:i])
			return false
		}
	}
	return true
}

// unlockAll clears lock_bit on every given entry's cell, leaving wts/delta
// untouched. Used both to back off a failed no-wait round and to release
// locks held when validation aborts.
func (tx *Transaction) unlockAll(writes []*rws.Entry) {
	for _, w := range writes {
		for {
			cur := w.Cell.Load()
			if !cur.LockBit {
				break
			}
			desired := cur
			desired.LockBit = false
			if _, ok := w.Cell.CAS(cur, desired); ok {
				break
			}
		}
	}
}

// validateReads checks the read set at commitTS: for every read whose observed rts
// is already below commit_ts, confirm the key wasn't overwritten since it
// was read and, if necessary, extend its cell's rts up to commit_ts so a
// future reader can't observe a value older than this transaction's writes
// without also seeing this transaction's commit.
func (tx *Transaction) validateReads(reads, writes []*rws.Entry, commitTS uint64) error {
	for _, r := range reads {
		if r.RTS >= commitTS {
			continue
		}
		inWriteSet := r.Write != nil

		for {
			v1 := r.Cell.Load()

			if v1.WTS != r.WTS {
				tx.engine.metrics.ConflictAborts.Inc()
				return &txnerrors.ConflictError{Key: r.Key}
			}

			if v1.RTS() > commitTS {
				break
			}

			if v1.LockBit && !inWriteSet {
				tx.engine.metrics.LockAborts.Inc()
				return &txnerrors.LockedError{Key: r.Key}
			}

			desired := v1
			desired.Delta = commitTS - v1.WTS
			if _, ok := r.Cell.CAS(v1, desired); ok {
				break
			}
			runtime.Gosched()
		}
	}
	return nil
}

// writeHeader builds one write-set entry's final on-disk header at
// commitTS (delta=0: a fresh write has no readers yet), routed by class.
func writeHeader(w *rws.Entry, commitTS uint64) (tuple.Header, error) {
	switch w.Write.Class {
	case tuple.ClassInsert, tuple.ClassUpdate, tuple.ClassDelete:
		return tuple.Header{Class: w.Write.Class, WTS: commitTS}, nil
	default:
		return tuple.Header{}, txnerrors.Assertf("unknown write class %v for key %x", w.Write.Class, w.Key)
	}
}

package txn

import (
	"runtime"

	txnerrors "github.com/bobboyms/tictocdb/pkg/errors"
	"github.com/bobboyms/tictocdb/pkg/rws"
	"github.com/bobboyms/tictocdb/pkg/tuple"
)

// Transaction is one optimistic transaction: a read/write set plus the
// isolation level it was begun under. A Transaction is not
// safe for concurrent use by more than one goroutine.
type Transaction struct {
	engine    *Engine
	rws       *rws.Set
	isolation IsolationLevel
	threadID  int64
	done      bool
}

// attachCell ensures e.Cell holds a referenced timestamp cache cell for
// e.Key, fetching one from the engine's cache on first touch. Every RWS
// entry holds a pointer to its key's TSC cell for the lifetime of the
// transaction.
func (tx *Transaction) attachCell(e *rws.Entry) error {
	if e.Cell != nil {
		return nil
	}
	cell, err := tx.engine.cache.InsertAndGet(e.Key)
	if err != nil {
		return err
	}
	e.Cell = cell
	return nil
}

// checkOpen is the single gate every Transaction operation runs through: a
// transaction that already finished, an engine that has since been
// closed, and a thread that has since been deregistered are all usage
// errors, rejected before the operation touches any shared state.
func (tx *Transaction) checkOpen() error {
	if tx.done {
		return txnerrors.Assertf("transaction already committed or aborted")
	}
	if tx.engine.closed.Load() {
		return txnerrors.Assertf("operation on a closed engine handle")
	}
	if !tx.engine.isThreadRegistered(tx.threadID) {
		return txnerrors.Assertf("thread %d is not registered with this engine", tx.threadID)
	}
	return nil
}

// Insert stages a value-bearing insert; not visible to any other
// transaction until Commit succeeds, but immediately
// visible to this transaction's own Lookup (read-your-write).
func (tx *Transaction) Insert(key, value []byte) error {
	return tx.write(key, tuple.ClassInsert, value)
}

// Update stages a value-bearing update; repeated updates to the same key
// within one transaction fold together through the application's payload
// merge.
func (tx *Transaction) Update(key, value []byte) error {
	return tx.write(key, tuple.ClassUpdate, value)
}

// Delete stages a definitive delete, replacing any prior local write to
// the same key.
func (tx *Transaction) Delete(key []byte) error {
	return tx.write(key, tuple.ClassDelete, nil)
}

func (tx *Transaction) write(key []byte, class tuple.Class, payload []byte) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	e, err := tx.rws.GetOrCreate(key, false)
	if err != nil {
		return err
	}
	if err := tx.attachCell(e); err != nil {
		return err
	}
	tx.rws.InstallWrite(e, class, payload)
	return nil
}

// Lookup reads key inside the transaction: read-your-write first,
// then spin past a locked cell, read the KV engine, raise the cell's
// timestamps to at least what was just read via CAS, and record the
// observed (wts, rts) for later commit validation.
func (tx *Transaction) Lookup(key []byte) (value []byte, found bool, err error) {
	if err := tx.checkOpen(); err != nil {
		return nil, false, err
	}

	e, err := tx.rws.GetOrCreate(key, true)
	if err != nil {
		return nil, false, err
	}
	if err := tx.attachCell(e); err != nil {
		return nil, false, err
	}

	if e.Write != nil {
		if e.Write.Class == tuple.ClassDelete {
			return nil, false, nil
		}
		return e.Write.Payload, true, nil
	}

	for {
		w := e.Cell.Load()
		if !w.LockBit {
			break
		}
		runtime.Gosched()
	}

	if tx.engine.cfg.Bypass {
		w := e.Cell.Load()
		e.WTS = w.WTS
		e.RTS = w.RTS()
		return nil, false, nil
	}

	h, payload, kvFound, err := tx.engine.kv.Lookup(key)
	if err != nil {
		return nil, false, err
	}
	if !kvFound {
		w := e.Cell.Load()
		e.WTS = w.WTS
		e.RTS = w.RTS()
		return nil, false, nil
	}

	for {
		cur := e.Cell.Load()
		if cur.LockBit {
			runtime.Gosched()
			continue
		}
		desired := cur.Max(h.WTS, h.Delta)
		if desired == cur {
			e.WTS = cur.WTS
			e.RTS = cur.RTS()
			break
		}
		if actual, ok := e.Cell.CAS(cur, desired); ok {
			e.WTS = actual.WTS
			e.RTS = actual.RTS()
			break
		}
	}

	if h.Class == tuple.ClassDelete {
		return nil, false, nil
	}
	return payload, true, nil
}

// Abort discards every local write and releases every TSC reference this
// transaction acquired, without validating or installing anything.
func (tx *Transaction) Abort() error {
	if tx.done {
		return nil
	}
	tx.releaseAll()
	tx.done = true
	return nil
}

func (tx *Transaction) releaseAll() {
	for _, e := range tx.rws.Entries() {
		if e.Cell != nil {
			_ = tx.engine.cache.Release(e.Key)
		}
	}
}

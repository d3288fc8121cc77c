package tsc

import (
	"sync/atomic"
)

// Cell is a timestamp cache entry: an owned
// key, a CAS-only timestamp word, and a refcount shared by every
// transaction currently holding a pointer to it. A Cell is never moved or
// copied once published; InsertAndGet/Release hand out and retire
// pointers to the same Cell instance for the lifetime of its refcount.
type Cell struct {
	key      []byte
	word     atomic.Pointer[Word]
	refcount atomic.Int64

	// lru links this cell into its shard's evictable list when refcount
	// has dropped to zero; guarded by the owning shard's mutex.
	prev, next *Cell
	inLRU      bool
}

func newCell(key []byte) *Cell {
	c := &Cell{key: append([]byte(nil), key...)}
	c.word.Store(&Word{})
	c.refcount.Store(1)
	return c
}

// Key returns the cell's owned key bytes. Callers must not mutate it.
func (c *Cell) Key() []byte {
	return c.key
}

// Load atomically reads the cell's current word.
func (c *Cell) Load() Word {
	return *c.word.Load()
}

// CAS compares-and-swaps the cell's word as one unit: if the cell's
// current word equals expected, it is replaced with desired and CAS
// reports success. On failure, the cell's actual current value is
// returned so the caller can retry without a second Load.
func (c *Cell) CAS(expected, desired Word) (actual Word, ok bool) {
	cur := c.word.Load()
	if *cur != expected {
		return *cur, false
	}
	d := desired
	if c.word.CompareAndSwap(cur, &d) {
		return desired, true
	}
	return *c.word.Load(), false
}

func (c *Cell) addRef() {
	c.refcount.Add(1)
}

// release decrements the refcount and reports whether it reached zero.
func (c *Cell) release() bool {
	return c.refcount.Add(-1) == 0
}

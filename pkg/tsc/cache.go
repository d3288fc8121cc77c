// Package tsc implements the timestamp cache (TSC): a bounded, evictable,
// concurrent map from key to a CAS-only timestamp word, used by the
// transactional layer both as a soft read-cache and as the no-wait lock
// table for commits.
package tsc

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	txnerrors "github.com/bobboyms/tictocdb/pkg/errors"
)

// WritebackFunc persists an evicted cell's last known (wts, delta) as a
// timestamp-only update before the slot is reused.
// It is supplied by the owning txn.Engine and backed by the
// KV engine's merge path.
type WritebackFunc func(key []byte, w Word) error

const shardCount = 64

type shard struct {
	mu       sync.Mutex
	cells    map[string]*Cell
	lruHead  *Cell // most recently released
	lruTail  *Cell // least recently released, next to evict
	lruCount int
	capacity int
}

// Cache is the bounded concurrent timestamp cache.
type Cache struct {
	shards    [shardCount]*shard
	writeback WritebackFunc
}

// New builds a Cache with 2^cacheSizeLog2 total slots, spread evenly
// across the internal shards; every shard gets at least one slot, so a
// cacheSizeLog2 below 6 still yields 64 slots in all. writeback
// may be nil, in which case evicted timestamps are simply dropped; only
// acceptable for Config.Bypass-style benchmarking, never in production use.
func New(cacheSizeLog2 int, writeback WritebackFunc) *Cache {
	if cacheSizeLog2 < 0 {
		cacheSizeLog2 = 0
	}
	total := 1 << uint(cacheSizeLog2)
	perShard := total / shardCount
	if perShard < 1 {
		perShard = 1
	}

	c := &Cache{writeback: writeback}
	for i := range c.shards {
		c.shards[i] = &shard{
			cells:    make(map[string]*Cell, perShard),
			capacity: perShard,
		}
	}
	return c
}

func (c *Cache) shardFor(key []byte) *shard {
	h := xxhash.Sum64(key)
	return c.shards[h%uint64(shardCount)]
}

// InsertAndGet acquires a reference to key's cell: if key is absent, a fresh
// zero-valued cell is installed with refcount 1; otherwise the existing
// cell's refcount is incremented. The returned pointer is stable for as
// long as the caller holds its refcount.
func (c *Cache) InsertAndGet(key []byte) (*Cell, error) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cell, ok := sh.cells[string(key)]; ok {
		if cell.inLRU {
			sh.unlink(cell)
		}
		cell.addRef()
		return cell, nil
	}

	if len(sh.cells) >= sh.capacity {
		if !sh.evictOneLocked(c.writeback) {
			return nil, &txnerrors.ResourceExhaustedError{
				Resource: "timestamp cache",
				Detail:   "shard full and no evictable (refcount zero) entry available",
			}
		}
	}

	cell := newCell(key)
	sh.cells[string(key)] = cell
	return cell, nil
}

// Release drops one reference to key's cell: the refcount is
// decremented; if it reaches zero the cell becomes evictable immediately
// but is only actually removed (and its timestamp written back) once the
// shard is over capacity. This keeps hot keys resident across back-to-back
// transactions while still persisting an evicted cell's last known
// timestamps before the slot is reused.
func (c *Cache) Release(key []byte) error {
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cell, ok := sh.cells[string(key)]
	if !ok {
		return nil
	}
	if !cell.release() {
		return nil
	}

	sh.pushFrontLocked(cell)
	for len(sh.cells) > sh.capacity {
		if !sh.evictOneLocked(c.writeback) {
			break
		}
	}
	return nil
}

// evictOneLocked evicts the least-recently-released cell, if any exists,
// writing its final timestamp word back through writeback. Caller must
// hold sh.mu.
func (sh *shard) evictOneLocked(writeback WritebackFunc) bool {
	victim := sh.lruTail
	if victim == nil {
		return false
	}
	sh.unlink(victim)
	delete(sh.cells, string(victim.key))

	if writeback != nil {
		w := victim.Load()
		// best-effort: the cell is already gone from the shard, and a
		// writeback error is discarded here; neither InsertAndGet nor
		// Release reports it to its caller.
		_ = writeback(victim.key, w)
	}
	return true
}

func (sh *shard) pushFrontLocked(c *Cell) {
	c.inLRU = true
	c.prev = nil
	c.next = sh.lruHead
	if sh.lruHead != nil {
		sh.lruHead.prev = c
	}
	sh.lruHead = c
	if sh.lruTail == nil {
		sh.lruTail = c
	}
	sh.lruCount++
}

func (sh *shard) unlink(c *Cell) {
	if !c.inLRU {
		return
	}
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		sh.lruHead = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		sh.lruTail = c.prev
	}
	c.prev, c.next = nil, nil
	c.inLRU = false
	sh.lruCount--
}

// Len reports the number of live cells across all shards. Intended for
// tests and metrics, not the hot path.
func (c *Cache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.cells)
		sh.mu.Unlock()
	}
	return n
}

package txn

import (
	"github.com/cockroachdb/pebble"

	"github.com/bobboyms/tictocdb/pkg/kvstore"
	"github.com/bobboyms/tictocdb/pkg/rws"
	"github.com/bobboyms/tictocdb/pkg/tuple"
)

// IsolationLevel selects how aggressively a transaction's reads bias the
// commit timestamp computed at validation time.
type IsolationLevel int32

const (
	// Serializable is the TicToc protocol as published: commit_ts is
	// seeded from the plain max of observed read write-timestamps.
	Serializable IsolationLevel = iota

	// SiloStyle biases every observed read's wts forward by one before the
	// max in step 1, trading strict serializability for the weaker,
	// cheaper Silo-style ordering, a documented one-line variant of TicToc.
	SiloStyle
)

// Config configures an Engine. All fields have zero-value-safe defaults
// applied by DefaultConfig / Open.
type Config struct {
	// Dir is the on-disk path for the underlying KV engine. Ignored when
	// InMemory is true.
	Dir string

	// InMemory runs the KV engine against Pebble's in-memory filesystem,
	// for tests and short-lived demos.
	InMemory bool

	// CacheSizeLog2 is the log2 slot count of the timestamp cache.
	CacheSizeLog2 int

	// RWSLimit bounds how many distinct keys one transaction may touch.
	// Zero uses rws.DefaultLimit.
	RWSLimit int

	// Isolation selects the commit-timestamp bias applied to reads.
	// Changeable at runtime via Engine.SetIsolationLevel.
	Isolation IsolationLevel

	// Bypass short-circuits Lookup's KV-engine read, consulting only the
	// timestamp cache: a debug/benchmark knob for isolating the
	// transactional layer's own overhead from storage I/O.
	Bypass bool

	// PayloadMerge reduces two value-bearing payloads for the same key
	// during a KV-engine merge. Defaults to last-write-wins.
	PayloadMerge tuple.PayloadMerger

	// FinalMerge is the application's last pass over a fully folded
	// payload. Defaults to the identity function.
	FinalMerge tuple.FinalMerger

	// PebbleOptions passes additional options straight through to the
	// underlying KV engine.
	PebbleOptions *pebble.Options
}

// DefaultConfig returns a Config with a 16-slot-log2 (64k slot) timestamp
// cache, serializable isolation, and a default read/write set limit,
// mirroring a typical Options/DefaultOptions shape.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		CacheSizeLog2: 16,
		RWSLimit:      rws.DefaultLimit,
		Isolation:     Serializable,
	}
}

func (c Config) kvConfig() kvstore.Config {
	return kvstore.Config{
		Dir:           c.Dir,
		InMemory:      c.InMemory,
		PayloadMerge:  c.PayloadMerge,
		FinalMerge:    c.FinalMerge,
		PebbleOptions: c.PebbleOptions,
	}
}

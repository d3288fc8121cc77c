// Package rws implements the per-transaction read/write set: an
// unsorted, bounded buffer of the keys one transaction has touched, each
// entry carrying an optional local write and a pointer to the key's
// shared timestamp cache cell.
package rws

import (
	"bytes"

	txnerrors "github.com/bobboyms/tictocdb/pkg/errors"
	"github.com/bobboyms/tictocdb/pkg/tsc"
	"github.com/bobboyms/tictocdb/pkg/tuple"
)

// DefaultLimit bounds how many distinct keys one transaction may touch.
const DefaultLimit = 256

// LocalWrite is the reserved local-write slot of an RWS entry: an
// insert/update/delete message waiting to be installed at commit.
type LocalWrite struct {
	Class   tuple.Class
	Payload []byte
}

// Entry records one key a transaction has touched: the owned key bytes,
// the optional pending local write, the key's shared timestamp cache
// cell, and the (wts, rts) observed when the key was read.
type Entry struct {
	Key    []byte
	Write  *LocalWrite
	Cell   *tsc.Cell
	WTS    uint64
	RTS    uint64
	IsRead bool
}

// Set is the bounded, unsorted read/write set of one transaction.
type Set struct {
	entries      []*Entry
	limit        int
	payloadMerge tuple.PayloadMerger
}

// New builds an empty Set bounded at limit entries. A limit <= 0 uses
// DefaultLimit.
func New(limit int, payloadMerge tuple.PayloadMerger) *Set {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if payloadMerge == nil {
		payloadMerge = tuple.DefaultPayloadMerge
	}
	return &Set{limit: limit, payloadMerge: payloadMerge}
}

// GetOrCreate returns the entry for key, allocating and appending one on
// miss: a linear scan suffices because transactions are short. isRead is
// OR-ed cumulatively onto whatever entry is returned, so the set never
// holds more than one entry per key.
func (s *Set) GetOrCreate(key []byte, isRead bool) (*Entry, error) {
	for _, e := range s.entries {
		if bytes.Equal(e.Key, key) {
			e.IsRead = e.IsRead || isRead
			return e, nil
		}
	}

	if len(s.entries) >= s.limit {
		return nil, &txnerrors.ResourceExhaustedError{
			Resource: "read/write set",
			Detail:   "transaction touched more distinct keys than the configured limit",
		}
	}

	e := &Entry{Key: append([]byte(nil), key...), IsRead: isRead}
	s.entries = append(s.entries, e)
	return e, nil
}

// InstallWrite records a local write message into entry, combining it
// with any prior local write: a definitive write (insert/delete)
// replaces, an update merges via the application's payload merge unless
// the existing write is itself definitive, in which case the definitive
// write's class wins and the merge still folds the payloads together so
// read-your-write observes the cumulative effect.
func (s *Set) InstallWrite(e *Entry, class tuple.Class, payload []byte) {
	definitive := class == tuple.ClassInsert || class == tuple.ClassDelete

	if e.Write == nil {
		e.Write = &LocalWrite{Class: class, Payload: append([]byte(nil), payload...)}
		return
	}

	if definitive {
		e.Write = &LocalWrite{Class: class, Payload: append([]byte(nil), payload...)}
		return
	}

	// update: merge into the existing local write, keep its class if it
	// was itself definitive (an update after an insert in the same
	// transaction is still, overall, an insert).
	merged := s.payloadMerge(e.Write.Payload, payload)
	e.Write = &LocalWrite{Class: e.Write.Class, Payload: merged}
}

// Partition splits the set into the entries carrying a pending write and
// the entries that were read. Order within each slice follows insertion
// order; Commit sorts the write set separately.
func (s *Set) Partition() (writes, reads []*Entry) {
	for _, e := range s.entries {
		if e.Write != nil {
			writes = append(writes, e)
		}
		if e.IsRead {
			reads = append(reads, e)
		}
	}
	return writes, reads
}

// Entries returns every entry in the set, for releasing TSC references on
// abort/commit completion.
func (s *Set) Entries() []*Entry {
	return s.entries
}

// Len reports how many distinct keys the set currently holds.
func (s *Set) Len() int {
	return len(s.entries)
}

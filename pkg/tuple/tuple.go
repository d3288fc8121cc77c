// Package tuple implements the on-disk record format the transactional
// layer wraps every KV-engine value in, and the merge function the engine
// invokes during compaction to fold timestamp bumps into real writes.
package tuple

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Class identifies which application operation produced a value-bearing
// record. It is meaningless when Header.IsTSUpdate is set.
type Class uint8

const (
	ClassInsert Class = iota
	ClassUpdate
	ClassDelete
)

func (c Class) String() string {
	switch c {
	case ClassInsert:
		return "insert"
	case ClassUpdate:
		return "update"
	case ClassDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// HeaderSize is the fixed prefix every stored value carries: 1 flag byte,
// 8 bytes of write timestamp, 8 bytes of delta.
const HeaderSize = 17

// maxWTS is the 63-bit ceiling on wts; the top bit of the wts field is
// always zero so a future implementation has room to widen the flag byte
// without reshuffling the layout.
const maxWTS = (uint64(1) << 63) - 1

// Header is the fixed-size prefix carried by every value stored through
// the KV engine: the ts-update flag, the message class, and the
// (wts, delta) pair that bounds the record's validity interval.
type Header struct {
	IsTSUpdate bool
	Class      Class
	WTS        uint64
	Delta      uint64
}

// RTS reports the read timestamp implied by this header: rts = wts + delta.
func (h Header) RTS() uint64 {
	return h.WTS + h.Delta
}

// Encode packs the header and payload into a single byte slice ready to
// hand to the KV engine. payload is ignored (and must be empty) when
// IsTSUpdate is set.
func Encode(h Header, payload []byte) ([]byte, error) {
	if h.WTS > maxWTS {
		return nil, errors.AssertionFailedf("tuple: wts %d exceeds 63-bit range", h.WTS)
	}
	if h.IsTSUpdate && len(payload) != 0 {
		return nil, errors.AssertionFailedf("tuple: ts-update record must not carry a payload")
	}

	buf := make([]byte, HeaderSize+len(payload))
	var flags byte
	if h.IsTSUpdate {
		flags |= 1
	}
	flags |= byte(h.Class) << 1
	buf[0] = flags
	binary.BigEndian.PutUint64(buf[1:9], h.WTS)
	binary.BigEndian.PutUint64(buf[9:17], h.Delta)
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode splits a stored value back into its header and payload. The
// returned payload aliases raw; callers that retain it beyond the life of
// raw must copy it.
func Decode(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderSize {
		return Header{}, nil, errors.Newf("tuple: record too short to contain a header (%d bytes)", len(raw))
	}
	flags := raw[0]
	h := Header{
		IsTSUpdate: flags&1 != 0,
		Class:      Class((flags >> 1) & 0x3),
		WTS:        binary.BigEndian.Uint64(raw[1:9]),
		Delta:      binary.BigEndian.Uint64(raw[9:17]),
	}
	return h, raw[HeaderSize:], nil
}

// PayloadMerger reduces two value-bearing payloads for the same key into
// one, newer-wins by default (see DefaultPayloadMerge).
type PayloadMerger func(old, new []byte) []byte

// FinalMerger is the application's last pass over a fully folded payload,
// invoked by the KV engine's final merge.
type FinalMerger func(payload []byte) []byte

// DefaultPayloadMerge implements last-write-wins: most transactional KV
// workloads want the newer value, not a blob-level reduction.
func DefaultPayloadMerge(_, new []byte) []byte {
	return new
}

// DefaultFinalMerge is the identity function.
func DefaultFinalMerge(payload []byte) []byte {
	return payload
}

// Merge folds two records for the same key into one: old is the earlier
// record seen by the KV engine's compactor, new is the later one. The
// caller is responsible for feeding the two records in that order; see
// pkg/kvstore's ValueMerger adapter, which accumulates old/new pairs as
// pebble replays a merge chain.
func Merge(oldHeader Header, oldPayload []byte, newHeader Header, newPayload []byte, payloadMerge PayloadMerger) (Header, []byte) {
	if payloadMerge == nil {
		payloadMerge = DefaultPayloadMerge
	}

	switch {
	case oldHeader.IsTSUpdate:
		// old carries only a stale timestamp refresh; whatever new is
		// (another ts-update or a real write) simply wins outright.
		return newHeader, newPayload

	case !oldHeader.IsTSUpdate && newHeader.IsTSUpdate:
		// new is a timestamp refresh produced by a reader or an eviction
		// writeback: keep old's class and payload, adopt new's (wts, delta).
		return Header{
			IsTSUpdate: false,
			Class:      oldHeader.Class,
			WTS:        newHeader.WTS,
			Delta:      newHeader.Delta,
		}, oldPayload

	default:
		// both value-bearing: defer to the application merge over the raw
		// payloads, then wrap with the newer record's class and timestamps.
		merged := payloadMerge(oldPayload, newPayload)
		return Header{
			IsTSUpdate: false,
			Class:      newHeader.Class,
			WTS:        newHeader.WTS,
			Delta:      newHeader.Delta,
		}, merged
	}
}

// FinalMerge applies the application's final-merge pass and rewraps the
// result with the surviving header.
func FinalMerge(h Header, payload []byte, finalMerge FinalMerger) (Header, []byte) {
	if finalMerge == nil {
		finalMerge = DefaultFinalMerge
	}
	if h.IsTSUpdate {
		return h, payload
	}
	return h, finalMerge(payload)
}

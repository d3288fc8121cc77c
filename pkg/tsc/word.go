package tsc

// Word is the in-memory timestamp word: conceptually a single
// 128-bit `{lock_bit:1, delta:64, wts:63}` value, updated only by CAS and
// read only by atomic load. Go has no native 128-bit atomic, so a Word is
// modeled as an immutable value and the Cell holds an atomic.Pointer to
// it: swapping the pointer IS the CAS, and it publishes all three fields
// as one unit, the same guarantee a native 128-bit hardware CAS gives.
type Word struct {
	LockBit bool
	Delta   uint64
	WTS     uint64
}

// RTS reports the read timestamp implied by this word: rts = wts + delta.
func (w Word) RTS() uint64 {
	return w.WTS + w.Delta
}

// Max returns the element-wise maximum of w and other's (wts, delta),
// keeping w's lock_bit. Used by Lookup to raise a cell's
// timestamps from a value read off the KV engine.
func (w Word) Max(otherWTS, otherDelta uint64) Word {
	out := w
	if otherWTS > out.WTS {
		out.WTS = otherWTS
	}
	if otherDelta > out.Delta {
		out.Delta = otherDelta
	}
	return out
}

package kvstore

import (
	"io"

	"github.com/cockroachdb/pebble"

	"github.com/bobboyms/tictocdb/pkg/tuple"
)

// newMerger builds the pebble.Merger that folds tuple records for the
// same key: stale ts-updates are discarded, a newer ts-update adopts the
// older record's payload, and two real writes defer to the application
// payload merge.
// Pebble seeds a valueMerger with the oldest record in a merge chain
// (the "base" value, via Merge) and then folds in every newer operand in
// order (via MergeNewer), so the fold always sees a pairwise old/new pair.
func newMerger(payloadMerge tuple.PayloadMerger, finalMerge tuple.FinalMerger) *pebble.Merger {
	if payloadMerge == nil {
		payloadMerge = tuple.DefaultPayloadMerge
	}
	if finalMerge == nil {
		finalMerge = tuple.DefaultFinalMerge
	}

	return &pebble.Merger{
		Name: MergeName,
		Merge: func(_, value []byte) (pebble.ValueMerger, error) {
			vm := &valueMerger{payloadMerge: payloadMerge, finalMerge: finalMerge}
			if len(value) > 0 {
				h, p, err := tuple.Decode(value)
				if err != nil {
					return nil, err
				}
				vm.header, vm.payload, vm.has = h, p, true
			}
			return vm, nil
		},
	}
}

// valueMerger accumulates the pairwise tuple merge across a Pebble merge
// chain. has is false only before the first operand has been folded in
// (a merge chain with no base Set/Del beneath it).
type valueMerger struct {
	header       tuple.Header
	payload      []byte
	has          bool
	payloadMerge tuple.PayloadMerger
	finalMerge   tuple.FinalMerger
}

// MergeNewer folds an operand that is newer than the currently
// accumulated state: accumulated is "old", value is "new".
func (vm *valueMerger) MergeNewer(value []byte) error {
	h, p, err := tuple.Decode(value)
	if err != nil {
		return err
	}
	if !vm.has {
		vm.header, vm.payload, vm.has = h, p, true
		return nil
	}
	vm.header, vm.payload = tuple.Merge(vm.header, vm.payload, h, p, vm.payloadMerge)
	return nil
}

// MergeOlder folds an operand that is older than the currently
// accumulated state: value is "old", accumulated is "new".
func (vm *valueMerger) MergeOlder(value []byte) error {
	h, p, err := tuple.Decode(value)
	if err != nil {
		return err
	}
	if !vm.has {
		vm.header, vm.payload, vm.has = h, p, true
		return nil
	}
	vm.header, vm.payload = tuple.Merge(h, p, vm.header, vm.payload, vm.payloadMerge)
	return nil
}

// Finish applies the application's final merge pass over the folded
// payload and re-encodes the surviving header.
func (vm *valueMerger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	h, p := tuple.FinalMerge(vm.header, vm.payload, vm.finalMerge)
	raw, err := tuple.Encode(h, p)
	if err != nil {
		return nil, nil, err
	}
	return raw, nil, nil
}

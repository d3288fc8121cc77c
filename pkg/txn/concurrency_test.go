package txn_test

import (
	"strconv"
	"sync"
	"testing"

	txnerrors "github.com/bobboyms/tictocdb/pkg/errors"
)

// A transaction that read a key's stale write-timestamp must abort with a
// conflict once it tries to also write (and thus validate) that same key
// after another transaction committed a newer write to it underneath it.
func TestTransaction_ReadWriteConflictAborts(t *testing.T) {
	e := openTestEngine(t)

	seed := mustBegin(t, e)
	if err := seed.Insert([]byte("k"), []byte("v0")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if ok, err := seed.Commit(); !ok || err != nil {
		t.Fatalf("seed Commit() = %v, %v, want true, nil", ok, err)
	}

	txA := mustBegin(t, e)
	if _, _, err := txA.Lookup([]byte("k")); err != nil {
		t.Fatalf("txA Lookup failed: %v", err)
	}

	txB := mustBegin(t, e)
	if err := txB.Update([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("txB Update failed: %v", err)
	}
	if ok, err := txB.Commit(); !ok || err != nil {
		t.Fatalf("txB Commit() = %v, %v, want true, nil", ok, err)
	}

	if err := txA.Update([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("txA Update failed: %v", err)
	}
	ok, err := txA.Commit()
	if ok || err == nil {
		t.Fatalf("txA Commit() = %v, %v, want false, conflict error", ok, err)
	}
	if !txnerrors.IsConflict(err) {
		t.Fatalf("Commit() error = %v, want a ConflictError", err)
	}
}

// A transaction whose read set spans keys at different write-timestamps
// must still commit cleanly, extending the staler read's rts up to
// commit_ts rather than aborting.
func TestTransaction_ReadOnlyExtension(t *testing.T) {
	e := openTestEngine(t)

	bump := mustBegin(t, e)
	if err := bump.Insert([]byte("a"), []byte("v0")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if ok, err := bump.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}
	for i := 0; i < 2; i++ {
		bump := mustBegin(t, e)
		if err := bump.Update([]byte("a"), []byte("vN")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if ok, err := bump.Commit(); !ok || err != nil {
			t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
		}
	}

	seedB := mustBegin(t, e)
	if err := seedB.Insert([]byte("b"), []byte("v0")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if ok, err := seedB.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}

	reader := mustBegin(t, e)
	if _, _, err := reader.Lookup([]byte("a")); err != nil {
		t.Fatalf("Lookup(a) failed: %v", err)
	}
	if _, _, err := reader.Lookup([]byte("b")); err != nil {
		t.Fatalf("Lookup(b) failed: %v", err)
	}
	ok, err := reader.Commit()
	if err != nil || !ok {
		t.Fatalf("reader Commit() = %v, %v, want true, nil", ok, err)
	}
}

// Many transactions contending on the same key under the no-wait protocol
// must never deadlock and must never lose an update: every successful
// increment survives, and the caller-level retry loop absorbs every
// conflict/lock abort.
func TestTransaction_ConcurrentWritersNoWait(t *testing.T) {
	e := openTestEngine(t)

	seed := mustBegin(t, e)
	if err := seed.Insert([]byte("counter"), []byte("0")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if ok, err := seed.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}

	const goroutines = 8
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			// One registered thread per goroutine, reused across every
			// transaction it begins; registration models a worker's
			// lifetime, not a single transaction's.
			thread := e.RegisterThread()
			defer e.DeregisterThread(thread)
			for attempt := 0; attempt < 10000; attempt++ {
				tx, err := e.Begin(thread)
				if err != nil {
					t.Errorf("Begin failed: %v", err)
					return
				}
				value, _, err := tx.Lookup([]byte("counter"))
				if err != nil {
					t.Errorf("Lookup failed: %v", err)
					return
				}
				n, convErr := strconv.Atoi(string(value))
				if convErr != nil {
					t.Errorf("Atoi(%q) failed: %v", value, convErr)
					return
				}
				if err := tx.Update([]byte("counter"), []byte(strconv.Itoa(n+1))); err != nil {
					t.Errorf("Update failed: %v", err)
					return
				}
				ok, err := tx.Commit()
				if ok {
					return
				}
				if err != nil && !txnerrors.IsAbort(err) {
					t.Errorf("Commit() fatal error: %v", err)
					return
				}
			}
			t.Errorf("goroutine never committed its increment")
		}()
	}
	wg.Wait()

	final := mustBegin(t, e)
	value, found, err := final.Lookup([]byte("counter"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !found {
		t.Fatalf("expected counter key to exist")
	}
	got, err := strconv.Atoi(string(value))
	if err != nil {
		t.Fatalf("Atoi(%q) failed: %v", value, err)
	}
	if got != goroutines {
		t.Fatalf("counter = %d, want %d (no-wait protocol must not lose updates)", got, goroutines)
	}
}

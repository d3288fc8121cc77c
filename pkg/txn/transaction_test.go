package txn_test

import (
	"bytes"
	"testing"
)

func TestTransaction_InsertLookupCommit(t *testing.T) {
	e := openTestEngine(t)

	tx := mustBegin(t, e)
	if err := tx.Insert([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	ok, err := tx.Commit()
	if err != nil || !ok {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}

	tx2 := mustBegin(t, e)
	value, found, err := tx2.Lookup([]byte("k1"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("Lookup = %q, %v, want v1, true", value, found)
	}
	if ok, err := tx2.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}
}

// TestTransaction_ReadYourWrite: a transaction must see its own
// uncommitted write, including the folded result of an update over an
// earlier insert.
func TestTransaction_ReadYourWrite(t *testing.T) {
	e := openTestEngine(t)

	tx := mustBegin(t, e)
	if err := tx.Insert([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	value, found, err := tx.Lookup([]byte("k1"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("Lookup = %q, %v, want v1, true", value, found)
	}

	if err := tx.Update([]byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	value, found, err = tx.Lookup([]byte("k1"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v2")) {
		t.Fatalf("Lookup after update = %q, %v, want v2, true", value, found)
	}

	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}
}

func TestTransaction_ReadYourDelete(t *testing.T) {
	e := openTestEngine(t)

	tx := mustBegin(t, e)
	if err := tx.Insert([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tx.Delete([]byte("k1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, found, err := tx.Lookup([]byte("k1"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if found {
		t.Fatalf("expected a deleted local write to read back absent")
	}
	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}
}

func TestTransaction_CommitThenOperateReturnsUsageError(t *testing.T) {
	e := openTestEngine(t)
	tx := mustBegin(t, e)
	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}
	if err := tx.Insert([]byte("k"), []byte("v")); err == nil {
		t.Fatalf("expected error writing to an already-committed transaction")
	}
}

func TestTransaction_Abort(t *testing.T) {
	e := openTestEngine(t)

	tx := mustBegin(t, e)
	if err := tx.Insert([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := tx.Abort(); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	tx2 := mustBegin(t, e)
	_, found, err := tx2.Lookup([]byte("k1"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if found {
		t.Fatalf("aborted insert must not be visible")
	}
}

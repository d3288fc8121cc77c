package txn_test

import (
	"testing"

	"github.com/bobboyms/tictocdb/pkg/txn"
)

func openTestEngine(t *testing.T) *txn.Engine {
	t.Helper()
	cfg := txn.DefaultConfig("")
	cfg.InMemory = true
	cfg.CacheSizeLog2 = 8
	e, err := txn.Create(cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// mustBegin registers a fresh thread against e and begins a transaction on
// it, failing the test on any error. Most tests don't care about thread
// identity beyond admission, so a new thread per call keeps call sites
// short; tests that care about thread lifetime register explicitly.
func mustBegin(t *testing.T, e *txn.Engine) *txn.Transaction {
	t.Helper()
	tx, err := e.Begin(e.RegisterThread())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return tx
}

func TestEngine_RegisterDeregisterThread(t *testing.T) {
	e := openTestEngine(t)

	id := e.RegisterThread()
	if err := e.DeregisterThread(id); err != nil {
		t.Fatalf("DeregisterThread failed: %v", err)
	}
	if err := e.DeregisterThread(id); err == nil {
		t.Fatalf("expected error deregistering an already-deregistered thread")
	}
}

func TestEngine_BeginRejectsUnregisteredThread(t *testing.T) {
	e := openTestEngine(t)

	if _, err := e.Begin(999999); err == nil {
		t.Fatalf("expected Begin with an unregistered thread id to fail")
	}
}

func TestEngine_BeginAfterDeregisterFails(t *testing.T) {
	e := openTestEngine(t)

	id := e.RegisterThread()
	if err := e.DeregisterThread(id); err != nil {
		t.Fatalf("DeregisterThread failed: %v", err)
	}
	if _, err := e.Begin(id); err == nil {
		t.Fatalf("expected Begin with a deregistered thread id to fail")
	}
}

func TestEngine_OperationAfterDeregisterFails(t *testing.T) {
	e := openTestEngine(t)

	id := e.RegisterThread()
	tx, err := e.Begin(id)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := e.DeregisterThread(id); err != nil {
		t.Fatalf("DeregisterThread failed: %v", err)
	}
	if err := tx.Insert([]byte("k"), []byte("v")); err == nil {
		t.Fatalf("expected Insert on a transaction whose thread was deregistered to fail")
	}
}

func TestEngine_BeginAfterCloseFails(t *testing.T) {
	cfg := txn.DefaultConfig("")
	cfg.InMemory = true
	e, err := txn.Create(cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	id := e.RegisterThread()
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := e.Begin(id); err == nil {
		t.Fatalf("expected Begin on a closed engine to fail")
	}
}

func TestEngine_SetIsolationLevelAppliesToNewTransactions(t *testing.T) {
	e := openTestEngine(t)
	e.SetIsolationLevel(txn.SiloStyle)

	tx := mustBegin(t, e)
	if _, _, err := tx.Lookup([]byte("missing")); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}
}

func TestEngine_MetricsGatherer(t *testing.T) {
	e := openTestEngine(t)

	tx := mustBegin(t, e)
	if err := tx.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if ok, err := tx.Commit(); !ok || err != nil {
		t.Fatalf("Commit() = %v, %v, want true, nil", ok, err)
	}

	families, err := e.Metrics().Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "tictocdb_commits_total" {
			found = true
			if fam.GetMetric()[0].GetCounter().GetValue() != 1 {
				t.Fatalf("commits_total = %v, want 1", fam.GetMetric()[0].GetCounter().GetValue())
			}
		}
	}
	if !found {
		t.Fatalf("tictocdb_commits_total metric not found")
	}
}

package store_test

import (
	"path/filepath"
	"testing"

	"github.com/dantte-lp/gochatd/internal/store"
)

func TestNamespacePutGetBytes(t *testing.T) {
	t.Parallel()

	db, err := store.OpenDB(filepath.Join(t.TempDir(), "ns.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	ns, err := db.Namespace("widgets")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}

	if err := ns.PutBytes([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := ns.GetBytes([]byte("k"))
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if string(got) != "v" {
		t.Fatalf("got %q, want v", got)
	}

	_, found, err = ns.GetBytes([]byte("missing"))
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if found {
		t.Fatalf("expected missing key to not be found")
	}
}

func TestNamespacePutGetInt(t *testing.T) {
	t.Parallel()

	db, err := store.OpenDB(filepath.Join(t.TempDir(), "ns.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	ns, err := db.Namespace("counters")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}

	if err := ns.PutInt([]byte("n"), 42); err != nil {
		t.Fatalf("put int: %v", err)
	}

	got, found, err := ns.GetInt([]byte("n"))
	if err != nil || !found {
		t.Fatalf("get int: found=%v err=%v", found, err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestInitPKSeedsOnFirstCallOnly(t *testing.T) {
	t.Parallel()

	db, err := store.OpenDB(filepath.Join(t.TempDir(), "ns.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	ns, err := db.Namespace("meta")
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}

	got, err := ns.InitPK([]byte("PK"), 0)
	if err != nil {
		t.Fatalf("init pk: %v", err)
	}
	if got != 0 {
		t.Fatalf("got %d, want 0", got)
	}

	if err := ns.PutInt([]byte("PK"), 7); err != nil {
		t.Fatalf("put int: %v", err)
	}

	got, err = ns.InitPK([]byte("PK"), 0)
	if err != nil {
		t.Fatalf("init pk second call: %v", err)
	}
	if got != 7 {
		t.Fatalf("got %d, want 7 (persisted value should win)", got)
	}
}

// Package testkit provides a conformance suite every Store implementation
// must pass.
package testkit

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/storage"
)

// NewStore constructs a fresh, empty Store instance for a test.
// The returned Store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.Store

// RunStoreConformance exercises the storage.Store contract against newStore.
func RunStoreConformance(t *testing.T, newStore NewStore) {
	t.Helper()

	mustCID := func(t *testing.T, b []byte) cid.Cid {
		t.Helper()
		id, err := cidutil.Sum(b)
		if err != nil {
			t.Fatalf("cidutil.Sum: %v", err)
		}
		return id
	}

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		store := newStore(t)
		want := []byte("hello, mesh storage")
		id := mustCID(t, want)

		if err := store.Put(id, want); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		store := newStore(t)
		b := []byte("same bytes")
		id := mustCID(t, b)

		if err := store.Put(id, b); err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		if err := store.Put(id, b); err != nil {
			t.Fatalf("Put(2) not idempotent: %v", err)
		}
	})

	t.Run("PutImmutable", func(t *testing.T) {
		store := newStore(t)
		b := []byte("original bytes")
		id := mustCID(t, b)

		if err := store.Put(id, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		err := store.Put(id, []byte("different bytes"))
		if err != storage.ErrImmutable {
			t.Fatalf("Put with different bytes: got err=%v want ErrImmutable", err)
		}
		got, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get after immutability violation: %v", err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("stored bytes changed after rejected overwrite")
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		store := newStore(t)
		b := []byte("missing")
		id := mustCID(t, b)

		if store.Has(id) {
			t.Fatalf("Has returned true for missing CID")
		}
		if _, err := store.Get(id); !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if err := store.Put(id, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !store.Has(id) {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		store := newStore(t)
		var undef cid.Cid
		if store.Has(undef) {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := store.Get(undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
		if err := store.Put(undef, []byte("x")); err == nil {
			t.Fatalf("Put should fail for undefined CID")
		}
	})
}

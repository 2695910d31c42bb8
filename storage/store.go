// Package storage defines the keyed immutable blob store the graph
// persists nodes into, plus composition helpers over multiple backends.
package storage

import "github.com/ipfs/go-cid"

// Store is a minimal immutable blob store keyed by CID.
//
// Unlike a plain content-addressable store, the key is supplied by the
// caller: node CIDs are computed over a node's signed scope, not over the
// stored envelope bytes, so the store cannot derive the key itself. The
// graph layer owns that binding and re-verifies it on read.
//
// Contract:
//   - Put MUST be idempotent for identical (id, bytes) pairs.
//   - Put MUST return ErrImmutable when id already maps to different bytes.
//   - Stored objects MUST be immutable.
//   - Get MUST return ErrNotFound when the CID is absent.
type Store interface {
	Put(id cid.Cid, bytes []byte) error
	Get(id cid.Cid) ([]byte, error)
	Has(id cid.Cid) bool
}

// NamedStore associates a Store with a stable backend name, for
// multi-backend orchestration that reports per-backend results.
type NamedStore struct {
	Name  string
	Store Store
}

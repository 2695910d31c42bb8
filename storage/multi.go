package storage

import (
	"errors"

	"github.com/ipfs/go-cid"
)

// MultiStore provides deterministic, ordered fallback across multiple
// backends.
//
// Read order is the slice order in Backends; callers MUST supply a fixed
// order. This avoids map-iteration nondeterminism and makes the retrieval
// strategy explicit.
//
// Put writes only to the first backend.
type MultiStore struct {
	Backends []Store
}

var _ Store = MultiStore{}

func (m MultiStore) Put(id cid.Cid, b []byte) error {
	if len(m.Backends) == 0 {
		return errors.New("storage: MultiStore has no backends")
	}
	return m.Backends[0].Put(id, b)
}

func (m MultiStore) Get(id cid.Cid) ([]byte, error) {
	for _, s := range m.Backends {
		b, err := s.Get(id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (m MultiStore) Has(id cid.Cid) bool {
	for _, s := range m.Backends {
		if s.Has(id) {
			return true
		}
	}
	return false
}

// ReplicatingStore writes to all configured backends.
//
// Reads fall back in order. A write that fails on any backend fails the
// Put; earlier backends may retain the blob (idempotent re-Put heals).
type ReplicatingStore struct {
	Backends []NamedStore
}

var _ Store = ReplicatingStore{}

func (r ReplicatingStore) Put(id cid.Cid, b []byte) error {
	if len(r.Backends) == 0 {
		return errors.New("storage: ReplicatingStore has no backends")
	}
	for _, backend := range r.Backends {
		if backend.Store == nil {
			return errors.New("storage: nil store for backend " + backend.Name)
		}
		if err := backend.Store.Put(id, b); err != nil {
			return err
		}
	}
	return nil
}

func (r ReplicatingStore) Get(id cid.Cid) ([]byte, error) {
	for _, backend := range r.Backends {
		if backend.Store == nil {
			continue
		}
		b, err := backend.Store.Get(id)
		if err == nil {
			return b, nil
		}
		if IsNotFound(err) {
			continue
		}
		return nil, err
	}
	return nil, ErrNotFound
}

func (r ReplicatingStore) Has(id cid.Cid) bool {
	for _, backend := range r.Backends {
		if backend.Store != nil && backend.Store.Has(id) {
			return true
		}
	}
	return false
}

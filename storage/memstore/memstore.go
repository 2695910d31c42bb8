// Package memstore provides an in-memory Store, used by tests and by
// daemons that treat the graph as a rebuildable cache over peer sync.
package memstore

import (
	"bytes"
	"sync"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/storage"
)

type Store struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Put(id cid.Cid, b []byte) error {
	if err := cidutil.Check(id); err != nil {
		return storage.ErrInvalidCID
	}
	key := id.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blobs[key]; ok {
		if !bytes.Equal(existing, b) {
			return storage.ErrImmutable
		}
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.blobs[key] = cp
	return nil
}

func (s *Store) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[id.String()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (s *Store) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[id.String()]
	return ok
}

// Len reports the number of stored blobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

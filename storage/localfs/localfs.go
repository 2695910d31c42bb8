// Package localfs provides a filesystem-backed Store.
//
// Objects are stored immutably under a two-character fan-out directory and
// keyed strictly by CID. The implementation is offline and deterministic:
// it never uses the network and never depends on wall-clock time.
package localfs

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/storage"
)

type Store struct {
	root string
}

// New constructs a filesystem store rooted at root. The directory will be
// created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

var _ storage.Store = (*Store)(nil)

func (s *Store) Put(id cid.Cid, b []byte) error {
	if err := cidutil.Check(id); err != nil {
		return storage.ErrInvalidCID
	}

	path := s.pathFor(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			existing, rerr := os.ReadFile(path)
			if rerr != nil {
				// The file exists but is unreadable; treat as an
				// immutability violation rather than overwrite.
				return storage.ErrImmutable
			}
			if !bytes.Equal(existing, b) {
				return storage.ErrImmutable
			}
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func (s *Store) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

func (s *Store) pathFor(id cid.Cid) string {
	str := id.String()
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}

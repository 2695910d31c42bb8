package graph

import (
	"io"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/storage/bundle"
)

// ExportScope writes a deterministic bundle of scopeID's entire DAG to w,
// labelling the scope's current tips.
func (s *Store) ExportScope(w io.Writer, scopeID string) error {
	th, err := s.Thread(scopeID)
	if err != nil {
		return err
	}
	ids := make([]cid.Cid, 0, th.Len())
	s.mu.Lock()
	for _, key := range s.byScope[scopeID] {
		id, derr := cid.Decode(key)
		if derr == nil {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	labels := make(map[string]cid.Cid)
	for i, tip := range s.Tips(scopeID) {
		if i == 0 {
			labels["tip"] = tip
		}
		labels["tip/"+tip.String()] = tip
	}
	return bundle.Export(w, s.blobs, ids, bundle.ExportOptions{Labels: labels, IncludeIndex: true})
}

// ImportBundle replays a bundle through AddBytes so every imported node
// passes the full admission pipeline. Blocks may appear in any order; the
// import loops until no further progress can be made and reports the last
// ordering error if nodes remain unanchored (typically missing parents
// outside the bundle).
func (s *Store) ImportBundle(r io.Reader) (added int, err error) {
	staged := make(map[string][]byte)
	collect := func(id cid.Cid, data []byte) error {
		// Validate the CID binding before staging; AddBytes re-checks
		// everything else.
		n, derr := dag.Decode(data)
		if derr != nil {
			return derr
		}
		if verr := n.VerifyAgainst(id); verr != nil {
			return verr
		}
		staged[id.String()] = append([]byte(nil), data...)
		return nil
	}

	// Stage into a throwaway sink; nothing touches the real store until a
	// block has been fully validated and ordered.
	sink := stagingSink{}
	if err := bundle.ImportWithOptions(r, sink, bundle.ImportOptions{Check: collect}); err != nil {
		return 0, err
	}

	var lastErr error
	for len(staged) > 0 {
		progress := false
		for key, data := range staged {
			if _, aerr := s.AddBytes(data); aerr != nil {
				if IsCode(aerr, CodeUnknownParent) {
					lastErr = aerr
					continue
				}
				return added, aerr
			}
			delete(staged, key)
			added++
			progress = true
		}
		if !progress {
			return added, lastErr
		}
	}
	return added, nil
}

// stagingSink satisfies storage.Store but discards writes; ImportBundle's
// Check callback has already captured the bytes.
type stagingSink struct{}

func (stagingSink) Put(cid.Cid, []byte) error   { return nil }
func (stagingSink) Get(cid.Cid) ([]byte, error) { return nil, errStagingGet }
func (stagingSink) Has(cid.Cid) bool            { return false }

var errStagingGet = newError(ClassInternal, CodeNotFound, "MESH-GRAPH-321", "staging sink is write-only")

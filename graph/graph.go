// Package graph implements the persistent, signature-and-lineage-verifying
// graph store at the center of the mesh.
//
// Every event, whether a proposal, vote, manifest, bid or dispatch
// decision, enters through Store.AddNode and is verified the same way
// regardless of
// whether it came from a local component or from peer sync: signature,
// content hash, parent existence, scope authorization, sequence freshness.
// Nothing is ever mutated or deleted; forks are allowed and reconciled only
// by explicit anchoring.
package graph

import (
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/scope"
	"icn.coop/mesh/storage"
	"icn.coop/mesh/telemetry"
)

type nodeMeta struct {
	scope     string
	author    string
	sequence  uint64
	timestamp int64
	parents   []string
	kind      dag.PayloadKind
}

// Store is the shared graph store. A single Store value is passed by
// pointer into every component that needs it; only the existence-check-
// then-insert sequence holds the mutex, never signature verification.
type Store struct {
	blobs  storage.Store
	scopes *scope.Registry
	log    *zap.Logger

	mu         sync.Mutex
	index      map[string]nodeMeta            // cid -> meta
	byScope    map[string][]string            // scope -> cids in first-seen order
	seqs       map[string]map[uint64]string   // author -> sequence -> cid
	tips       map[string]map[string]struct{} // scope -> frontier cids
	dispatches map[string]string              // task cid -> receipt cid
	lineage    map[string][]dag.LineageAttestation
}

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger; the default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New constructs a graph store over blobs, consulting scopes on every write.
func New(blobs storage.Store, scopes *scope.Registry, opts ...Option) *Store {
	s := &Store{
		blobs:      blobs,
		scopes:     scopes,
		log:        zap.NewNop(),
		index:      make(map[string]nodeMeta),
		byScope:    make(map[string][]string),
		seqs:       make(map[string]map[uint64]string),
		tips:       make(map[string]map[string]struct{}),
		dispatches: make(map[string]string),
		lineage:    make(map[string][]dag.LineageAttestation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterScope registers an authorization scope.
func (s *Store) RegisterScope(sc scope.Scope) error {
	return s.scopes.Register(sc)
}

// Scopes exposes the registry for read-side consumers.
func (s *Store) Scopes() *scope.Registry { return s.scopes }

func (s *Store) reject(err error) error {
	telemetry.NodesRejected.WithLabelValues(string(CodeOf(err))).Inc()
	return err
}

// AddNode verifies and persists a signed node, returning its CID.
//
// Verification order: structural and cryptographic checks first (outside
// the insertion lock, since they are CPU-bound), then scope authorization,
// then, atomically, idempotence, parent existence, sequence freshness
// and persistence. Submitting a node whose CID already exists is a no-op
// returning the existing CID.
func (s *Store) AddNode(n *dag.Node) (cid.Cid, error) {
	if n == nil {
		return cid.Undef, s.reject(newError(ClassIntegrity, CodeInvalidNode, "MESH-GRAPH-101", "nil node"))
	}
	if err := n.Verify(); err != nil {
		if dag.IsKind(err, dag.KindCrypto) {
			return cid.Undef, s.reject(wrapErr(ClassIntegrity, CodeInvalidSignature, "MESH-GRAPH-102", "node signature verification failed", err))
		}
		return cid.Undef, s.reject(wrapErr(ClassIntegrity, CodeInvalidNode, "MESH-GRAPH-103", "node failed structural verification", err))
	}
	id, err := n.CID()
	if err != nil {
		return cid.Undef, s.reject(wrapErr(ClassIntegrity, CodeInvalidNode, "MESH-GRAPH-104", "cid computation failed", err))
	}
	enc, err := n.Encode()
	if err != nil {
		return cid.Undef, s.reject(wrapErr(ClassInternal, CodeInvalidNode, "MESH-GRAPH-105", "node encoding failed", err))
	}

	switch aerr := s.scopes.Authorize(n.Scope, n.Author); aerr {
	case nil:
	case scope.ErrNotFound:
		return cid.Undef, s.reject(wrapErr(ClassAuthorization, CodeScopeNotFound, "MESH-GRAPH-111", "scope not registered: "+n.Scope, aerr))
	default:
		return cid.Undef, s.reject(wrapErr(ClassAuthorization, CodeUnauthorizedAuthor, "MESH-GRAPH-112", n.Author+" is not authorized for scope "+n.Scope, aerr))
	}

	// Lineage attestations carry obligations beyond the envelope signature:
	// both anchored CIDs must already exist in their scopes, the scopes must
	// be parent and child, and each side must have co-signed. Anchored nodes
	// are never deleted, so existence checked here holds at insertion.
	var att *dag.LineageAttestation
	if a, ok := n.Payload.(*dag.LineageAttestation); ok {
		if err := s.AttestLineage(a); err != nil {
			return cid.Undef, s.reject(err)
		}
		att = a
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.String()
	if _, exists := s.index[key]; exists {
		// Idempotent path: identical resubmission wins nothing and loses
		// nothing.
		return id, nil
	}

	for _, p := range n.Parents {
		pm, ok := s.index[p.String()]
		if !ok {
			return cid.Undef, s.reject(newError(ClassOrdering, CodeUnknownParent, "MESH-GRAPH-121", "unknown parent "+p.String()))
		}
		if pm.scope != n.Scope {
			return cid.Undef, s.reject(newError(ClassOrdering, CodeUnknownParent, "MESH-GRAPH-122", "parent "+p.String()+" belongs to scope "+pm.scope))
		}
	}
	if len(n.Parents) == 0 && len(s.byScope[n.Scope]) > 0 {
		return cid.Undef, s.reject(newError(ClassOrdering, CodeUnknownParent, "MESH-GRAPH-123", "parentless node in non-empty scope "+n.Scope))
	}

	if prior, ok := s.seqs[n.Author][n.Sequence]; ok && prior != key {
		return cid.Undef, s.reject(newError(ClassOrdering, CodeSequenceReplay, "MESH-GRAPH-131", "sequence number already used by author"))
	}

	if dr, ok := n.Payload.(*dag.DispatchReceipt); ok {
		if _, exists := s.dispatches[dr.TaskCID]; exists {
			return cid.Undef, s.reject(newError(ClassConflict, CodeAlreadyDispatched, "MESH-GRAPH-141", "task "+dr.TaskCID+" already has an anchored dispatch receipt"))
		}
	}

	if err := s.blobs.Put(id, enc); err != nil {
		return cid.Undef, s.reject(wrapErr(ClassInternal, CodeInvalidNode, "MESH-GRAPH-151", "persisting node failed", err))
	}

	parents := make([]string, 0, len(n.Parents))
	for _, p := range n.Parents {
		parents = append(parents, p.String())
	}
	s.index[key] = nodeMeta{
		scope:     n.Scope,
		author:    n.Author,
		sequence:  n.Sequence,
		timestamp: n.Timestamp,
		parents:   parents,
		kind:      n.Payload.Kind(),
	}
	s.byScope[n.Scope] = append(s.byScope[n.Scope], key)
	if s.seqs[n.Author] == nil {
		s.seqs[n.Author] = make(map[uint64]string)
	}
	s.seqs[n.Author][n.Sequence] = key

	if s.tips[n.Scope] == nil {
		s.tips[n.Scope] = make(map[string]struct{})
	}
	for _, p := range parents {
		delete(s.tips[n.Scope], p)
	}
	s.tips[n.Scope][key] = struct{}{}

	if dr, ok := n.Payload.(*dag.DispatchReceipt); ok {
		s.dispatches[dr.TaskCID] = key
	}
	if att != nil {
		s.lineage[att.ChildScope] = append(s.lineage[att.ChildScope], *att)
	}

	telemetry.NodesAdmitted.WithLabelValues(n.Scope, string(n.Payload.Kind())).Inc()
	s.log.Debug("node admitted",
		zap.String("cid", key),
		zap.String("scope", n.Scope),
		zap.String("author", n.Author),
		zap.String("payload", string(n.Payload.Kind())),
	)
	return id, nil
}

// AddBytes decodes canonical wire bytes and adds the node. This is the
// entry point the peer-sync transport funnels received nodes through;
// there is no separate trusted fast path.
func (s *Store) AddBytes(data []byte) (cid.Cid, error) {
	n, err := dag.Decode(data)
	if err != nil {
		return cid.Undef, s.reject(wrapErr(ClassIntegrity, CodeInvalidNode, "MESH-GRAPH-161", "undecodable node envelope", err))
	}
	return s.AddNode(n)
}

// GetNode fetches a node by CID, recomputing and checking its content hash
// and signature. A mismatch is a fatal integrity error: the store's copy
// has been tampered with.
func (s *Store) GetNode(id cid.Cid) (*dag.Node, error) {
	data, err := s.GetBytes(id)
	if err != nil {
		return nil, err
	}
	n, err := dag.Decode(data)
	if err != nil {
		return nil, wrapErr(ClassIntegrity, CodeHashMismatch, "MESH-GRAPH-172", "stored node no longer decodes", err)
	}
	if err := n.VerifyAgainst(id); err != nil {
		return nil, wrapErr(ClassIntegrity, CodeHashMismatch, "MESH-GRAPH-173", "stored node failed re-verification", err)
	}
	return n, nil
}

// GetBytes fetches a node's canonical wire bytes without re-verifying.
func (s *Store) GetBytes(id cid.Cid) ([]byte, error) {
	data, err := s.blobs.Get(id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, newError(ClassNotFound, CodeNotFound, "MESH-GRAPH-171", "node not found: "+id.String())
		}
		return nil, wrapErr(ClassInternal, CodeNotFound, "MESH-GRAPH-174", "storage read failed", err)
	}
	return data, nil
}

// Has reports whether a node is present.
func (s *Store) Has(id cid.Cid) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id.String()]
	return ok
}

// Tips returns the scope's current frontier (nodes without observed
// children), sorted by CID. Forked branches produce multiple tips.
func (s *Store) Tips(scopeID string) []cid.Cid {
	s.mu.Lock()
	keys := make([]string, 0, len(s.tips[scopeID]))
	for k := range s.tips[scopeID] {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	out := make([]cid.Cid, 0, len(keys))
	for _, k := range keys {
		id, err := cid.Decode(k)
		if err == nil {
			out = append(out, id)
		}
	}
	return out
}

// Len reports the number of nodes anchored in scopeID.
func (s *Store) Len(scopeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byScope[scopeID])
}

// NextSequence returns the next unused sequence number for an author,
// one past the highest sequence the store has seen from it.
func (s *Store) NextSequence(author string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max uint64
	for seq := range s.seqs[author] {
		if seq >= max {
			max = seq + 1
		}
	}
	return max
}

// DispatchForTask returns the CID of the dispatch receipt anchored for a
// task, if any.
func (s *Store) DispatchForTask(taskCID string) (cid.Cid, bool) {
	s.mu.Lock()
	key, ok := s.dispatches[taskCID]
	s.mu.Unlock()
	if !ok {
		return cid.Undef, false
	}
	id, err := cid.Decode(key)
	if err != nil {
		return cid.Undef, false
	}
	return id, true
}

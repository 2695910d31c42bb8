package trust

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/graph"
)

var (
	// ErrUpdatesDisabled reports that the active policy forbids DAG-borne
	// policy updates.
	ErrUpdatesDisabled = errors.New("trust: active policy forbids dag updates")
	// ErrNotAdmin reports that the update author holds no admin grant.
	ErrNotAdmin = errors.New("trust: update author is not a policy admin")
	// ErrVersionSkew reports a policy update whose version is not exactly
	// one past the active version.
	ErrVersionSkew = errors.New("trust: policy update version must follow active version")
	// ErrPredecessorMismatch reports an update chained to a policy other
	// than the active one.
	ErrPredecessorMismatch = errors.New("trust: policy update predecessor mismatch")
)

// Store holds the active trust policy and applies updates in version
// order. Reads see either the old or the new policy, never a mix.
type Store struct {
	log *zap.Logger

	mu        sync.RWMutex
	policy    *Policy
	policyCID string // CID of the node the active policy is anchored in, if any
}

// NewStore constructs a store with an initial policy. anchorCID is the CID
// of the graph node carrying the policy, or empty when the policy was
// loaded from a local file.
func NewStore(initial *Policy, anchorCID string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{log: log, policy: initial, policyCID: anchorCID}
}

// Active returns the active policy. The returned value must not be
// mutated.
func (s *Store) Active() *Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// Version returns the active policy version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.Version
}

// IsTrustedFor answers against the active policy.
func (s *Store) IsTrustedFor(did string, role Role, now int64) bool {
	return s.Active().IsTrustedFor(did, role, now)
}

// ApplyUpdate applies a policy update carried by an already-committed
// graph node. The node's author must be an admin of the ACTIVE policy,
// the active policy must allow updates, the update version must be
// active+1, and the update's predecessor reference must name the active
// policy's anchor. The carried document replaces the active policy;
// anchorCID is the update node's own CID.
func (s *Store) ApplyUpdate(n *dag.Node, anchorCID string) error {
	upd, ok := n.Payload.(*dag.PolicyUpdate)
	if !ok {
		return fmt.Errorf("trust: node %s is not a policy update", anchorCID)
	}
	next, err := Parse(upd.Document)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.policy.AllowDAGUpdates {
		return ErrUpdatesDisabled
	}
	if !s.policy.IsAdmin(n.Author) {
		return fmt.Errorf("%w: %s", ErrNotAdmin, n.Author)
	}
	if upd.Version != s.policy.Version+1 || next.Version != upd.Version {
		return fmt.Errorf("%w: active %d, update %d (document %d)",
			ErrVersionSkew, s.policy.Version, upd.Version, next.Version)
	}
	if s.policyCID != "" && upd.PrevPolicyCID != s.policyCID {
		return fmt.Errorf("%w: active %s, update names %s",
			ErrPredecessorMismatch, s.policyCID, upd.PrevPolicyCID)
	}
	if next.FederationID != s.policy.FederationID {
		return fmt.Errorf("trust: update changes federation_id from %s to %s",
			s.policy.FederationID, next.FederationID)
	}

	s.policy = next
	s.policyCID = anchorCID
	s.log.Info("trust policy updated",
		zap.Uint64("version", next.Version),
		zap.String("author", n.Author),
		zap.String("anchor", anchorCID))
	return nil
}

// Sync drains a graph cursor, applying every policy update it yields.
// This is the polling-subscription path: call periodically to follow a
// scope. A rejected update is logged and skipped; it must not stall the
// follower.
func (s *Store) Sync(c *graph.Cursor) error {
	for {
		n, ok, err := c.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if _, isUpdate := n.Payload.(*dag.PolicyUpdate); !isUpdate {
			continue
		}
		id, err := n.CID()
		if err != nil {
			s.log.Warn("policy update cid", zap.Error(err))
			continue
		}
		if err := s.ApplyUpdate(n, id.String()); err != nil {
			s.log.Warn("policy update rejected",
				zap.String("cid", id.String()),
				zap.String("author", n.Author),
				zap.Error(err))
		}
	}
}

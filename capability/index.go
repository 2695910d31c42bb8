// Package capability maintains a queryable index of node capability
// manifests, rebuilt by replaying manifest nodes from the graph.
package capability

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/graph"
	"icn.coop/mesh/telemetry"
)

// Config controls manifest signature handling during ingestion.
//
// When verification is required and fails, the manifest is ignored rather
// than causing an error: failure is local and silent to the index, but it
// is logged and counted for audit.
type Config struct {
	// VerifySignatures re-verifies each manifest node's envelope signature.
	VerifySignatures bool
	// RequireValidSignatures drops manifests whose verification fails.
	// Without it, failures are logged but the manifest is still indexed.
	RequireValidSignatures bool
	// TrustedDIDs, when non-empty, is an allow-list of manifest providers.
	TrustedDIDs []string
}

type record struct {
	manifest dag.NodeManifest
	sequence uint64
}

// Index is the in-memory manifest index. It is an observer over already-
// committed nodes and is safe for concurrent use.
type Index struct {
	cfg     Config
	trusted map[string]struct{}
	log     *zap.Logger

	mu        sync.RWMutex
	manifests map[string]record // provider DID -> latest manifest

	ignored atomic.Uint64
}

// Option configures an Index.
type Option func(*Index)

// WithLogger attaches a logger; the default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(ix *Index) {
		if log != nil {
			ix.log = log
		}
	}
}

// NewIndex constructs an empty index.
func NewIndex(cfg Config, opts ...Option) *Index {
	ix := &Index{
		cfg:       cfg,
		log:       zap.NewNop(),
		manifests: make(map[string]record),
	}
	if len(cfg.TrustedDIDs) > 0 {
		ix.trusted = make(map[string]struct{}, len(cfg.TrustedDIDs))
		for _, did := range cfg.TrustedDIDs {
			ix.trusted[did] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Ingest observes one node. Non-manifest payloads are skipped. A manifest
// from an author already indexed supersedes the prior entry only if its
// envelope sequence is higher (latest-wins).
func (ix *Index) Ingest(n *dag.Node) {
	m, ok := n.Payload.(*dag.NodeManifest)
	if !ok {
		return
	}

	if ix.trusted != nil {
		if _, ok := ix.trusted[n.Author]; !ok {
			ix.drop(n, "untrusted_did")
			return
		}
	}
	if ix.cfg.VerifySignatures {
		if err := n.Verify(); err != nil {
			ix.log.Warn("manifest signature verification failed",
				zap.String("author", n.Author), zap.Error(err))
			if ix.cfg.RequireValidSignatures {
				ix.drop(n, "invalid_signature")
				return
			}
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if cur, ok := ix.manifests[n.Author]; ok && cur.sequence >= n.Sequence {
		return
	}
	ix.manifests[n.Author] = record{manifest: *m, sequence: n.Sequence}
}

func (ix *Index) drop(n *dag.Node, reason string) {
	ix.ignored.Add(1)
	telemetry.ManifestsIgnored.WithLabelValues(reason).Inc()
	ix.log.Info("manifest ignored",
		zap.String("author", n.Author), zap.String("reason", reason))
}

// Sync drains a graph cursor, ingesting every manifest it yields. This is
// the polling-subscription path: call periodically to follow a scope.
func (ix *Index) Sync(c *graph.Cursor) error {
	for {
		n, ok, err := c.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ix.Ingest(n)
	}
}

// Query returns the DIDs whose latest manifest satisfies every predicate
// in the selector, sorted. A nil selector matches every indexed provider.
func (ix *Index) Query(sel *dag.Selector) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.manifests))
	for did, rec := range ix.manifests {
		if sel == nil || Matches(&rec.manifest, sel) {
			out = append(out, did)
		}
	}
	sort.Strings(out)
	return out
}

// Manifest returns the latest manifest indexed for did.
func (ix *Index) Manifest(did string) (dag.NodeManifest, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	rec, ok := ix.manifests[did]
	return rec.manifest, ok
}

// Len reports the number of indexed providers.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.manifests)
}

// IgnoredCount reports how many manifests were dropped since creation.
func (ix *Index) IgnoredCount() uint64 { return ix.ignored.Load() }

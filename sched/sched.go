// Package sched selects an executor for a task from the bids recorded in
// the graph and commits the decision as a signed dispatch receipt.
//
// Selection is deterministic: every honest scheduler observing the same
// task, manifests and bids computes the same winner, and the graph's
// conflict rule guarantees at most one receipt per task ever commits.
package sched

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"icn.coop/mesh/capability"
	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/dag"
	"icn.coop/mesh/graph"
	"icn.coop/mesh/keys"
	"icn.coop/mesh/telemetry"
)

var (
	// ErrNotATask reports that the referenced node is not a task request.
	ErrNotATask = errors.New("sched: node is not a task request")
	// ErrNoMatchingNodes reports that no indexed manifest satisfies the
	// task's capability selector.
	ErrNoMatchingNodes = errors.New("sched: no nodes match capability selector")
	// ErrNoBids reports that no eligible bid exists for the task.
	ErrNoBids = errors.New("sched: no eligible bids for task")
	// ErrAlreadyDispatched reports that another receipt for the task is
	// already committed.
	ErrAlreadyDispatched = errors.New("sched: task already dispatched")
)

// Bid pairs a bid payload with its envelope, as collected from the graph.
type Bid struct {
	CID       cid.Cid
	Bid       *dag.TaskBid
	Timestamp int64
}

// Result reports a committed dispatch decision.
type Result struct {
	ReceiptCID cid.Cid
	Receipt    *dag.DispatchReceipt
}

// Scheduler runs the bid auction for tasks in one scope.
type Scheduler struct {
	store  *graph.Store
	index  *capability.Index
	signer keys.Signer
	log    *zap.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger attaches a logger; the default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// NewScheduler constructs a scheduler that signs receipts with signer.
func NewScheduler(store *graph.Store, index *capability.Index, signer keys.Signer, opts ...Option) *Scheduler {
	s := &Scheduler{store: store, index: index, signer: signer, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch evaluates every bid recorded for the task, selects the winner
// and commits a signed dispatch receipt to the graph. now is the auction
// close time used for bid expiry.
//
// The receipt node's parents are the task and the winning bid, so the
// decision is anchored to exactly the evidence it was derived from.
func (s *Scheduler) Dispatch(taskCID cid.Cid, now int64) (*Result, error) {
	taskNode, err := s.store.GetNode(taskCID)
	if err != nil {
		telemetry.Dispatches.WithLabelValues("error").Inc()
		return nil, err
	}
	task, ok := taskNode.Payload.(*dag.TaskRequest)
	if !ok {
		telemetry.Dispatches.WithLabelValues("error").Inc()
		return nil, ErrNotATask
	}

	matching := s.index.Query(task.CapabilitySelector)
	if len(matching) == 0 {
		telemetry.Dispatches.WithLabelValues("no_matching_nodes").Inc()
		return nil, ErrNoMatchingNodes
	}
	matchSet := make(map[string]struct{}, len(matching))
	for _, did := range matching {
		matchSet[did] = struct{}{}
	}

	bids, err := s.collectBids(taskNode.Scope, taskCID, task, matchSet, now)
	if err != nil {
		telemetry.Dispatches.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(bids) == 0 {
		telemetry.Dispatches.WithLabelValues("no_bids").Inc()
		return nil, ErrNoBids
	}

	winner := SelectWinner(bids)
	receipt := &dag.DispatchReceipt{
		// MatchingNodeCount is the number of providers whose manifest
		// matched the selector, not the number of surviving bids. The
		// auditor's replay counts the same way.
		MatchingNodeCount: len(matching),
		Score:             Score(winner.Bid),
		SchedulerDID:      s.signer.DID(),
		SelectedBidCID:    winner.CID.String(),
		SelectedNodeDID:   winner.Bid.BidderDID,
		Selector:          task.CapabilitySelector,
		TaskCID:           taskCID.String(),
	}

	node := &dag.Node{
		Payload:   receipt,
		Parents:   []cid.Cid{taskCID, winner.CID},
		Author:    s.signer.DID(),
		Scope:     taskNode.Scope,
		Sequence:  s.store.NextSequence(s.signer.DID()),
		Timestamp: now,
	}
	if err := node.Sign(s.signer); err != nil {
		telemetry.Dispatches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sched: signing receipt: %w", err)
	}

	id, err := s.store.AddNode(node)
	if err != nil {
		if graph.IsCode(err, graph.CodeAlreadyDispatched) {
			telemetry.Dispatches.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("%w: %v", ErrAlreadyDispatched, err)
		}
		telemetry.Dispatches.WithLabelValues("error").Inc()
		return nil, err
	}

	telemetry.Dispatches.WithLabelValues("dispatched").Inc()
	s.log.Info("task dispatched",
		zap.String("task", taskCID.String()),
		zap.String("node", receipt.SelectedNodeDID),
		zap.Float64("score", receipt.Score),
		zap.Int("bids", len(bids)))
	return &Result{ReceiptCID: id, Receipt: receipt}, nil
}

// collectBids walks the task's scope thread and gathers eligible bids:
// the bid references the task, its author is the bidder it claims, the
// bidder's manifest matches the selector, the offered resources cover the
// task, the claimed latency is within bound, and the bid has not expired.
func (s *Scheduler) collectBids(scope string, taskCID cid.Cid, task *dag.TaskRequest, matchSet map[string]struct{}, now int64) ([]Bid, error) {
	thread, err := s.store.Thread(scope)
	if err != nil {
		return nil, err
	}
	want := taskCID.String()

	var bids []Bid
	for thread.Next() {
		n := thread.Node()
		b, ok := n.Payload.(*dag.TaskBid)
		if !ok || b.TaskCID != want {
			continue
		}
		if b.BidderDID != n.Author {
			s.log.Warn("bid bidder does not match envelope author",
				zap.String("bid", thread.CID()))
			continue
		}
		if _, ok := matchSet[b.BidderDID]; !ok {
			continue
		}
		if !Eligible(b, task, now) {
			continue
		}
		bidCID, err := cidutil.Parse(thread.CID())
		if err != nil {
			return nil, err
		}
		bids = append(bids, Bid{CID: bidCID, Bid: b, Timestamp: n.Timestamp})
	}
	if err := thread.Err(); err != nil {
		return nil, err
	}
	return bids, nil
}

// Eligible reports whether a bid can serve the task at time now.
func Eligible(b *dag.TaskBid, task *dag.TaskRequest, now int64) bool {
	if b.Cores < task.Cores || b.MemoryMb < task.MemoryMb {
		return false
	}
	if task.MaxLatencyMs > 0 && b.LatencyMs > task.MaxLatencyMs {
		return false
	}
	if b.ExpiresAt > 0 && b.ExpiresAt <= now {
		return false
	}
	return true
}

// Score computes a bid's cost. Lower is better: fast, reputable, well
// resourced and renewable-powered bidders score lowest.
//
//	latency_ms * (100 - reputation) / (memory_mb * cores * (1 + renewable_pct/100))
func Score(b *dag.TaskBid) float64 {
	denom := float64(b.MemoryMb) * float64(b.Cores) * (1 + b.RenewablePct/100)
	if denom == 0 {
		return float64(b.LatencyMs) * (100 - b.Reputation)
	}
	return float64(b.LatencyMs) * (100 - b.Reputation) / denom
}

// SelectWinner returns the lowest-scoring bid. Ties break on the earlier
// bid timestamp, then on the lexically smaller bidder DID, so the choice
// is total and independent of input order.
func SelectWinner(bids []Bid) Bid {
	sorted := make([]Bid, len(bids))
	copy(sorted, bids)
	sort.Slice(sorted, func(i, j int) bool {
		si, sj := Score(sorted[i].Bid), Score(sorted[j].Bid)
		if si != sj {
			return si < sj
		}
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].Bid.BidderDID < sorted[j].Bid.BidderDID
	})
	return sorted[0]
}

package trust

import (
	"errors"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"icn.coop/mesh/capability"
	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/dag"
	"icn.coop/mesh/graph"
	"icn.coop/mesh/sched"
)

// ErrNotAReceipt reports that the audited node does not carry a dispatch
// receipt.
var ErrNotAReceipt = errors.New("trust: node is not a dispatch receipt")

// Report is the result of auditing one dispatch receipt. Each field is an
// independent verdict; a receipt is only fully verified when all hold.
type Report struct {
	ReceiptCID string

	// SignatureValid: the envelope signature verifies and the stored bytes
	// hash back to the receipt CID.
	SignatureValid bool
	// DagMatch: replaying the manifests and bids visible at dispatch time
	// reproduces the scheduler's selection, and the graph records this
	// receipt as the task's only dispatch.
	DagMatch bool
	// IssuerTrusted, WorkerTrusted, RequestorTrusted: the scheduler,
	// selected worker and task requestor hold the matching roles in the
	// active trust policy.
	IssuerTrusted    bool
	WorkerTrusted    bool
	RequestorTrusted bool
}

// Valid reports whether every verdict holds.
func (r *Report) Valid() bool {
	return r.SignatureValid && r.DagMatch &&
		r.IssuerTrusted && r.WorkerTrusted && r.RequestorTrusted
}

// Auditor re-derives dispatch decisions from the graph and checks the
// participants against the trust policy. Any federation member can run
// one; it needs no key material.
type Auditor struct {
	store    *graph.Store
	policies *Store
	log      *zap.Logger
}

// NewAuditor constructs an auditor over store and policies.
func NewAuditor(store *graph.Store, policies *Store, log *zap.Logger) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{store: store, policies: policies, log: log}
}

// VerifyDispatch audits the receipt anchored at receiptCID. Trust role
// checks are evaluated at time now; the scheduling replay is evaluated at
// the receipt's own timestamp, since that is what the scheduler saw.
//
// An error return means the audit could not run at all (the node is
// missing or is not a receipt). A receipt that fails verification is not
// an error: the report says which verdicts failed.
func (a *Auditor) VerifyDispatch(receiptCID cid.Cid, now int64) (*Report, error) {
	raw, err := a.store.GetBytes(receiptCID)
	if err != nil {
		return nil, err
	}
	node, err := dag.Decode(raw)
	if err != nil {
		return nil, err
	}
	receipt, ok := node.Payload.(*dag.DispatchReceipt)
	if !ok {
		return nil, ErrNotAReceipt
	}

	rep := &Report{ReceiptCID: receiptCID.String()}
	rep.SignatureValid = node.VerifyAgainst(receiptCID) == nil
	rep.IssuerTrusted = a.policies.IsTrustedFor(node.Author, RoleScheduler, now)
	rep.WorkerTrusted = a.policies.IsTrustedFor(receipt.SelectedNodeDID, RoleWorker, now)

	taskCID, err := cidutil.Parse(receipt.TaskCID)
	if err != nil {
		return rep, nil
	}
	taskNode, err := a.store.GetNode(taskCID)
	if err != nil {
		return rep, nil
	}
	task, ok := taskNode.Payload.(*dag.TaskRequest)
	if !ok {
		return rep, nil
	}
	rep.RequestorTrusted = a.policies.IsTrustedFor(task.RequestorDID, RoleRequestor, now)
	rep.DagMatch = a.replayMatches(receiptCID, node, receipt, task)

	a.log.Debug("dispatch audited",
		zap.String("receipt", rep.ReceiptCID),
		zap.Bool("valid", rep.Valid()))
	return rep, nil
}

// replayMatches reconstructs the auction as it stood at the receipt's
// timestamp and compares the outcome with what the scheduler recorded.
func (a *Auditor) replayMatches(receiptCID cid.Cid, receiptNode *dag.Node, receipt *dag.DispatchReceipt, task *dag.TaskRequest) bool {
	if receipt.SchedulerDID != receiptNode.Author {
		return false
	}
	committed, ok := a.store.DispatchForTask(receipt.TaskCID)
	if !ok || !committed.Equals(receiptCID) {
		return false
	}

	thread, err := a.store.Thread(receiptNode.Scope)
	if err != nil {
		return false
	}
	cutoff := receiptNode.Timestamp

	index := capability.NewIndex(capability.Config{})
	var bids []sched.Bid
	want := receipt.TaskCID
	for thread.Next() {
		n := thread.Node()
		if n.Timestamp > cutoff {
			continue
		}
		switch p := n.Payload.(type) {
		case *dag.NodeManifest:
			index.Ingest(n)
		case *dag.TaskBid:
			if p.TaskCID != want || p.BidderDID != n.Author {
				continue
			}
			if !sched.Eligible(p, task, cutoff) {
				continue
			}
			id, perr := cidutil.Parse(thread.CID())
			if perr != nil {
				continue
			}
			bids = append(bids, sched.Bid{CID: id, Bid: p, Timestamp: n.Timestamp})
		}
	}
	if thread.Err() != nil {
		return false
	}

	matching := index.Query(task.CapabilitySelector)
	if len(matching) != receipt.MatchingNodeCount {
		return false
	}
	matchSet := make(map[string]struct{}, len(matching))
	for _, did := range matching {
		matchSet[did] = struct{}{}
	}
	eligible := bids[:0]
	for _, b := range bids {
		if _, ok := matchSet[b.Bid.BidderDID]; ok {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		return false
	}

	winner := sched.SelectWinner(eligible)
	return winner.CID.String() == receipt.SelectedBidCID &&
		winner.Bid.BidderDID == receipt.SelectedNodeDID &&
		sched.Score(winner.Bid) == receipt.Score
}

package quorum

import (
	"time"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/graph"
)

// Engine evaluates proposals and trust bundles against a graph store. It
// is a read-only observer: evaluation never writes.
type Engine struct {
	store *graph.Store
}

// NewEngine constructs an engine over store.
func NewEngine(store *graph.Store) *Engine {
	return &Engine{store: store}
}

// EvaluateProposal tallies all anchored votes for the proposal at
// proposalCID. The scope's authorized members are the required signers;
// the voting window is the proposal's timestamp plus its duration,
// evaluated against the caller-supplied instant so tallies are
// reproducible after the fact.
func (e *Engine) EvaluateProposal(proposalCID cid.Cid, now time.Time) (Tally, error) {
	node, err := e.store.GetNode(proposalCID)
	if err != nil {
		return Tally{}, err
	}
	prop, ok := node.Payload.(*dag.Proposal)
	if !ok {
		return Tally{Outcome: Invalid}, nil
	}

	sc, err := e.store.Scopes().Get(node.Scope)
	if err != nil {
		return Tally{}, err
	}

	th, err := e.store.Thread(node.Scope)
	if err != nil {
		return Tally{}, err
	}

	// The proposal's current status is whatever the latest anchored
	// Proposal node with the same ID says; proposals are superseded, never
	// edited.
	status := prop.Status
	var ballots []Ballot
	for th.Next() {
		n := th.Node()
		switch p := n.Payload.(type) {
		case *dag.Proposal:
			if p.ID == prop.ID {
				status = p.Status
			}
		case *dag.Vote:
			if p.ProposalID != prop.ID {
				continue
			}
			// A vote only counts for the DID that signed the envelope.
			if p.VoterDID != n.Author {
				continue
			}
			ballots = append(ballots, Ballot{
				Voter:     n.Author,
				Decision:  p.Decision,
				Sequence:  n.Sequence,
				Timestamp: p.Timestamp,
			})
		}
	}
	if err := th.Err(); err != nil {
		return Tally{}, err
	}

	closed := false
	if prop.VotingDurationSecs > 0 {
		closed = !now.Before(time.Unix(node.Timestamp+prop.VotingDurationSecs, 0))
	}

	sub := Subject{
		ProposalID:      prop.ID,
		Status:          status,
		RequiredSigners: sc.Authorized,
		WindowClosed:    closed,
	}
	return Evaluate(sub, ballots, prop.VotingThreshold), nil
}

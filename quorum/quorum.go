// Package quorum implements deterministic threshold evaluation for
// governance proposals and trust-bundle checkpoints.
//
// Evaluate is a pure function over a snapshot of ballots: given the same
// multiset of votes and the same policy it returns byte-identical tallies
// regardless of input order. Nothing here reads a clock or a map in
// iteration order.
package quorum

import (
	"sort"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/telemetry"
)

// Outcome is the first-class result of an evaluation. Threshold misses and
// unvotable subjects are outcomes, never errors.
type Outcome string

const (
	Passed       Outcome = "Passed"
	Failed       Outcome = "Failed"
	Inconclusive Outcome = "Inconclusive"
	Invalid      Outcome = "Invalid"
)

// Subject describes what is being voted on, as of the evaluation instant.
// WindowClosed is supplied by the caller against an explicit clock so a
// tally can be reproduced later.
type Subject struct {
	ProposalID      string
	Status          dag.ProposalStatus
	RequiredSigners []string // eligible voters; empty means "whoever voted"
	WindowClosed    bool
}

// Ballot is one extracted vote. Sequence is the author's envelope sequence
// number, used for de-duplication: only a voter's highest-sequence ballot
// counts.
type Ballot struct {
	Voter     string
	Decision  dag.VoteDecision
	Sequence  uint64
	Timestamp int64
}

// Tally is the deterministic result of an evaluation.
type Tally struct {
	Outcome             Outcome
	ApproveCount        int
	RejectCount         int
	VetoTriggered       bool
	ParticipatingWeight float64
	TotalWeight         float64
}

// Evaluate tallies ballots for a subject under a threshold policy.
func Evaluate(sub Subject, ballots []Ballot, policy dag.ThresholdPolicy) Tally {
	t := evaluate(sub, ballots, policy)
	telemetry.QuorumEvaluations.WithLabelValues(string(t.Outcome)).Inc()
	return t
}

func evaluate(sub Subject, ballots []Ballot, policy dag.ThresholdPolicy) Tally {
	if sub.Status != dag.ProposalActive {
		return Tally{Outcome: Invalid}
	}

	eligible := make(map[string]bool, len(sub.RequiredSigners))
	for _, did := range sub.RequiredSigners {
		eligible[did] = true
	}

	counted := dedupe(ballots, eligible)

	weightOf := func(voter string) float64 {
		if policy.Type == dag.ThresholdWeighted {
			return policy.Weights[voter]
		}
		return 1
	}

	var totalWeight float64
	if len(sub.RequiredSigners) > 0 {
		seen := make(map[string]bool, len(sub.RequiredSigners))
		for _, did := range sub.RequiredSigners {
			if !seen[did] {
				seen[did] = true
				totalWeight += weightOf(did)
			}
		}
	} else {
		for _, b := range counted {
			totalWeight += weightOf(b.Voter)
		}
	}

	t := Tally{TotalWeight: totalWeight}
	var approveWeight, rejectWeight float64
	for _, b := range counted {
		w := weightOf(b.Voter)
		t.ParticipatingWeight += w
		switch b.Decision {
		case dag.DecisionApprove:
			t.ApproveCount++
			approveWeight += w
		case dag.DecisionReject:
			t.RejectCount++
			rejectWeight += w
		case dag.DecisionVeto:
			t.RejectCount++
			rejectWeight += w
			if policy.VetoEnabled {
				t.VetoTriggered = true
			}
		}
	}

	if t.VetoTriggered {
		t.Outcome = Failed
		return t
	}

	remaining := totalWeight - t.ParticipatingWeight
	if remaining < 0 {
		remaining = 0
	}

	switch policy.Type {
	case dag.ThresholdMajority, dag.ThresholdWeighted:
		// Weight-majority; for Majority every counted vote weighs 1.
		switch {
		case approveWeight > rejectWeight+remaining:
			t.Outcome = Passed
		case rejectWeight >= approveWeight+remaining:
			// A tie fails, so reject reaching parity is unrecoverable.
			t.Outcome = Failed
		case sub.WindowClosed:
			if approveWeight > rejectWeight {
				t.Outcome = Passed
			} else {
				t.Outcome = Failed
			}
		default:
			t.Outcome = Inconclusive
		}
	case dag.ThresholdPercentage:
		p := policy.Percentage
		switch {
		case totalWeight > 0 && approveWeight/totalWeight >= p:
			t.Outcome = Passed
		case totalWeight > 0 && (approveWeight+remaining)/totalWeight < p:
			t.Outcome = Failed
		case sub.WindowClosed:
			t.Outcome = Failed
		default:
			t.Outcome = Inconclusive
		}
	case dag.ThresholdUnanimous:
		switch {
		case t.RejectCount > 0:
			t.Outcome = Failed
		case len(sub.RequiredSigners) > 0 && t.ApproveCount == len(sub.RequiredSigners):
			t.Outcome = Passed
		case sub.WindowClosed:
			t.Outcome = Failed
		default:
			t.Outcome = Inconclusive
		}
	default:
		t.Outcome = Invalid
	}
	return t
}

// dedupe keeps each eligible voter's highest-sequence ballot. Ties on
// sequence resolve by (timestamp, decision) ascending so the result never
// depends on input order.
func dedupe(ballots []Ballot, eligible map[string]bool) []Ballot {
	best := make(map[string]Ballot)
	for _, b := range ballots {
		if len(eligible) > 0 && !eligible[b.Voter] {
			continue
		}
		cur, ok := best[b.Voter]
		if !ok || ballotSupersedes(b, cur) {
			best[b.Voter] = b
		}
	}

	out := make([]Ballot, 0, len(best))
	for _, b := range best {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Voter < out[j].Voter })
	return out
}

func ballotSupersedes(a, b Ballot) bool {
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.Decision < b.Decision
}

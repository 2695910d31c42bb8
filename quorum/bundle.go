package quorum

import (
	"sort"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/keys"
)

// BundleReport is the result of validating a trust bundle: the quorum
// tally over its valid signatures plus the set of signers that failed
// verification. Failed signers are excluded, never fatal: a bad
// co-signature weakens the bundle, it does not poison evaluation.
type BundleReport struct {
	Tally           Tally
	ValidSigners    []string
	RejectedSigners []string
}

// Valid reports whether the bundle's signature set satisfies its policy.
func (r BundleReport) Valid() bool { return r.Tally.Outcome == Passed }

// EvaluateBundle checks a trust bundle's co-signatures against its own
// threshold policy over its required signers. Each valid signature counts
// as an approval; there is no voting window for a checkpoint.
func EvaluateBundle(tb *dag.TrustBundle) (BundleReport, error) {
	signScope, err := tb.SigningScope()
	if err != nil {
		return BundleReport{}, err
	}

	var report BundleReport
	var ballots []Ballot
	for _, entry := range tb.ActualSigners {
		if keys.Verify(entry.DID, signScope, entry.Signature) != nil {
			report.RejectedSigners = append(report.RejectedSigners, entry.DID)
			continue
		}
		report.ValidSigners = append(report.ValidSigners, entry.DID)
		ballots = append(ballots, Ballot{Voter: entry.DID, Decision: dag.DecisionApprove})
	}
	sort.Strings(report.ValidSigners)
	sort.Strings(report.RejectedSigners)

	sub := Subject{
		Status:          dag.ProposalActive,
		RequiredSigners: tb.RequiredSigners,
		WindowClosed:    true,
	}
	report.Tally = Evaluate(sub, ballots, tb.ThresholdPolicy)
	return report, nil
}

package graph

import (
	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/dag"
	"icn.coop/mesh/keys"
)

// AttestLineage verifies a lineage attestation against the store: both
// anchored CIDs must already exist in their respective scopes, the child
// scope must actually descend from the parent scope, and the attestation
// must carry a valid co-signature from an authorized member of each side.
//
// Verification only; anchoring happens when the attestation is submitted
// as a node payload through AddNode, which calls this first.
func (s *Store) AttestLineage(att *dag.LineageAttestation) error {
	if att == nil {
		return newError(ClassIntegrity, CodeLineageInvalid, "MESH-GRAPH-301", "nil attestation")
	}
	if att.ParentScope == "" || att.ChildScope == "" || att.ParentScope == att.ChildScope {
		return newError(ClassIntegrity, CodeLineageInvalid, "MESH-GRAPH-302", "attestation scopes malformed")
	}

	parentID, err := cidutil.Parse(att.ParentCID)
	if err != nil {
		return wrapErr(ClassIntegrity, CodeLineageInvalid, "MESH-GRAPH-303", "bad parent CID", err)
	}
	childID, err := cidutil.Parse(att.ChildCID)
	if err != nil {
		return wrapErr(ClassIntegrity, CodeLineageInvalid, "MESH-GRAPH-304", "bad child CID", err)
	}

	declaredParent, perr := s.scopes.Parent(att.ChildScope)
	if perr != nil {
		return wrapErr(ClassAuthorization, CodeScopeNotFound, "MESH-GRAPH-305", "child scope not registered", perr)
	}
	if declaredParent != att.ParentScope {
		return newError(ClassAuthorization, CodeLineageInvalid, "MESH-GRAPH-306", att.ChildScope+" is not a child of "+att.ParentScope)
	}

	s.mu.Lock()
	pm, pok := s.index[parentID.String()]
	cm, cok := s.index[childID.String()]
	s.mu.Unlock()
	if !pok || pm.scope != att.ParentScope {
		return newError(ClassOrdering, CodeLineageInvalid, "MESH-GRAPH-307", "parent CID not anchored in "+att.ParentScope)
	}
	if !cok || cm.scope != att.ChildScope {
		return newError(ClassOrdering, CodeLineageInvalid, "MESH-GRAPH-308", "child CID not anchored in "+att.ChildScope)
	}

	return s.verifyLineage(att)
}

// verifyLineage checks the co-signature requirement: at least one valid
// signature from an authorized member of the parent scope and one from the
// child scope, each over the attestation's signing scope.
func (s *Store) verifyLineage(att *dag.LineageAttestation) error {
	signScope, err := att.SigningScope()
	if err != nil {
		return wrapErr(ClassIntegrity, CodeLineageInvalid, "MESH-GRAPH-311", "attestation signing scope", err)
	}

	var parentSigned, childSigned bool
	for _, entry := range att.Signatures {
		if keys.Verify(entry.DID, signScope, entry.Signature) != nil {
			return newError(ClassIntegrity, CodeLineageInvalid, "MESH-GRAPH-312", "co-signature by "+entry.DID+" invalid")
		}
		if s.scopes.Authorize(att.ParentScope, entry.DID) == nil {
			parentSigned = true
		}
		if s.scopes.Authorize(att.ChildScope, entry.DID) == nil {
			childSigned = true
		}
	}
	if !parentSigned {
		return newError(ClassAuthorization, CodeLineageInvalid, "MESH-GRAPH-313", "missing co-signature from parent scope "+att.ParentScope)
	}
	if !childSigned {
		return newError(ClassAuthorization, CodeLineageInvalid, "MESH-GRAPH-314", "missing co-signature from child scope "+att.ChildScope)
	}
	return nil
}

// Lineage returns the attestations anchored for a child scope, in
// anchoring order.
func (s *Store) Lineage(childScope string) []dag.LineageAttestation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dag.LineageAttestation(nil), s.lineage[childScope]...)
}

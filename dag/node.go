// Package dag defines the signed, content-addressed node envelope that
// every mesh event travels in, its closed payload union, and the canonical
// serialization that CIDs and signatures are computed over.
package dag

import (
	"github.com/ipfs/go-cid"

	"icn.coop/mesh/cidutil"
	"icn.coop/mesh/keys"
)

// Node is an immutable unit of the graph.
//
// The content hash (CID) is computed over the canonical serialization of
// all fields except Signature, and is never supplied by a caller. Signature
// covers the same bytes. Parents order parent CIDs within the same scope;
// the set is empty only for a scope's genesis node.
type Node struct {
	Payload   Payload
	Parents   []cid.Cid
	Author    string // DID of the signer
	Scope     string // scope the node targets
	Sequence  uint64 // per-author monotonically increasing counter
	Timestamp int64  // author-asserted unix seconds, advisory only
	Signature []byte
}

// SignedScope returns the canonical bytes covered by both the CID and the
// author's signature: the full envelope with Signature omitted.
func (n *Node) SignedScope() ([]byte, error) {
	return n.encode(false)
}

// CID computes the node's content hash.
func (n *Node) CID() (cid.Cid, error) {
	scope, err := n.SignedScope()
	if err != nil {
		return cid.Undef, err
	}
	id, err := cidutil.Sum(scope)
	if err != nil {
		return cid.Undef, wrapError(KindCID, "MESH-DAG-201", "cid computation failed", err)
	}
	return id, nil
}

// Sign computes and attaches the author signature. The node's Author must
// match the signer's DID; signing under a different identity is refused.
func (n *Node) Sign(signer keys.Signer) error {
	if signer == nil {
		return newError(KindCrypto, "MESH-DAG-301", "missing signer")
	}
	if n.Author == "" {
		n.Author = signer.DID()
	}
	if n.Author != signer.DID() {
		return newError(KindCrypto, "MESH-DAG-302", "node author does not match signer DID")
	}
	scope, err := n.SignedScope()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(scope)
	if err != nil {
		return wrapError(KindCrypto, "MESH-DAG-303", "signing failed", err)
	}
	n.Signature = sig
	return nil
}

// Verify checks the author signature against the public key embedded in
// the author DID. It does not consult any store; parent existence, scope
// authorization and sequence checks belong to the graph store.
func (n *Node) Verify() error {
	if n.Payload == nil {
		return newError(KindPayload, "MESH-DAG-311", "missing payload")
	}
	if err := keys.CheckDID(n.Author); err != nil {
		return wrapError(KindCrypto, "MESH-DAG-312", "invalid author DID", err)
	}
	if n.Scope == "" {
		return newError(KindPayload, "MESH-DAG-313", "missing scope")
	}
	if len(n.Signature) == 0 {
		return newError(KindCrypto, "MESH-DAG-314", "missing signature")
	}
	for _, p := range n.Parents {
		if err := cidutil.Check(p); err != nil {
			return wrapError(KindCID, "MESH-DAG-315", "invalid parent CID", err)
		}
	}
	scope, err := n.SignedScope()
	if err != nil {
		return err
	}
	if err := keys.Verify(n.Author, scope, n.Signature); err != nil {
		return wrapError(KindCrypto, "MESH-DAG-316", "signature invalid", err)
	}
	return nil
}

// VerifyAgainst additionally checks that the node's recomputed CID matches
// want. Used on every read to detect storage tampering.
func (n *Node) VerifyAgainst(want cid.Cid) error {
	if err := n.Verify(); err != nil {
		return err
	}
	got, err := n.CID()
	if err != nil {
		return err
	}
	if !got.Equals(want) {
		return newError(KindCID, "MESH-DAG-321", "content hash mismatch")
	}
	return nil
}

package dag

import (
	"bytes"
	"encoding/json"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/cidutil"
)

// Wire envelope. Struct fields are declared in alphabetical key order so
// encoding/json emits canonical (sorted-key) bytes; canonical form is
// enforced on decode by re-encoding and comparing.
type wireNode struct {
	Identity  string      `json:"identity"`
	Parents   []string    `json:"parents"`
	Payload   wirePayload `json:"payload"`
	Scope     string      `json:"scope"`
	Sequence  uint64      `json:"sequence"`
	Signature []byte      `json:"signature,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// wirePayload is the tagged-union wire form. Exactly one variant field is
// populated, identified by Type. Fields are declared in alphabetical key
// order for the same reason as wireNode.
type wirePayload struct {
	DispatchReceipt    *DispatchReceipt    `json:"dispatch_receipt,omitempty"`
	ExecutionReceipt   *ExecutionReceipt   `json:"execution_receipt,omitempty"`
	JSON               *JSONDoc            `json:"json,omitempty"`
	LineageAttestation *LineageAttestation `json:"lineage_attestation,omitempty"`
	Manifest           *NodeManifest       `json:"manifest,omitempty"`
	Policy             *Policy             `json:"policy,omitempty"`
	PolicyUpdate       *PolicyUpdate       `json:"policy_update,omitempty"`
	Proposal           *Proposal           `json:"proposal,omitempty"`
	Raw                *Raw                `json:"raw,omitempty"`
	Reference          *Reference          `json:"reference,omitempty"`
	TaskBid            *TaskBid            `json:"task_bid,omitempty"`
	TaskRequest        *TaskRequest        `json:"task_request,omitempty"`
	TrustBundle        *TrustBundle        `json:"trust_bundle,omitempty"`
	Type               PayloadKind         `json:"type"`
	Vote               *Vote               `json:"vote,omitempty"`
}

func wrapPayload(p Payload) (wirePayload, error) {
	w := wirePayload{Type: p.Kind()}
	switch t := p.(type) {
	case *Raw:
		w.Raw = t
	case *JSONDoc:
		// Document must already be canonical; NewJSONDoc guarantees it, but
		// a hand-built JSONDoc must not smuggle non-canonical bytes into
		// the signed scope.
		canon, err := CanonicalJSON(t.Document)
		if err != nil {
			return wirePayload{}, err
		}
		if !bytes.Equal(canon, t.Document) {
			return wirePayload{}, newError(KindCanonical, "MESH-DAG-101", "json payload is not canonical")
		}
		w.JSON = t
	case *Reference:
		w.Reference = t
	case *TrustBundle:
		w.TrustBundle = t
	case *ExecutionReceipt:
		w.ExecutionReceipt = t
	case *Proposal:
		w.Proposal = t
	case *Vote:
		w.Vote = t
	case *Policy:
		w.Policy = t
	case *PolicyUpdate:
		w.PolicyUpdate = t
	case *NodeManifest:
		w.Manifest = t
	case *TaskRequest:
		w.TaskRequest = t
	case *TaskBid:
		w.TaskBid = t
	case *DispatchReceipt:
		w.DispatchReceipt = t
	case *LineageAttestation:
		w.LineageAttestation = t
	default:
		return wirePayload{}, newError(KindPayload, "MESH-DAG-102", "unknown payload variant")
	}
	return w, nil
}

func (w wirePayload) unwrap() (Payload, error) {
	var p Payload
	switch w.Type {
	case KindRaw:
		p = w.Raw
	case KindJSON:
		p = w.JSON
	case KindReference:
		p = w.Reference
	case KindTrustBundle:
		p = w.TrustBundle
	case KindExecutionReceipt:
		p = w.ExecutionReceipt
	case KindProposal:
		p = w.Proposal
	case KindVote:
		p = w.Vote
	case KindPolicy:
		p = w.Policy
	case KindPolicyUpdate:
		p = w.PolicyUpdate
	case KindNodeManifest:
		p = w.Manifest
	case KindTaskRequest:
		p = w.TaskRequest
	case KindTaskBid:
		p = w.TaskBid
	case KindDispatchReceipt:
		p = w.DispatchReceipt
	case KindLineageAttestation:
		p = w.LineageAttestation
	default:
		return nil, newError(KindPayload, "MESH-DAG-103", "unknown payload type tag")
	}
	if p == nil || isNilVariant(p) {
		return nil, newError(KindPayload, "MESH-DAG-104", "payload variant missing for type tag")
	}
	return p, nil
}

func isNilVariant(p Payload) bool {
	switch t := p.(type) {
	case *Raw:
		return t == nil
	case *JSONDoc:
		return t == nil
	case *Reference:
		return t == nil
	case *TrustBundle:
		return t == nil
	case *ExecutionReceipt:
		return t == nil
	case *Proposal:
		return t == nil
	case *Vote:
		return t == nil
	case *Policy:
		return t == nil
	case *PolicyUpdate:
		return t == nil
	case *NodeManifest:
		return t == nil
	case *TaskRequest:
		return t == nil
	case *TaskBid:
		return t == nil
	case *DispatchReceipt:
		return t == nil
	case *LineageAttestation:
		return t == nil
	}
	return true
}

func (n *Node) encode(withSignature bool) ([]byte, error) {
	if n.Payload == nil {
		return nil, newError(KindPayload, "MESH-DAG-105", "missing payload")
	}
	wp, err := wrapPayload(n.Payload)
	if err != nil {
		return nil, err
	}
	parents := make([]string, 0, len(n.Parents))
	for _, p := range n.Parents {
		if err := cidutil.Check(p); err != nil {
			return nil, wrapError(KindCID, "MESH-DAG-106", "invalid parent CID", err)
		}
		parents = append(parents, p.String())
	}
	w := wireNode{
		Identity:  n.Author,
		Parents:   parents,
		Payload:   wp,
		Scope:     n.Scope,
		Sequence:  n.Sequence,
		Timestamp: n.Timestamp,
	}
	if withSignature {
		w.Signature = n.Signature
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, wrapError(KindInternal, "MESH-DAG-107", "envelope encoding failed", err)
	}
	return b, nil
}

// Encode returns the node's canonical wire bytes, signature included.
func (n *Node) Encode() ([]byte, error) {
	return n.encode(true)
}

// Decode parses canonical wire bytes into a Node.
//
// Non-canonical input is rejected: the envelope is re-encoded and must be
// byte-identical to data, so a CID computed from a decoded node always
// matches one computed by the sender. Decode does not verify the signature.
func Decode(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireNode
	if err := dec.Decode(&w); err != nil {
		return nil, wrapError(KindParse, "MESH-DAG-111", "invalid node envelope", err)
	}
	if err := ensureEOF(dec); err != nil {
		return nil, err
	}

	payload, err := w.Payload.unwrap()
	if err != nil {
		return nil, err
	}
	parents := make([]cid.Cid, 0, len(w.Parents))
	for _, s := range w.Parents {
		p, perr := cidutil.Parse(s)
		if perr != nil {
			return nil, wrapError(KindCID, "MESH-DAG-112", "invalid parent CID", perr)
		}
		parents = append(parents, p)
	}

	n := &Node{
		Payload:   payload,
		Parents:   parents,
		Author:    w.Identity,
		Scope:     w.Scope,
		Sequence:  w.Sequence,
		Timestamp: w.Timestamp,
		Signature: w.Signature,
	}

	reenc, err := n.Encode()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(reenc, data) {
		return nil, newError(KindCanonical, "MESH-DAG-113", "node envelope is not canonical")
	}
	return n, nil
}

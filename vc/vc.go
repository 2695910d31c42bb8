// Package vc renders graph facts as W3C-style verifiable credentials so
// external parties can check a manifest or dispatch decision without
// speaking the node wire format.
//
// Credentials are canonical JSON: fields are declared in sorted key order
// and the proof is computed over the credential bytes with the proof
// value omitted, so signing and verification never disagree about what
// was signed.
package vc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/keys"
)

const (
	contextCredentials = "https://www.w3.org/2018/credentials/v1"
	contextMesh        = "https://icn.coop/mesh/credentials/v1"

	proofType    = "Ed25519Signature2020"
	proofPurpose = "assertionMethod"

	TypeCredential       = "VerifiableCredential"
	TypeManifest         = "NodeManifestCredential"
	TypeDispatchDecision = "DispatchDecisionCredential"
)

var (
	ErrNoProof        = errors.New("vc: credential carries no proof")
	ErrProofInvalid   = errors.New("vc: proof did not verify")
	ErrNotCanonical   = errors.New("vc: credential bytes are not canonical")
	ErrUnsupportedKey = errors.New("vc: proofs require an ed25519 issuer")
)

// Proof is an Ed25519Signature2020 proof. ProofValue is the base64
// signature over the enclosing credential with ProofValue itself blank.
type Proof struct {
	Created            string `json:"created"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue,omitempty"`
	Type               string `json:"type"`
	VerificationMethod string `json:"verificationMethod"`
}

// Credential is a verifiable credential wrapping one graph fact.
type Credential struct {
	Context           []string        `json:"@context"`
	CredentialSubject json.RawMessage `json:"credentialSubject"`
	ID                string          `json:"id"`
	IssuanceDate      string          `json:"issuanceDate"`
	Issuer            string          `json:"issuer"`
	Proof             *Proof          `json:"proof,omitempty"`
	Type              []string        `json:"type"`
}

// manifestSubject and dispatchSubject keep subject keys sorted too.
type manifestSubject struct {
	ID       string            `json:"id"`
	Manifest *dag.NodeManifest `json:"manifest"`
	Node     string            `json:"node"`
}

type dispatchSubject struct {
	ID      string               `json:"id"`
	Node    string               `json:"node"`
	Receipt *dag.DispatchReceipt `json:"receipt"`
}

// IssueManifest wraps a node manifest as a signed credential. providerDID
// is the manifest author; nodeCID anchors the credential to the graph
// node the manifest came from.
func IssueManifest(m *dag.NodeManifest, providerDID, nodeCID string, signer keys.Signer, issuedAt time.Time) (*Credential, error) {
	subject, err := json.Marshal(&manifestSubject{ID: providerDID, Manifest: m, Node: nodeCID})
	if err != nil {
		return nil, fmt.Errorf("vc: encoding subject: %w", err)
	}
	return issue(subject, TypeManifest, nodeCID, signer, issuedAt)
}

// IssueDispatch wraps a dispatch receipt as a signed credential.
func IssueDispatch(r *dag.DispatchReceipt, nodeCID string, signer keys.Signer, issuedAt time.Time) (*Credential, error) {
	subject, err := json.Marshal(&dispatchSubject{ID: r.SelectedNodeDID, Node: nodeCID, Receipt: r})
	if err != nil {
		return nil, fmt.Errorf("vc: encoding subject: %w", err)
	}
	return issue(subject, TypeDispatchDecision, nodeCID, signer, issuedAt)
}

func issue(subject json.RawMessage, credType, nodeCID string, signer keys.Signer, issuedAt time.Time) (*Credential, error) {
	did := signer.DID()
	if !strings.HasPrefix(did, "did:icn:"+keys.AlgEd25519+":") {
		return nil, ErrUnsupportedKey
	}
	created := issuedAt.UTC().Format(time.RFC3339)
	c := &Credential{
		Context:           []string{contextCredentials, contextMesh},
		CredentialSubject: subject,
		ID:                "urn:icn:node:" + nodeCID,
		IssuanceDate:      created,
		Issuer:            did,
		Proof: &Proof{
			Created:            created,
			ProofPurpose:       proofPurpose,
			Type:               proofType,
			VerificationMethod: did + "#key-1",
		},
		Type: []string{TypeCredential, credType},
	}
	scope, err := c.signingScope()
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(scope)
	if err != nil {
		return nil, fmt.Errorf("vc: signing: %w", err)
	}
	c.Proof.ProofValue = base64.StdEncoding.EncodeToString(sig)
	return c, nil
}

// signingScope returns the credential bytes with the proof value blanked.
func (c *Credential) signingScope() ([]byte, error) {
	shadow := *c
	if c.Proof != nil {
		p := *c.Proof
		p.ProofValue = ""
		shadow.Proof = &p
	}
	b, err := json.Marshal(&shadow)
	if err != nil {
		return nil, fmt.Errorf("vc: encoding signing scope: %w", err)
	}
	return b, nil
}

// Verify checks the proof. The verification method must resolve to the
// issuer's own key.
func (c *Credential) Verify() error {
	if c.Proof == nil || c.Proof.ProofValue == "" {
		return ErrNoProof
	}
	if c.Proof.Type != proofType {
		return fmt.Errorf("vc: unsupported proof type %q", c.Proof.Type)
	}
	if c.Proof.VerificationMethod != c.Issuer+"#key-1" {
		return fmt.Errorf("vc: verification method %q does not belong to issuer", c.Proof.VerificationMethod)
	}
	sig, err := base64.StdEncoding.DecodeString(c.Proof.ProofValue)
	if err != nil {
		return fmt.Errorf("vc: invalid proof value encoding: %w", err)
	}
	scope, err := c.signingScope()
	if err != nil {
		return err
	}
	if err := keys.Verify(c.Issuer, scope, sig); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	return nil
}

// Encode renders the credential as canonical JSON.
func (c *Credential) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("vc: encoding credential: %w", err)
	}
	return b, nil
}

// Decode parses a credential, rejecting unknown fields and non-canonical
// bytes. It does not verify the proof.
func Decode(data []byte) (*Credential, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c Credential
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("vc: decoding credential: %w", err)
	}
	again, err := c.Encode()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(data, again) {
		return nil, ErrNotCanonical
	}
	return &c, nil
}

package dag

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"icn.coop/mesh/keys"
)

func mustSigner(t *testing.T, seedByte byte) *keys.Ed25519Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = seedByte
	}
	s, err := keys.NewEd25519SignerFromSeed(seed)
	if err != nil {
		t.Fatalf("NewEd25519SignerFromSeed: %v", err)
	}
	return s
}

func signedNode(t *testing.T, signer keys.Signer, payload Payload, seq uint64) *Node {
	t.Helper()
	n := &Node{
		Payload:   payload,
		Author:    signer.DID(),
		Scope:     "solar.coop",
		Sequence:  seq,
		Timestamp: 1700000000,
	}
	if err := n.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return n
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := mustSigner(t, 0xA1)
	n := signedNode(t, signer, &Raw{Data: []byte("hello")}, 0)

	if err := n.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	id, err := n.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	if err := n.VerifyAgainst(id); err != nil {
		t.Fatalf("VerifyAgainst: %v", err)
	}
}

func TestCIDExcludesSignature(t *testing.T) {
	signer := mustSigner(t, 0xA2)
	n := signedNode(t, signer, &Raw{Data: []byte("x")}, 0)

	before, err := n.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	n.Signature = nil
	after, err := n.CID()
	if err != nil {
		t.Fatalf("CID without signature: %v", err)
	}
	if !before.Equals(after) {
		t.Fatal("CID changed when signature was removed; CID must cover the signed scope only")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := mustSigner(t, 0xA3)
	n := signedNode(t, signer, &Raw{Data: []byte("original")}, 0)

	n.Payload = &Raw{Data: []byte("tampered")}
	err := n.Verify()
	if err == nil {
		t.Fatal("tampered payload verified")
	}
	if !IsKind(err, KindCrypto) {
		t.Fatalf("err kind = %v, want crypto", err)
	}
}

func TestVerifyRejectsTamperedEnvelopeFields(t *testing.T) {
	signer := mustSigner(t, 0xA4)

	fields := []struct {
		name   string
		mutate func(*Node)
	}{
		{"sequence", func(n *Node) { n.Sequence++ }},
		{"timestamp", func(n *Node) { n.Timestamp++ }},
		{"scope", func(n *Node) { n.Scope = "other.coop" }},
	}
	for _, f := range fields {
		n := signedNode(t, signer, &Raw{Data: []byte("v")}, 3)
		f.mutate(n)
		if err := n.Verify(); err == nil {
			t.Errorf("%s: tampered field verified", f.name)
		}
	}
}

func TestSignRefusesForeignAuthor(t *testing.T) {
	alice := mustSigner(t, 0xB1)
	mallory := mustSigner(t, 0xB2)

	n := &Node{
		Payload: &Raw{Data: []byte("v")},
		Author:  alice.DID(),
		Scope:   "solar.coop",
	}
	if err := n.Sign(mallory); err == nil {
		t.Fatal("signing with a non-author key succeeded")
	}
	if got := RuleID(n.Sign(mallory)); got != "MESH-DAG-302" {
		t.Fatalf("rule id = %q, want MESH-DAG-302", got)
	}
}

func TestVerifyRequiresScope(t *testing.T) {
	signer := mustSigner(t, 0xB3)
	n := &Node{
		Payload: &Raw{Data: []byte("v")},
		Author:  signer.DID(),
	}
	if err := n.Sign(signer); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := n.Verify(); err == nil {
		t.Fatal("node without scope verified")
	}
}

func TestVerifyAgainstMismatch(t *testing.T) {
	signer := mustSigner(t, 0xB4)
	n1 := signedNode(t, signer, &Raw{Data: []byte("one")}, 0)
	n2 := signedNode(t, signer, &Raw{Data: []byte("two")}, 1)

	otherCID, err := n2.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	err = n1.VerifyAgainst(otherCID)
	if err == nil {
		t.Fatal("mismatched CID accepted")
	}
	if got := RuleID(err); got != "MESH-DAG-321" {
		t.Fatalf("rule id = %q, want MESH-DAG-321", got)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	signer := mustSigner(t, 0xC1)
	n := signedNode(t, signer, &Proposal{
		ID:                 "p-1",
		Scope:              "solar.coop",
		Status:             ProposalActive,
		Title:              "adopt budget",
		VotingDurationSecs: 3600,
		VotingThreshold:    ThresholdPolicy{Type: ThresholdMajority},
	}, 0)

	a, err := n.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := n.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("Encode is not deterministic")
	}
}

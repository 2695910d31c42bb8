package graph

import (
	"testing"

	"github.com/ipfs/go-cid"

	"icn.coop/mesh/dag"
	"icn.coop/mesh/keys"
	"icn.coop/mesh/scope"
	"icn.coop/mesh/storage/memstore"
)

func cosign(t *testing.T, att *dag.LineageAttestation, signers ...keys.Signer) {
	t.Helper()
	scope, err := att.SigningScope()
	if err != nil {
		t.Fatalf("SigningScope: %v", err)
	}
	for _, signer := range signers {
		sig, err := signer.Sign(scope)
		if err != nil {
			t.Fatalf("co-sign: %v", err)
		}
		att.Signatures = append(att.Signatures, dag.SignerEntry{DID: signer.DID(), Signature: sig})
	}
}

// lineageFixture builds a store where membership is disjoint: alice is the
// only icn.fed member and bob the only solar.coop member, so each side's
// co-signature obligation can fail independently.
func lineageFixture(t *testing.T) (*Store, *keys.Ed25519Signer, *keys.Ed25519Signer, cid.Cid, cid.Cid) {
	t.Helper()
	alice := testSigner(t, 1)
	bob := testSigner(t, 2)

	s := New(memstore.New(), scope.NewRegistry())
	if err := s.RegisterScope(scope.Scope{Type: scope.Federation, ID: "icn.fed", Authorized: []string{alice.DID()}}); err != nil {
		t.Fatalf("register icn.fed: %v", err)
	}
	if err := s.RegisterScope(scope.Scope{Type: scope.Cooperative, ID: "solar.coop", Parent: "icn.fed", Authorized: []string{bob.DID()}}); err != nil {
		t.Fatalf("register solar.coop: %v", err)
	}

	fedTip := mustAdd(t, s, signedNode(t, alice, "icn.fed", &dag.Raw{Data: []byte("fed genesis")}, nil, 0, 100))
	coopTip := mustAdd(t, s, signedNode(t, bob, "solar.coop", &dag.Raw{Data: []byte("coop genesis")}, nil, 0, 100))
	return s, alice, bob, fedTip, coopTip
}

func TestAttestLineage(t *testing.T) {
	s, alice, bob, fedTip, coopTip := lineageFixture(t)

	att := &dag.LineageAttestation{
		ParentScope: "icn.fed",
		ParentCID:   fedTip.String(),
		ChildScope:  "solar.coop",
		ChildCID:    coopTip.String(),
	}
	cosign(t, att, alice, bob)

	if err := s.AttestLineage(att); err != nil {
		t.Fatalf("AttestLineage: %v", err)
	}

	// Anchoring goes through AddNode, which re-verifies the co-signatures.
	mustAdd(t, s, signedNode(t, alice, "icn.fed", att, []cid.Cid{fedTip}, 1, 200))

	anchored := s.Lineage("solar.coop")
	if len(anchored) != 1 {
		t.Fatalf("Lineage = %d entries, want 1", len(anchored))
	}
	if anchored[0].ChildCID != coopTip.String() || anchored[0].ParentCID != fedTip.String() {
		t.Fatalf("anchored attestation differs: %+v", anchored[0])
	}
}

func TestAttestLineageRejections(t *testing.T) {
	s, alice, bob, fedTip, coopTip := lineageFixture(t)

	base := func() *dag.LineageAttestation {
		return &dag.LineageAttestation{
			ParentScope: "icn.fed",
			ParentCID:   fedTip.String(),
			ChildScope:  "solar.coop",
			ChildCID:    coopTip.String(),
		}
	}

	t.Run("Nil", func(t *testing.T) {
		if err := s.AttestLineage(nil); !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want CodeLineageInvalid", err)
		}
	})

	t.Run("SelfLink", func(t *testing.T) {
		att := base()
		att.ChildScope = att.ParentScope
		if err := s.AttestLineage(att); !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want CodeLineageInvalid", err)
		}
	})

	t.Run("NotAChild", func(t *testing.T) {
		att := base()
		att.ParentScope = "solar.coop"
		att.ChildScope = "icn.fed"
		att.ParentCID, att.ChildCID = att.ChildCID, att.ParentCID
		cosign(t, att, alice, bob)
		if err := s.AttestLineage(att); !IsCode(err, CodeScopeNotFound) && !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want lineage rejection", err)
		}
	})

	t.Run("ParentNotAnchored", func(t *testing.T) {
		stray := signedNode(t, alice, "icn.fed", &dag.Raw{Data: []byte("unanchored")}, nil, 0, 1)
		strayID, err := stray.CID()
		if err != nil {
			t.Fatalf("CID: %v", err)
		}
		att := base()
		att.ParentCID = strayID.String()
		cosign(t, att, alice, bob)
		if err := s.AttestLineage(att); !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want CodeLineageInvalid", err)
		}
	})

	t.Run("MissingChildCoSignature", func(t *testing.T) {
		att := base()
		cosign(t, att, alice) // parent side only
		if err := s.AttestLineage(att); !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want CodeLineageInvalid", err)
		}
	})

	t.Run("MissingParentCoSignature", func(t *testing.T) {
		outsider := testSigner(t, 9)
		att := base()
		cosign(t, att, bob, outsider)
		if err := s.AttestLineage(att); !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want CodeLineageInvalid", err)
		}
	})

	t.Run("ForgedCoSignature", func(t *testing.T) {
		att := base()
		cosign(t, att, alice, bob)
		att.Signatures[1].Signature[0] ^= 0x01
		if err := s.AttestLineage(att); !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want CodeLineageInvalid", err)
		}
	})

	t.Run("RejectedAtAddNode", func(t *testing.T) {
		att := base()
		cosign(t, att, alice)
		n := signedNode(t, alice, "icn.fed", att, []cid.Cid{fedTip}, 3, 300)
		if _, err := s.AddNode(n); !IsCode(err, CodeLineageInvalid) {
			t.Fatalf("got %v, want CodeLineageInvalid", err)
		}
	})
}

// Anchoring runs the full attestation check, not just the co-signatures: an
// attestation naming CIDs that were never anchored must not enter the
// lineage record even when both scopes co-signed it.
func TestAddNodeRejectsDanglingLineage(t *testing.T) {
	s, alice, bob, fedTip, _ := lineageFixture(t)

	phantomParent := signedNode(t, alice, "icn.fed", &dag.Raw{Data: []byte("never anchored parent")}, nil, 7, 1)
	phantomChild := signedNode(t, bob, "solar.coop", &dag.Raw{Data: []byte("never anchored child")}, nil, 7, 1)
	parentID, err := phantomParent.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}
	childID, err := phantomChild.CID()
	if err != nil {
		t.Fatalf("CID: %v", err)
	}

	att := &dag.LineageAttestation{
		ParentScope: "icn.fed",
		ParentCID:   parentID.String(),
		ChildScope:  "solar.coop",
		ChildCID:    childID.String(),
	}
	cosign(t, att, alice, bob)

	n := signedNode(t, alice, "icn.fed", att, []cid.Cid{fedTip}, 1, 200)
	if _, err := s.AddNode(n); !IsCode(err, CodeLineageInvalid) {
		t.Fatalf("got %v, want CodeLineageInvalid", err)
	}
	if got := s.Lineage("solar.coop"); len(got) != 0 {
		t.Fatalf("Lineage recorded %d dangling attestation(s)", len(got))
	}
}

// An inverted attestation (declared parent scope is actually the child)
// must be rejected at AddNode as well.
func TestAddNodeRejectsInvertedLineage(t *testing.T) {
	s, alice, bob, fedTip, coopTip := lineageFixture(t)

	att := &dag.LineageAttestation{
		ParentScope: "solar.coop",
		ParentCID:   coopTip.String(),
		ChildScope:  "icn.fed",
		ChildCID:    fedTip.String(),
	}
	cosign(t, att, alice, bob)

	n := signedNode(t, alice, "icn.fed", att, []cid.Cid{fedTip}, 1, 200)
	_, err := s.AddNode(n)
	if !IsCode(err, CodeScopeNotFound) && !IsCode(err, CodeLineageInvalid) {
		t.Fatalf("got %v, want lineage rejection", err)
	}
	if got := s.Lineage("icn.fed"); len(got) != 0 {
		t.Fatalf("Lineage recorded %d inverted attestation(s)", len(got))
	}
}

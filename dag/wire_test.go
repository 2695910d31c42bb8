package dag

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	signer := mustSigner(t, 0xD1)

	payloads := []Payload{
		&Raw{Data: []byte("raw bytes")},
		&Reference{Target: "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"},
		&Vote{Decision: DecisionApprove, ProposalID: "p-1", Timestamp: 1700000100, VoterDID: signer.DID()},
		&NodeManifest{
			Architecture: "arm64",
			Cores:        4,
			RAMMb:        8192,
			StorageBytes: 1 << 34,
			LastSeen:     1700000000,
			GPU:          &GPUProfile{APIFamily: "cuda", VRAMMb: 4096},
			Energy:       &EnergyProfile{RenewablePct: 80, Sources: []string{"solar"}},
		},
		&TaskBid{BidderDID: signer.DID(), Cores: 2, LatencyMs: 40, MemoryMb: 1024, RenewablePct: 50, Reputation: 90, TaskCID: "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy"},
	}

	for i, p := range payloads {
		n := signedNode(t, signer, p, uint64(i))
		data, err := n.Encode()
		if err != nil {
			t.Fatalf("payload %d: Encode: %v", i, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("payload %d: Decode: %v", i, err)
		}
		if got.Payload.Kind() != p.Kind() {
			t.Fatalf("payload %d: kind %q != %q", i, got.Payload.Kind(), p.Kind())
		}
		again, err := got.Encode()
		if err != nil {
			t.Fatalf("payload %d: re-Encode: %v", i, err)
		}
		if !bytes.Equal(data, again) {
			t.Fatalf("payload %d: wire bytes changed across decode/encode", i)
		}
		if err := got.Verify(); err != nil {
			t.Fatalf("payload %d: decoded node failed Verify: %v", i, err)
		}
	}
}

func TestDecodeRejectsNonCanonical(t *testing.T) {
	signer := mustSigner(t, 0xD2)
	n := signedNode(t, signer, &Raw{Data: []byte("v")}, 0)
	data, err := n.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Insert benign whitespace; JSON-equal but not byte-equal.
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		t.Fatalf("Indent: %v", err)
	}
	if _, err := Decode(buf.Bytes()); err == nil {
		t.Fatal("indented envelope accepted")
	} else if got := RuleID(err); got != "MESH-DAG-113" {
		t.Fatalf("rule id = %q, want MESH-DAG-113", got)
	}
}

func TestDecodeRejectsUnknownField(t *testing.T) {
	signer := mustSigner(t, 0xD3)
	n := signedNode(t, signer, &Raw{Data: []byte("v")}, 0)
	data, err := n.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	patched := bytes.Replace(data, []byte(`"identity"`), []byte(`"extra":1,"identity"`), 1)
	if _, err := Decode(patched); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	signer := mustSigner(t, 0xD4)
	n := signedNode(t, signer, &Raw{Data: []byte("v")}, 0)
	data, err := n.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(append(data, []byte("{}")...)); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestDecodeRejectsMissingVariant(t *testing.T) {
	raw := `{"identity":"did:icn:ed25519:x","parents":[],"payload":{"type":"vote"},"scope":"s","sequence":0,"timestamp":0}`
	_, err := Decode([]byte(raw))
	if err == nil {
		t.Fatal("type tag without variant accepted")
	}
	if got := RuleID(err); got != "MESH-DAG-104" {
		t.Fatalf("rule id = %q, want MESH-DAG-104", got)
	}
}

func TestDecodeRejectsUnknownTypeTag(t *testing.T) {
	raw := `{"identity":"did:icn:ed25519:x","parents":[],"payload":{"type":"surprise"},"scope":"s","sequence":0,"timestamp":0}`
	if _, err := Decode([]byte(raw)); err == nil {
		t.Fatal("unknown payload type accepted")
	}
}

func TestEncodeKeysSorted(t *testing.T) {
	signer := mustSigner(t, 0xD5)
	n := signedNode(t, signer, &Raw{Data: []byte("v")}, 0)
	data, err := n.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	s := string(data)
	order := []string{`"identity"`, `"parents"`, `"payload"`, `"scope"`, `"sequence"`, `"signature"`, `"timestamp"`}
	last := -1
	for _, key := range order {
		idx := strings.Index(s, key)
		if idx < 0 {
			t.Fatalf("key %s missing from envelope", key)
		}
		if idx < last {
			t.Fatalf("key %s out of order", key)
		}
		last = idx
	}
}

func TestJSONDocMustBeCanonical(t *testing.T) {
	signer := mustSigner(t, 0xD6)

	doc, err := NewJSONDoc([]byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("NewJSONDoc: %v", err)
	}
	if string(doc.Document) != `{"a":1,"b":2}` {
		t.Fatalf("NewJSONDoc did not canonicalize: %s", doc.Document)
	}
	n := signedNode(t, signer, doc, 0)
	if _, err := n.Encode(); err != nil {
		t.Fatalf("Encode canonical doc: %v", err)
	}

	// Hand-built JSONDoc with unsorted keys must be refused at encode time.
	bad := &Node{
		Payload: &JSONDoc{Document: json.RawMessage(`{"b":2,"a":1}`)},
		Author:  signer.DID(),
		Scope:   "solar.coop",
	}
	if _, err := bad.Encode(); err == nil {
		t.Fatal("non-canonical JSONDoc encoded")
	} else if got := RuleID(err); got != "MESH-DAG-101" {
		t.Fatalf("rule id = %q, want MESH-DAG-101", got)
	}
}

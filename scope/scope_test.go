package scope

import (
	"bytes"
	"errors"
	"testing"

	"icn.coop/mesh/keys"
)

func testDID(t *testing.T, seedByte byte) string {
	t.Helper()
	seed := bytes.Repeat([]byte{seedByte}, 32)
	signer, err := keys.NewEd25519SignerFromSeed(seed)
	if err != nil {
		t.Fatalf("NewEd25519SignerFromSeed: %v", err)
	}
	return signer.DID()
}

func testRegistry(t *testing.T) (*Registry, string, string) {
	t.Helper()
	alice := testDID(t, 1)
	bob := testDID(t, 2)

	r := NewRegistry()
	if err := r.Register(Scope{Type: Federation, ID: "icn.fed", Authorized: []string{alice}}); err != nil {
		t.Fatalf("register federation: %v", err)
	}
	if err := r.Register(Scope{Type: Cooperative, ID: "solar.coop", Parent: "icn.fed", Authorized: []string{alice, bob}}); err != nil {
		t.Fatalf("register cooperative: %v", err)
	}
	if err := r.Register(Scope{Type: Community, ID: "makers.community", Parent: "solar.coop", Authorized: []string{bob}}); err != nil {
		t.Fatalf("register community: %v", err)
	}
	return r, alice, bob
}

func TestRegisterTree(t *testing.T) {
	r, _, _ := testRegistry(t)

	got := r.List()
	want := []string{"icn.fed", "makers.community", "solar.coop"}
	if len(got) != len(want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List = %v, want %v", got, want)
		}
	}
	if !r.Has("solar.coop") || r.Has("ghost.coop") {
		t.Fatalf("Has gave wrong answers")
	}
}

func TestRegisterValidation(t *testing.T) {
	alice := testDID(t, 1)
	r := NewRegistry()

	cases := []struct {
		name string
		s    Scope
		want error
	}{
		{"missing id", Scope{Type: Federation}, ErrInvalidScope},
		{"federation with parent", Scope{Type: Federation, ID: "f", Parent: "up"}, ErrInvalidScope},
		{"coop without parent", Scope{Type: Cooperative, ID: "c"}, ErrInvalidScope},
		{"unknown type", Scope{Type: "club", ID: "x"}, ErrInvalidScope},
		{"bad did", Scope{Type: Federation, ID: "f", Authorized: []string{"not-a-did"}}, ErrInvalidScope},
		{"orphan parent", Scope{Type: Cooperative, ID: "c", Parent: "nowhere", Authorized: []string{alice}}, ErrParentMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := r.Register(tc.s); !errors.Is(err, tc.want) {
				t.Fatalf("Register: got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRegisterIdempotentAndShapeLocked(t *testing.T) {
	r, alice, _ := testRegistry(t)

	// Identical definition again is a no-op.
	if err := r.Register(Scope{Type: Cooperative, ID: "solar.coop", Parent: "icn.fed"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	// Re-registering with a different type or parent is rejected.
	err := r.Register(Scope{Type: Community, ID: "solar.coop", Parent: "icn.fed", Authorized: []string{alice}})
	if !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("shape change: got %v, want ErrInvalidScope", err)
	}

	// Membership did not change through re-registration.
	s, err := r.Get("solar.coop")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(s.Authorized) != 2 {
		t.Fatalf("Authorized = %v, want two members", s.Authorized)
	}
}

func TestAuthorize(t *testing.T) {
	r, alice, bob := testRegistry(t)

	if err := r.Authorize("solar.coop", alice); err != nil {
		t.Fatalf("alice should write into solar.coop: %v", err)
	}
	if err := r.Authorize("makers.community", alice); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("alice in makers.community: got %v, want ErrUnauthorized", err)
	}
	if err := r.Authorize("icn.fed", bob); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("bob in icn.fed: got %v, want ErrUnauthorized", err)
	}
	if err := r.Authorize("ghost.coop", alice); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown scope: got %v, want ErrNotFound", err)
	}
}

func TestUpdateMembers(t *testing.T) {
	r, alice, bob := testRegistry(t)

	v0, err := r.Version("solar.coop")
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v0 != 1 {
		t.Fatalf("initial version = %d, want 1", v0)
	}

	v1, err := r.UpdateMembers("solar.coop", []string{bob})
	if err != nil {
		t.Fatalf("UpdateMembers: %v", err)
	}
	if v1 != v0+1 {
		t.Fatalf("version after update = %d, want %d", v1, v0+1)
	}

	if err := r.Authorize("solar.coop", alice); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("alice should have been removed: %v", err)
	}
	if err := r.Authorize("solar.coop", bob); err != nil {
		t.Fatalf("bob should remain: %v", err)
	}

	if _, err := r.UpdateMembers("solar.coop", []string{"junk"}); !errors.Is(err, ErrInvalidScope) {
		t.Fatalf("bad member DID: got %v, want ErrInvalidScope", err)
	}
	if _, err := r.UpdateMembers("ghost.coop", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown scope: got %v, want ErrNotFound", err)
	}
}

func TestPathToRoot(t *testing.T) {
	r, _, _ := testRegistry(t)

	path, err := r.PathToRoot("makers.community")
	if err != nil {
		t.Fatalf("PathToRoot: %v", err)
	}
	want := []string{"makers.community", "solar.coop", "icn.fed"}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path = %v, want %v", path, want)
		}
	}

	root, err := r.PathToRoot("icn.fed")
	if err != nil || len(root) != 1 || root[0] != "icn.fed" {
		t.Fatalf("root path = %v (%v), want [icn.fed]", root, err)
	}

	if _, err := r.PathToRoot("ghost.coop"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown scope: got %v, want ErrNotFound", err)
	}

	parent, err := r.Parent("solar.coop")
	if err != nil || parent != "icn.fed" {
		t.Fatalf("Parent = %q (%v), want icn.fed", parent, err)
	}
}

package keys

import (
	"bytes"
	"crypto/ed25519"
	"os"
	"testing"
)

func testSeed(b byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestKeyStoreInitAndSigner(t *testing.T) {
	ks, err := OpenKeyStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenKeyStore: %v", err)
	}

	did, path, err := ks.InitializeRootKey("alice", testSeed(0x01), false)
	if err != nil {
		t.Fatalf("InitializeRootKey: %v", err)
	}
	if did == "" || path == "" {
		t.Fatal("empty did or path")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat key file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("key file mode = %o, want 600", perm)
	}

	signer, err := ks.Signer("alice", "")
	if err != nil {
		t.Fatalf("Signer: %v", err)
	}
	if signer.DID() != did {
		t.Fatalf("loaded DID %s != initialized DID %s", signer.DID(), did)
	}
}

func TestKeyStoreRefusesOverwrite(t *testing.T) {
	ks, _ := OpenKeyStore(t.TempDir())
	if _, _, err := ks.InitializeRootKey("alice", testSeed(0x01), false); err != nil {
		t.Fatalf("first init: %v", err)
	}
	if _, _, err := ks.InitializeRootKey("alice", testSeed(0x02), false); err == nil {
		t.Fatal("second init without force: want error")
	}
	if _, _, err := ks.InitializeRootKey("alice", testSeed(0x02), true); err != nil {
		t.Fatalf("overwrite with force: %v", err)
	}
}

func TestDeriveRoleKeyDeterministic(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	ksA, _ := OpenKeyStore(dirA)
	ksB, _ := OpenKeyStore(dirB)

	for _, ks := range []*KeyStore{ksA, ksB} {
		if _, _, err := ks.InitializeRootKey("coop", testSeed(0x42), false); err != nil {
			t.Fatalf("InitializeRootKey: %v", err)
		}
	}
	didA, _, err := ksA.DeriveRoleKey("coop", "scheduler", false)
	if err != nil {
		t.Fatalf("DeriveRoleKey: %v", err)
	}
	didB, _, err := ksB.DeriveRoleKey("coop", "scheduler", false)
	if err != nil {
		t.Fatalf("DeriveRoleKey: %v", err)
	}
	if didA != didB {
		t.Fatalf("same root seed and role produced different DIDs: %s != %s", didA, didB)
	}

	didOther, _, err := ksA.DeriveRoleKey("coop", "worker", false)
	if err != nil {
		t.Fatalf("DeriveRoleKey(worker): %v", err)
	}
	if didOther == didA {
		t.Fatal("different roles produced the same DID")
	}
}

func TestDeriveRoleSeedDomainSeparated(t *testing.T) {
	root := testSeed(0x7E)
	a, err := DeriveRoleSeed(root, "scheduler")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	b, err := DeriveRoleSeed(root, "worker")
	if err != nil {
		t.Fatalf("DeriveRoleSeed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("role seeds not separated by role name")
	}
	if bytes.Equal(a, root) {
		t.Fatal("derived seed equals root seed")
	}
}

func TestListKeys(t *testing.T) {
	ks, _ := OpenKeyStore(t.TempDir())
	if _, _, err := ks.InitializeRootKey("bob", testSeed(0x05), false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, _, err := ks.DeriveRoleKey("bob", "worker", false); err != nil {
		t.Fatalf("derive: %v", err)
	}
	if _, _, err := ks.InitializeRootKey("alice", testSeed(0x06), false); err != nil {
		t.Fatalf("init: %v", err)
	}

	entries, err := ks.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Identifier != "alice" || entries[1].Identifier != "bob" {
		t.Fatalf("entries not sorted: %+v", entries)
	}
	if len(entries[1].Roles) != 1 || entries[1].Roles[0] != "worker" {
		t.Fatalf("bob roles = %v, want [worker]", entries[1].Roles)
	}
}

func TestParseSeedHex(t *testing.T) {
	seed := testSeed(0x0F)
	hexStr := "0x" + "0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f"
	got, err := ParseSeedHex(hexStr)
	if err != nil {
		t.Fatalf("ParseSeedHex: %v", err)
	}
	if !bytes.Equal(got, seed) {
		t.Fatal("seed mismatch")
	}
	if _, err := ParseSeedHex("abcd"); err == nil {
		t.Fatal("short seed: want error")
	}
	if _, err := ParseSeedHex("zz"); err == nil {
		t.Fatal("non-hex seed: want error")
	}
}

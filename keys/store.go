package keys

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// KeyStore is a simple local-first seed store.
//
// Seeds are hex-encoded files under <dir>/<identifier>/root.key and
// <dir>/<identifier>/roles/<role>.key, written 0600. Ed25519 only; the
// Dilithium3 signer is expected to be backed by external key management.
type KeyStore struct {
	Directory string
}

// KeyEntry lists one stored identity and its derived role keys.
type KeyEntry struct {
	Identifier string
	Roles      []string
}

// DefaultDirectory returns ~/.icn-mesh/keys.
func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".icn-mesh", "keys"), nil
}

// OpenKeyStore opens (or designates) a keystore directory. Empty means the
// default directory.
func OpenKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootKeyPath(identifier string) string {
	return filepath.Join(ks.Directory, identifier, "root.key")
}

func (ks *KeyStore) roleKeyPath(identifier, role string) string {
	return filepath.Join(ks.Directory, identifier, "roles", role+".key")
}

// ParseSeedHex decodes a hex seed string, with optional 0x prefix.
func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

func (ks *KeyStore) saveSeed(filePath string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("keys: expected seed length of %d bytes", ed25519.SeedSize)
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func (ks *KeyStore) loadSeed(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return ParseSeedHex(strings.TrimSpace(string(data)))
}

// InitializeRootKey stores seed as the root key for identifier and returns
// the derived DID.
func (ks *KeyStore) InitializeRootKey(identifier string, seed []byte, overwrite bool) (did string, filePath string, err error) {
	if err := CheckKeyName(identifier); err != nil {
		return "", "", err
	}
	filePath = ks.rootKeyPath(identifier)
	if err := ks.saveSeed(filePath, seed, overwrite); err != nil {
		return "", "", err
	}
	signer, err := NewEd25519SignerFromSeed(seed)
	if err != nil {
		return "", "", err
	}
	return signer.DID(), filePath, nil
}

// DeriveRoleKey derives and stores a role key under an existing root
// identity, returning the new DID.
func (ks *KeyStore) DeriveRoleKey(from, role string, overwrite bool) (did string, filePath string, err error) {
	if err := CheckKeyName(from); err != nil {
		return "", "", err
	}
	rootSeed, err := ks.loadSeed(ks.rootKeyPath(from))
	if err != nil {
		return "", "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return "", "", err
	}
	filePath = ks.roleKeyPath(from, role)
	if err := ks.saveSeed(filePath, roleSeed, overwrite); err != nil {
		return "", "", err
	}
	signer, err := NewEd25519SignerFromSeed(roleSeed)
	if err != nil {
		return "", "", err
	}
	return signer.DID(), filePath, nil
}

// Signer loads the signer for identifier (root key when role is empty).
func (ks *KeyStore) Signer(identifier, role string) (*Ed25519Signer, error) {
	if err := CheckKeyName(identifier); err != nil {
		return nil, err
	}
	var seed []byte
	var err error
	if role == "" {
		seed, err = ks.loadSeed(ks.rootKeyPath(identifier))
	} else {
		if rerr := CheckRoleName(role); rerr != nil {
			return nil, rerr
		}
		seed, err = ks.loadSeed(ks.roleKeyPath(identifier, role))
	}
	if err != nil {
		return nil, err
	}
	return NewEd25519SignerFromSeed(seed)
}

// LoadSeed resolves a seed from an explicit hex string, a file, or a stored
// identity, in that precedence order.
func (ks *KeyStore) LoadSeed(seedHex, signerName, signerRole, keyFile string) ([]byte, error) {
	if seedHex != "" {
		return ParseSeedHex(seedHex)
	}
	if keyFile != "" {
		return ks.loadSeed(keyFile)
	}
	if signerName != "" {
		if err := CheckKeyName(signerName); err != nil {
			return nil, err
		}
		if signerRole == "" {
			return ks.loadSeed(ks.rootKeyPath(signerName))
		}
		if err := CheckRoleName(signerRole); err != nil {
			return nil, err
		}
		return ks.loadSeed(ks.roleKeyPath(signerName, signerRole))
	}
	return nil, errors.New("keys: no signer provided")
}

// ListKeys enumerates stored identities and their role keys, sorted.
func (ks *KeyStore) ListKeys() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var identifiers []string
	for _, entry := range entries {
		if entry.IsDir() {
			identifiers = append(identifiers, entry.Name())
		}
	}
	sort.Strings(identifiers)

	var result []KeyEntry
	for _, identifier := range identifiers {
		rolesDir := filepath.Join(ks.Directory, identifier, "roles")
		roleEntries, rerr := os.ReadDir(rolesDir)
		var roles []string
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if roleEntry.IsDir() {
					continue
				}
				if strings.HasSuffix(roleEntry.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(roleEntry.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		result = append(result, KeyEntry{Identifier: identifier, Roles: roles})
	}
	return result, nil
}

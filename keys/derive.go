package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
)

// DeriveRoleSeed deterministically derives a role-specific Ed25519 seed from
// a root seed, so one cooperative operator key can mint distinct identities
// for scheduler, worker and governance roles.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRoleName(role); err != nil {
		return nil, err
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("icn-mesh-kms-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:"))
	_, _ = h.Write([]byte(role))
	sum := h.Sum(nil)
	if len(sum) < ed25519.SeedSize {
		return nil, errors.New("keys: kdf output too short")
	}
	out := make([]byte, ed25519.SeedSize)
	copy(out, sum[:ed25519.SeedSize])
	return out, nil
}

// CheckRoleName validates a role label for use in derivation and file paths.
func CheckRoleName(role string) error {
	if role == "" {
		return errors.New("keys: role cannot be empty")
	}
	for _, char := range role {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in role", char)
	}
	return nil
}

// CheckKeyName validates an identifier for use as a keystore directory name.
func CheckKeyName(identifier string) error {
	if identifier == "" {
		return errors.New("keys: identifier cannot be empty")
	}
	for _, char := range identifier {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in identifier", char)
	}
	return nil
}

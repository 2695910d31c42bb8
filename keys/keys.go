// Package keys implements DID-based key handling for the mesh.
//
// Identities are self-certifying: a DID embeds the signature algorithm and
// the raw public key, so any holder of a signed node can verify it without
// a directory lookup.
//
// Supported DID encodings:
//   - did:icn:ed25519:<base64url pubkey>
//   - did:icn:dilithium3:<base64url pubkey>
package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

const didPrefix = "did:icn:"

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

var (
	ErrInvalidDID     = errors.New("keys: invalid DID")
	ErrUnsupportedAlg = errors.New("keys: unsupported signature algorithm")
	ErrBadSignature   = errors.New("keys: signature invalid")
)

// DIDFromPublicKey encodes a public key as a did:icn identifier.
func DIDFromPublicKey(alg string, pub []byte) (string, error) {
	switch alg {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return "", fmt.Errorf("keys: invalid ed25519 public key length %d", len(pub))
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return "", fmt.Errorf("keys: invalid dilithium3 public key: %w", err)
		}
	default:
		return "", ErrUnsupportedAlg
	}
	return didPrefix + alg + ":" + base64.RawURLEncoding.EncodeToString(pub), nil
}

// PublicKeyFromDID decodes the algorithm and raw public key bytes from a DID.
func PublicKeyFromDID(did string) (alg string, pub []byte, err error) {
	rest, ok := strings.CutPrefix(did, didPrefix)
	if !ok {
		return "", nil, ErrInvalidDID
	}
	alg, enc, ok := strings.Cut(rest, ":")
	if !ok {
		return "", nil, ErrInvalidDID
	}
	pub, err = base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return "", nil, ErrInvalidDID
	}
	switch alg {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return "", nil, ErrInvalidDID
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return "", nil, ErrInvalidDID
		}
	default:
		return "", nil, ErrUnsupportedAlg
	}
	return alg, pub, nil
}

// CheckDID reports whether did is a well-formed did:icn identifier.
func CheckDID(did string) error {
	_, _, err := PublicKeyFromDID(did)
	return err
}

package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Signer is the signing capability the core consumes. Implementations sign
// the digest of a message; private material never crosses the interface.
type Signer interface {
	DID() string
	Sign(message []byte) ([]byte, error)
}

// DigestFor hashes message with the named algorithm.
// Supported: sha256, sha512, sha3-256.
func DigestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("keys: unsupported hash algorithm %q", hashAlg)
	}
}

// Ed25519Signer signs sha256 digests with an Ed25519 private key.
type Ed25519Signer struct {
	did  string
	priv ed25519.PrivateKey
}

// NewEd25519Signer wraps an Ed25519 private key.
func NewEd25519Signer(priv ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keys: invalid ed25519 private key length %d", len(priv))
	}
	did, err := DIDFromPublicKey(AlgEd25519, priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{did: did, priv: priv}, nil
}

// NewEd25519SignerFromSeed derives a signer from a 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: seed must be %d bytes", ed25519.SeedSize)
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed))
}

// GenerateEd25519Signer creates a fresh random signer.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewEd25519Signer(priv)
}

func (s *Ed25519Signer) DID() string { return s.did }

func (s *Ed25519Signer) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return ed25519.Sign(s.priv, digest[:]), nil
}

// PublicKey returns the signer's public key bytes.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Dilithium3Signer signs sha256 digests with a Dilithium3 private key.
type Dilithium3Signer struct {
	did  string
	priv *mode3.PrivateKey
}

// NewDilithium3Signer wraps a Dilithium3 keypair.
func NewDilithium3Signer(pub *mode3.PublicKey, priv *mode3.PrivateKey) (*Dilithium3Signer, error) {
	if priv == nil || pub == nil {
		return nil, fmt.Errorf("keys: missing dilithium3 key material")
	}
	raw, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	did, err := DIDFromPublicKey(AlgDilithium3, raw)
	if err != nil {
		return nil, err
	}
	return &Dilithium3Signer{did: did, priv: priv}, nil
}

// GenerateDilithium3Signer creates a fresh signer from rand.
func GenerateDilithium3Signer(rand io.Reader) (*Dilithium3Signer, error) {
	pub, priv, err := mode3.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return NewDilithium3Signer(pub, priv)
}

func (s *Dilithium3Signer) DID() string { return s.did }

func (s *Dilithium3Signer) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.priv, digest[:], sig)
	return sig, nil
}

// Verify checks sig over sha256(message) against the public key embedded in
// the author DID.
func Verify(did string, message, sig []byte) error {
	alg, pub, err := PublicKeyFromDID(did)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	switch alg {
	case AlgEd25519:
		if len(sig) != ed25519.SignatureSize {
			return ErrBadSignature
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
			return ErrBadSignature
		}
		return nil
	case AlgDilithium3:
		if len(sig) != mode3.SignatureSize {
			return ErrBadSignature
		}
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return ErrInvalidDID
		}
		if !mode3.Verify(&pk, digest[:], sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return ErrUnsupportedAlg
	}
}

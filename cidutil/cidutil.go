// Package cidutil provides the repository's CID conventions.
//
// All graph identifiers are CIDv1 strings using the "raw" multicodec and a
// sha2-256 multihash. Any other codec or hash function arriving on the wire
// is rejected at parse time.
package cidutil

import (
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var (
	ErrInvalidCID     = errors.New("cidutil: invalid cid")
	ErrUnsupportedCID = errors.New("cidutil: unsupported cid codec or hash")
	ErrUndefinedCID   = errors.New("cidutil: undefined cid")

	errUnreachableHash = errors.New("cidutil: multihash sum failed")
)

// Sum returns the CIDv1 (raw + sha2-256) for data.
func Sum(data []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid parameters; SHA2_256 with
		// default length cannot fail.
		return cid.Undef, errUnreachableHash
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// SumString returns the CIDv1 (raw + sha2-256) string for data, or "" on
// the unreachable hash failure.
func SumString(data []byte) string {
	id, err := Sum(data)
	if err != nil {
		return ""
	}
	return id.String()
}

// Parse decodes a CID string from untrusted input and enforces the
// repository convention (CIDv1, raw codec, sha2-256 multihash).
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, ErrInvalidCID
	}
	if err := Check(id); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

// Check validates that id follows the repository convention.
func Check(id cid.Cid) error {
	if !id.Defined() {
		return ErrUndefinedCID
	}
	if id.Version() != 1 || id.Type() != cid.Raw {
		return ErrUnsupportedCID
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil || dec.Code != multihash.SHA2_256 {
		return ErrUnsupportedCID
	}
	return nil
}

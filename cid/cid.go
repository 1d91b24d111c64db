// Package cid encodes and decodes the commit-hash references used
// throughout the collaborative-objects core: object identifiers and the
// hash references stored in change-commit trailers.
//
// Every such reference is a multibase-multihash string: a CIDv1, raw
// codec, SHA2-256 multihash, multibase-encoded as base58btc (multibase
// prefix "z"). This mirrors the substrate's own commit-hash algorithm, so a
// reference decodes only if its multibase prefix, hash function code, and
// digest length all agree with it.
package cid

import (
	"crypto/sha256"
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Hash is the raw 32-byte digest of a commit.
type Hash [32]byte

// Sum computes the commit hash of data.
func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// Zero reports whether h is the zero hash.
func (h Hash) Zero() bool {
	return h == Hash{}
}

// Bytes returns the raw digest bytes.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the multibase-z encoding of h, i.e. the canonical
// object-identifier / hash-reference string form.
func (h Hash) String() string {
	s, err := Encode(h)
	if err != nil {
		return fmt.Sprintf("cid:invalid:%x", h[:])
	}
	return s
}

// ErrBadIdentifier is returned when a string fails to decode as a
// commit-hash reference: bad multibase prefix, wrong hash function, or
// wrong digest length.
var ErrBadIdentifier = fmt.Errorf("cid: not a valid commit-hash identifier")

// Encode renders h as a multibase-z, CIDv1/raw/sha2-256 identifier
// string, the form used for object ids and X-Rad-* trailer values.
func Encode(h Hash) (string, error) {
	mh, err := multihash.Encode(h.Bytes(), multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("cid: encode multihash: %w", err)
	}
	c := gocid.NewCidV1(gocid.Raw, mh)
	s, err := c.StringOfBase(multibase.Base58BTC)
	if err != nil {
		return "", fmt.Errorf("cid: encode multibase: %w", err)
	}
	return s, nil
}

// Decode parses a multibase-z commit-hash identifier string, rejecting
// anything whose multibase prefix, hash function, or digest length
// disagrees with the substrate's own commit-hash algorithm (SHA2-256,
// 32 bytes).
func Decode(s string) (Hash, error) {
	enc, data, err := multibase.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrBadIdentifier, err)
	}
	if enc != multibase.Base58BTC {
		return Hash{}, fmt.Errorf("%w: unexpected multibase encoding %d", ErrBadIdentifier, enc)
	}
	c, err := gocid.Cast(data)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrBadIdentifier, err)
	}
	if c.Type() != gocid.Raw {
		return Hash{}, fmt.Errorf("%w: unexpected codec %d", ErrBadIdentifier, c.Type())
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrBadIdentifier, err)
	}
	if decoded.Code != multihash.SHA2_256 {
		return Hash{}, fmt.Errorf("%w: unexpected hash function %d", ErrBadIdentifier, decoded.Code)
	}
	if len(decoded.Digest) != 32 {
		return Hash{}, fmt.Errorf("%w: unexpected digest length %d", ErrBadIdentifier, len(decoded.Digest))
	}
	var h Hash
	copy(h[:], decoded.Digest)
	return h, nil
}

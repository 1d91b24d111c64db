// Package identity is the external collaborator the core asks
// "is commit C signed by a valid delegate of identity I?" (spec §1).
// Because identity commits are themselves content-addressed, a single
// commit hash already pins one exact revision of an identity document —
// there is no separate revision counter to carry alongside it. The
// identity/delegate system itself — how an identity document is built,
// revised, and its delegate set derived — lives outside this module;
// identity only declares the contract and a reference Ed25519/DID
// implementation for tests and the cobd example.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/multiformats/go-multibase"

	"github.com/22388o/radicle-link/cid"
)

// Signature is a detached Ed25519 signature.
type Signature []byte

// EncodeSignature renders sig as a multibase-z string, the form stored
// in the X-Rad-Signature trailer. Unlike the X-Rad-Author/-Schema/
// -Authorizing-Identity trailers, this is multibase over the raw
// signature bytes directly, not a multihash-wrapped commit-hash
// reference — a signature is not a hash of anything.
func EncodeSignature(sig Signature) string {
	s, err := multibase.Encode(multibase.Base58BTC, sig)
	if err != nil {
		return fmt.Sprintf("sig:invalid:%x", []byte(sig))
	}
	return s
}

// DecodeSignature reverses EncodeSignature.
func DecodeSignature(s string) (Signature, error) {
	enc, data, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("identity: decode signature: %w", err)
	}
	if enc != multibase.Base58BTC {
		return nil, fmt.Errorf("identity: decode signature: unexpected multibase encoding %d", enc)
	}
	return Signature(data), nil
}

// Signer signs commit digests on behalf of one delegate key.
type Signer interface {
	// Sign returns a detached signature over digest.
	Sign(ctx context.Context, digest []byte) (Signature, error)
	// PublicKey returns the signer's Ed25519 public key.
	PublicKey() ed25519.PublicKey
}

// Oracle answers delegate-authorization questions about an identity
// document reachable in the substrate by commit hash (spec §4.D, §4.G:
// "signer is a delegate of the authorizing identity at the referenced
// revision" — identityCommit names that revision directly, since
// identity commits are content-addressed like everything else here).
//
// Both methods are part of the advertised contract: IsDelegate answers
// "is this known key a delegate", used when the caller already knows
// who signed (change.Build, signing its own commit). VerifyDelegateSignature
// answers "which delegate, if any, produced this signature", used when
// verifying an untrusted commit whose signer is not known in advance
// (change.Verify, schema.Load) — it is the Oracle's job to search its own
// delegate set, since only the Oracle backend knows how that set is kept.
type Oracle interface {
	// IsDelegate reports whether pub is authorized to sign on behalf of
	// the identity document at identityCommit.
	IsDelegate(ctx context.Context, identityCommit cid.Hash, pub ed25519.PublicKey) (bool, error)
	// VerifyDelegateSignature checks sig against digest for every key
	// authorized at identityCommit and returns the one that both
	// verifies the signature and is a delegate. Returns ErrNotADelegate
	// if none match.
	VerifyDelegateSignature(ctx context.Context, identityCommit cid.Hash, digest []byte, sig Signature) (ed25519.PublicKey, error)
}

// ErrSignatureInvalid is returned when a signature fails to verify
// against the claimed public key.
var ErrSignatureInvalid = fmt.Errorf("identity: signature invalid")

// ErrNotADelegate is returned when no authorized delegate key of the
// referenced identity verifies a signature — whether it was made by a
// non-delegate key or does not verify under any key at all.
var ErrNotADelegate = fmt.Errorf("identity: signer is not a delegate of the authorizing identity")

// Verify checks sig against digest and pub, returning ErrSignatureInvalid
// on failure.
func Verify(pub ed25519.PublicKey, digest []byte, sig Signature) error {
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, digest, sig) {
		return ErrSignatureInvalid
	}
	return nil
}

// KeySigner is a Signer backed by an in-process Ed25519 private key —
// the reference implementation used by tests and the cobd example,
// grounded on the teacher's identity.Identity keypair handling
// (_examples/systemshift-memex-fs/internal/dag/identity.go).
type KeySigner struct {
	priv ed25519.PrivateKey
}

// NewKeySigner generates a fresh Ed25519 keypair.
func NewKeySigner() (*KeySigner, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &KeySigner{priv: priv}, nil
}

// NewKeySignerFromSeed builds a KeySigner from a 32-byte Ed25519 seed,
// for deterministic tests.
func NewKeySignerFromSeed(seed []byte) (*KeySigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeySigner{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (k *KeySigner) Sign(_ context.Context, digest []byte) (Signature, error) {
	return ed25519.Sign(k.priv, digest), nil
}

func (k *KeySigner) PublicKey() ed25519.PublicKey {
	return k.priv.Public().(ed25519.PublicKey)
}

// StaticOracle is a reference Oracle backed by an in-memory map of
// identity commit -> authorized delegate keys. Real deployments resolve
// this against the identity/delegate system named in spec §1; this is
// the fake used to exercise change and merge logic end to end.
type StaticOracle struct {
	delegates map[cid.Hash][]ed25519.PublicKey
}

// NewStaticOracle creates an empty StaticOracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{delegates: make(map[cid.Hash][]ed25519.PublicKey)}
}

// Authorize records pub as a delegate of the identity document at
// identityCommit.
func (o *StaticOracle) Authorize(identityCommit cid.Hash, pub ed25519.PublicKey) {
	o.delegates[identityCommit] = append(o.delegates[identityCommit], pub)
}

func (o *StaticOracle) IsDelegate(_ context.Context, identityCommit cid.Hash, pub ed25519.PublicKey) (bool, error) {
	for _, k := range o.delegates[identityCommit] {
		if k.Equal(pub) {
			return true, nil
		}
	}
	return false, nil
}

// VerifyDelegateSignature searches the delegate keys authorized at
// identityCommit for one that verifies sig against digest.
func (o *StaticOracle) VerifyDelegateSignature(_ context.Context, identityCommit cid.Hash, digest []byte, sig Signature) (ed25519.PublicKey, error) {
	for _, pub := range o.delegates[identityCommit] {
		if Verify(pub, digest, sig) == nil {
			return pub, nil
		}
	}
	return nil, ErrNotADelegate
}

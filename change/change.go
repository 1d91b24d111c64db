// Package change implements building and verifying change commits
// (spec §4.D): the unit of mutation for a collaborative object.
package change

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/crdt"
	"github.com/22388o/radicle-link/identity"
	"github.com/22388o/radicle-link/manifest"
	"github.com/22388o/radicle-link/substrate"
)

// Reason names why a change commit was rejected.
type Reason int

const (
	TreeShape Reason = iota
	Manifest
	TrailerMissing
	TrailerNotParent
	SignatureInvalid
	NotADelegate
	DependencyMismatch
)

func (r Reason) String() string {
	switch r {
	case TreeShape:
		return "tree shape"
	case Manifest:
		return "manifest"
	case TrailerMissing:
		return "trailer missing"
	case TrailerNotParent:
		return "trailer does not reference a parent"
	case SignatureInvalid:
		return "signature invalid"
	case NotADelegate:
		return "signer not a delegate"
	case DependencyMismatch:
		return "CRDT dependency set disagrees with commit parents"
	default:
		return "unknown"
	}
}

// BadCommitError is returned by Verify (and by Build's own precondition
// checks) when a change commit is rejected.
type BadCommitError struct {
	Reason Reason
	Detail string
}

func (e BadCommitError) Error() string {
	return fmt.Sprintf("change: bad change commit (%s): %s", e.Reason, e.Detail)
}

func badCommit(reason Reason, format string, args ...any) error {
	return BadCommitError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// trailer keys, exported so dag and merge can recognize which parents
// are CRDT dependencies vs. identity/schema references (spec §4.F step 1).
const (
	TrailerSignature  = "X-Rad-Signature"
	TrailerAuthor     = "X-Rad-Author"
	TrailerSchema     = "X-Rad-Schema"
	TrailerAuthorizer = "X-Rad-Authorizing-Identity"
	// TrailerNonce is a supplemented trailer (not in spec §6's literal
	// four) preventing two structurally identical changes — same CRDT
	// parents, author, schema, authorizer, blob — from colliding on
	// commit hash. It is hex, not multibase: it names no commit.
	TrailerNonce = "X-Rad-Nonce"
)

// Verified is the result of a successful Verify: everything merge needs
// without re-parsing the commit.
type Verified struct {
	Hash        cid.Hash
	Manifest    manifest.Change
	Blob        crdt.Blob
	CRDTParents []cid.Hash
	Author      cid.Hash
	Schema      cid.Hash
	Authorizer  cid.Hash
}

// Build writes a change commit. typename is required when crdtParents is
// empty (the object's root change); otherwise it must match the CRDT
// parents' manifests and is checked against them.
func Build(
	ctx context.Context,
	store substrate.Store,
	engine crdt.Engine,
	typename string,
	blob crdt.Blob,
	crdtParents []cid.Hash,
	author cid.Hash,
	schemaCommit cid.Hash,
	authorizer cid.Hash,
	oracle identity.Oracle,
	signer identity.Signer,
) (cid.Hash, error) {
	if err := checkDependencies(engine, store, blob, crdtParents); err != nil {
		return cid.Hash{}, err
	}
	if err := checkTypenameAgreement(ctx, store, typename, crdtParents); err != nil {
		return cid.Hash{}, err
	}
	isDelegate, err := oracle.IsDelegate(ctx, authorizer, signer.PublicKey())
	if err != nil {
		return cid.Hash{}, fmt.Errorf("change: check delegate: %w", err)
	}
	if !isDelegate {
		return cid.Hash{}, badCommit(NotADelegate, "signer is not a delegate of %s", authorizer)
	}

	m := manifest.Change{Typename: typename, HistoryType: manifest.HistoryAutomerge}
	mbytes, err := m.Bytes()
	if err != nil {
		return cid.Hash{}, fmt.Errorf("change: encode manifest: %w", err)
	}
	tree := map[string][]byte{"change": blob, "manifest.toml": mbytes}

	parents := make([]cid.Hash, 0, len(crdtParents)+3)
	parents = append(parents, crdtParents...)
	parents = append(parents, author, schemaCommit, authorizer)

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return cid.Hash{}, fmt.Errorf("change: generate nonce: %w", err)
	}
	preTrailers := map[string]string{
		TrailerAuthor:     author.String(),
		TrailerSchema:     schemaCommit.String(),
		TrailerAuthorizer: authorizer.String(),
		TrailerNonce:      hex.EncodeToString(nonce),
	}
	digest := substrate.Digest(tree, parents, preTrailers)
	sig, err := signer.Sign(ctx, digest.Bytes())
	if err != nil {
		return cid.Hash{}, fmt.Errorf("change: sign: %w", err)
	}

	trailers := make(map[string]string, len(preTrailers)+1)
	for k, v := range preTrailers {
		trailers[k] = v
	}
	trailers[TrailerSignature] = identity.EncodeSignature(sig)

	return store.Put(ctx, tree, parents, trailers)
}

// checkDependencies implements spec §4.D precondition 1.
func checkDependencies(engine crdt.Engine, store substrate.Store, blob crdt.Blob, crdtParents []cid.Hash) error {
	deps, err := engine.Dependencies(blob)
	if err != nil {
		return fmt.Errorf("change: read blob dependencies: %w", err)
	}
	parentHashes := make(map[crdt.Hash]bool, len(crdtParents))
	for _, p := range crdtParents {
		pc, err := store.Get(context.Background(), p)
		if err != nil {
			return fmt.Errorf("change: read CRDT parent %s: %w", p, err)
		}
		pBlob, ok := pc.Tree["change"]
		if !ok {
			return badCommit(DependencyMismatch, "CRDT parent %s has no change blob", p)
		}
		h, err := engine.Hash(crdt.Blob(pBlob))
		if err != nil {
			return fmt.Errorf("change: hash CRDT parent %s blob: %w", p, err)
		}
		parentHashes[h] = true
	}
	if len(deps) != len(parentHashes) {
		return badCommit(DependencyMismatch, "blob declares %d dependencies, have %d CRDT parents", len(deps), len(parentHashes))
	}
	for _, d := range deps {
		if !parentHashes[d] {
			return badCommit(DependencyMismatch, "blob dependency %s matches no CRDT parent", d)
		}
	}
	return nil
}

// checkTypenameAgreement implements spec §4.D precondition 2.
func checkTypenameAgreement(ctx context.Context, store substrate.Store, typename string, crdtParents []cid.Hash) error {
	if !manifest.ValidTypename(typename) {
		return badCommit(Manifest, "invalid typename %q", typename)
	}
	for _, p := range crdtParents {
		pc, err := store.Get(ctx, p)
		if err != nil {
			return fmt.Errorf("change: read CRDT parent %s: %w", p, err)
		}
		pm, err := manifest.ParseChange(pc.Tree["manifest.toml"])
		if err != nil {
			return fmt.Errorf("change: parse CRDT parent %s manifest: %w", p, err)
		}
		if pm.Typename != typename {
			return badCommit(Manifest, "typename %q disagrees with CRDT parent %s typename %q", typename, p, pm.Typename)
		}
	}
	return nil
}

// Verify implements the full rejection list of spec §4.D's "Verifying a
// change commit".
func Verify(ctx context.Context, store substrate.Store, oracle identity.Oracle, engine crdt.Engine, h cid.Hash) (*Verified, error) {
	commit, err := store.Get(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("change: read commit %s: %w", h, err)
	}

	blob, ok := commit.Tree["change"]
	if !ok {
		return nil, badCommit(TreeShape, "missing change blob")
	}
	mbytes, ok := commit.Tree["manifest.toml"]
	if !ok {
		return nil, badCommit(TreeShape, "missing manifest.toml")
	}
	if len(commit.Tree) != 2 {
		return nil, badCommit(TreeShape, "unexpected tree entries")
	}

	m, err := manifest.ParseChange(mbytes)
	if err != nil {
		return nil, badCommit(Manifest, "%v", err)
	}

	author, err := requiredTrailer(commit, TrailerAuthor)
	if err != nil {
		return nil, err
	}
	schema, err := requiredTrailer(commit, TrailerSchema)
	if err != nil {
		return nil, err
	}
	authorizer, err := requiredTrailer(commit, TrailerAuthorizer)
	if err != nil {
		return nil, err
	}
	sigStr, ok := commit.Trailers[TrailerSignature]
	if !ok {
		return nil, badCommit(TrailerMissing, "%s missing", TrailerSignature)
	}
	sig, err := identity.DecodeSignature(sigStr)
	if err != nil {
		return nil, badCommit(SignatureInvalid, "%v", err)
	}

	for name, target := range map[string]cid.Hash{TrailerAuthor: author, TrailerSchema: schema, TrailerAuthorizer: authorizer} {
		if !isParent(target, commit.Parents) {
			return nil, badCommit(TrailerNotParent, "%s does not reference a parent", name)
		}
	}

	preTrailers := map[string]string{
		TrailerAuthor:     author.String(),
		TrailerSchema:     schema.String(),
		TrailerAuthorizer: authorizer.String(),
	}
	if nonce, ok := commit.Trailers[TrailerNonce]; ok {
		preTrailers[TrailerNonce] = nonce
	}
	digest := substrate.Digest(commit.Tree, commit.Parents, preTrailers)
	if _, err := oracle.VerifyDelegateSignature(ctx, authorizer, digest.Bytes(), sig); err != nil {
		if err == identity.ErrNotADelegate {
			return nil, badCommit(NotADelegate, "signer is not a delegate of %s", authorizer)
		}
		return nil, badCommit(SignatureInvalid, "%v", err)
	}

	crdtParents := crdtParentsOf(commit.Parents, author, schema, authorizer)
	if err := checkDependencies(engine, store, crdt.Blob(blob), crdtParents); err != nil {
		return nil, err
	}

	return &Verified{
		Hash:        h,
		Manifest:    m,
		Blob:        crdt.Blob(blob),
		CRDTParents: crdtParents,
		Author:      author,
		Schema:      schema,
		Authorizer:  authorizer,
	}, nil
}

func requiredTrailer(commit substrate.Commit, name string) (cid.Hash, error) {
	s, ok := commit.Trailers[name]
	if !ok {
		return cid.Hash{}, badCommit(TrailerMissing, "%s missing", name)
	}
	h, err := cid.Decode(s)
	if err != nil {
		return cid.Hash{}, badCommit(TrailerMissing, "%s: %v", name, err)
	}
	return h, nil
}

func isParent(h cid.Hash, parents []cid.Hash) bool {
	for _, p := range parents {
		if p == h {
			return true
		}
	}
	return false
}

// crdtParentsOf returns commit.Parents minus the author/schema/authorizer
// identity references (spec §4.F step 1's classification rule).
func crdtParentsOf(parents []cid.Hash, exclude ...cid.Hash) []cid.Hash {
	excluded := make(map[cid.Hash]bool, len(exclude))
	for _, e := range exclude {
		excluded[e] = true
	}
	out := make([]cid.Hash, 0, len(parents))
	for _, p := range parents {
		if !excluded[p] {
			out = append(out, p)
		}
	}
	return out
}

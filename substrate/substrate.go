// Package substrate declares the contract the collaborative-objects core
// asks of "the content-addressed object store itself" (spec §1): commits,
// trees, trailers, and refs. The store, its replication, and its signing
// primitives are explicitly out of scope for this module — substrate only
// names the interfaces D, F, G, and H consume, plus (in substrate/memstore)
// a reference implementation used by tests and the cobd example.
package substrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/22388o/radicle-link/cid"
)

// Commit is a node in the content-addressed commit graph: a tree of
// named blobs, an ordered list of parent commits, and a set of string
// trailers. Parent order matters — change commits order their parents
// CRDT-dependencies first, then author, schema, authorizing-identity
// (spec §4.D) — so Parents is a slice, not a set.
type Commit struct {
	Hash     cid.Hash
	Tree     map[string][]byte
	Parents  []cid.Hash
	Trailers map[string]string
}

// Digest computes the content digest of a commit body (tree + parents +
// trailers) before the commit is assigned its final hash. Callers sign
// this digest and fold the resulting X-Rad-Signature trailer in before
// calling Store.Put, so the final commit hash (which does cover the
// signature trailer) is the one everyone round-trips through
// cid.Encode/cid.Decode.
func Digest(tree map[string][]byte, parents []cid.Hash, trailers map[string]string) cid.Hash {
	var buf []byte

	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		buf = append(buf, []byte(name)...)
		buf = append(buf, 0)
		buf = append(buf, tree[name]...)
		buf = append(buf, 0)
	}

	for _, p := range parents {
		buf = append(buf, p.Bytes()...)
	}

	keys := make([]string, 0, len(trailers))
	for k := range trailers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, []byte(k)...)
		buf = append(buf, 0)
		buf = append(buf, []byte(trailers[k])...)
		buf = append(buf, 0)
	}

	return cid.Sum(buf)
}

// ErrNotFound is returned by Store.Get when the requested commit does
// not exist. (RefStore.Heads reports a missing ref as an empty head set.)
var ErrNotFound = fmt.Errorf("substrate: not found")

// Store is the content-addressed commit store.
type Store interface {
	// Put writes a commit with the given tree, parents, and trailers
	// (the final trailer set, signature already folded in) and returns
	// its hash.
	Put(ctx context.Context, tree map[string][]byte, parents []cid.Hash, trailers map[string]string) (cid.Hash, error)
	// Get retrieves a commit by hash.
	Get(ctx context.Context, h cid.Hash) (Commit, error)
	// Has reports whether a commit is present.
	Has(ctx context.Context, h cid.Hash) (bool, error)
}

// RefStore is the `cob/<typename>/<object-id>` reference layout (spec
// §3). A ref may point at more than one head commit at once — the core
// tolerates multiple heads per object (spec §3, §4.H).
type RefStore interface {
	// Heads returns the current head set for ref name (empty, not an
	// error, if the ref does not exist yet).
	Heads(ctx context.Context, name string) ([]cid.Hash, error)
	// SetHeads atomically replaces the head set for ref name.
	SetHeads(ctx context.Context, name string, heads []cid.Hash) error
	// List returns every ref name with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// RefName builds the `cob/<typename>/<object-id>` ref path (spec §3, §6).
func RefName(typename, objectID string) string {
	return "cob/" + typename + "/" + objectID
}

// Package object implements the collaborative-object store facade (spec
// §4.H): Create, Update, Retrieve, and Enumerate, wiring together
// substrate, identity, schema, crdt, dag, and merge behind the
// `cob/<typename>/<object-id>` reference layout (spec §3). Grounded on
// the teacher's Repository facade
// (_examples/systemshift-memex-fs/internal/dag/repo.go)'s
// CreateNode/UpdateNode/GetNode/ListNodes shape, re-targeted from
// free-form JSON nodes to schema-validated CRDT objects and from a
// single mutable ref to a possibly-multi-head ref set.
package object

import (
	"context"
	"fmt"

	"github.com/22388o/radicle-link/change"
	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/crdt"
	"github.com/22388o/radicle-link/dag"
	"github.com/22388o/radicle-link/identity"
	"github.com/22388o/radicle-link/internal/lockmap"
	"github.com/22388o/radicle-link/merge"
	"github.com/22388o/radicle-link/schema"
	"github.com/22388o/radicle-link/substrate"
)

// ErrObjectNotFound is returned by Retrieve and Update when the named
// ref has no heads.
var ErrObjectNotFound = fmt.Errorf("object: not found")

// ErrEmptyBlob is returned by Create when the initial change blob has
// no root to build against.
var ErrEmptyBlob = fmt.Errorf("object: initial change blob is empty")

// CollaborativeObject is the record returned by Retrieve (spec §4.H).
type CollaborativeObject struct {
	Typename string
	ID       string
	Schema   *schema.Schema
	Document any
	// History is the admitted-change blob sequence in the topological
	// order Merge used to build Document, suitable for crdt.Engine.Load.
	History   []crdt.Blob
	Heads     []cid.Hash
	Discarded []merge.DiscardRecord
}

// Store is the object store facade: a substrate.Store + substrate.RefStore
// + identity.Oracle + crdt.Engine, guarded by a keyed-lock table
// (design note §9) instead of one global mutex.
type Store struct {
	commits substrate.Store
	refs    substrate.RefStore
	oracle  identity.Oracle
	engine  crdt.Engine
	locks   *lockmap.Table
}

// NewStore assembles a Store from its dependencies.
func NewStore(commits substrate.Store, refs substrate.RefStore, oracle identity.Oracle, engine crdt.Engine) *Store {
	return &Store{commits: commits, refs: refs, oracle: oracle, engine: engine, locks: lockmap.New()}
}

// Create writes a schema commit (deduplicated by content address if one
// with identical bytes already exists), a root change commit, and the
// object's head reference (spec §4.H "Create object").
func (s *Store) Create(ctx context.Context, typename string, schemaRaw []byte, schemaVersion int, initialBlob crdt.Blob, author, authorizer cid.Hash, signer identity.Signer) (string, error) {
	if len(initialBlob) == 0 {
		return "", ErrEmptyBlob
	}

	schemaHash, err := schema.Build(ctx, s.commits, schemaRaw, schemaVersion, author, signer)
	if err != nil {
		return "", fmt.Errorf("object: create: %w", err)
	}

	rootHash, err := change.Build(ctx, s.commits, s.engine, typename, initialBlob, nil, author, schemaHash, authorizer, s.oracle, signer)
	if err != nil {
		return "", fmt.Errorf("object: create: %w", err)
	}

	id := rootHash.String()
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.refs.SetHeads(ctx, substrate.RefName(typename, id), []cid.Hash{rootHash}); err != nil {
		return "", fmt.Errorf("object: create: set ref: %w", err)
	}
	return id, nil
}

// Update infers the new change's CRDT parents from the object's current
// head set, writes a change commit against them, and replaces the head
// reference with the new commit (spec §4.H "Update object").
func (s *Store) Update(ctx context.Context, typename, id string, blob crdt.Blob, author, authorizer cid.Hash, signer identity.Signer) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	refName := substrate.RefName(typename, id)
	heads, err := s.refs.Heads(ctx, refName)
	if err != nil {
		return fmt.Errorf("object: update: %w", err)
	}
	if len(heads) == 0 {
		return ErrObjectNotFound
	}

	schemaHash, err := schemaOfHead(ctx, s.commits, heads[0])
	if err != nil {
		return fmt.Errorf("object: update: %w", err)
	}

	newHash, err := change.Build(ctx, s.commits, s.engine, typename, blob, heads, author, schemaHash, authorizer, s.oracle, signer)
	if err != nil {
		return fmt.Errorf("object: update: %w", err)
	}

	if err := s.refs.SetHeads(ctx, refName, []cid.Hash{newHash}); err != nil {
		return fmt.Errorf("object: update: set ref: %w", err)
	}
	return nil
}

// Retrieve assembles the object's DAG from its current head set and
// merges it, returning the rendered document and its diagnostic
// discard list (spec §4.H "Retrieve object"). A malformed DAG yields an
// error, never a stale document.
func (s *Store) Retrieve(ctx context.Context, typename, id string) (*CollaborativeObject, error) {
	refName := substrate.RefName(typename, id)
	heads, err := s.refs.Heads(ctx, refName)
	if err != nil {
		return nil, fmt.Errorf("object: retrieve: %w", err)
	}
	if len(heads) == 0 {
		return nil, ErrObjectNotFound
	}

	tips := make([]dag.Tip, len(heads))
	for i, h := range heads {
		tips[i] = dag.Tip{Remote: "", Hash: h}
	}
	g, err := dag.Assemble(ctx, s.commits, tips)
	if err != nil {
		return nil, fmt.Errorf("object: retrieve: %w", err)
	}

	result, err := merge.Merge(ctx, s.commits, g, s.oracle, s.engine)
	if err != nil {
		return nil, fmt.Errorf("object: retrieve: %w", err)
	}

	rootSchemaHash, err := schemaOfHead(ctx, s.commits, g.Root)
	if err != nil {
		return nil, fmt.Errorf("object: retrieve: %w", err)
	}
	loadedSchema, err := schema.Load(ctx, s.commits, s.oracle, rootSchemaHash)
	if err != nil {
		return nil, fmt.Errorf("object: retrieve: %w", err)
	}

	history := make([]crdt.Blob, 0, len(result.Admitted))
	for _, h := range result.Admitted {
		commit, err := s.commits.Get(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("object: retrieve: read admitted change %s: %w", h, err)
		}
		history = append(history, crdt.Blob(commit.Tree["change"]))
	}

	return &CollaborativeObject{
		Typename:  typename,
		ID:        id,
		Schema:    loadedSchema,
		Document:  result.Document,
		History:   history,
		Heads:     result.Heads,
		Discarded: result.Discarded,
	}, nil
}

// EnumerateEntry is one row of Enumerate's result.
type EnumerateEntry struct {
	ID       string
	Document any
}

// Enumerate lists every object of typename, optionally restricted to
// object ids starting with idPrefix (empty for no filter — the
// supplemented retrieve_objects prefix filtering feature).
func (s *Store) Enumerate(ctx context.Context, typename, idPrefix string) ([]EnumerateEntry, error) {
	prefix := substrate.RefName(typename, idPrefix)
	names, err := s.refs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("object: enumerate: %w", err)
	}

	base := substrate.RefName(typename, "")
	out := make([]EnumerateEntry, 0, len(names))
	for _, name := range names {
		id := name[len(base):]
		obj, err := s.Retrieve(ctx, typename, id)
		if err != nil {
			continue
		}
		out = append(out, EnumerateEntry{ID: id, Document: obj.Document})
	}
	return out, nil
}

// schemaOfHead reads the X-Rad-Schema trailer directly off a head
// commit without running full §4.D verification — Retrieve and Update
// only need to know which schema chain a head belongs to, not whether
// the head itself is admissible (that is merge's job).
func schemaOfHead(ctx context.Context, store substrate.Store, head cid.Hash) (cid.Hash, error) {
	commit, err := store.Get(ctx, head)
	if err != nil {
		return cid.Hash{}, fmt.Errorf("read head %s: %w", head, err)
	}
	s, ok := commit.Trailers[change.TrailerSchema]
	if !ok {
		return cid.Hash{}, fmt.Errorf("head %s missing X-Rad-Schema trailer", head)
	}
	h, err := cid.Decode(s)
	if err != nil {
		return cid.Hash{}, fmt.Errorf("head %s: bad X-Rad-Schema trailer: %w", head, err)
	}
	return h, nil
}

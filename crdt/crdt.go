// Package crdt is the engine-agnostic contract described in spec §4.E:
// load a document from a sequence of change blobs, apply one change,
// report a change's own dependency hashes, render the document as a
// structured value, and serialize it back to a blob sequence.
package crdt

import "fmt"

// Blob is one opaque, engine-produced CRDT-change blob.
type Blob []byte

// Hash identifies a Blob by the CRDT engine's own change-hash scheme.
// It is distinct from cid.Hash: it names a position in the CRDT's
// internal dependency graph, not a commit in the substrate.
type Hash [32]byte

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Document is an opaque, engine-owned handle produced by Load or Apply.
// Callers never inspect it directly; they pass it to Render or Serialize.
type Document interface{}

// ErrLoad is returned by Engine.Load when a blob sequence cannot be
// assembled into a document.
var ErrLoad = fmt.Errorf("crdt: load failed")

// ErrApply is returned by Engine.Apply when a change cannot be applied
// to a document — malformed blob, or a blob whose dependencies are not
// satisfied by the document's current state.
var ErrApply = fmt.Errorf("crdt: apply failed")

// Engine is the minimal CRDT adapter contract (spec §4.E). This
// revision makes no assumption about the engine's merge semantics
// beyond commutativity and associativity of Apply over independent
// changes, and deterministic Render for a given applied set.
type Engine interface {
	// Load builds a document by applying changes in the given order.
	Load(changes []Blob) (Document, error)
	// Apply applies one change to doc, returning the resulting document.
	Apply(doc Document, change Blob) (Document, error)
	// Hash returns change's own identity hash under the engine's
	// change-hash scheme, for cross-checking against commit parents
	// (spec §4.D precondition 1; not named explicitly in spec §4.E but
	// mechanically required to implement it).
	Hash(change Blob) (Hash, error)
	// Dependencies returns the set of change-hashes that change
	// declares as its own CRDT dependencies.
	Dependencies(change Blob) ([]Hash, error)
	// Render returns doc as a JSON-compatible structured value (maps,
	// slices, strings, numbers, bool, nil), with CRDT text fields
	// rendered as plain strings.
	Render(doc Document) (any, error)
	// Serialize returns doc as an ordered blob sequence suitable for a
	// later Load to reconstruct it.
	Serialize(doc Document) ([]Blob, error)
}

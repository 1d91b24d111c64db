// Package merge implements the heart of the system (spec §4.G): given
// an assembled change DAG, verify the root, verify the schema chain,
// order changes topologically with a deterministic tiebreak, and admit
// them one at a time into a CRDT document, discarding any change that
// fails verification, application, or schema validation along with
// every descendant that depended on it.
package merge

import (
	"context"
	"fmt"
	"sort"

	"github.com/22388o/radicle-link/change"
	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/crdt"
	"github.com/22388o/radicle-link/dag"
	"github.com/22388o/radicle-link/identity"
	"github.com/22388o/radicle-link/schema"
	"github.com/22388o/radicle-link/substrate"
)

// DiscardReason names why a change commit in the DAG was not admitted.
type DiscardReason string

const (
	ReasonBadCommit       DiscardReason = "bad change commit"
	ReasonApplyError      DiscardReason = "apply error"
	ReasonSchemaViolation DiscardReason = "schema violation"
	ReasonDescendant      DiscardReason = "descendant of a discarded change"
	ReasonSchemaChain     DiscardReason = "schema commit not reachable from root schema"
)

// DiscardRecord explains why one change commit was not admitted.
type DiscardRecord struct {
	Hash   cid.Hash
	Reason DiscardReason
	Detail string
}

// Result is the outcome of a successful Merge: merge never fails on a
// bad or malicious individual change, only on a root that cannot be
// verified at all (see ErrNoValidRoot).
type Result struct {
	Document  any
	Admitted  []cid.Hash
	Heads     []cid.Hash
	Discarded []DiscardRecord
}

// ErrNoValidRoot is returned when the DAG's root change commit itself
// fails §4.D verification, or the schema commit it references fails to
// load — the object has no valid state at all, as
// opposed to individual non-root changes, which are merely discarded
// (spec §4.G step 1).
var ErrNoValidRoot = fmt.Errorf("merge: root change failed verification")

// Merge runs the five-step algorithm of spec §4.G over an assembled DAG.
func Merge(ctx context.Context, store substrate.Store, g *dag.Graph, oracle identity.Oracle, engine crdt.Engine) (*Result, error) {
	rootVerified, err := change.Verify(ctx, store, oracle, engine, g.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidRoot, err)
	}

	rootSchema := rootVerified.Schema
	rootLoadedSchema, err := schema.Load(ctx, store, oracle, rootSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoValidRoot, err)
	}

	order, err := topoOrder(g)
	if err != nil {
		return nil, err
	}

	admitted := make(map[cid.Hash]bool, len(order))
	var admittedBlobs []crdt.Blob
	var doc crdt.Document
	var admittedList []cid.Hash
	var discarded []DiscardRecord

	discardReason := make(map[cid.Hash]bool, len(order))

	for _, h := range order {
		node := g.Nodes[h]

		if descendantOfDiscarded(node.CRDTParents, discardReason) {
			discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonDescendant})
			discardReason[h] = true
			continue
		}

		verified, err := change.Verify(ctx, store, oracle, engine, h)
		if err != nil {
			discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonBadCommit, Detail: err.Error()})
			discardReason[h] = true
			continue
		}

		loadedSchema := rootLoadedSchema
		if verified.Schema != rootSchema {
			reaches, err := schema.ChainReaches(ctx, store, rootSchema, verified.Schema)
			if err != nil {
				discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonSchemaChain, Detail: err.Error()})
				discardReason[h] = true
				continue
			}
			if !reaches {
				discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonSchemaChain})
				discardReason[h] = true
				continue
			}
			loadedSchema, err = schema.Load(ctx, store, oracle, verified.Schema)
			if err != nil {
				discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonSchemaChain, Detail: err.Error()})
				discardReason[h] = true
				continue
			}
		}

		// Apply and validate against a candidate blob sequence, never the
		// running doc directly: engine.Apply mutates its receiver in
		// place, so admitting doc's own state before validation passes
		// would leave a rejected change's effect stuck in the document
		// with no way to back it out.
		candidateBlobs := append(append([]crdt.Blob{}, admittedBlobs...), verified.Blob)
		nextDoc, err := engine.Load(candidateBlobs)
		if err != nil {
			discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonApplyError, Detail: err.Error()})
			discardReason[h] = true
			continue
		}
		rendered, err := engine.Render(nextDoc)
		if err != nil {
			discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonApplyError, Detail: err.Error()})
			discardReason[h] = true
			continue
		}
		if err := loadedSchema.Validate(rendered); err != nil {
			discarded = append(discarded, DiscardRecord{Hash: h, Reason: ReasonSchemaViolation, Detail: err.Error()})
			discardReason[h] = true
			continue
		}

		doc = nextDoc
		admittedBlobs = candidateBlobs
		admitted[h] = true
		admittedList = append(admittedList, h)
	}

	var rendered any
	if doc != nil {
		rendered, err = engine.Render(doc)
		if err != nil {
			return nil, fmt.Errorf("merge: render final document: %w", err)
		}
	}

	return &Result{
		Document:  rendered,
		Admitted:  admittedList,
		Heads:     heads(admittedList, g),
		Discarded: discarded,
	}, nil
}

// descendantOfDiscarded reports whether any of parents was itself
// discarded (directly or transitively — discardReason already carries
// transitive discards forward since it is checked in topological order).
func descendantOfDiscarded(parents []cid.Hash, discardReason map[cid.Hash]bool) bool {
	for _, p := range parents {
		if discardReason[p] {
			return true
		}
	}
	return false
}

// heads returns the admitted hashes with no admitted descendant, mirroring
// dag.Graph.Heads but restricted to the admitted subset (spec §4.G step 5).
func heads(admittedList []cid.Hash, g *dag.Graph) []cid.Hash {
	admittedSet := make(map[cid.Hash]bool, len(admittedList))
	for _, h := range admittedList {
		admittedSet[h] = true
	}
	hasAdmittedChild := make(map[cid.Hash]bool, len(admittedList))
	for _, h := range admittedList {
		for _, p := range g.Nodes[h].CRDTParents {
			hasAdmittedChild[p] = true
		}
	}
	var out []cid.Hash
	for _, h := range admittedList {
		if !hasAdmittedChild[h] {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessHash(out[i], out[j]) })
	return out
}

func lessHash(a, b cid.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// topoOrder orders g's nodes so that every node appears after all of its
// CRDT parents, breaking ties by ascending commit-hash bytes (spec §4.G
// step 3, §8, §9 — this is the one place that ordering decision is made;
// every other package only ever consumes the order this produces).
func topoOrder(g *dag.Graph) ([]cid.Hash, error) {
	indegree := make(map[cid.Hash]int, len(g.Nodes))
	children := make(map[cid.Hash][]cid.Hash, len(g.Nodes))
	for h, n := range g.Nodes {
		indegree[h] = len(n.CRDTParents)
		for _, p := range n.CRDTParents {
			children[p] = append(children[p], h)
		}
	}

	var ready []cid.Hash
	for h, d := range indegree {
		if d == 0 {
			ready = append(ready, h)
		}
	}

	var order []cid.Hash
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return lessHash(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, c := range children[next] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("merge: topological sort covered %d of %d nodes, graph has a cycle Assemble should have caught", len(order), len(g.Nodes))
	}
	return order, nil
}

// Package dag assembles a change-commit DAG from a set of per-remote tip
// references (spec §4.F). It holds the DAG as an arena keyed by commit
// hash: nodes are never passed around as owning pointers outside the
// arena, only the hash that indexes into it, so merge's traversal (§4.G)
// never outlives the Graph it was built from.
package dag

import (
	"context"
	"fmt"
	"sort"

	"github.com/22388o/radicle-link/change"
	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/substrate"
)

// Node is one change commit in the assembled DAG, with its parents
// already split into CRDT dependencies and identity/schema references
// (spec §4.F step 1).
type Node struct {
	Hash        cid.Hash
	Commit      substrate.Commit
	CRDTParents []cid.Hash
}

// Tip names one remote's view of an object's current heads.
type Tip struct {
	Remote string
	Hash   cid.Hash
}

// Graph is the assembled change DAG: an arena of Nodes plus the unique
// root, found by Assemble.
type Graph struct {
	Nodes map[cid.Hash]*Node
	Root  cid.Hash
}

// Heads returns the commits in g with no descendant in g — i.e. hashes
// that appear as no node's CRDT parent.
func (g *Graph) Heads() []cid.Hash {
	hasChild := make(map[cid.Hash]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		for _, p := range n.CRDTParents {
			hasChild[p] = true
		}
	}
	heads := make([]cid.Hash, 0, len(g.Nodes))
	for h := range g.Nodes {
		if !hasChild[h] {
			heads = append(heads, h)
		}
	}
	sort.Slice(heads, func(i, j int) bool { return lessHash(heads[i], heads[j]) })
	return heads
}

func lessHash(a, b cid.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Sentinel errors for MalformedDagError.Reason, matched with errors.Is.
var (
	ErrMalformedDag = fmt.Errorf("dag: malformed dag")
	NoRoot          = fmt.Errorf("dag: no root")
	MultipleRoots   = fmt.Errorf("dag: multiple roots")
	Cycle           = fmt.Errorf("dag: cycle")
)

// MalformedDagError reports why Assemble rejected a DAG. Unwrap exposes
// both ErrMalformedDag and the specific reason, so callers can match on
// either with errors.Is.
type MalformedDagError struct {
	Reason error
	Detail string
}

func (e MalformedDagError) Error() string {
	return fmt.Sprintf("%v: %s", e.Reason, e.Detail)
}

func (e MalformedDagError) Unwrap() []error {
	return []error{ErrMalformedDag, e.Reason}
}

func malformed(reason error, format string, args ...any) error {
	return MalformedDagError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	visited
)

// Assemble walks from each tip, classifying each commit's parents into
// CRDT dependencies and identity/schema references by matching the
// commit's own X-Rad-Author/-Schema/-Authorizing-Identity trailers
// (spec §4.F step 1), collects every reachable change commit into a
// single map keyed by hash (step 2), and enforces the single-root
// invariant (step 3).
func Assemble(ctx context.Context, store substrate.Store, tips []Tip) (*Graph, error) {
	nodes := make(map[cid.Hash]*Node)
	state := make(map[cid.Hash]visitState)

	var walk func(h cid.Hash) error
	walk = func(h cid.Hash) error {
		switch state[h] {
		case visited:
			return nil
		case visiting:
			return malformed(Cycle, "commit %s reached while still on the walk stack", h)
		}
		state[h] = visiting

		commit, err := store.Get(ctx, h)
		if err != nil {
			return fmt.Errorf("dag: read commit %s: %w", h, err)
		}
		crdtParents := classifyParents(commit)
		nodes[h] = &Node{Hash: h, Commit: commit, CRDTParents: crdtParents}

		for _, p := range crdtParents {
			if err := walk(p); err != nil {
				return err
			}
		}
		state[h] = visited
		return nil
	}

	for _, tip := range tips {
		if err := walk(tip.Hash); err != nil {
			return nil, err
		}
	}

	var roots []cid.Hash
	for h, n := range nodes {
		if len(n.CRDTParents) == 0 {
			roots = append(roots, h)
		}
	}
	switch len(roots) {
	case 0:
		return nil, malformed(NoRoot, "no commit in the assembled set has an empty CRDT-parent set")
	case 1:
		return &Graph{Nodes: nodes, Root: roots[0]}, nil
	default:
		sort.Slice(roots, func(i, j int) bool { return lessHash(roots[i], roots[j]) })
		return nil, malformed(MultipleRoots, "candidates: %v", roots)
	}
}

// classifyParents splits commit's parents into CRDT dependencies by
// excluding whichever of them are named by the commit's own
// X-Rad-Author/-Schema/-Authorizing-Identity trailers. A commit whose
// trailers cannot all be decoded is treated as having no CRDT parents —
// a malformed change commit terminates the walk along that branch
// rather than guessing which of its parents are safe to recurse into.
// Such a commit therefore counts as a root candidate: Assemble reports
// MultipleRoots if the true root is reached too, and otherwise it becomes
// the graph's root, which merge then rejects with ErrNoValidRoot.
func classifyParents(commit substrate.Commit) []cid.Hash {
	exclude := make(map[cid.Hash]bool, 3)
	for _, name := range []string{change.TrailerAuthor, change.TrailerSchema, change.TrailerAuthorizer} {
		s, ok := commit.Trailers[name]
		if !ok {
			return nil
		}
		h, err := cid.Decode(s)
		if err != nil {
			return nil
		}
		exclude[h] = true
	}
	out := make([]cid.Hash, 0, len(commit.Parents))
	for _, p := range commit.Parents {
		if !exclude[p] {
			out = append(out, p)
		}
	}
	return out
}

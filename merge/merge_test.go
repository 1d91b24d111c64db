package merge

import (
	"context"
	"testing"

	"github.com/automerge/automerge-go"

	"github.com/22388o/radicle-link/change"
	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/crdt"
	"github.com/22388o/radicle-link/dag"
	"github.com/22388o/radicle-link/identity"
	"github.com/22388o/radicle-link/schema"
	"github.com/22388o/radicle-link/substrate/memstore"
)

const permissiveSchema = `{"type": "object"}`

type harness struct {
	store      *memstore.Store
	oracle     *identity.StaticOracle
	engine     crdt.Engine
	signer     *identity.KeySigner
	authorizer cid.Hash
	author     cid.Hash
	schemaHash cid.Hash
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := memstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("memstore.Open: %v", err)
	}
	oracle := identity.NewStaticOracle()
	signer, err := identity.NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}

	schemaAuthor := cid.Sum([]byte("schema author"))
	oracle.Authorize(schemaAuthor, signer.PublicKey())
	schemaHash, err := schema.Build(context.Background(), store, []byte(permissiveSchema), 1, schemaAuthor, signer)
	if err != nil {
		t.Fatalf("schema.Build: %v", err)
	}

	authorizer := cid.Sum([]byte("authorizer"))
	oracle.Authorize(authorizer, signer.PublicKey())

	return &harness{
		store:      store,
		oracle:     oracle,
		engine:     crdt.Automerge{},
		signer:     signer,
		authorizer: authorizer,
		author:     cid.Sum([]byte("author")),
		schemaHash: schemaHash,
	}
}

func lastBlob(t *testing.T, doc *automerge.Doc) crdt.Blob {
	t.Helper()
	changes, err := doc.Changes()
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	return crdt.Blob(changes[len(changes)-1].RawBytes())
}

func (h *harness) build(t *testing.T, typename string, blob crdt.Blob, parents []cid.Hash) cid.Hash {
	t.Helper()
	hash, err := change.Build(context.Background(), h.store, h.engine, typename, blob, parents,
		h.author, h.schemaHash, h.authorizer, h.oracle, h.signer)
	if err != nil {
		t.Fatalf("change.Build: %v", err)
	}
	return hash
}

func TestMergeAdmitsIndependentConcurrentChanges(t *testing.T) {
	h := newHarness(t)

	doc := automerge.New()
	if err := doc.RootMap().Set("title", "first issue"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("create"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	rootBlob := lastBlob(t, doc)
	root := h.build(t, "xyz.example.issue", rootBlob, nil)

	forkA := automerge.New()
	if _, err := forkA.LoadIncremental(rootBlob); err != nil {
		t.Fatalf("LoadIncremental: %v", err)
	}
	if err := forkA.RootMap().Set("a", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := forkA.Commit("a"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	childA := h.build(t, "xyz.example.issue", lastBlob(t, forkA), []cid.Hash{root})

	forkB := automerge.New()
	if _, err := forkB.LoadIncremental(rootBlob); err != nil {
		t.Fatalf("LoadIncremental: %v", err)
	}
	if err := forkB.RootMap().Set("b", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := forkB.Commit("b"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	childB := h.build(t, "xyz.example.issue", lastBlob(t, forkB), []cid.Hash{root})

	ctx := context.Background()
	g, err := dag.Assemble(ctx, h.store, []dag.Tip{
		{Remote: "alice", Hash: childA},
		{Remote: "bob", Hash: childB},
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	result, err := Merge(ctx, h.store, g, h.oracle, h.engine)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(result.Discarded) != 0 {
		t.Fatalf("Discarded = %v, want none", result.Discarded)
	}
	if len(result.Admitted) != 3 {
		t.Fatalf("len(Admitted) = %d, want 3", len(result.Admitted))
	}
	if len(result.Heads) != 2 {
		t.Fatalf("len(Heads) = %d, want 2", len(result.Heads))
	}
	rendered, ok := result.Document.(map[string]any)
	if !ok {
		t.Fatalf("Document = %T, want map[string]any", result.Document)
	}
	if rendered["title"] != "first issue" || rendered["a"] != true || rendered["b"] != true {
		t.Fatalf("Document = %v, want title/a/b all present", rendered)
	}
}

func TestMergeDiscardsDescendantsOfForgedSignature(t *testing.T) {
	h := newHarness(t)

	doc := automerge.New()
	if err := doc.RootMap().Set("title", "first issue"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("create"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	rootBlob := lastBlob(t, doc)
	root := h.build(t, "xyz.example.issue", rootBlob, nil)

	mid := automerge.New()
	if _, err := mid.LoadIncremental(rootBlob); err != nil {
		t.Fatalf("LoadIncremental: %v", err)
	}
	if err := mid.RootMap().Set("closed", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := mid.Commit("close"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	midBlob := lastBlob(t, mid)
	midHash := h.build(t, "xyz.example.issue", midBlob, []cid.Hash{root})

	ctx := context.Background()
	commit, err := h.store.Get(ctx, midHash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	forger, err := identity.NewKeySigner()
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	sig, err := forger.Sign(ctx, []byte("not the real digest"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tampered := map[string]string{}
	for k, v := range commit.Trailers {
		tampered[k] = v
	}
	tampered[change.TrailerSignature] = identity.EncodeSignature(sig)
	forgedHash, err := h.store.Put(ctx, commit.Tree, commit.Parents, tampered)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	grandchild := automerge.New()
	if _, err := grandchild.LoadIncremental(midBlob); err != nil {
		t.Fatalf("LoadIncremental: %v", err)
	}
	if err := grandchild.RootMap().Set("reopened", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := grandchild.Commit("reopen"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	grandchildHash := h.build(t, "xyz.example.issue", lastBlob(t, grandchild), []cid.Hash{forgedHash})

	g, err := dag.Assemble(ctx, h.store, []dag.Tip{{Remote: "alice", Hash: grandchildHash}})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	result, err := Merge(ctx, h.store, g, h.oracle, h.engine)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(result.Admitted) != 1 || result.Admitted[0] != root {
		t.Fatalf("Admitted = %v, want [%v]", result.Admitted, root)
	}
	if len(result.Discarded) != 2 {
		t.Fatalf("Discarded = %v, want 2 records", result.Discarded)
	}
	byHash := make(map[cid.Hash]DiscardRecord, len(result.Discarded))
	for _, d := range result.Discarded {
		byHash[d.Hash] = d
	}
	if byHash[forgedHash].Reason != ReasonBadCommit {
		t.Fatalf("forged commit reason = %v, want ReasonBadCommit", byHash[forgedHash].Reason)
	}
	if byHash[grandchildHash].Reason != ReasonDescendant {
		t.Fatalf("grandchild reason = %v, want ReasonDescendant", byHash[grandchildHash].Reason)
	}
	rendered, ok := result.Document.(map[string]any)
	if !ok {
		t.Fatalf("Document = %T, want map[string]any", result.Document)
	}
	if rendered["closed"] != nil || rendered["reopened"] != nil {
		t.Fatalf("Document = %v, want neither closed nor reopened present", rendered)
	}
}

func TestMergeRejectsInvalidRoot(t *testing.T) {
	h := newHarness(t)

	doc := automerge.New()
	if err := doc.RootMap().Set("title", "x"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("create"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	root := h.build(t, "xyz.example.issue", lastBlob(t, doc), nil)

	ctx := context.Background()
	commit, err := h.store.Get(ctx, root)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	tampered := map[string]string{}
	for k, v := range commit.Trailers {
		tampered[k] = v
	}
	delete(tampered, change.TrailerSignature)
	forgedRoot, err := h.store.Put(ctx, commit.Tree, commit.Parents, tampered)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	g := &dag.Graph{
		Nodes: map[cid.Hash]*dag.Node{forgedRoot: {Hash: forgedRoot, Commit: commit, CRDTParents: nil}},
		Root:  forgedRoot,
	}

	if _, err := Merge(ctx, h.store, g, h.oracle, h.engine); err == nil {
		t.Fatal("Merge unexpectedly succeeded with a root missing its signature trailer")
	}
}

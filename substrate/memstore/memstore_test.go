package memstore

import (
	"context"
	"testing"

	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/substrate"
)

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tree := map[string][]byte{"change": []byte("blob"), "manifest.toml": []byte("typename=\"x\"")}
	h, err := store.Put(ctx, tree, nil, map[string]string{"X-Rad-Signature": "sig"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	has, err := store.Has(ctx, h)
	if err != nil || !has {
		t.Fatalf("Has = %v, %v, want true, nil", has, err)
	}

	got, err := store.Get(ctx, h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Tree["change"]) != "blob" {
		t.Fatalf("round-tripped tree mismatch: %+v", got.Tree)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = store.Get(context.Background(), cid.Sum([]byte("nope")))
	if err != substrate.ErrNotFound {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestStorePutIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tree := map[string][]byte{"change": []byte("same")}
	h1, err := store.Put(ctx, tree, nil, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	h2, err := store.Put(ctx, tree, nil, nil)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("identical commits produced different hashes: %x != %x", h1, h2)
	}
}

func TestRefStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	refs, err := OpenRefStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRefStore: %v", err)
	}

	name := substrate.RefName("xyz.example.issue", "abc123")
	heads, err := refs.Heads(ctx, name)
	if err != nil {
		t.Fatalf("Heads(missing): %v", err)
	}
	if len(heads) != 0 {
		t.Fatalf("Heads(missing) = %v, want empty", heads)
	}

	want := []cid.Hash{cid.Sum([]byte("a")), cid.Sum([]byte("b"))}
	if err := refs.SetHeads(ctx, name, want); err != nil {
		t.Fatalf("SetHeads: %v", err)
	}
	got, err := refs.Heads(ctx, name)
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("Heads = %v, want %v", got, want)
	}
}

func TestRefStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	refs, err := OpenRefStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRefStore: %v", err)
	}
	h := []cid.Hash{cid.Sum([]byte("x"))}
	if err := refs.SetHeads(ctx, substrate.RefName("xyz.example.issue", "a"), h); err != nil {
		t.Fatalf("SetHeads: %v", err)
	}
	if err := refs.SetHeads(ctx, substrate.RefName("xyz.example.issue", "b"), h); err != nil {
		t.Fatalf("SetHeads: %v", err)
	}
	if err := refs.SetHeads(ctx, substrate.RefName("xyz.example.patch", "c"), h); err != nil {
		t.Fatalf("SetHeads: %v", err)
	}

	names, err := refs.List(ctx, "cob/xyz.example.issue")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("List(issue) = %v, want 2 entries", names)
	}
}

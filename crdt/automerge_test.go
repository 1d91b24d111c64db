package crdt

import (
	"testing"

	"github.com/automerge/automerge-go"
)

func lastChangeBlob(t *testing.T, doc *automerge.Doc) Blob {
	t.Helper()
	changes, err := doc.Changes()
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(changes) == 0 {
		t.Fatal("Changes returned none")
	}
	return Blob(changes[len(changes)-1].RawBytes())
}

func TestAutomergeLoadAndRender(t *testing.T) {
	doc := automerge.New()
	if err := doc.RootMap().Set("title", "fix the bug"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("set title"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	blob := lastChangeBlob(t, doc)

	engine := Automerge{}
	loaded, err := engine.Load([]Blob{blob})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	rendered, err := engine.Render(loaded)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	m, ok := rendered.(map[string]any)
	if !ok {
		t.Fatalf("Render returned %T, want map[string]any", rendered)
	}
	if m["title"] != "fix the bug" {
		t.Fatalf("title = %v, want %q", m["title"], "fix the bug")
	}
}

func TestAutomergeApplyIsSequential(t *testing.T) {
	doc := automerge.New()
	if err := doc.RootMap().Set("title", "first"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("first change"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	first := lastChangeBlob(t, doc)

	if err := doc.RootMap().Set("closed", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("second change"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second := lastChangeBlob(t, doc)

	engine := Automerge{}
	loaded, err := engine.Load([]Blob{first})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loaded, err = engine.Apply(loaded, second)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	rendered, err := engine.Render(loaded)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	m := rendered.(map[string]any)
	if m["title"] != "first" || m["closed"] != true {
		t.Fatalf("rendered = %+v, want title=first closed=true", m)
	}
}

func TestAutomergeDependenciesCrossCheck(t *testing.T) {
	doc := automerge.New()
	if err := doc.RootMap().Set("title", "first"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("first change"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	first := lastChangeBlob(t, doc)

	if err := doc.RootMap().Set("closed", true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := doc.Commit("second change"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second := lastChangeBlob(t, doc)

	engine := Automerge{}
	firstHash, err := engine.Hash(first)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	deps, err := engine.Dependencies(second)
	if err != nil {
		t.Fatalf("Dependencies: %v", err)
	}
	found := false
	for _, d := range deps {
		if d == firstHash {
			found = true
		}
	}
	if !found {
		t.Fatalf("Dependencies(second) = %v, want to contain Hash(first) = %v", deps, firstHash)
	}
}

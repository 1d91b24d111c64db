package crdt

import (
	"fmt"

	"github.com/automerge/automerge-go"
)

// Automerge is the default Engine, wrapping github.com/automerge/automerge-go
// — the CRDT library the `history_type = "automerge"` manifest field
// names (spec §6). Every call into the automerge-go API is isolated in
// this file so an API-surface mismatch has a single place to fix.
type Automerge struct{}

// document wraps an *automerge.Doc behind the opaque Document handle.
type document struct {
	doc *automerge.Doc
}

func (Automerge) Load(changes []Blob) (Document, error) {
	doc := automerge.New()
	for i, b := range changes {
		if _, err := doc.LoadIncremental(b); err != nil {
			return nil, fmt.Errorf("%w: change %d: %v", ErrLoad, i, err)
		}
	}
	return &document{doc: doc}, nil
}

func (Automerge) Apply(d Document, change Blob) (Document, error) {
	dd, ok := d.(*document)
	if !ok {
		return nil, fmt.Errorf("%w: not an automerge document", ErrApply)
	}
	if _, err := dd.doc.LoadIncremental(change); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrApply, err)
	}
	return dd, nil
}

// changeOf decodes a single change blob by loading it into a scratch
// document, since automerge-go exposes a change's hash and dependencies
// only via the Doc.Changes() accessor, not from raw bytes directly.
func changeOf(blob Blob) (*automerge.Change, error) {
	scratch := automerge.New()
	if _, err := scratch.LoadIncremental(blob); err != nil {
		return nil, fmt.Errorf("decode change: %w", err)
	}
	changes, err := scratch.Changes()
	if err != nil {
		return nil, fmt.Errorf("decode change: %w", err)
	}
	if len(changes) != 1 {
		return nil, fmt.Errorf("decode change: blob encodes %d changes, want exactly 1", len(changes))
	}
	return changes[0], nil
}

func (Automerge) Hash(change Blob) (Hash, error) {
	c, err := changeOf(change)
	if err != nil {
		return Hash{}, err
	}
	return Hash(c.Hash()), nil
}

func (Automerge) Dependencies(change Blob) ([]Hash, error) {
	c, err := changeOf(change)
	if err != nil {
		return nil, err
	}
	deps := c.Deps()
	out := make([]Hash, len(deps))
	for i, d := range deps {
		out[i] = Hash(d)
	}
	return out, nil
}

func (Automerge) Render(d Document) (any, error) {
	dd, ok := d.(*document)
	if !ok {
		return nil, fmt.Errorf("crdt: render: not an automerge document")
	}
	return renderMap(dd.doc.RootMap())
}

func (Automerge) Serialize(d Document) ([]Blob, error) {
	dd, ok := d.(*document)
	if !ok {
		return nil, fmt.Errorf("crdt: serialize: not an automerge document")
	}
	changes, err := dd.doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("crdt: serialize: %w", err)
	}
	out := make([]Blob, len(changes))
	for i, c := range changes {
		out[i] = Blob(c.RawBytes())
	}
	return out, nil
}

// renderMap recursively converts an automerge.Map into a
// map[string]interface{} tree, rendering Text objects as plain strings.
func renderMap(m *automerge.Map) (map[string]any, error) {
	keys, err := m.Keys()
	if err != nil {
		return nil, fmt.Errorf("crdt: render map keys: %w", err)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := m.Get(k)
		if err != nil {
			return nil, fmt.Errorf("crdt: render map[%q]: %w", k, err)
		}
		rv, err := renderValue(v)
		if err != nil {
			return nil, fmt.Errorf("crdt: render map[%q]: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

func renderList(l *automerge.List) ([]any, error) {
	n, err := l.Len()
	if err != nil {
		return nil, fmt.Errorf("crdt: render list length: %w", err)
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := l.Get(i)
		if err != nil {
			return nil, fmt.Errorf("crdt: render list[%d]: %w", i, err)
		}
		rv, err := renderValue(v)
		if err != nil {
			return nil, fmt.Errorf("crdt: render list[%d]: %w", i, err)
		}
		out[i] = rv
	}
	return out, nil
}

func renderValue(v *automerge.Value) (any, error) {
	switch v.Kind() {
	case automerge.KindMap:
		m, err := v.Map()
		if err != nil {
			return nil, err
		}
		return renderMap(m)
	case automerge.KindList:
		l, err := v.List()
		if err != nil {
			return nil, err
		}
		return renderList(l)
	case automerge.KindText:
		t, err := v.Text()
		if err != nil {
			return nil, err
		}
		return t.Get()
	case automerge.KindStr:
		return v.Str()
	case automerge.KindInt:
		return v.Int64()
	case automerge.KindUint:
		return v.Uint64()
	case automerge.KindFloat:
		return v.Float64()
	case automerge.KindBool:
		return v.Bool()
	case automerge.KindNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("crdt: render: unsupported value kind %v", v.Kind())
	}
}

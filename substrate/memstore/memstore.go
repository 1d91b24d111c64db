// Package memstore is a reference substrate.Store/substrate.RefStore
// implementation backed by the local filesystem, grounded on the
// teacher's ObjectStore/RefStore/SafeWrite shape
// (_examples/systemshift-memex-fs/internal/dag/{store,refs,safefile}.go).
// It is not a real distributed-version-control substrate — that piece is
// out of scope per spec §1 — it exists so the rest of this module has a
// concrete, testable backend.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/substrate"
)

// Store is a content-addressed commit store persisted under dir/objects.
type Store struct {
	dir  string
	mu   sync.RWMutex
	byID map[cid.Hash]substrate.Commit // in-memory cache; source of truth is still disk
}

// Open opens or creates a Store rooted at dir.
func Open(dir string) (*Store, error) {
	objDir := filepath.Join(dir, "objects")
	if err := os.MkdirAll(objDir, 0755); err != nil {
		return nil, fmt.Errorf("memstore: create objects dir: %w", err)
	}
	return &Store{dir: objDir, byID: make(map[cid.Hash]substrate.Commit)}, nil
}

type onDiskCommit struct {
	Tree     map[string][]byte `json:"tree"`
	Parents  []string          `json:"parents"`
	Trailers map[string]string `json:"trailers"`
}

func (s *Store) path(h cid.Hash) string {
	return filepath.Join(s.dir, fmt.Sprintf("%x", h[:]))
}

func (s *Store) Put(_ context.Context, tree map[string][]byte, parents []cid.Hash, trailers map[string]string) (cid.Hash, error) {
	h := substrate.Digest(tree, parents, trailers)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[h]; ok {
		return h, nil // already exists
	}

	parentStrs := make([]string, len(parents))
	for i, p := range parents {
		parentStrs[i] = p.String()
	}
	data, err := json.Marshal(onDiskCommit{Tree: tree, Parents: parentStrs, Trailers: trailers})
	if err != nil {
		return cid.Hash{}, fmt.Errorf("memstore: marshal commit: %w", err)
	}
	if err := safeWrite(s.path(h), data, 0644); err != nil {
		return cid.Hash{}, fmt.Errorf("memstore: write commit: %w", err)
	}

	s.byID[h] = substrate.Commit{Hash: h, Tree: tree, Parents: parents, Trailers: trailers}
	return h, nil
}

func (s *Store) Get(_ context.Context, h cid.Hash) (substrate.Commit, error) {
	s.mu.RLock()
	c, ok := s.byID[h]
	s.mu.RUnlock()
	if ok {
		return c, nil
	}

	data, err := os.ReadFile(s.path(h))
	if os.IsNotExist(err) {
		return substrate.Commit{}, substrate.ErrNotFound
	}
	if err != nil {
		return substrate.Commit{}, fmt.Errorf("memstore: read commit: %w", err)
	}
	var odc onDiskCommit
	if err := json.Unmarshal(data, &odc); err != nil {
		return substrate.Commit{}, fmt.Errorf("memstore: unmarshal commit: %w", err)
	}
	parents := make([]cid.Hash, len(odc.Parents))
	for i, ps := range odc.Parents {
		ph, err := cid.Decode(ps)
		if err != nil {
			return substrate.Commit{}, fmt.Errorf("memstore: decode parent: %w", err)
		}
		parents[i] = ph
	}
	commit := substrate.Commit{Hash: h, Tree: odc.Tree, Parents: parents, Trailers: odc.Trailers}

	s.mu.Lock()
	s.byID[h] = commit
	s.mu.Unlock()
	return commit, nil
}

func (s *Store) Has(ctx context.Context, h cid.Hash) (bool, error) {
	_, err := s.Get(ctx, h)
	if err == substrate.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RefStore is a `cob/<typename>/<object-id>` -> head-set mapping
// persisted as one file per ref under dir/refs.
type RefStore struct {
	dir string
	mu  sync.RWMutex
}

// OpenRefStore opens or creates a RefStore rooted at dir.
func OpenRefStore(dir string) (*RefStore, error) {
	refDir := filepath.Join(dir, "refs")
	if err := os.MkdirAll(refDir, 0755); err != nil {
		return nil, fmt.Errorf("memstore: create refs dir: %w", err)
	}
	return &RefStore{dir: refDir}, nil
}

func refFilename(name string) string {
	// refs are slash-separated (cob/<typename>/<id>); lay them out as a
	// real directory tree, mirroring the teacher's flat refFilename
	// scheme generalized to our hierarchical ref namespace.
	return filepath.FromSlash(name)
}

func (r *RefStore) Heads(_ context.Context, name string) ([]cid.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	path := filepath.Join(r.dir, refFilename(name))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: read ref %s: %w", name, err)
	}
	var strs []string
	if err := json.Unmarshal(data, &strs); err != nil {
		return nil, fmt.Errorf("memstore: unmarshal ref %s: %w", name, err)
	}
	heads := make([]cid.Hash, len(strs))
	for i, s := range strs {
		h, err := cid.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("memstore: decode ref %s: %w", name, err)
		}
		heads[i] = h
	}
	return heads, nil
}

func (r *RefStore) SetHeads(_ context.Context, name string, heads []cid.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.dir, refFilename(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("memstore: create ref dir: %w", err)
	}
	strs := make([]string, len(heads))
	for i, h := range heads {
		strs[i] = h.String()
	}
	data, err := json.Marshal(strs)
	if err != nil {
		return fmt.Errorf("memstore: marshal ref %s: %w", name, err)
	}
	return safeWrite(path, data, 0644)
}

func (r *RefStore) List(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// prefix is a string prefix over ref names, not necessarily a
	// directory boundary — object.Store.Enumerate's IDPrefix filter
	// (spec supplement, "retrieve_objects typename+prefix filtering")
	// can split a name mid-component, so List walks the whole ref tree
	// and filters by name rather than by directory path.
	var names []string
	err := filepath.Walk(r.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memstore: list refs under %s: %w", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

// safeWrite writes data to path atomically: tempfile -> fsync -> rename,
// grounded on the teacher's SafeWrite
// (_examples/systemshift-memex-fs/internal/dag/safefile.go).
func safeWrite(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp to target: %w", err)
	}
	return nil
}

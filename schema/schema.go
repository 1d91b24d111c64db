// Package schema implements the per-object JSON-schema store (spec
// §4.C): building and loading signed schema commits, and validating a
// rendered document against the vocabulary-restricted schema those
// commits carry.
package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/22388o/radicle-link/cid"
	"github.com/22388o/radicle-link/identity"
	"github.com/22388o/radicle-link/manifest"
	"github.com/22388o/radicle-link/substrate"
)

// disallowedKeywords are JSON-schema keywords that can be satisfied by
// two independent states and fail on their CRDT merge (spec §3): schemas
// using any of these are rejected at load time, not merely at validation
// time, since the vocabulary violation is a property of the schema
// itself, not of any one document.
var disallowedKeywords = map[string]bool{
	"not": true, "oneOf": true, "if": true, "then": true, "else": true,
	"uniqueItems": true, "multipleOf": true,
}

// ErrUnsupportedKeyword is returned when a schema document uses a
// keyword outside the merge-stable vocabulary.
var ErrUnsupportedKeyword = fmt.Errorf("schema: keyword outside the merge-stable vocabulary")

// ErrBadSchemaCommit is returned when a schema commit fails tree,
// trailer, or signature verification.
var ErrBadSchemaCommit = fmt.Errorf("schema: bad schema commit")

// Violation is returned by (*Schema).Validate on the first schema
// failure encountered.
type Violation struct {
	Pointer string
	Rule    string
}

func (v Violation) Error() string {
	return fmt.Sprintf("schema: violation at %s: %s", v.Pointer, v.Rule)
}

// checkVocabulary recursively rejects disallowed keywords anywhere in
// the raw schema document.
func checkVocabulary(node any) error {
	switch v := node.(type) {
	case map[string]any:
		for k, sub := range v {
			if disallowedKeywords[k] {
				return fmt.Errorf("%w: %q", ErrUnsupportedKeyword, k)
			}
			if err := checkVocabulary(sub); err != nil {
				return err
			}
		}
	case []any:
		for _, sub := range v {
			if err := checkVocabulary(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// Schema is a loaded, vocabulary-checked, compiled JSON schema.
type Schema struct {
	Hash     cid.Hash
	Manifest manifest.Schema
	compiled *jsonschema.Schema
}

// Compile validates the vocabulary of raw and compiles it, independent
// of any commit — used by Build before writing, and by Load after
// verifying the commit.
func Compile(raw []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse schema.json: %w", err)
	}
	if err := checkVocabulary(doc); err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return compiled, nil
}

// Build writes the {schema.json, manifest.toml} tree, requests a
// signature over the commit body, and attaches the X-Rad-Author and
// X-Rad-Signature trailers (spec §4.C).
func Build(ctx context.Context, store substrate.Store, raw []byte, version int, author cid.Hash, signer identity.Signer) (cid.Hash, error) {
	if _, err := Compile(raw); err != nil {
		return cid.Hash{}, err
	}
	m := manifest.Schema{Type: manifest.TypeJSONSchema, Version: version}
	mbytes, err := m.Bytes()
	if err != nil {
		return cid.Hash{}, err
	}
	tree := map[string][]byte{"schema.json": raw, "manifest.toml": mbytes}
	parents := []cid.Hash{author}

	preTrailers := map[string]string{"X-Rad-Author": author.String()}
	digest := substrate.Digest(tree, parents, preTrailers)
	sig, err := signer.Sign(ctx, digest.Bytes())
	if err != nil {
		return cid.Hash{}, fmt.Errorf("schema: sign: %w", err)
	}
	trailers := map[string]string{
		"X-Rad-Author":    author.String(),
		"X-Rad-Signature": identity.EncodeSignature(sig),
	}
	return store.Put(ctx, tree, parents, trailers)
}

// Load verifies tree shape, trailers, and the author's delegate
// signature, then compiles the schema.
func Load(ctx context.Context, store substrate.Store, oracle identity.Oracle, h cid.Hash) (*Schema, error) {
	commit, err := store.Get(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchemaCommit, err)
	}
	raw, ok := commit.Tree["schema.json"]
	if !ok {
		return nil, fmt.Errorf("%w: missing schema.json", ErrBadSchemaCommit)
	}
	mbytes, ok := commit.Tree["manifest.toml"]
	if !ok {
		return nil, fmt.Errorf("%w: missing manifest.toml", ErrBadSchemaCommit)
	}
	if len(commit.Tree) != 2 {
		return nil, fmt.Errorf("%w: unexpected tree entries", ErrBadSchemaCommit)
	}
	m, err := manifest.ParseSchema(mbytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchemaCommit, err)
	}

	authorStr, ok := commit.Trailers["X-Rad-Author"]
	if !ok {
		return nil, fmt.Errorf("%w: missing X-Rad-Author trailer", ErrBadSchemaCommit)
	}
	authorHash, err := cid.Decode(authorStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad X-Rad-Author trailer: %v", ErrBadSchemaCommit, err)
	}
	if !trailerReferencesParent(authorHash, commit.Parents) {
		return nil, fmt.Errorf("%w: X-Rad-Author does not reference a parent", ErrBadSchemaCommit)
	}

	sigStr, ok := commit.Trailers["X-Rad-Signature"]
	if !ok {
		return nil, fmt.Errorf("%w: missing X-Rad-Signature trailer", ErrBadSchemaCommit)
	}
	sig, err := identity.DecodeSignature(sigStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad X-Rad-Signature trailer: %v", ErrBadSchemaCommit, err)
	}

	preTrailers := map[string]string{"X-Rad-Author": authorStr}
	digest := substrate.Digest(commit.Tree, commit.Parents, preTrailers)
	if _, err := oracle.VerifyDelegateSignature(ctx, authorHash, digest.Bytes(), sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchemaCommit, err)
	}

	compiled, err := Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSchemaCommit, err)
	}
	return &Schema{Hash: h, Manifest: m, compiled: compiled}, nil
}

func trailerReferencesParent(h cid.Hash, parents []cid.Hash) bool {
	for _, p := range parents {
		if p == h {
			return true
		}
	}
	return false
}

// Validate checks doc (already rendered by the CRDT adapter) against the
// schema, returning the first Violation encountered.
func (s *Schema) Validate(doc any) error {
	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return fmt.Errorf("schema: validate: %w", err)
	}
	leaf := deepestCause(ve)
	return Violation{Pointer: leaf.InstanceLocation, Rule: leaf.Message}
}

// deepestCause walks to the most specific (deepest) validation failure,
// so Violation.Pointer names the actual offending value rather than the
// root document.
func deepestCause(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

// ChainReaches reports whether target is reachable in the schema chain
// from tip. This revision requires exact equality (spec §4.C, §9); the
// comparison is isolated here so schema-chain migration is a
// single-function edit point.
func ChainReaches(_ context.Context, _ substrate.Store, tip, target cid.Hash) (bool, error) {
	return tip == target, nil
}


// Package manifest parses and emits the manifest.toml embedded in change
// and schema commits (spec §4.B). Unknown fields are rejected: forward
// compatibility is meant to arrive as a new schema-chain link, not as an
// unrecognized key slipped into an existing manifest.
package manifest

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// TypenamePattern is the grammar for a typename: a non-empty, dot-
// separated sequence of alphanumeric segments.
var TypenamePattern = regexp.MustCompile(`^[A-Za-z0-9]+(\.[A-Za-z0-9]+)*$`)

// ValidTypename reports whether s matches the typename grammar.
func ValidTypename(s string) bool {
	return s != "" && TypenamePattern.MatchString(s)
}

// HistoryAutomerge is the only history_type recognized in this revision;
// it names the adapter in package crdt.
const HistoryAutomerge = "automerge"

// Change is the manifest.toml of a change commit.
type Change struct {
	Typename    string `toml:"typename"`
	HistoryType string `toml:"history_type"`
}

// ErrUnknownField is returned when a manifest carries a field this
// revision does not recognize.
var ErrUnknownField = fmt.Errorf("manifest: unknown field")

// ErrInvalid is returned when a recognized field holds an invalid value.
var ErrInvalid = fmt.Errorf("manifest: invalid field value")

var changeFields = map[string]bool{"typename": true, "history_type": true}
var schemaFields = map[string]bool{"type": true, "version": true}

// ParseChange parses and validates a change manifest.toml.
func ParseChange(data []byte) (Change, error) {
	if err := rejectUnknownFields(data, changeFields); err != nil {
		return Change{}, err
	}
	var c Change
	if _, err := toml.Decode(string(data), &c); err != nil {
		return Change{}, fmt.Errorf("manifest: decode change manifest: %w", err)
	}
	if !ValidTypename(c.Typename) {
		return Change{}, fmt.Errorf("%w: bad typename %q", ErrInvalid, c.Typename)
	}
	if c.HistoryType != HistoryAutomerge {
		return Change{}, fmt.Errorf("%w: unrecognized history_type %q", ErrInvalid, c.HistoryType)
	}
	return c, nil
}

// Bytes renders a change manifest as manifest.toml content.
func (c Change) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("manifest: encode change manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// TypeJSONSchema is the only recognized `type` value for a schema
// manifest.
const TypeJSONSchema = "jsonschema"

// Schema is the manifest.toml of a schema commit.
type Schema struct {
	Type    string `toml:"type"`
	Version int    `toml:"version"`
}

// ParseSchema parses and validates a schema manifest.toml.
func ParseSchema(data []byte) (Schema, error) {
	if err := rejectUnknownFields(data, schemaFields); err != nil {
		return Schema{}, err
	}
	var s Schema
	if _, err := toml.Decode(string(data), &s); err != nil {
		return Schema{}, fmt.Errorf("manifest: decode schema manifest: %w", err)
	}
	if s.Type != TypeJSONSchema {
		return Schema{}, fmt.Errorf("%w: unrecognized type %q", ErrInvalid, s.Type)
	}
	if s.Version <= 0 {
		return Schema{}, fmt.Errorf("%w: version must be positive, got %d", ErrInvalid, s.Version)
	}
	return s, nil
}

// Bytes renders a schema manifest as manifest.toml content.
func (s Schema) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("manifest: encode schema manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// rejectUnknownFields decodes data into a generic key set and fails if
// any key falls outside allowed.
func rejectUnknownFields(data []byte, allowed map[string]bool) error {
	var raw map[string]toml.Primitive
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return fmt.Errorf("manifest: parse: %w", err)
	}
	for k := range raw {
		if !allowed[k] {
			return fmt.Errorf("%w: %q", ErrUnknownField, k)
		}
	}
	return nil
}

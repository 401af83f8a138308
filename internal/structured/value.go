// Package structured holds the configuration value trees that steps persist
// next to their outputs. Values are plain Go trees (maps, slices, scalars)
// plus the Absent marker, rendered to and parsed from YAML.
package structured

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// Value is a structured value tree: map[string]any, []any, scalars, nil, or Absent.
type Value = any

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent marks a configuration that is present but carries no settings,
// meaning "use all defaults". It is distinct from an explicit empty object
// only in memory; storage always renders it as {}.
var Absent Value = absent{}

// ErrEmptyDocument is returned by Parse when the payload holds no YAML document.
var ErrEmptyDocument = errors.New("structured: empty document")

// IsAbsent reports whether v is the Absent marker.
func IsAbsent(v Value) bool {
	_, ok := v.(absent)
	return ok
}

// Parse decodes a YAML (or JSON) document into a value tree.
func Parse(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}
	var out any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("structured: decode: %w", err)
	}
	return normalizeDecoded(out), nil
}

// Render encodes v as pretty-printed YAML. The Absent marker cannot be
// rendered directly; callers convert it with ToStored first.
func Render(v Value) ([]byte, error) {
	if IsAbsent(v) {
		return nil, fmt.Errorf("structured: absent marker has no stored form")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("structured: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("structured: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ToStored maps the Absent marker to an explicit empty object.
func ToStored(v Value) Value {
	if IsAbsent(v) {
		return map[string]any{}
	}
	return v
}

// FromStored maps an empty object (or an empty document) back to Absent.
func FromStored(v Value) Value {
	switch typed := v.(type) {
	case nil:
		return Absent
	case map[string]any:
		if len(typed) == 0 {
			return Absent
		}
	}
	return v
}

// Canonical renders and re-parses v so in-memory values (typed ints, structs
// with yaml tags, nested typed maps) compare equal to values read from disk.
func Canonical(v Value) (Value, error) {
	if IsAbsent(v) {
		return Absent, nil
	}
	data, err := Render(v)
	if err != nil {
		return nil, err
	}
	out, err := Parse(data)
	if errors.Is(err, ErrEmptyDocument) {
		return nil, nil
	}
	return out, err
}

// Normalize canonicalizes v and folds empty objects into Absent. Both sides of
// a provenance comparison go through Normalize.
func Normalize(v Value) (Value, error) {
	c, err := Canonical(v)
	if err != nil {
		return nil, err
	}
	return FromStored(c), nil
}

// Equal reports structural equality.
func Equal(a, b Value) bool {
	return cmp.Equal(a, b, absentComparer)
}

// Diff returns a human readable structural diff (-a +b). Empty when equal.
func Diff(a, b Value) string {
	return cmp.Diff(a, b, absentComparer)
}

// String renders v for error messages.
func String(v Value) string {
	if IsAbsent(v) {
		return "<absent>"
	}
	data, err := Render(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(bytes.TrimRight(data, "\n"))
}

var absentComparer = cmp.Comparer(func(a, b absent) bool { return true })

// normalizeDecoded converts yaml.v3 decode output into map[string]any trees.
// Non-string keys are stringified so every object has string keys.
func normalizeDecoded(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = normalizeDecoded(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[fmt.Sprint(k)] = normalizeDecoded(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeDecoded(item)
		}
		return out
	default:
		return v
	}
}

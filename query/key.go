package query

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Key identifies a cache slot: a procedure path and its request parameters.
// A Key with fewer path segments or parameters acts as a prefix for Invalidate,
// Cancel and Matching.
type Key struct {
	Path   []string
	Params map[string]any
}

// NewKey creates a key from path segments, e.g. NewKey("organizations", "list")
func NewKey(path ...string) Key {
	return Key{Path: slices.Clone(path)}
}

// ForProcedure creates a key from a procedure name, splitting it into service and
// method segments: "console.v1.ProjectService/ListProjects" has the service key
// as a prefix.
func ForProcedure(procedure string) Key {
	return NewKey(strings.Split(procedure, "/")...)
}

// With returns a copy of k carrying the additional parameter
func (k Key) With(name string, value any) Key {
	params := maps.Clone(k.Params)
	if params == nil {
		params = make(map[string]any, 1)
	}
	params[name] = value
	return Key{Path: slices.Clone(k.Path), Params: params}
}

// Hash returns the canonical form of the key. Keys with equal paths and equal
// parameters (in any order) have equal hashes.
func (k Key) Hash() string {
	var b strings.Builder
	b.WriteString(strings.Join(k.Path, "/"))
	if len(k.Params) > 0 {
		b.WriteByte('?')
		// encoding/json sorts map keys, including nested maps
		b.WriteString(canonical(k.Params))
	}
	return b.String()
}

func (k Key) String() string {
	return k.Hash()
}

// Equal reports whether k and other identify the same slot
func (k Key) Equal(other Key) bool {
	return k.Hash() == other.Hash()
}

// HasPrefix reports whether prefix's path is a leading run of k's path and every
// parameter of prefix is present in k with an equal value.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.Path) > len(k.Path) {
		return false
	}
	for i, segment := range prefix.Path {
		if k.Path[i] != segment {
			return false
		}
	}
	for name, want := range prefix.Params {
		got, ok := k.Params[name]
		if !ok || canonical(got) != canonical(want) {
			return false
		}
	}
	return true
}

func (k Key) clone() Key {
	return Key{Path: slices.Clone(k.Path), Params: maps.Clone(k.Params)}
}

// canonical encodes v deterministically
func canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(data)
}

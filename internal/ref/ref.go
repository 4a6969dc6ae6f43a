// Package ref parses and builds reference URIs that address stored objects,
// ops, calls, tables and table rows.
//
// Text format:
//
//	scheme:///entity/project/kind/name[:version][/extra1/extra2/...]
//
// Segments are path-escaped. Extra segments form a path into the referenced
// value and conventionally alternate edge kind and edge value, for example
// ".../object/Dataset:v0/attr/rows/id/1f3a".
package ref

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme identifies the store a ref points into.
type Scheme string

const (
	SchemeWeave    Scheme = "weave"
	SchemeArtifact Scheme = "wandb-artifact"
)

// Kind is the entity kind addressed by a ref.
type Kind string

const (
	KindObject   Kind = "object"
	KindOp       Kind = "op"
	KindCall     Kind = "call"
	KindTable    Kind = "table"
	KindTableRow Kind = "table-row"
)

// Extra edge kinds used when building sub-path refs.
const (
	EdgeAttr  = "attr"
	EdgeKey   = "key"
	EdgeIndex = "index"
	EdgeID    = "id"
)

// ErrInvalidRef is returned when a string does not follow the ref grammar.
var ErrInvalidRef = errors.New("invalid ref")

// Ref is a parsed reference URI. Refs are immutable values; methods that
// derive a new ref return a copy.
type Ref struct {
	Scheme  Scheme
	Entity  string
	Project string
	Kind    Kind
	Name    string
	Version string   // empty when the ref carries no ":version"
	Extra   []string // sub-path into the referenced value
}

// Parse parses a ref URI.
func Parse(s string) (Ref, error) {
	scheme, rest, ok := strings.Cut(s, ":///")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q: missing scheme separator", ErrInvalidRef, s)
	}
	r := Ref{Scheme: Scheme(scheme)}
	if r.Scheme != SchemeWeave && r.Scheme != SchemeArtifact {
		return Ref{}, fmt.Errorf("%w: %q: unknown scheme %q", ErrInvalidRef, s, scheme)
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 4 {
		return Ref{}, fmt.Errorf("%w: %q: expected entity/project/kind/name", ErrInvalidRef, s)
	}
	segs := make([]string, len(parts))
	for i, p := range parts {
		u, err := url.PathUnescape(p)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %q: segment %d: %v", ErrInvalidRef, s, i, err)
		}
		segs[i] = u
	}

	r.Entity, r.Project = segs[0], segs[1]
	r.Kind = Kind(segs[2])
	switch r.Kind {
	case KindObject, KindOp, KindCall, KindTable, KindTableRow:
	default:
		return Ref{}, fmt.Errorf("%w: %q: unknown kind %q", ErrInvalidRef, s, segs[2])
	}

	// The version separator must be read from the escaped text so that an
	// escaped colon inside a name is not mistaken for it.
	name, version, _ := strings.Cut(parts[3], ":")
	if r.Name, _ = url.PathUnescape(name); r.Name == "" {
		return Ref{}, fmt.Errorf("%w: %q: empty name", ErrInvalidRef, s)
	}
	r.Version, _ = url.PathUnescape(version)

	if r.Entity == "" || r.Project == "" {
		return Ref{}, fmt.Errorf("%w: %q: empty entity or project", ErrInvalidRef, s)
	}
	if len(segs) > 4 {
		r.Extra = segs[4:]
		for i, e := range r.Extra {
			if e == "" {
				return Ref{}, fmt.Errorf("%w: %q: empty extra segment %d", ErrInvalidRef, s, i)
			}
		}
	}
	return r, nil
}

// IsRef reports whether s parses as a ref.
func IsRef(s string) bool {
	if !hasRefPrefix(s) {
		return false
	}
	_, err := Parse(s)
	return err == nil
}

// String renders the ref in its canonical text form.
func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(string(r.Scheme))
	b.WriteString(":///")
	b.WriteString(escape(r.Entity))
	b.WriteByte('/')
	b.WriteString(escape(r.Project))
	b.WriteByte('/')
	b.WriteString(string(r.Kind))
	b.WriteByte('/')
	b.WriteString(escape(r.Name))
	if r.Version != "" {
		b.WriteByte(':')
		b.WriteString(escape(r.Version))
	}
	for _, e := range r.Extra {
		b.WriteByte('/')
		b.WriteString(escape(e))
	}
	return b.String()
}

// ProjectID returns "entity/project".
func (r Ref) ProjectID() string {
	return r.Entity + "/" + r.Project
}

// Expandable reports whether the ref's target can be fetched as a standalone
// value: weave object and op refs, and weave table refs that carry an extra
// path. Bare table refs are opaque because whole tables cannot be fetched.
func (r Ref) Expandable() bool {
	if r.Scheme != SchemeWeave {
		return false
	}
	switch r.Kind {
	case KindObject, KindOp:
		return true
	case KindTable:
		return len(r.Extra) > 0
	default:
		return false
	}
}

// IsBareTable reports whether r is a table ref without an extra path.
func (r Ref) IsBareTable() bool {
	return r.Kind == KindTable && len(r.Extra) == 0
}

// WithExtra returns a copy of r with segs appended to its extra path.
func (r Ref) WithExtra(segs ...string) Ref {
	extra := make([]string, 0, len(r.Extra)+len(segs))
	extra = append(extra, r.Extra...)
	extra = append(extra, segs...)
	r.Extra = extra
	return r
}

// ExpandableString reports whether s is a ref that Expandable accepts.
func ExpandableString(s string) bool {
	if !hasRefPrefix(s) {
		return false
	}
	r, err := Parse(s)
	return err == nil && r.Expandable()
}

// hasRefPrefix is a cheap pre-check so that tree walks do not pay for a full
// parse on every string they visit.
func hasRefPrefix(s string) bool {
	return strings.HasPrefix(s, "weave:///") || strings.HasPrefix(s, "wandb-artifact:///")
}

func escape(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}

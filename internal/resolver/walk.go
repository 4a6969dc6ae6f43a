package resolver

import (
	"slices"
	"strconv"

	"weavequery/internal/ref"
)

// collect returns the refs to fetch, unique and in document order. A string
// is selected when it is auto-expandable and not inside a resolved value, or
// when it was explicitly expanded. Provenance keys are never selected.
func collect(rows []any, autoExpand bool, explicit map[string]bool) []string {
	type frame struct {
		v        any
		resolved bool
	}

	var refs []string
	seen := make(map[string]bool)
	stack := make([]frame, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		stack = append(stack, frame{v: rows[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch v := f.v.(type) {
		case string:
			if seen[v] {
				continue
			}
			if explicit[v] || (autoExpand && !f.resolved && ref.ExpandableString(v)) {
				seen[v] = true
				refs = append(refs, v)
			}
		case map[string]any:
			_, tagged := v[RefKey].(string)
			keys := sortedKeys(v)
			for i := len(keys) - 1; i >= 0; i-- {
				if keys[i] == RefKey {
					continue
				}
				stack = append(stack, frame{v: v[keys[i]], resolved: f.resolved || tagged})
			}
		case []any:
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, frame{v: v[i], resolved: f.resolved})
			}
		}
	}
	return refs
}

type nodeKind uint8

const (
	leafNode nodeKind = iota
	objectNode
	arrayNode
)

// node is one slot of the output arena. Container children occupy the
// contiguous slots [first, first+len).
type node struct {
	kind  nodeKind
	leaf  any
	keys  []string // objectNode only
	first int
	n     int
}

// ancestry is the chain of refs substituted above a node. A ref is never
// substituted inside its own value.
type ancestry struct {
	ref string
	up  *ancestry
}

func (a *ancestry) contains(r string) bool {
	for ; a != nil; a = a.up {
		if a.ref == r {
			return true
		}
	}
	return false
}

func (a *ancestry) push(r string) *ancestry {
	return &ancestry{ref: r, up: a}
}

type item struct {
	src  any
	slot int
	path string
	anc  *ancestry
	// owner is the provenance ref of the enclosing resolved object when src
	// is one of its direct fields.
	owner string
	key   string
}

// substitute builds a copy of rows in which every string found in values is
// replaced by its value. Substituted values are walked like any other input,
// so refs they contain are substituted too, and every node visited is copied
// into fresh containers.
func substitute(rows []any, values map[string]any) ([]any, map[string][]string, []TableSource) {
	arena := make([]node, len(rows))
	work := make([]item, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		work = append(work, item{src: rows[i], slot: i})
	}

	expanded := make(map[string][]string)
	var tables []TableSource

	for len(work) > 0 {
		it := work[len(work)-1]
		work = work[:len(work)-1]

		v, anc := it.src, it.anc
		if s, ok := v.(string); ok {
			rv, found := values[s]
			if !found || anc.contains(s) {
				if it.owner != "" {
					if ts, ok := tableSource(it, s); ok {
						tables = append(tables, ts)
					}
				}
				arena[it.slot] = node{kind: leafNode, leaf: s}
				continue
			}
			if !slices.Contains(expanded[it.path], s) {
				expanded[it.path] = append(expanded[it.path], s)
			}
			v, anc = rv, anc.push(s)
		}

		switch x := v.(type) {
		case map[string]any:
			owner, _ := x[RefKey].(string)
			if owner != "" && !anc.contains(owner) {
				anc = anc.push(owner)
			}
			keys := sortedKeys(x)
			first := len(arena)
			arena = append(arena, make([]node, len(keys))...)
			arena[it.slot] = node{kind: objectNode, keys: keys, first: first, n: len(keys)}
			for i, k := range keys {
				if k == RefKey {
					arena[first+i] = node{kind: leafNode, leaf: x[k]}
					continue
				}
				work = append(work, item{
					src:   x[k],
					slot:  first + i,
					path:  joinPath(it.path, k),
					anc:   anc,
					owner: owner,
					key:   k,
				})
			}
		case []any:
			first := len(arena)
			arena = append(arena, make([]node, len(x))...)
			arena[it.slot] = node{kind: arrayNode, first: first, n: len(x)}
			for i, elem := range x {
				work = append(work, item{
					src:  elem,
					slot: first + i,
					path: joinPath(it.path, strconv.Itoa(i)),
					anc:  anc,
				})
			}
		default:
			arena[it.slot] = node{kind: leafNode, leaf: v}
		}
	}

	return materialize(arena, len(rows)), expanded, tables
}

// materialize assembles values bottom-up. Children always sit at higher
// indexes than their parent, so one reverse pass suffices.
func materialize(arena []node, roots int) []any {
	vals := make([]any, len(arena))
	for i := len(arena) - 1; i >= 0; i-- {
		nd := arena[i]
		switch nd.kind {
		case objectNode:
			m := make(map[string]any, nd.n)
			for j, k := range nd.keys {
				m[k] = vals[nd.first+j]
			}
			vals[i] = m
		case arrayNode:
			a := make([]any, nd.n)
			copy(a, vals[nd.first:nd.first+nd.n])
			vals[i] = a
		default:
			vals[i] = nd.leaf
		}
	}
	out := make([]any, roots)
	copy(out, vals[:roots])
	return out
}

// tableSource reports a bare table ref held directly by a resolved object.
// The source ref reaches the same table through the owner's attribute edge;
// a boxed primitive is addressed by the owner ref itself.
func tableSource(it item, s string) (TableSource, bool) {
	t, err := ref.Parse(s)
	if err != nil || !t.IsBareTable() {
		return TableSource{}, false
	}
	owner, err := ref.Parse(it.owner)
	if err != nil {
		return TableSource{}, false
	}
	src := owner
	if it.key != BoxKey {
		src = owner.WithExtra(ref.EdgeAttr, it.key)
	}
	return TableSource{Path: it.path, TableRef: s, SourceRef: src.String()}, true
}

func joinPath(base, seg string) string {
	switch {
	case seg == "":
		return base
	case base == "":
		return seg
	default:
		return base + "." + seg
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Package resolver substitutes embedded ref strings in JSON-like rows with
// the values they point to.
//
// Rows are the generic values produced by encoding/json: map[string]any,
// []any, string, float64, bool and nil. A substituted object gains a "_ref"
// key naming the ref it came from; a substituted primitive is boxed as
// {"": value, "_ref": ref}. Values tagged this way are treated as resolved:
// refs inside them are only fetched when explicitly expanded, which makes
// resolving a resolved tree a no-op.
//
// Each Resolve issues at most one batched fetch.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"weavequery/internal/logging"
	"weavequery/internal/metrics"
)

// RefKey is the provenance key merged into resolved values.
const RefKey = "_ref"

// BoxKey holds a resolved primitive inside its provenance box.
const BoxKey = ""

// Fetcher fetches refs in one round trip. The result is positional; a nil
// element means the ref was not found.
type Fetcher interface {
	FetchRefs(ctx context.Context, refs []string) ([]any, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, refs []string) ([]any, error)

func (f FetchFunc) FetchRefs(ctx context.Context, refs []string) ([]any, error) {
	return f(ctx, refs)
}

// TableSource pairs a bare table ref found inside a resolved object with a
// ref that addresses the same table through its parent, which can be
// fetched row by row.
type TableSource struct {
	Path      string `json:"path"`
	TableRef  string `json:"table_ref"`
	SourceRef string `json:"source_ref"`
}

// Result is the outcome of one Resolve call.
type Result struct {
	Rows []any `json:"rows"`
	// ExpandedRefs lists, per column path, the refs substituted there.
	ExpandedRefs map[string][]string `json:"expanded_refs"`
	// Unresolved lists requested refs that could not be fetched. They stay
	// in the rows as raw strings.
	Unresolved   []string      `json:"unresolved,omitempty"`
	TableSources []TableSource `json:"table_sources,omitempty"`
	// Fetched is the number of refs requested from the Fetcher.
	Fetched int `json:"fetched"`
}

// Resolver resolves refs in rows. Safe for concurrent use; Resolve calls are
// independent apart from the shared expansion registry.
type Resolver struct {
	fetcher    Fetcher
	autoExpand bool
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	expanded map[string][]string // ref -> paths, in registration order
	order    []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAutoExpand controls whether expandable refs are fetched without an
// explicit Expand call. Defaults to true.
func WithAutoExpand(on bool) Option {
	return func(r *Resolver) { r.autoExpand = on }
}

// WithLogger sets the logger. Defaults to discard.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics counts resolved, missing and failed refs.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver backed by fetcher.
func New(fetcher Fetcher, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher:    fetcher,
		autoExpand: true,
		expanded:   make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.Default(r.logger).With("component", "resolver")
	return r
}

// Expand registers a user-requested expansion of ref at path. The ref is
// fetched by later Resolve calls wherever it still occurs unresolved, even
// inside already-resolved values and even when it is not auto-expandable.
func (r *Resolver) Expand(path, ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths, ok := r.expanded[ref]
	if !ok {
		r.order = append(r.order, ref)
	}
	if !slices.Contains(paths, path) {
		r.expanded[ref] = append(paths, path)
	}
}

// Expansions returns the explicitly expanded refs and their paths.
func (r *Resolver) Expansions() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.expanded))
	for ref, paths := range r.expanded {
		out[ref] = slices.Clone(paths)
	}
	return out
}

func (r *Resolver) explicit() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]bool, len(r.order))
	for _, ref := range r.order {
		set[ref] = true
	}
	return set
}

// Resolve returns a copy of rows with refs substituted. Fetch failures and
// missing refs degrade to raw ref strings; only context cancellation is
// returned as an error.
func (r *Resolver) Resolve(ctx context.Context, rows []any) (*Result, error) {
	refs := collect(rows, r.autoExpand, r.explicit())

	values := make(map[string]any, len(refs))
	var unresolved []string
	if len(refs) > 0 {
		vals, err := r.fetcher.FetchRefs(ctx, refs)
		switch {
		case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			return nil, err
		case err != nil:
			r.logger.Warn("ref fetch failed, leaving refs unresolved", "refs", len(refs), "error", err)
			r.metrics.Refs(metrics.RefFailed, len(refs))
			unresolved = refs
		case len(vals) != len(refs):
			r.logger.Warn("ref fetch returned wrong number of values", "want", len(refs), "got", len(vals))
			r.metrics.Refs(metrics.RefFailed, len(refs))
			unresolved = refs
		default:
			for i, ref := range refs {
				if vals[i] == nil {
					unresolved = append(unresolved, ref)
					continue
				}
				values[ref] = tag(vals[i], ref)
			}
			if len(unresolved) > 0 {
				r.logger.Warn("refs not found", "count", len(unresolved), "first", unresolved[0])
			}
			r.metrics.Refs(metrics.RefMissing, len(unresolved))
			r.metrics.Refs(metrics.RefResolved, len(values))
		}
	}

	out, expanded, tables := substitute(rows, values)
	return &Result{
		Rows:         out,
		ExpandedRefs: expanded,
		Unresolved:   unresolved,
		TableSources: tables,
		Fetched:      len(refs),
	}, nil
}

// tag attaches provenance to a fetched value. Objects get a shallow copy with
// RefKey set; everything else is boxed.
func tag(v any, ref string) any {
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m)+1)
		for k, x := range m {
			out[k] = x
		}
		out[RefKey] = ref
		return out
	}
	return map[string]any{BoxKey: v, RefKey: ref}
}

// Provenance returns the ref a resolved value came from.
func Provenance(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	ref, ok := m[RefKey].(string)
	return ref, ok
}

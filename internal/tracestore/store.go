// Package tracestore is an in-memory trace server backend: calls grouped by
// project and objects keyed by ref. It answers call queries with the same
// query AST the engine compiles and resolves ref extra paths the way the
// ref-fetch service does.
package tracestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"weavequery/internal/logging"
	"weavequery/internal/orchestrator"
	"weavequery/internal/querylang"
	"weavequery/internal/ref"
	"weavequery/internal/traceapi"
)

// Call fields the structured filter reads.
const (
	FieldID        = "id"
	FieldProjectID = "project_id"
	FieldOpName    = "op_name"
	FieldTraceID   = "trace_id"
	FieldParentID  = "parent_id"
	FieldInputs    = "inputs"
	FieldOutput    = "output"
	FieldWBUserID  = "wb_user_id"
	FieldWBRunID   = "wb_run_id"
)

var (
	// ErrProjectRequired is returned for queries without a project id.
	ErrProjectRequired = fmt.Errorf("%w: project_id is required", traceapi.ErrInvalidRequest)
	// ErrObjectRef is returned by PutObject for refs that cannot key an object.
	ErrObjectRef = errors.New("object ref must not carry an extra path")
)

// Store holds calls and objects in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	calls   map[string][]map[string]any // project id -> calls in insertion order
	objects map[string]any              // canonical ref without extra -> value
	logger  *slog.Logger

	replaced chan struct{} // closed and remade by every Replace
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		calls:    make(map[string][]map[string]any),
		objects:  make(map[string]any),
		replaced: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Default(s.logger).With("component", "tracestore")
	return s
}

// AddCall appends a call. The call's project comes from its project_id
// field.
func (s *Store) AddCall(call map[string]any) error {
	project, _ := call[FieldProjectID].(string)
	if project == "" {
		return ErrProjectRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[project] = append(s.calls[project], call)
	return nil
}

// PutObject stores v under the given ref.
func (s *Store) PutObject(raw string, v any) error {
	key, err := objectKey(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = v
	return nil
}

// Replace swaps the whole content of the store for that of f.
func (s *Store) Replace(f *Fixture) error {
	calls := make(map[string][]map[string]any)
	for i, c := range f.Calls {
		project, _ := c[FieldProjectID].(string)
		if project == "" {
			return fmt.Errorf("call %d: %w", i, ErrProjectRequired)
		}
		calls[project] = append(calls[project], c)
	}
	objects := make(map[string]any, len(f.Objects))
	for raw, v := range f.Objects {
		key, err := objectKey(raw)
		if err != nil {
			return err
		}
		objects[key] = v
	}

	s.mu.Lock()
	s.calls, s.objects = calls, objects
	close(s.replaced)
	s.replaced = make(chan struct{})
	s.mu.Unlock()
	return nil
}

// Replaced returns a channel that is closed by the next successful Replace.
// Callers re-call Replaced after each wakeup.
func (s *Store) Replaced() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replaced
}

// Stats returns the number of calls and objects held.
func (s *Store) Stats() (calls, objects int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cs := range s.calls {
		calls += len(cs)
	}
	return calls, len(s.objects)
}

// QueryCalls returns one page of matching calls, sorted and paged per req.
func (s *Store) QueryCalls(ctx context.Context, req orchestrator.Request) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched, err := s.match(req.ProjectID, req.Filter, req.Query)
	if err != nil {
		return nil, err
	}

	if len(req.SortBy) > 0 {
		slices.SortStableFunc(matched, func(a, b map[string]any) int {
			for _, key := range req.SortBy {
				c := querylang.Compare(querylang.Lookup(a, key.Field), querylang.Lookup(b, key.Field))
				if key.Direction == "desc" {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}

	if req.Offset > 0 {
		matched = matched[min(req.Offset, len(matched)):]
	}
	if req.Limit > 0 && req.Limit < len(matched) {
		matched = matched[:req.Limit]
	}

	out := make([]any, len(matched))
	for i, c := range matched {
		out[i] = clone(c)
	}
	return out, nil
}

// QueryStats counts the calls matching req.
func (s *Store) QueryStats(ctx context.Context, req orchestrator.StatsRequest) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	matched, err := s.match(req.ProjectID, req.Filter, req.Query)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) match(project string, f *orchestrator.CallsFilter, q *querylang.Query) ([]map[string]any, error) {
	if project == "" {
		return nil, ErrProjectRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []map[string]any
	for _, call := range s.calls[project] {
		if !matchFilter(call, f) {
			continue
		}
		if q != nil && q.Expr != nil {
			ok, err := querylang.Eval(q.Expr, call)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, call)
	}
	return out, nil
}

// FetchRefs returns the value of each ref, or nil when it does not resolve.
func (s *Store) FetchRefs(ctx context.Context, refs []string) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]any, len(refs))
	missing := 0
	for i, raw := range refs {
		out[i] = clone(s.lookup(raw))
		if out[i] == nil {
			missing++
		}
	}
	if missing > 0 {
		s.logger.Debug("refs not found", "requested", len(refs), "missing", missing)
	}
	return out, nil
}

func (s *Store) lookup(raw string) any {
	r, err := ref.Parse(raw)
	if err != nil {
		return nil
	}
	extra := r.Extra
	r.Extra = nil
	v, ok := s.objects[r.String()]
	if !ok {
		return nil
	}
	return walkExtra(v, extra)
}

// walkExtra follows (edge, value) pairs of an extra path into v.
func walkExtra(v any, extra []string) any {
	if len(extra)%2 != 0 {
		return nil
	}
	for i := 0; i < len(extra); i += 2 {
		edge, val := extra[i], extra[i+1]
		switch edge {
		case ref.EdgeAttr, ref.EdgeKey:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			if v, ok = m[val]; !ok {
				return nil
			}
		case ref.EdgeIndex:
			arr, ok := v.([]any)
			if !ok {
				return nil
			}
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 || n >= len(arr) {
				return nil
			}
			v = arr[n]
		case ref.EdgeID:
			arr, ok := v.([]any)
			if !ok {
				return nil
			}
			v = rowByID(arr, val)
			if v == nil {
				return nil
			}
		default:
			return nil
		}
	}
	return v
}

// rowByID finds the table row whose digest (or id) is id.
func rowByID(rows []any, id string) any {
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if m["digest"] == id || m["id"] == id {
			return m
		}
	}
	return nil
}

func objectKey(raw string) (string, error) {
	r, err := ref.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(r.Extra) > 0 {
		return "", fmt.Errorf("%w: %s", ErrObjectRef, raw)
	}
	return r.String(), nil
}

func matchFilter(call map[string]any, f *orchestrator.CallsFilter) bool {
	if f == nil {
		return true
	}
	if len(f.OpNames) > 0 && !slices.ContainsFunc(f.OpNames, func(p string) bool {
		return opMatches(p, stringField(call, FieldOpName))
	}) {
		return false
	}
	if len(f.InputRefs) > 0 && !containsAnyString(call[FieldInputs], f.InputRefs) {
		return false
	}
	if len(f.OutputRefs) > 0 && !containsAnyString(call[FieldOutput], f.OutputRefs) {
		return false
	}
	if !inSet(f.ParentIDs, stringField(call, FieldParentID)) ||
		!inSet(f.TraceIDs, stringField(call, FieldTraceID)) ||
		!inSet(f.CallIDs, stringField(call, FieldID)) ||
		!inSet(f.WBUserIDs, stringField(call, FieldWBUserID)) ||
		!inSet(f.WBRunIDs, stringField(call, FieldWBRunID)) {
		return false
	}
	if f.TraceRootsOnly != nil && *f.TraceRootsOnly && stringField(call, FieldParentID) != "" {
		return false
	}
	return true
}

// opMatches matches an op name against a filter entry; a ":*" version
// matches every version of the op.
func opMatches(pattern, name string) bool {
	if prefix, ok := strings.CutSuffix(pattern, ":*"); ok {
		return strings.HasPrefix(name, prefix+":")
	}
	return pattern == name
}

// inSet is true for an empty set.
func inSet(set []string, v string) bool {
	return len(set) == 0 || slices.Contains(set, v)
}

func stringField(call map[string]any, key string) string {
	s, _ := call[key].(string)
	return s
}

// containsAnyString reports whether any string leaf of v is in want.
func containsAnyString(v any, want []string) bool {
	switch x := v.(type) {
	case string:
		return slices.Contains(want, x)
	case map[string]any:
		for _, e := range x {
			if containsAnyString(e, want) {
				return true
			}
		}
	case []any:
		for _, e := range x {
			if containsAnyString(e, want) {
				return true
			}
		}
	}
	return false
}

// clone deep-copies JSON-like containers so callers cannot mutate stored
// values.
func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = clone(e)
		}
		return m
	case []any:
		a := make([]any, len(x))
		for i, e := range x {
			a[i] = clone(e)
		}
		return a
	default:
		return v
	}
}

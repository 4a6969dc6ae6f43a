package resolver

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

const (
	modelRef   = "weave:///acme/proj/object/Model:v1"
	promptRef  = "weave:///acme/proj/object/Prompt:v3"
	datasetRef = "weave:///acme/proj/object/Dataset:v0"
	opRef      = "weave:///acme/proj/op/predict:v2"
	callRef    = "weave:///acme/proj/call/0192"
	tableRef   = "weave:///acme/proj/table/9f8e"
)

type fakeFetcher struct {
	mu    sync.Mutex
	vals  map[string]any
	err   error
	calls [][]string
}

func (f *fakeFetcher) FetchRefs(ctx context.Context, refs []string) ([]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), refs...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]any, len(refs))
	for i, r := range refs {
		out[i] = f.vals[r]
	}
	return out, nil
}

func TestResolveSubstitutesWithProvenance(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{
		modelRef: map[string]any{"name": "gpt", "temperature": 0.2},
	}}
	r := New(f)

	rows := []any{map[string]any{
		"id":     "c1",
		"inputs": map[string]any{"model": modelRef},
	}}
	res, err := r.Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}

	want := []any{map[string]any{
		"id": "c1",
		"inputs": map[string]any{"model": map[string]any{
			"name":        "gpt",
			"temperature": 0.2,
			RefKey:        modelRef,
		}},
	}}
	if !reflect.DeepEqual(res.Rows, want) {
		t.Errorf("rows = %v\nwant %v", res.Rows, want)
	}
	if got := res.ExpandedRefs["inputs.model"]; !reflect.DeepEqual(got, []string{modelRef}) {
		t.Errorf("ExpandedRefs = %v", res.ExpandedRefs)
	}

	// Input is not mutated.
	if rows[0].(map[string]any)["inputs"].(map[string]any)["model"] != modelRef {
		t.Error("input row was modified")
	}
	// Neither is the fetched value.
	if _, ok := f.vals[modelRef].(map[string]any)[RefKey]; ok {
		t.Error("fetched value was modified")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{
		modelRef: map[string]any{"name": "gpt", "prompt": promptRef},
		opRef:    "predict",
	}}
	r := New(f)

	rows := []any{map[string]any{"model": modelRef, "op": opRef}}
	first, err := r.Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(context.Background(), first.Rows)
	if err != nil {
		t.Fatal(err)
	}

	if len(f.calls) != 1 {
		t.Errorf("fetch called %d times, want 1: %v", len(f.calls), f.calls)
	}
	if second.Fetched != 0 {
		t.Errorf("second pass fetched %d refs", second.Fetched)
	}
	if !reflect.DeepEqual(second.Rows, first.Rows) {
		t.Errorf("second pass changed rows:\n%v\n%v", second.Rows, first.Rows)
	}
}

func TestResolveBatchesUniqueRefs(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{
		modelRef:  map[string]any{"n": 1.0},
		promptRef: map[string]any{"n": 2.0},
		opRef:     map[string]any{"n": 3.0},
	}}
	r := New(f)

	rows := []any{
		map[string]any{"a": modelRef, "b": promptRef},
		map[string]any{"a": modelRef, "b": []any{opRef, promptRef}},
		map[string]any{"a": modelRef},
	}
	res, err := r.Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}

	want := [][]string{{modelRef, promptRef, opRef}}
	if !reflect.DeepEqual(f.calls, want) {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
	if res.Fetched != 3 {
		t.Errorf("Fetched = %d, want 3", res.Fetched)
	}
	if got := res.ExpandedRefs["b.1"]; !reflect.DeepEqual(got, []string{promptRef}) {
		t.Errorf("ExpandedRefs[b.1] = %v", got)
	}
	if got := res.ExpandedRefs["a"]; !reflect.DeepEqual(got, []string{modelRef}) {
		t.Errorf("ExpandedRefs[a] = %v", got)
	}
}

func TestResolveNoRefsNoFetch(t *testing.T) {
	f := &fakeFetcher{}
	r := New(f)
	rows := []any{map[string]any{"x": "plain", "n": 1.0, "ok": true, "nil": nil}}
	res, err := r.Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 0 {
		t.Errorf("unexpected fetch %v", f.calls)
	}
	if !reflect.DeepEqual(res.Rows, rows) {
		t.Errorf("rows = %v", res.Rows)
	}
}

func TestResolveBoxesPrimitives(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{opRef: "def predict(x): ..."}}
	res, err := New(f).Resolve(context.Background(), []any{opRef})
	if err != nil {
		t.Fatal(err)
	}
	want := []any{map[string]any{BoxKey: "def predict(x): ...", RefKey: opRef}}
	if !reflect.DeepEqual(res.Rows, want) {
		t.Errorf("rows = %v, want %v", res.Rows, want)
	}
	if got, ok := Provenance(res.Rows[0]); !ok || got != opRef {
		t.Errorf("Provenance = %q, %v", got, ok)
	}
}

func TestResolveMissingRefKeptRaw(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{modelRef: map[string]any{"n": 1.0}}}
	rows := []any{map[string]any{"a": modelRef, "b": promptRef}}
	res, err := New(f).Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}
	row := res.Rows[0].(map[string]any)
	if row["b"] != promptRef {
		t.Errorf("missing ref replaced with %v", row["b"])
	}
	if _, ok := Provenance(row["a"]); !ok {
		t.Errorf("found ref not substituted: %v", row["a"])
	}
	if !reflect.DeepEqual(res.Unresolved, []string{promptRef}) {
		t.Errorf("Unresolved = %v", res.Unresolved)
	}
}

func TestResolveFetchErrorDegrades(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	rows := []any{map[string]any{"a": modelRef}}
	res, err := New(f).Resolve(context.Background(), rows)
	if err != nil {
		t.Fatalf("Resolve error = %v, want degraded result", err)
	}
	if !reflect.DeepEqual(res.Rows, rows) {
		t.Errorf("rows = %v", res.Rows)
	}
	if !reflect.DeepEqual(res.Unresolved, []string{modelRef}) {
		t.Errorf("Unresolved = %v", res.Unresolved)
	}
}

func TestResolveContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := FetchFunc(func(ctx context.Context, refs []string) ([]any, error) {
		return nil, ctx.Err()
	})
	_, err := New(f).Resolve(ctx, []any{modelRef})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestResolveNestedAndSelfReference(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{
		modelRef:  map[string]any{"prompt": promptRef, "self": modelRef},
		promptRef: map[string]any{"text": "hi", "back": modelRef},
	}}
	rows := []any{map[string]any{"m": modelRef, "p": promptRef}}
	res, err := New(f).Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}

	m := res.Rows[0].(map[string]any)["m"].(map[string]any)
	if m["self"] != modelRef {
		t.Errorf("self reference should stay raw, got %v", m["self"])
	}
	p, ok := m["prompt"].(map[string]any)
	if !ok {
		t.Fatalf("nested prompt not substituted: %v", m["prompt"])
	}
	if p["text"] != "hi" || p["back"] != modelRef {
		t.Errorf("nested prompt = %v", p)
	}
	if got := res.ExpandedRefs["m.prompt"]; !reflect.DeepEqual(got, []string{promptRef}) {
		t.Errorf("ExpandedRefs[m.prompt] = %v", got)
	}
}

func TestResolveDeeperRefsNeedExpand(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{
		modelRef:  map[string]any{"prompt": promptRef},
		promptRef: map[string]any{"text": "hi"},
	}}
	r := New(f)

	first, err := r.Resolve(context.Background(), []any{map[string]any{"m": modelRef}})
	if err != nil {
		t.Fatal(err)
	}
	m := first.Rows[0].(map[string]any)["m"].(map[string]any)
	if m["prompt"] != promptRef {
		t.Fatalf("deeper ref fetched without expansion: %v", m["prompt"])
	}

	r.Expand("m.prompt", promptRef)
	second, err := r.Resolve(context.Background(), first.Rows)
	if err != nil {
		t.Fatal(err)
	}
	if want := [][]string{{modelRef}, {promptRef}}; !reflect.DeepEqual(f.calls, want) {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
	m = second.Rows[0].(map[string]any)["m"].(map[string]any)
	if _, ok := Provenance(m["prompt"]); !ok {
		t.Errorf("expanded ref not substituted: %v", m["prompt"])
	}
}

func TestResolveAutoExpandOff(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{
		modelRef: map[string]any{"n": 1.0},
		callRef:  map[string]any{"op": "predict"},
	}}
	r := New(f, WithAutoExpand(false))
	rows := []any{map[string]any{"m": modelRef, "c": callRef}}

	res, err := r.Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 0 || !reflect.DeepEqual(res.Rows, rows) {
		t.Fatalf("auto-expand off still fetched: %v", f.calls)
	}

	// Call refs are never auto-expandable, but an explicit expansion fetches them.
	r.Expand("c", callRef)
	res, err = r.Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}
	if want := [][]string{{callRef}}; !reflect.DeepEqual(f.calls, want) {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
	if _, ok := Provenance(res.Rows[0].(map[string]any)["c"]); !ok {
		t.Error("explicit expansion not substituted")
	}
	if got := r.Expansions(); !reflect.DeepEqual(got, map[string][]string{callRef: {"c"}}) {
		t.Errorf("Expansions = %v", got)
	}
}

func TestResolveSkipsNonExpandable(t *testing.T) {
	f := &fakeFetcher{}
	rows := []any{map[string]any{
		"call":     callRef,
		"table":    tableRef,
		"artifact": "wandb-artifact:///acme/proj/object/model:v1",
	}}
	if _, err := New(f).Resolve(context.Background(), rows); err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 0 {
		t.Errorf("non-expandable refs fetched: %v", f.calls)
	}
}

func TestResolveTableSources(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{
		datasetRef: map[string]any{"name": "eval", "rows": tableRef},
	}}
	res, err := New(f).Resolve(context.Background(), []any{map[string]any{"dataset": datasetRef}})
	if err != nil {
		t.Fatal(err)
	}
	want := []TableSource{{
		Path:      "dataset.rows",
		TableRef:  tableRef,
		SourceRef: datasetRef + "/attr/rows",
	}}
	if !reflect.DeepEqual(res.TableSources, want) {
		t.Errorf("TableSources = %v, want %v", res.TableSources, want)
	}
	ds := res.Rows[0].(map[string]any)["dataset"].(map[string]any)
	if ds["rows"] != tableRef {
		t.Errorf("bare table ref should be preserved, got %v", ds["rows"])
	}
}

func TestResolveIgnoresProvenanceKey(t *testing.T) {
	f := &fakeFetcher{vals: map[string]any{modelRef: map[string]any{"n": 1.0}}}
	rows := []any{map[string]any{"x": map[string]any{RefKey: modelRef, "n": 1.0}}}
	res, err := New(f).Resolve(context.Background(), rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.calls) != 0 {
		t.Errorf("provenance ref fetched: %v", f.calls)
	}
	if !reflect.DeepEqual(res.Rows, rows) {
		t.Errorf("rows = %v", res.Rows)
	}
}

func TestResolveTableRowWithExtra(t *testing.T) {
	rowRef := tableRef + "/id/abc"
	f := &fakeFetcher{vals: map[string]any{rowRef: map[string]any{"input": "q"}}}
	res, err := New(f).Resolve(context.Background(), []any{map[string]any{"example": rowRef}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := Provenance(res.Rows[0].(map[string]any)["example"]); !ok {
		t.Errorf("table ref with extra path not substituted: %v", res.Rows[0])
	}
}

package tracestore

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"weavequery/internal/filter"
	"weavequery/internal/orchestrator"
	"weavequery/internal/querylang"
	"weavequery/internal/traceapi"
)

const project = "acme/proj"

func call(id, op string, extra map[string]any) map[string]any {
	c := map[string]any{
		FieldID:        id,
		FieldProjectID: project,
		FieldOpName:    op,
		FieldTraceID:   "t-" + id,
	}
	for k, v := range extra {
		c[k] = v
	}
	return c
}

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	calls := []map[string]any{
		call("a", "weave:///acme/proj/op/predict:v1", map[string]any{
			"started_at":  "2025-03-01T10:00:00Z",
			"summary":     map[string]any{"latency": 120.0},
			FieldInputs:   map[string]any{"model": "weave:///acme/proj/object/Model:v0"},
			FieldWBUserID: "u1",
		}),
		call("b", "weave:///acme/proj/op/predict:v2", map[string]any{
			"started_at":  "2025-03-02T10:00:00Z",
			"summary":     map[string]any{"latency": 40.0},
			FieldParentID: "a",
			FieldOutput:   []any{"weave:///acme/proj/object/Answer:v3"},
			FieldWBUserID: "u2",
		}),
		call("c", "weave:///acme/proj/op/score:v1", map[string]any{
			"started_at": "2025-03-03T10:00:00Z",
			"summary":    map[string]any{"latency": 80.0},
		}),
		{FieldID: "z", FieldProjectID: "other/proj", FieldOpName: "weave:///other/proj/op/predict:v1"},
	}
	for _, c := range calls {
		if err := s.AddCall(c); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func ids(t *testing.T, rows []any) []string {
	t.Helper()
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			t.Fatalf("row %T is not an object", r)
		}
		out = append(out, m[FieldID].(string))
	}
	return out
}

func TestQueryCallsFilter(t *testing.T) {
	s := seeded(t)
	yes := true

	tests := []struct {
		name   string
		filter *orchestrator.CallsFilter
		want   []string
	}{
		{"nil", nil, []string{"a", "b", "c"}},
		{"op exact", &orchestrator.CallsFilter{OpNames: []string{"weave:///acme/proj/op/predict:v2"}}, []string{"b"}},
		{"op any version", &orchestrator.CallsFilter{OpNames: []string{"weave:///acme/proj/op/predict:*"}}, []string{"a", "b"}},
		{"input ref", &orchestrator.CallsFilter{InputRefs: []string{"weave:///acme/proj/object/Model:v0"}}, []string{"a"}},
		{"output ref", &orchestrator.CallsFilter{OutputRefs: []string{"weave:///acme/proj/object/Answer:v3"}}, []string{"b"}},
		{"parent", &orchestrator.CallsFilter{ParentIDs: []string{"a"}}, []string{"b"}},
		{"trace", &orchestrator.CallsFilter{TraceIDs: []string{"t-c"}}, []string{"c"}},
		{"call ids", &orchestrator.CallsFilter{CallIDs: []string{"a", "c"}}, []string{"a", "c"}},
		{"roots only", &orchestrator.CallsFilter{TraceRootsOnly: &yes}, []string{"a", "c"}},
		{"user", &orchestrator.CallsFilter{WBUserIDs: []string{"u2"}}, []string{"b"}},
		{"run", &orchestrator.CallsFilter{WBRunIDs: []string{"r1"}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.QueryCalls(context.Background(), orchestrator.Request{ProjectID: project, Filter: tt.filter})
			if err != nil {
				t.Fatal(err)
			}
			if got := ids(t, rows); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryCallsCompiledFilters(t *testing.T) {
	s := seeded(t)
	q, err := filter.Compile([]filter.Filter{
		{Field: "summary.latency", Operator: filter.OpNumGt, Value: 50.0},
		{Field: "started_at", Operator: filter.OpDateAfter, Value: "2025-03-01T12:00:00Z"},
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := s.QueryCalls(context.Background(), orchestrator.Request{ProjectID: project, Query: q})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, rows); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("ids = %v, want [c]", got)
	}
}

func TestQueryCallsSortAndPage(t *testing.T) {
	s := seeded(t)
	req := orchestrator.Request{
		ProjectID: project,
		SortBy:    []orchestrator.SortBy{{Field: "summary.latency", Direction: "desc"}},
		Limit:     2,
	}
	rows, err := s.QueryCalls(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, rows); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("first page = %v, want [a c]", got)
	}

	req.Offset = 2
	rows, err = s.QueryCalls(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(t, rows); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("second page = %v, want [b]", got)
	}

	req.Offset = 10
	rows, err = s.QueryCalls(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("past the end = %v, want none", rows)
	}
}

func TestQueryCallsReturnsCopies(t *testing.T) {
	s := seeded(t)
	rows, err := s.QueryCalls(context.Background(), orchestrator.Request{ProjectID: project, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	rows[0].(map[string]any)["summary"].(map[string]any)["latency"] = -1.0

	rows, _ = s.QueryCalls(context.Background(), orchestrator.Request{ProjectID: project, Limit: 1})
	if got := rows[0].(map[string]any)["summary"].(map[string]any)["latency"]; got != 120.0 {
		t.Errorf("stored latency = %v, want 120", got)
	}
}

func TestQueryStats(t *testing.T) {
	s := seeded(t)
	q := &querylang.Query{Expr: querylang.Gt(querylang.Field("summary.latency"), querylang.Lit(50.0))}
	n, err := s.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project, Query: q})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestQueryErrors(t *testing.T) {
	s := seeded(t)

	_, err := s.QueryCalls(context.Background(), orchestrator.Request{})
	if !errors.Is(err, ErrProjectRequired) || !errors.Is(err, traceapi.ErrInvalidRequest) {
		t.Errorf("missing project: err = %v", err)
	}

	bad := &querylang.Query{Expr: querylang.Field("summary.latency")}
	if _, err := s.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project, Query: bad}); !errors.Is(err, querylang.ErrMalformed) {
		t.Errorf("non-predicate query: err = %v, want ErrMalformed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.QueryCalls(ctx, orchestrator.Request{ProjectID: project}); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled: err = %v", err)
	}
	if err := s.AddCall(map[string]any{FieldID: "x"}); !errors.Is(err, ErrProjectRequired) {
		t.Errorf("AddCall without project: err = %v", err)
	}
}

func TestFetchRefs(t *testing.T) {
	s := New()
	model := map[string]any{
		"name":   "gpt",
		"params": map[string]any{"temperature": 0.2},
		"layers": []any{"embed", "attn"},
	}
	rows := []any{
		map[string]any{"digest": "r1", "input": "hello"},
		map[string]any{"digest": "r2", "input": "bye"},
	}
	for raw, v := range map[string]any{
		"weave:///acme/proj/object/Model:v0": model,
		"weave:///acme/proj/table/9f8e":      rows,
	} {
		if err := s.PutObject(raw, v); err != nil {
			t.Fatal(err)
		}
	}

	refs := []string{
		"weave:///acme/proj/object/Model:v0",
		"weave:///acme/proj/object/Model:v0/attr/params/key/temperature",
		"weave:///acme/proj/object/Model:v0/attr/layers/index/1",
		"weave:///acme/proj/table/9f8e/id/r2/key/input",
		"weave:///acme/proj/object/Model:v0/attr/missing",
		"weave:///acme/proj/object/Model:v0/attr/layers/index/9",
		"weave:///acme/proj/object/Model:v0/attr",
		"weave:///acme/proj/object/Other:v0",
		"not a ref",
	}
	got, err := s.FetchRefs(context.Background(), refs)
	if err != nil {
		t.Fatal(err)
	}
	want := []any{model, 0.2, "attn", "bye", nil, nil, nil, nil, nil}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FetchRefs = %#v\nwant %#v", got, want)
	}
}

func TestPutObjectRejectsExtra(t *testing.T) {
	s := New()
	if err := s.PutObject("weave:///acme/proj/object/Model:v0/attr/x", 1.0); !errors.Is(err, ErrObjectRef) {
		t.Errorf("err = %v, want ErrObjectRef", err)
	}
	if err := s.PutObject("nope", 1.0); err == nil {
		t.Error("expected error for invalid ref")
	}
}

func TestReplacedSignals(t *testing.T) {
	s := New()
	ch := s.Replaced()
	select {
	case <-ch:
		t.Fatal("signalled before Replace")
	default:
	}

	if err := s.Replace(&Fixture{Calls: []map[string]any{{"id": "x"}}}); err == nil {
		t.Fatal("expected error for call without project")
	}
	select {
	case <-ch:
		t.Fatal("signalled by a failed Replace")
	default:
	}

	if err := s.Replace(&Fixture{Calls: []map[string]any{{"id": "x", "project_id": "acme/proj"}}}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	default:
		t.Fatal("not signalled by Replace")
	}
	if s.Replaced() == ch {
		t.Error("Replaced returned the closed channel")
	}
}

package traceclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"weavequery/internal/filter"
	"weavequery/internal/metrics"
	"weavequery/internal/orchestrator"
	"weavequery/internal/resolver"
	"weavequery/internal/traceapi"
	"weavequery/internal/tracestore"
)

const project = "acme/proj"

var (
	_ resolver.Fetcher         = (*Client)(nil)
	_ orchestrator.CallService = (*Client)(nil)
	_ traceapi.Service         = (*tracestore.Store)(nil)
)

func newServer(t *testing.T) (*tracestore.Store, *httptest.Server) {
	t.Helper()
	store := tracestore.New()
	for i, c := range []map[string]any{
		{"id": "a", "project_id": project, "op_name": "weave:///acme/proj/op/predict:v1", "summary": map[string]any{"latency": 120.0},
			"inputs": map[string]any{"model": "weave:///acme/proj/object/Model:v0"}},
		{"id": "b", "project_id": project, "op_name": "weave:///acme/proj/op/score:v1", "summary": map[string]any{"latency": 40.0}},
		{"id": "c", "project_id": project, "op_name": "weave:///acme/proj/op/predict:v2", "summary": map[string]any{"latency": 80.0}},
	} {
		if err := store.AddCall(c); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if err := store.PutObject("weave:///acme/proj/object/Model:v0", map[string]any{"name": "gpt", "temperature": 0.2}); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	traceapi.Register(mux, store)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return store, srv
}

func TestFetchRefs(t *testing.T) {
	_, srv := newServer(t)
	c := New(srv.URL + "/")

	got, err := c.FetchRefs(context.Background(), []string{
		"weave:///acme/proj/object/Model:v0",
		"weave:///acme/proj/object/Missing:v0",
		"weave:///acme/proj/object/Model:v0/attr/temperature",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []any{map[string]any{"name": "gpt", "temperature": 0.2}, nil, 0.2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FetchRefs = %#v, want %#v", got, want)
	}
}

func TestFetchRefsEmpty(t *testing.T) {
	c := New("http://127.0.0.1:1")
	got, err := c.FetchRefs(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("FetchRefs(nil) = %v, %v; want nil, nil without a request", got, err)
	}
}

func TestQueryCallsAndStats(t *testing.T) {
	_, srv := newServer(t)
	c := New(srv.URL)

	q, err := filter.Compile([]filter.Filter{
		{Field: "op_name", Operator: filter.OpContains, Value: "predict"},
	})
	if err != nil {
		t.Fatal(err)
	}
	rows, err := c.QueryCalls(context.Background(), orchestrator.Request{
		ProjectID: project,
		Query:     q,
		SortBy:    []orchestrator.SortBy{{Field: "summary.latency", Direction: "asc"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.(map[string]any)["id"].(string))
	}
	if want := []string{"c", "a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}

	n, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project, Query: q})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestInvalidArgument(t *testing.T) {
	_, srv := newServer(t)
	c := New(srv.URL)

	_, err := c.QueryCalls(context.Background(), orchestrator.Request{})
	if got := connect.CodeOf(err); got != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want invalid_argument (err %v)", got, err)
	}
}

func TestResponseShape(t *testing.T) {
	svc := stubService{vals: []any{1.0}}
	mux := http.NewServeMux()
	traceapi.Register(mux, svc)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := New(srv.URL).FetchRefs(context.Background(), []string{"weave:///e/p/object/a:v0", "weave:///e/p/object/b:v0"})
	if !errors.Is(err, ErrResponseShape) {
		t.Errorf("err = %v, want ErrResponseShape", err)
	}
}

func TestMetrics(t *testing.T) {
	_, srv := newServer(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := New(srv.URL, WithMetrics(m))

	if _, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{}); err == nil {
		t.Fatal("expected error")
	}

	reqs := m.Collectors().Requests
	if got := testutil.ToFloat64(reqs.WithLabelValues(endpointStats, "ok")); got != 1 {
		t.Errorf("ok requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reqs.WithLabelValues(endpointStats, connect.CodeInvalidArgument.String())); got != 1 {
		t.Errorf("failed requests = %v, want 1", got)
	}
}

func TestRateLimitHonoursContext(t *testing.T) {
	_, srv := newServer(t)
	c := New(srv.URL, WithRateLimit(0.001, 1))

	if _, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.QueryStats(ctx, orchestrator.StatsRequest{ProjectID: project}); err == nil {
		t.Fatal("second request should wait on the limiter and fail with the context")
	}
}

func TestTimeout(t *testing.T) {
	svc := stubService{delay: time.Second}
	mux := http.NewServeMux()
	traceapi.Register(mux, svc)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, WithTimeout(20*time.Millisecond))
	_, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project})
	if got := connect.CodeOf(err); got != connect.CodeDeadlineExceeded {
		t.Errorf("code = %v, want deadline_exceeded (err %v)", got, err)
	}
}

type stubService struct {
	vals  []any
	delay time.Duration
}

func (s stubService) FetchRefs(context.Context, []string) ([]any, error) {
	return s.vals, nil
}

func (s stubService) QueryCalls(context.Context, orchestrator.Request) ([]any, error) {
	return nil, nil
}

func (s stubService) QueryStats(ctx context.Context, _ orchestrator.StatsRequest) (int, error) {
	select {
	case <-time.After(s.delay):
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestClientIDHeader(t *testing.T) {
	store, _ := newServer(t)
	mux := http.NewServeMux()
	traceapi.Register(mux, store)
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case got <- r.Header.Get(ClientIDHeader):
		default:
		}
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, WithClientID("client-1"))
	if _, err := c.QueryStats(context.Background(), orchestrator.StatsRequest{ProjectID: project}); err != nil {
		t.Fatal(err)
	}
	if id := <-got; id != "client-1" {
		t.Errorf("%s = %q, want client-1", ClientIDHeader, id)
	}
}

// Package traceclient talks to a remote trace server: batched ref fetches
// and call queries over connect unary calls with the JSON codec.
//
// Client satisfies both resolver.Fetcher and orchestrator.CallService, so a
// single client backs the whole engine.
package traceclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/types/known/structpb"

	"weavequery/internal/logging"
	"weavequery/internal/metrics"
	"weavequery/internal/orchestrator"
	"weavequery/internal/traceapi"
)

// ErrResponseShape is returned when the server answers with a payload that
// does not match the request (e.g. a value count differing from the ref
// count).
var ErrResponseShape = errors.New("unexpected response shape")

// Endpoint labels for metrics and logs.
const (
	endpointReadBatch = "read_batch"
	endpointQuery     = "calls_query"
	endpointStats     = "calls_stats"
)

type unaryClient = connect.Client[structpb.Struct, structpb.Struct]

// Client is a trace server client. It is safe for concurrent use.
type Client struct {
	readBatch *unaryClient
	query     *unaryClient
	stats     *unaryClient

	limiter *rate.Limiter // nil when unlimited
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type options struct {
	httpClient connect.HTTPClient
	limit      rate.Limit
	burst      int
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clientOpts []connect.ClientOption
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient sets the transport. Defaults to http.DefaultClient.
func WithHTTPClient(c connect.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRateLimit caps outgoing requests at perSecond with the given burst.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.limit = rate.Limit(perSecond)
		o.burst = max(burst, 1)
	}
}

// WithTimeout bounds each request. Zero means no per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger. Defaults to discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ClientIDHeader carries the caller's stable identity.
const ClientIDHeader = traceapi.ClientIDHeader

// WithClientID sends id in ClientIDHeader on every request.
func WithClientID(id string) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, connect.WithInterceptors(connect.UnaryInterceptorFunc(
			func(next connect.UnaryFunc) connect.UnaryFunc {
				return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
					req.Header().Set(ClientIDHeader, id)
					return next(ctx, req)
				}
			},
		)))
	}
}

// WithClientOptions passes extra connect options (interceptors, headers).
func WithClientOptions(opts ...connect.ClientOption) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	o := options{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}
	baseURL = strings.TrimRight(baseURL, "/")
	clientOpts := append([]connect.ClientOption{connect.WithProtoJSON()}, o.clientOpts...)

	c := &Client{
		readBatch: connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, baseURL+traceapi.ReadBatchProcedure, clientOpts...),
		query:     connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, baseURL+traceapi.CallsQueryProcedure, clientOpts...),
		stats:     connect.NewClient[structpb.Struct, structpb.Struct](o.httpClient, baseURL+traceapi.CallsStatsProcedure, clientOpts...),
		timeout:   o.timeout,
		metrics:   o.metrics,
		logger:    logging.Default(o.logger).With("component", "traceclient"),
	}
	if o.limit > 0 {
		c.limiter = rate.NewLimiter(o.limit, o.burst)
	}
	return c
}

// FetchRefs reads refs in one batch. The result has one value per ref,
// nil where the server has no value.
func (c *Client) FetchRefs(ctx context.Context, refs []string) ([]any, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	var out traceapi.ReadBatchResponse
	if err := c.call(ctx, endpointReadBatch, c.readBatch, traceapi.ReadBatchRequest{Refs: refs}, &out); err != nil {
		return nil, err
	}
	if len(out.Vals) != len(refs) {
		return nil, fmt.Errorf("%s: %w: %d values for %d refs", endpointReadBatch, ErrResponseShape, len(out.Vals), len(refs))
	}
	return out.Vals, nil
}

// QueryCalls runs a call query.
func (c *Client) QueryCalls(ctx context.Context, req orchestrator.Request) ([]any, error) {
	var out traceapi.CallsQueryResponse
	if err := c.call(ctx, endpointQuery, c.query, req, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

// QueryStats counts the calls matching req.
func (c *Client) QueryStats(ctx context.Context, req orchestrator.StatsRequest) (int, error) {
	var out traceapi.CallsStatsResponse
	if err := c.call(ctx, endpointStats, c.stats, req, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *Client) call(ctx context.Context, endpoint string, uc *unaryClient, in, out any) error {
	msg, err := traceapi.Encode(in)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", endpoint, err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := uc.CallUnary(ctx, connect.NewRequest(msg))
	elapsed := time.Since(start)
	if err != nil {
		code := connect.CodeOf(err)
		c.metrics.Request(endpoint, code.String(), elapsed)
		c.logger.Warn("request failed", "endpoint", endpoint, "code", code.String(), "elapsed", elapsed, "error", err)
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	c.metrics.Request(endpoint, "ok", elapsed)
	c.logger.Debug("request done", "endpoint", endpoint, "elapsed", elapsed)

	if err := traceapi.Decode(resp.Msg, out); err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	return nil
}

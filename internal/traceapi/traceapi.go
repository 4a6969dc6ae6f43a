// Package traceapi is the wire contract of the trace server: the three
// procedures the engine calls, their JSON payloads, and connect handlers
// that serve them from any Service.
//
// Payloads travel as google.protobuf.Struct in the connect JSON codec, which
// puts a plain JSON object on the wire. That keeps the handlers and client
// compatible with servers that know nothing about connect.
package traceapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"weavequery/internal/orchestrator"
)

// Procedure paths.
const (
	ReadBatchProcedure  = "/refs/read_batch"
	CallsQueryProcedure = "/calls/query"
	CallsStatsProcedure = "/calls/query_stats"
)

// ClientIDHeader identifies the calling client. Servers key per-client
// rate limits on it.
const ClientIDHeader = "X-Weavequery-Client"

// ErrInvalidRequest marks request errors that are the caller's fault.
// Handlers report them as invalid_argument.
var ErrInvalidRequest = errors.New("invalid request")

// Service answers trace server requests.
type Service interface {
	FetchRefs(ctx context.Context, refs []string) ([]any, error)
	QueryCalls(ctx context.Context, req orchestrator.Request) ([]any, error)
	QueryStats(ctx context.Context, req orchestrator.StatsRequest) (int, error)
}

// ReadBatchRequest is the ref-fetch payload.
type ReadBatchRequest struct {
	Refs []string `json:"refs"`
}

// ReadBatchResponse holds one value per requested ref, null when missing.
type ReadBatchResponse struct {
	Vals []any `json:"vals"`
}

// CallsQueryResponse is the call-query result.
type CallsQueryResponse struct {
	Calls []any `json:"calls"`
}

// CallsStatsResponse is the count result.
type CallsStatsResponse struct {
	Count int `json:"count"`
}

// Encode converts a JSON-marshalable value into a Struct. v must marshal to
// a JSON object.
func Encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return s, nil
}

// Decode unmarshals a Struct into v through its JSON form, so custom
// UnmarshalJSON methods (such as querylang.Query's) apply.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

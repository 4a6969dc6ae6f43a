package traceapi

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"weavequery/internal/orchestrator"
	"weavequery/internal/querylang"
)

// Register mounts the three procedures on mux.
func Register(mux *http.ServeMux, svc Service, opts ...connect.HandlerOption) {
	mux.Handle(ReadBatchProcedure, connect.NewUnaryHandler(ReadBatchProcedure, readBatch(svc), opts...))
	mux.Handle(CallsQueryProcedure, connect.NewUnaryHandler(CallsQueryProcedure, callsQuery(svc), opts...))
	mux.Handle(CallsStatsProcedure, connect.NewUnaryHandler(CallsStatsProcedure, callsStats(svc), opts...))
}

type unaryFunc = func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)

func readBatch(svc Service) unaryFunc {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		var in ReadBatchRequest
		if err := Decode(req.Msg, &in); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		vals, err := svc.FetchRefs(ctx, in.Refs)
		if err != nil {
			return nil, connectError(err)
		}
		if vals == nil {
			vals = []any{}
		}
		return respond(ReadBatchResponse{Vals: vals})
	}
}

func callsQuery(svc Service) unaryFunc {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		var in orchestrator.Request
		if err := Decode(req.Msg, &in); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		calls, err := svc.QueryCalls(ctx, in)
		if err != nil {
			return nil, connectError(err)
		}
		if calls == nil {
			calls = []any{}
		}
		return respond(CallsQueryResponse{Calls: calls})
	}
}

func callsStats(svc Service) unaryFunc {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		var in orchestrator.StatsRequest
		if err := Decode(req.Msg, &in); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		n, err := svc.QueryStats(ctx, in)
		if err != nil {
			return nil, connectError(err)
		}
		return respond(CallsStatsResponse{Count: n})
	}
}

func respond(v any) (*connect.Response[structpb.Struct], error) {
	s, err := Encode(v)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(s), nil
}

// connectError maps service errors to connect codes.
func connectError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, querylang.ErrMalformed),
		errors.Is(err, querylang.ErrUnknownOperator):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

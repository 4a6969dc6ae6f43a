// Package orchestrator turns a grid view into call-query requests and
// assembles the resulting page.
//
// It owns no business logic of its own: filters are compiled by package
// filter, refs are resolved by package resolver, and requests are executed
// by a CallService. The orchestrator plans, fans out and merges.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"weavequery/internal/filter"
	"weavequery/internal/gridstate"
	"weavequery/internal/logging"
	"weavequery/internal/resolver"
)

// ErrNoProject is returned by Run when the orchestrator has no project id.
var ErrNoProject = errors.New("no project id configured")

// CallService executes call queries.
type CallService interface {
	QueryCalls(ctx context.Context, req Request) ([]any, error)
	QueryStats(ctx context.Context, req StatsRequest) (int, error)
}

// Page is one page of calls.
type Page struct {
	Rows []any `json:"rows"`
	// Total is the stats count, or an estimate when Estimated is set.
	Total     int     `json:"total"`
	Estimated bool    `json:"estimated"`
	Request   Request `json:"request"`

	// Set when a resolver is configured.
	ExpandedRefs map[string][]string    `json:"expanded_refs,omitempty"`
	Unresolved   []string               `json:"unresolved,omitempty"`
	TableSources []resolver.TableSource `json:"table_sources,omitempty"`
}

// Orchestrator runs grid queries against a CallService.
type Orchestrator struct {
	svc       CallService
	projectID string
	resolver  *resolver.Resolver
	skipCount bool
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithResolver resolves refs in returned rows.
func WithResolver(r *resolver.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = r }
}

// WithoutCount skips the stats query; totals are always estimated.
func WithoutCount() Option {
	return func(o *Orchestrator) { o.skipCount = true }
}

// WithLogger sets the logger. Defaults to discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator for one project.
func New(svc CallService, projectID string, opts ...Option) *Orchestrator {
	o := &Orchestrator{svc: svc, projectID: projectID}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.Default(o.logger).With("component", "orchestrator")
	return o
}

// Run compiles the view's filters, queries rows and count concurrently and
// merges the result. A failed count degrades to an estimate; a failed rows
// query or an unsupported filter is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, hl HighLevelFilter, view gridstate.View) (*Page, error) {
	if o.projectID == "" {
		return nil, ErrNoProject
	}

	compiled, err := filter.Compile(view.Filter.Filters())
	if err != nil {
		return nil, err
	}
	req := PlanQuery(o.projectID, hl, compiled, view.Sort, view.Pagination)

	var (
		rows  []any
		stats *CountResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = o.svc.QueryCalls(gctx, req)
		return err
	})
	if !o.skipCount {
		g.Go(func() error {
			n, err := o.svc.QueryStats(gctx, PlanStats(req))
			if err != nil {
				if ctx.Err() == nil && gctx.Err() == nil {
					o.logger.Warn("call count failed, estimating total", "error", err)
				}
				return nil
			}
			stats = &CountResult{Count: n}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &Page{
		Rows:      rows,
		Total:     MergeCount(req.Offset, len(rows), stats),
		Estimated: stats == nil,
		Request:   req,
	}
	if page.Rows == nil {
		page.Rows = []any{}
	}

	if o.resolver != nil && len(rows) > 0 {
		res, err := o.resolver.Resolve(ctx, rows)
		if err != nil {
			return nil, err
		}
		page.Rows = res.Rows
		page.ExpandedRefs = res.ExpandedRefs
		page.Unresolved = res.Unresolved
		page.TableSources = res.TableSources
	}

	o.logger.Debug("page loaded", "rows", len(page.Rows), "total", page.Total, "estimated", page.Estimated)
	return page, nil
}

package orchestrator

import (
	"weavequery/internal/gridstate"
	"weavequery/internal/querylang"
)

// HighLevelFilter is the semantic filter chosen through dedicated UI
// controls (op picker, trace drill-down) rather than the free-form filter
// editor.
type HighLevelFilter struct {
	OpVersionRefs           []string `json:"opVersionRefs,omitempty"`
	InputObjectVersionRefs  []string `json:"inputObjectVersionRefs,omitempty"`
	OutputObjectVersionRefs []string `json:"outputObjectVersionRefs,omitempty"`
	ParentID                string   `json:"parentId,omitempty"`
	TraceID                 string   `json:"traceId,omitempty"`
	CallIDs                 []string `json:"callIds,omitempty"`
	TraceRootsOnly          bool     `json:"traceRootsOnly,omitempty"`
	UserIDs                 []string `json:"userIds,omitempty"`
	RunIDs                  []string `json:"runIds,omitempty"`
}

// CallsFilter is the structured filter understood by the call-query
// service. It is taken field for field from the HighLevelFilter.
type CallsFilter struct {
	OpNames        []string `json:"op_names,omitempty"`
	InputRefs      []string `json:"input_refs,omitempty"`
	OutputRefs     []string `json:"output_refs,omitempty"`
	ParentIDs      []string `json:"parent_ids,omitempty"`
	TraceIDs       []string `json:"trace_ids,omitempty"`
	CallIDs        []string `json:"call_ids,omitempty"`
	TraceRootsOnly *bool    `json:"trace_roots_only,omitempty"`
	WBUserIDs      []string `json:"wb_user_ids,omitempty"`
	WBRunIDs       []string `json:"wb_run_ids,omitempty"`
}

// IsZero reports whether the filter constrains nothing.
func (f *CallsFilter) IsZero() bool {
	return f == nil || (len(f.OpNames) == 0 && len(f.InputRefs) == 0 && len(f.OutputRefs) == 0 &&
		len(f.ParentIDs) == 0 && len(f.TraceIDs) == 0 && len(f.CallIDs) == 0 &&
		f.TraceRootsOnly == nil && len(f.WBUserIDs) == 0 && len(f.WBRunIDs) == 0)
}

// SortBy is one sort key of a call query.
type SortBy struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

// Request is the call-query payload.
type Request struct {
	ProjectID string           `json:"project_id"`
	Filter    *CallsFilter     `json:"filter,omitempty"`
	Query     *querylang.Query `json:"query,omitempty"`
	SortBy    []SortBy         `json:"sort_by,omitempty"`
	Limit     int              `json:"limit,omitempty"`
	Offset    int              `json:"offset,omitempty"`
}

// StatsRequest is the count payload: the same predicate without sort or
// paging.
type StatsRequest struct {
	ProjectID string           `json:"project_id"`
	Filter    *CallsFilter     `json:"filter,omitempty"`
	Query     *querylang.Query `json:"query,omitempty"`
}

// CountResult is the state of a stats-count call.
type CountResult struct {
	Count   int
	Loading bool
}

// PlanQuery builds the call-query request. Structured fields come from hl,
// free-form predicates only from compiled (which may be nil), sort items
// without a direction are dropped and paging becomes limit/offset.
func PlanQuery(projectID string, hl HighLevelFilter, compiled *querylang.Query, sort gridstate.SortModel, page gridstate.Pagination) Request {
	req := Request{
		ProjectID: projectID,
		Query:     compiled,
		Limit:     page.PageSize,
		Offset:    page.Offset(),
	}
	if f := lowLevelFilter(hl); !f.IsZero() {
		req.Filter = f
	}
	for _, s := range sort {
		if s.Sort == nil {
			continue
		}
		req.SortBy = append(req.SortBy, SortBy{Field: s.Field, Direction: string(*s.Sort)})
	}
	return req
}

// PlanStats derives the count request from req.
func PlanStats(req Request) StatsRequest {
	return StatsRequest{ProjectID: req.ProjectID, Filter: req.Filter, Query: req.Query}
}

// MergeCount returns the total row count for a page. A finished stats count
// wins; otherwise offset+rows is a lower bound that never undercounts what
// the user has already paged through.
func MergeCount(offset, rows int, stats *CountResult) int {
	if stats != nil && !stats.Loading {
		return stats.Count
	}
	return offset + rows
}

func lowLevelFilter(hl HighLevelFilter) *CallsFilter {
	f := &CallsFilter{
		OpNames:    clone(hl.OpVersionRefs),
		InputRefs:  clone(hl.InputObjectVersionRefs),
		OutputRefs: clone(hl.OutputObjectVersionRefs),
		CallIDs:    clone(hl.CallIDs),
		WBUserIDs:  clone(hl.UserIDs),
		WBRunIDs:   clone(hl.RunIDs),
	}
	if hl.ParentID != "" {
		f.ParentIDs = []string{hl.ParentID}
	}
	if hl.TraceID != "" {
		f.TraceIDs = []string{hl.TraceID}
	}
	if hl.TraceRootsOnly {
		on := true
		f.TraceRootsOnly = &on
	}
	return f
}

func clone(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}

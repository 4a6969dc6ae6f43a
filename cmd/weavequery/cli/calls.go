package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"weavequery/internal/filter"
	"weavequery/internal/gridstate"
	"weavequery/internal/orchestrator"
	"weavequery/internal/ref"
	"weavequery/internal/resolver"
)

// pinnedColumns are always pinned to the left of the calls grid.
var pinnedColumns = []string{"op_name"}

func newCallsCmd(a *app) *cobra.Command {
	var (
		viewName    string
		page        int
		pageSize    int
		sorts       []string
		filtersFile string
		resolve     bool
		noCount     bool
		expand      []string
		hl          orchestrator.HighLevelFilter
	)

	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Query one page of calls",
		Long: "Runs a calls grid query. The grid state starts from the named view " +
			"(or the default view) and is overridden by flags.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := a.projectID()
			if err != nil {
				return err
			}

			view := gridstate.DefaultView()
			if viewName != "" {
				store, err := a.settingsStore()
				if err != nil {
					return err
				}
				defer func() { _ = store.Close() }()
				view, err = gridstate.LoadView(cmd.Context(), store, viewName, view, pinnedColumns)
				if err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("page") || cmd.Flags().Changed("page-size") {
				p := view.Pagination
				if cmd.Flags().Changed("page") {
					p.Page = page
				}
				if cmd.Flags().Changed("page-size") {
					p.PageSize = pageSize
				}
				view.Pagination = gridstate.PaginationOf(p.Page, p.PageSize)
			}
			if err := checkProjectRefs(project, "--input-ref", hl.InputObjectVersionRefs); err != nil {
				return err
			}
			if err := checkProjectRefs(project, "--output-ref", hl.OutputObjectVersionRefs); err != nil {
				return err
			}
			if len(sorts) > 0 {
				model, err := parseSorts(sorts)
				if err != nil {
					return err
				}
				view.Sort = model
			}
			if filtersFile != "" {
				var filters []filter.Filter
				if err := a.decodeArg([]string{filtersFile}, &filters); err != nil {
					return err
				}
				view.Filter = gridstate.FilterModelOf(filters)
			}

			client, err := a.traceClient(cmd)
			if err != nil {
				return err
			}
			opts := []orchestrator.Option{orchestrator.WithLogger(a.logger)}
			if noCount {
				opts = append(opts, orchestrator.WithoutCount())
			}
			if resolve || len(expand) > 0 {
				fetcher, err := a.refFetcher(client)
				if err != nil {
					return err
				}
				r := resolver.New(fetcher,
					resolver.WithAutoExpand(a.cfg.Resolver.AutoExpand),
					resolver.WithLogger(a.logger),
					resolver.WithMetrics(a.metrics),
				)
				if err := applyExpansions(r, expand); err != nil {
					return err
				}
				opts = append(opts, orchestrator.WithResolver(r))
			}

			result, err := orchestrator.New(client, project, opts...).Run(cmd.Context(), hl, view)
			if err != nil {
				return err
			}
			p, err := a.printer(cmd)
			if err != nil {
				return err
			}
			return p.print(result)
		},
	}

	f := cmd.Flags()
	f.StringVar(&viewName, "view", "", "load grid state from a saved view")
	f.IntVar(&page, "page", 0, "zero-based page index")
	f.IntVar(&pageSize, "page-size", gridstate.DefaultPageSize, "rows per page")
	f.StringArrayVar(&sorts, "sort", nil, "sort key as field:asc or field:desc (repeatable)")
	f.StringVar(&filtersFile, "filters", "", "JSON or YAML file with the filter list")
	f.BoolVar(&resolve, "resolve", false, "resolve refs in the returned rows")
	f.BoolVar(&noCount, "no-count", false, "skip the stats query and estimate the total")
	f.StringArrayVar(&expand, "expand", nil, "expand ref at path as path=ref (repeatable, implies --resolve)")

	f.StringSliceVar(&hl.OpVersionRefs, "op", nil, "op version refs; a :* version matches every version")
	f.StringVar(&hl.TraceID, "trace-id", "", "only calls in this trace")
	f.StringVar(&hl.ParentID, "parent-id", "", "only children of this call")
	f.StringSliceVar(&hl.CallIDs, "call-id", nil, "only these call ids")
	f.BoolVar(&hl.TraceRootsOnly, "roots", false, "only trace roots")
	f.StringSliceVar(&hl.InputObjectVersionRefs, "input-ref", nil, "only calls with one of these input refs")
	f.StringSliceVar(&hl.OutputObjectVersionRefs, "output-ref", nil, "only calls with one of these output refs")
	f.StringSliceVar(&hl.UserIDs, "user", nil, "only calls by these users")
	f.StringSliceVar(&hl.RunIDs, "run", nil, "only calls from these runs")
	return cmd
}

// parseSorts parses field:dir pairs. A missing direction means asc.
func parseSorts(specs []string) (gridstate.SortModel, error) {
	model := make(gridstate.SortModel, 0, len(specs))
	for _, s := range specs {
		field, dir, _ := strings.Cut(s, ":")
		if field == "" {
			return nil, fmt.Errorf("--sort %q: missing field", s)
		}
		switch gridstate.Direction(dir) {
		case "", gridstate.Asc:
			model = append(model, gridstate.SortBy(field, gridstate.Asc))
		case gridstate.Desc:
			model = append(model, gridstate.SortBy(field, gridstate.Desc))
		default:
			return nil, fmt.Errorf("--sort %q: direction must be asc or desc", s)
		}
	}
	return model, nil
}

// applyExpansions registers path=ref pairs on r.
func applyExpansions(r *resolver.Resolver, pairs []string) error {
	for _, pair := range pairs {
		path, target, ok := strings.Cut(pair, "=")
		if !ok || target == "" {
			return fmt.Errorf("--expand %q: want path=ref", pair)
		}
		r.Expand(path, target)
	}
	return nil
}

// checkProjectRefs rejects refs that do not parse or that point outside
// project. The server would silently match nothing for them.
func checkProjectRefs(project, flag string, refs []string) error {
	for _, raw := range refs {
		r, err := ref.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", flag, err)
		}
		if r.ProjectID() != project {
			return fmt.Errorf("%s %s: ref belongs to %s, not %s", flag, raw, r.ProjectID(), project)
		}
	}
	return nil
}

package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"weavequery/internal/resolver"
)

func newResolveCmd(a *app) *cobra.Command {
	var (
		noAutoExpand bool
		expand       []string
	)

	cmd := &cobra.Command{
		Use:   "resolve [rows-file]",
		Short: "Resolve refs in rows",
		Long: "Reads a JSON or YAML row (or list of rows) and replaces the refs inside " +
			"with their values, recursively, fetching each distinct ref once.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if err := a.decodeArg(args, &raw); err != nil {
				return err
			}
			rows, err := rowsOf(raw)
			if err != nil {
				return err
			}

			client, err := a.traceClient(cmd)
			if err != nil {
				return err
			}
			fetcher, err := a.refFetcher(client)
			if err != nil {
				return err
			}
			r := resolver.New(fetcher,
				resolver.WithAutoExpand(a.cfg.Resolver.AutoExpand && !noAutoExpand),
				resolver.WithLogger(a.logger),
				resolver.WithMetrics(a.metrics),
			)
			if err := applyExpansions(r, expand); err != nil {
				return err
			}

			res, err := r.Resolve(cmd.Context(), rows)
			if err != nil {
				return err
			}
			p, err := a.printer(cmd)
			if err != nil {
				return err
			}
			return p.print(res)
		},
	}

	cmd.Flags().BoolVar(&noAutoExpand, "no-auto-expand", false, "only fetch refs named by --expand")
	cmd.Flags().StringArrayVar(&expand, "expand", nil, "expand ref at path as path=ref (repeatable)")
	return cmd
}

// rowsOf returns a JSON array as rows and wraps any other value as a single
// row.
func rowsOf(raw json.RawMessage) ([]any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if rows, ok := v.([]any); ok {
		return rows, nil
	}
	return []any{v}, nil
}

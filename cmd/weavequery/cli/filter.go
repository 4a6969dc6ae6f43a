package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"weavequery/internal/filter"
	"weavequery/internal/querylang"
)

func newCompileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compile [filters-file]",
		Short: "Compile filter triples into a query",
		Long: "Reads a JSON or YAML list of {field, operator, value} filters from the file " +
			"(or stdin) and prints the query document the call-query service accepts.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filters []filter.Filter
			if err := a.decodeArg(args, &filters); err != nil {
				return err
			}
			q, err := filter.Compile(filters)
			if err != nil {
				return err
			}
			p, err := a.printer(cmd)
			if err != nil {
				return err
			}
			return p.print(q)
		},
	}
}

func newDecompileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decompile [query-file]",
		Short: "Decompile a query back into filter triples",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var q querylang.Query
			if err := a.decodeArg(args, &q); err != nil {
				return err
			}
			filters, err := filter.Decompile(&q)
			if err != nil {
				return err
			}
			p, err := a.printer(cmd)
			if err != nil {
				return err
			}
			if filters == nil {
				filters = []filter.Filter{}
			}
			return p.print(filters)
		},
	}
}

// decodeArg decodes the file named by args[0], or stdin.
func (a *app) decodeArg(args []string, v any) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	data, err := a.readInput(name)
	if err != nil {
		return err
	}
	if err := decodeInput(data, v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}

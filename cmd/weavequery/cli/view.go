package cli

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/spf13/cobra"

	"weavequery/internal/gridstate"
	"weavequery/internal/settings"
)

func newViewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Manage saved grid views",
	}
	cmd.AddCommand(
		newViewGetCmd(a),
		newViewSetCmd(a),
		newViewDeleteCmd(a),
		newViewListCmd(a),
	)
	return cmd
}

// withSettings opens the settings store for the duration of fn.
func (a *app) withSettings(fn func(settings.Store) error) error {
	store, err := a.settingsStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func newViewGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Print a saved view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSettings(func(store settings.Store) error {
				view, err := gridstate.LoadView(cmd.Context(), store, args[0], gridstate.DefaultView(), pinnedColumns)
				if err != nil {
					return err
				}
				p, err := a.printer(cmd)
				if err != nil {
					return err
				}
				return p.print(view)
			})
		},
	}
}

func newViewSetCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set [NAME]",
		Short: "Save a view",
		Long: "Saves the view read from --file (or stdin). Parts missing from the " +
			"document keep their defaults. Without NAME a random name is chosen and printed.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := petname.Generate(2, "-")
			if len(args) > 0 {
				name = args[0]
			}
			view := gridstate.DefaultView()
			var in []string
			if file != "" {
				in = []string{file}
			}
			if err := a.decodeArg(in, &view); err != nil {
				return err
			}
			return a.withSettings(func(store settings.Store) error {
				if err := gridstate.SaveView(cmd.Context(), store, name, view, pinnedColumns); err != nil {
					return err
				}
				_, err := fmt.Fprintln(a.stdout, name)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON or YAML view document (default: stdin)")
	return cmd
}

func newViewDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSettings(func(store settings.Store) error {
				return gridstate.DeleteView(cmd.Context(), store, args[0])
			})
		},
	}
}

func newViewListCmd(a *app) *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if match != "" && !doublestar.ValidatePattern(match) {
				return fmt.Errorf("--match: invalid pattern %q", match)
			}
			return a.withSettings(func(store settings.Store) error {
				names, err := gridstate.ListViews(cmd.Context(), store)
				if err != nil {
					return err
				}
				out := []string{}
				for _, n := range names {
					if match != "" {
						if ok, _ := doublestar.Match(match, n); !ok {
							continue
						}
					}
					out = append(out, n)
				}
				p, err := a.printer(cmd)
				if err != nil {
					return err
				}
				return p.print(out)
			})
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "only names matching this glob")
	return cmd
}

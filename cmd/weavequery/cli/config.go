package cli

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"weavequery/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and initialize the config file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := fmt.Fprintln(a.stdout, a.configPath(cmd))
				return err
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write a default config file if none exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path := a.configPath(cmd)
				written, err := config.WriteDefault(path)
				if err != nil {
					return err
				}
				if !written {
					_, err = fmt.Fprintf(a.stdout, "%s already exists\n", path)
					return err
				}
				_, err = fmt.Fprintf(a.stdout, "wrote %s\n", path)
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective config",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return toml.NewEncoder(a.stdout).Encode(a.cfg)
			},
		},
	)
	return cmd
}

func (a *app) configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return a.home.ConfigPath()
}

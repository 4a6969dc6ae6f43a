// Package cli implements the weavequery command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"weavequery/internal/config"
	"weavequery/internal/home"
	"weavequery/internal/logging"
	"weavequery/internal/memo"
	"weavequery/internal/metrics"
	"weavequery/internal/server"
	"weavequery/internal/settings"
	settingsmem "weavequery/internal/settings/memory"
	settingssqlite "weavequery/internal/settings/sqlite"
	"weavequery/internal/traceclient"
	"weavequery/internal/tracestore"
)

// errNoServer is returned by commands that need a trace server when neither
// a base URL nor fixtures are configured.
var errNoServer = errors.New("no trace server: set server.base_url, --base-url or --fixtures")

// app is the state shared by all commands. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	home    home.Dir
	cfg     *config.Config
	logger  *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
}

// NewRootCommand returns the weavequery command with all subcommands wired in.
func NewRootCommand(version string, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:          "weavequery",
		Short:        "Query traced calls and resolve their refs",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.String("home", "", "home directory (default: platform config dir)")
	pf.String("config", "", "config file (default: <home>/config.toml)")
	pf.String("base-url", "", "trace server URL (overrides server.base_url)")
	pf.String("project", "", "project id entity/project (overrides server.project_id)")
	pf.String("fixtures", "", "serve requests from a JSON or YAML fixture file in process")
	pf.String("log-level", "", "log level (overrides log.level)")
	pf.StringP("format", "o", "json", "output format: json, yaml or msgpack")
	pf.String("select", "", "JSONPath applied to the output before printing")

	root.AddCommand(
		newCompileCmd(a),
		newDecompileCmd(a),
		newCallsCmd(a),
		newResolveCmd(a),
		newViewCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(a, version),
	)
	return root
}

// setup resolves the home directory, loads config, applies flag overrides
// and builds the root logger.
func (a *app) setup(cmd *cobra.Command) error {
	homeFlag, _ := cmd.Flags().GetString("home")
	if homeFlag != "" {
		a.home = home.New(homeFlag)
	} else {
		hd, err := home.Default()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		a.home = hd
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = a.home.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("base-url"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v, _ := cmd.Flags().GetString("project"); v != "" {
		cfg.Server.ProjectID = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s:\n%w", path, err)
	}
	a.cfg = cfg

	logger, _, err := logging.New(a.stderr, cfg.LogOptions())
	if err != nil {
		return err
	}
	a.logger = logger
	a.reg = prometheus.NewRegistry()
	a.metrics = metrics.New(a.reg)
	return nil
}

// traceClient returns a client for the configured trace server, or for an
// in-process server over the fixture file when --fixtures is set.
func (a *app) traceClient(cmd *cobra.Command) (*traceclient.Client, error) {
	opts := []traceclient.Option{
		traceclient.WithLogger(a.logger),
		traceclient.WithMetrics(a.metrics),
		traceclient.WithTimeout(a.cfg.Server.TimeoutDuration()),
	}
	if a.cfg.Server.RateLimit > 0 {
		opts = append(opts, traceclient.WithRateLimit(a.cfg.Server.RateLimit, a.cfg.Server.Burst))
	}
	if id, err := a.home.ClientID(); err == nil {
		opts = append(opts, traceclient.WithClientID(id))
	}

	fixtures, _ := cmd.Flags().GetString("fixtures")
	if fixtures != "" {
		store := tracestore.New(tracestore.WithLogger(a.logger))
		if err := store.LoadFile(fixtures); err != nil {
			return nil, err
		}
		srv := server.New(store, server.Config{Logger: a.logger})
		opts = append(opts, traceclient.WithHTTPClient(server.EmbeddedClient(srv.Handler())))
		return traceclient.New("http://embedded", opts...), nil
	}

	if a.cfg.Server.BaseURL == "" {
		return nil, errNoServer
	}
	return traceclient.New(a.cfg.Server.BaseURL, opts...), nil
}

// refFetcher wraps the trace client in the memoized batch cache.
func (a *app) refFetcher(client *traceclient.Client) (*memo.BatchFetcher, error) {
	return memo.NewBatchFetcher(client, a.cfg.Cache.MaxSize,
		memo.WithLogger(a.logger),
		memo.WithMetrics(a.metrics),
	)
}

// settingsStore opens the configured grid-state store.
func (a *app) settingsStore() (settings.Store, error) {
	if a.cfg.Settings.Type == config.SettingsMemory {
		return settingsmem.NewStore(), nil
	}
	path := a.cfg.Settings.Path
	if path == "" {
		if err := a.home.EnsureExists(); err != nil {
			return nil, err
		}
		path = a.home.SettingsPath()
	}
	return settingssqlite.NewStore(path)
}

func (a *app) projectID() (string, error) {
	if a.cfg.Server.ProjectID == "" {
		return "", errors.New("no project: set server.project_id or --project")
	}
	return a.cfg.Server.ProjectID, nil
}

package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"weavequery/internal/cert"
	"weavequery/internal/server"
	"weavequery/internal/tracestore"
)

// shutdownTimeout bounds how long serve waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		watch     bool
		rateLimit float64
		burst     int
		tlsCert   string
		tlsKey    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the trace API from a fixture file",
		Long: "Serves the ref-read and call-query endpoints over HTTP from an " +
			"in-memory store loaded from --fixtures (or serve.fixtures, relative " +
			"to the fixtures directory under the home directory).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, _ := cmd.Flags().GetString("fixtures")
			if fixtures == "" {
				fixtures = a.home.Fixture(a.cfg.Serve.Fixtures)
			}
			if fixtures == "" {
				return errors.New("serve needs --fixtures or serve.fixtures")
			}
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Serve.Addr
			}
			if !cmd.Flags().Changed("watch") {
				watch = a.cfg.Serve.Watch
			}
			if !cmd.Flags().Changed("rate-limit") {
				rateLimit = a.cfg.Serve.RateLimit
			}
			if !cmd.Flags().Changed("burst") {
				burst = a.cfg.Serve.Burst
			}
			if tlsCert == "" && tlsKey == "" {
				tlsCert, tlsKey = a.cfg.Serve.TLSCert, a.cfg.Serve.TLSKey
			}
			if (tlsCert == "") != (tlsKey == "") {
				return errors.New("--tls-cert and --tls-key must be set together")
			}

			store := tracestore.New(tracestore.WithLogger(a.logger))
			if err := store.LoadFile(fixtures); err != nil {
				return err
			}
			if watch {
				w, err := store.WatchFile(fixtures)
				if err != nil {
					return err
				}
				defer func() { _ = w.Close() }()
			}

			a.reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			srvCfg := server.Config{
				Logger:    a.logger,
				Gatherer:  a.reg,
				Metrics:   a.metrics,
				RateLimit: rate.Limit(rateLimit),
				Burst:     burst,
			}
			if tlsCert != "" {
				kp, err := cert.Load(tlsCert, tlsKey, a.logger)
				if err != nil {
					return err
				}
				if err := kp.Watch(); err != nil {
					return err
				}
				defer func() { _ = kp.Close() }()
				srvCfg.TLS = kp.TLSConfig()
			}
			srv := server.New(store, srvCfg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var (
				wg       sync.WaitGroup
				serveErr error
			)
			wg.Go(func() {
				serveErr = srv.ServeTCP(addr)
				cancel()
			})

			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := srv.Stop(stopCtx); err != nil {
				a.logger.Error("server stop error", "error", err)
			}
			wg.Wait()
			return serveErr
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "listen address (default: serve.addr)")
	f.BoolVar(&watch, "watch", false, "reload the fixture file when it changes")
	f.Float64Var(&rateLimit, "rate-limit", 0, "per-client requests per second, 0 disables")
	f.IntVar(&burst, "burst", 0, "per-client burst")
	f.StringVar(&tlsCert, "tls-cert", "", "PEM certificate; enables HTTPS with --tls-key")
	f.StringVar(&tlsKey, "tls-key", "", "PEM private key")
	return cmd
}

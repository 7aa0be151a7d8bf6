package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/facts"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/policy"
	"github.com/openfroyo/catalog/pkg/telemetry"
	"github.com/openfroyo/catalog/pkg/termini/compiler"
	"github.com/openfroyo/catalog/pkg/termini/network"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve compiled catalogs over HTTP",
		Long: `Run a catalog server for the network terminus of other nodes.

Catalogs are compiled from the server manifest directory with the facts sent
by the requesting node, or the cached facts when none are sent. Compiled
catalogs are written through to the catalog cache. Policies in policy_dir are
reloaded when they change. Prometheus metrics are served on the same listener.`,
		Example: `  froyo-catalog serve --listen :8140`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, appOptions{terminus: indirector.KindCompiler})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			cfg := a.settings.Config()
			if listen == "" {
				listen = cfg.Listen
			}
			a.settings.SetRunMode(engine.RunModeServer)

			// The server only knows facts that were sent or cached, never its own host's.
			serverFacts := facts.NewCacheRegistry(a.facts, a.logger).WithObserver(a.telemetry.Metrics)
			catalogs := indirector.NewRegistry[*engine.Catalog](a.logger).WithObserver(a.telemetry.Metrics)
			catalogs.Switch(indirector.SubjectCatalog,
				compiler.New(config.NewCompiler(a.logger), a.settings, a.logger).
					WithFacts(facts.NewProvider(serverFacts)).
					WithGate(a.policies),
				a.termini.Cache)

			// Uploaded catalogs and searches go straight to the cache.
			stored := indirector.NewRegistry[*engine.Catalog](a.logger).WithObserver(a.telemetry.Metrics)
			stored.Switch(indirector.SubjectCatalog, a.termini.Cache, nil)

			if cfg.PolicyDir != "" {
				loader := policy.NewLoader(a.logger)
				reload := func(policies []policy.Policy) error {
					return a.policies.ReplacePolicies(ctx, policies)
				}
				if err := loader.Watch(ctx, []string{cfg.PolicyDir}, reload); err != nil {
					a.logger.Warn().Err(err).Str("path", cfg.PolicyDir).Msg("Policy hot reload disabled")
				} else {
					defer func() { _ = loader.StopWatching() }()
				}
			}

			mux := http.NewServeMux()
			mux.Handle("/v1/", withTelemetry(a.telemetry, network.NewHandler(catalogs, a.logger).WithStorage(stored)))
			if path := cfg.Telemetry.Metrics.Path; path != "" {
				mux.Handle(path, a.telemetry.Metrics.Handler())
			}
			mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
				if a.db != nil {
					if err := a.db.HealthCheck(r.Context()); err != nil {
						http.Error(w, err.Error(), http.StatusServiceUnavailable)
						return
					}
				}
				w.WriteHeader(http.StatusOK)
			})

			return serve(ctx, a, listen, mux)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: the listen setting)")

	return cmd
}

// withTelemetry makes the process telemetry available to request handlers.
func withTelemetry(tel *telemetry.Telemetry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(tel.WithContext(r.Context())))
	})
}

// serve runs the HTTP server until ctx is done.
func serve(ctx context.Context, a *app, listen string, handler http.Handler) error {
	logger := a.telemetry.Logger.NewComponentLogger("server").Zerolog()

	server := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info().
		Str("listen", listen).
		Str("manifests", a.settings.ManifestDir()).
		Msg("Catalog server listening")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down catalog server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

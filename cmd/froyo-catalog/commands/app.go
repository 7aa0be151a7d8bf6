package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/catalog/pkg/config"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/facts"
	"github.com/openfroyo/catalog/pkg/handlers"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/policy"
	"github.com/openfroyo/catalog/pkg/settings"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/openfroyo/catalog/pkg/telemetry"
	"github.com/openfroyo/catalog/pkg/termini/cache"
	"github.com/openfroyo/catalog/pkg/termini/compiler"
	"github.com/openfroyo/catalog/pkg/termini/network"
	"github.com/openfroyo/catalog/pkg/workflow"
	"github.com/rs/zerolog"
)

// appOptions are the per-command knobs of newApp.
type appOptions struct {
	noop bool

	// terminus overrides --terminus and the catalog_terminus setting.
	terminus indirector.Kind
}

// app is everything a command needs, wired from the settings file.
type app struct {
	settings  *settings.Settings
	telemetry *telemetry.Telemetry
	logger    zerolog.Logger

	db       *stores.SQLiteStore
	catalogs stores.KeyedStore[*engine.Catalog]
	facts    stores.KeyedStore[*engine.Facts]

	policies *policy.Engine
	factsReg *indirector.Registry[*engine.Facts]
	registry *indirector.Registry[*engine.Catalog]
	termini  workflow.Termini
	workflow *workflow.Catalog
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg := s.Config()

	tcfg := cfg.Telemetry
	tcfg.Environment = cfg.Environment
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(&tcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(tcfg.Logging.Level))

	a := &app{
		settings:  s,
		telemetry: tel,
		logger:    tel.Logger.WithCertname(s.Certname()).Zerolog(),
	}

	if err := a.openStores(ctx, cfg); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.policies, err = policy.NewEngine(a.logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if cfg.PolicyDir != "" {
		if _, err := a.policies.LoadPolicies(ctx, []string{cfg.PolicyDir}); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}
	for _, name := range cfg.DisabledPolicies {
		if err := a.policies.DisablePolicy(name); err != nil {
			a.logger.Warn().Err(err).Str("policy", name).Msg("Cannot disable policy")
		}
	}

	a.factsReg = facts.NewRegistry(s, a.facts, a.logger).WithObserver(tel.Metrics)
	factsProvider := facts.NewProvider(a.factsReg)

	a.termini = workflow.Termini{
		Compiler: compiler.New(config.NewCompiler(a.logger), s, a.logger).
			WithFacts(factsProvider).
			WithGate(a.policies),
		Cache: cache.New[*engine.Catalog]("", a.catalogs, a.logger),
	}
	remote, err := network.New(network.Config{
		ServerURL: cfg.ServerURL,
		Timeout:   cfg.Network.Timeout.Std(),
		Retries:   cfg.Network.Retries,
		RetryMin:  cfg.Network.RetryMin.Std(),
		RetryMax:  cfg.Network.RetryMax.Std(),
	}, a.logger)
	if err != nil {
		a.logger.Debug().Err(err).Msg("Network terminus unavailable")
	} else {
		a.termini.Network = remote
	}

	a.registry = indirector.NewRegistry[*engine.Catalog](a.logger).WithObserver(tel.Metrics)

	wcfg := workflow.Config{
		Settings: s,
		Registry: a.registry,
		Termini:  a.termini,
		Facts:    factsProvider,
		Handlers: handlers.NewRegistry(a.logger),
		Sinks:    tel.Sinks,
		Observer: tel.Metrics,
		Noop:     opts.noop,
		Logger:   a.logger,
	}
	if a.db != nil {
		wcfg.Reports = a.db
	}
	a.workflow, err = workflow.New(wcfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	kind := indirector.Kind(cfg.CatalogTerminus)
	if terminus != "" {
		kind = indirector.Kind(terminus)
	}
	if opts.terminus != "" {
		kind = opts.terminus
	}
	if err := a.workflow.Use(kind); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.logger.Debug().
		Str("certname", s.Certname()).
		Str("environment", s.Environment()).
		Str("terminus", string(kind)).
		Str("cache_store", cfg.CacheStore).
		Msg("Catalog tooling initialized")

	return a, nil
}

// openStores opens the backend shared by the catalog and facts caches.
func (a *app) openStores(ctx context.Context, cfg settings.Config) error {
	switch cfg.CacheStore {
	case "sqlite":
		if err := os.MkdirAll(a.settings.Vardir(), 0o750); err != nil {
			return engine.NewConfigurationError("failed to create vardir", err)
		}
		db, err := stores.NewSQLiteStore(stores.Config{
			Path:     a.settings.DatabasePath(),
			FactsTTL: cfg.FactsTTL.Std(),
		})
		if err != nil {
			return err
		}
		if err := db.Init(ctx); err != nil {
			return err
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		if n, err := db.DeleteExpiredFacts(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to prune expired facts")
		} else if n > 0 {
			a.logger.Debug().Int64("count", n).Msg("Pruned expired facts")
		}
		a.catalogs = db.Catalogs()
		a.facts = db.Facts()
	default:
		catalogs, err := stores.NewYAMLStore[*engine.Catalog](a.settings.CatalogCacheDir())
		if err != nil {
			return err
		}
		factStore, err := stores.NewYAMLStore[*engine.Facts](a.settings.FactsCacheDir())
		if err != nil {
			return err
		}
		a.catalogs = catalogs
		a.facts = factStore
	}
	return nil
}

// Close releases the store and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close database")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

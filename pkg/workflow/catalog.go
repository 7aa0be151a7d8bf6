// Package workflow implements the catalog operations exposed by the CLI: find,
// compile, download, apply and save.
//
// Every operation goes through the catalog registry it was given. Compile and
// download change which terminus the registry uses, and the change persists:
// an apply after a download reads the catalog back from the cache.
package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/openfroyo/catalog/pkg/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Settings is what the workflows read from and change in the node settings.
type Settings interface {
	engine.NodeIdentity
	engine.SettingsProvider

	// ClassFile is where download records the catalog's classes.
	ClassFile() string
}

// Termini are the catalog termini the workflows switch between.
// Any of them may be nil when the process cannot use it.
type Termini struct {
	Compiler indirector.Terminus[*engine.Catalog]
	Network  indirector.Terminus[*engine.Catalog]
	Cache    indirector.Terminus[*engine.Catalog]
}

// Config wires a Catalog.
type Config struct {
	Settings Settings
	Registry *indirector.Registry[*engine.Catalog]
	Termini  Termini

	// Facts supplies the local node's facts to download. Optional.
	Facts engine.FactsProvider

	// Handlers manage the resource types apply can converge.
	Handlers *engine.HandlerRegistry

	// Sinks captures log output into reports. Optional.
	Sinks engine.LogSinkRegistry

	// Observer receives apply outcomes. Optional.
	Observer engine.ApplyObserver

	// Reports keeps a history of apply reports. Optional.
	Reports stores.ReportStore

	// Noop makes apply check resources without changing them.
	Noop bool

	Logger zerolog.Logger
}

// Catalog runs the catalog workflows.
type Catalog struct {
	// switchMu serializes terminus switches, holding for the whole of a download.
	switchMu sync.Mutex

	settings Settings
	registry *indirector.Registry[*engine.Catalog]
	termini  Termini
	facts    engine.FactsProvider
	handlers *engine.HandlerRegistry
	sinks    engine.LogSinkRegistry
	observer engine.ApplyObserver
	reports  stores.ReportStore
	noop     bool
	logger   zerolog.Logger
}

// New creates the catalog workflows.
func New(cfg Config) (*Catalog, error) {
	if cfg.Settings == nil || cfg.Registry == nil {
		return nil, engine.NewConfigurationError("catalog workflows need settings and a registry", nil).
			WithCode(engine.ErrCodeValidation)
	}
	handlers := cfg.Handlers
	if handlers == nil {
		handlers = engine.NewHandlerRegistry()
	}

	return &Catalog{
		settings: cfg.Settings,
		registry: cfg.Registry,
		termini:  cfg.Termini,
		facts:    cfg.Facts,
		handlers: handlers,
		sinks:    cfg.Sinks,
		observer: cfg.Observer,
		reports:  cfg.Reports,
		noop:     cfg.Noop,
		logger:   cfg.Logger.With().Str("component", "workflow").Logger(),
	}, nil
}

// State returns the termini currently selected for catalogs.
func (c *Catalog) State() indirector.BackendState {
	return c.registry.State(indirector.SubjectCatalog)
}

// Use makes the terminus of the given kind active. Compiler and network results
// are written through to the cache terminus when there is one.
func (c *Catalog) Use(kind indirector.Kind) error {
	if err := kind.Validate(); err != nil {
		return engine.NewConfigurationError("unknown catalog terminus", err).WithCode(engine.ErrCodeValidation)
	}

	t, err := c.terminus(kind)
	if err != nil {
		return err
	}

	var cache indirector.Terminus[*engine.Catalog]
	if kind != indirector.KindCache {
		cache = c.termini.Cache
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	c.registry.Switch(indirector.SubjectCatalog, t, cache)
	return nil
}

// Find returns the catalog for key from the active terminus. An empty key means
// the local node. A missing catalog is a NotFound error, never an empty catalog.
func (c *Catalog) Find(ctx context.Context, key string, req *indirector.Request) (catalog *engine.Catalog, err error) {
	key = c.resolveKey(key)

	op := telemetry.StartOperation(ctx, "find", telemetry.AttrCertname.String(key))
	defer func() { op.End(err) }()

	return c.registry.Find(op.Ctx, indirector.SubjectCatalog, key, req)
}

// Compile switches to server mode and compiles the catalog for key.
func (c *Catalog) Compile(ctx context.Context, key string) (*engine.Catalog, error) {
	compiler, err := c.terminus(indirector.KindCompiler)
	if err != nil {
		return nil, err
	}

	c.settings.SetRunMode(engine.RunModeServer)
	c.switchMu.Lock()
	c.registry.SetActive(indirector.SubjectCatalog, compiler)
	c.switchMu.Unlock()

	return c.Find(ctx, key, nil)
}

// Download fetches the local node's catalog from the network terminus and stores it
// in the cache terminus, which becomes active. On failure the registry is left
// on the network terminus with no cache. Concurrent downloads run one at a time.
func (c *Catalog) Download(ctx context.Context) (state indirector.BackendState, err error) {
	network, err := c.terminus(indirector.KindNetwork)
	if err != nil {
		return indirector.BackendState{}, err
	}
	cache, err := c.terminus(indirector.KindCache)
	if err != nil {
		return indirector.BackendState{}, err
	}

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	certname := c.settings.Certname()
	op := telemetry.StartOperation(ctx, "download",
		telemetry.AttrCertname.String(certname),
		telemetry.AttrEnvironment.String(c.settings.Environment()))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	c.registry.Switch(indirector.SubjectCatalog, network, nil)

	req := &indirector.Request{Environment: c.settings.Environment()}
	if c.facts != nil {
		facts, err := c.facts.Facts(ctx, certname)
		if err != nil {
			return c.State(), err
		}
		if facts != nil {
			req.Facts = facts.Values
		}
	}

	start := time.Now()
	catalog, err := c.registry.Find(ctx, indirector.SubjectCatalog, certname, req)
	if err != nil {
		return c.State(), err
	}
	catalog.RetrievalDuration = time.Since(start)

	if err := writeClassFile(c.settings.ClassFile(), catalog.Classes); err != nil {
		c.logger.Warn().Err(err).Str("path", c.settings.ClassFile()).Msg("Failed to write class file")
	}

	c.registry.Switch(indirector.SubjectCatalog, cache, nil)
	if err := c.registry.Save(ctx, indirector.SubjectCatalog, certname, catalog); err != nil {
		return c.registry.Switch(indirector.SubjectCatalog, network, nil), err
	}

	c.logger.Info().
		Str("node", certname).
		Str("version", catalog.Version).
		Dur("retrieval", catalog.RetrievalDuration).
		Msgf("Catalog for %s stored at %s", certname, location(cache, certname))

	return c.State(), nil
}

// Apply finds the local node's catalog and applies it. The error is only for
// failures to find the catalog; everything after that is in the report.
func (c *Catalog) Apply(ctx context.Context) (report *engine.Report, err error) {
	op := telemetry.StartOperation(ctx, "apply", attribute.Bool("catalog.noop", c.noop))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	catalog, err := c.Find(ctx, "", nil)
	if err != nil {
		return nil, err
	}

	if gauge, ok := c.observer.(interface{ SetCatalogResources(int) }); ok {
		gauge.SetCatalogResources(len(catalog.Resources))
	}

	txn := engine.NewTransaction(catalog, c.handlers, c.sinks, c.logger, engine.TransactionOptions{
		Noop:     c.noop,
		Observer: c.observer,
	})
	report = txn.Apply(ctx)

	if op.Span != nil {
		op.Span.SetAttributes(telemetry.AttrReportStatus.String(string(report.Status)))
		for _, event := range report.Events {
			telemetry.AddResourceEvent(op.Span, event.Resource, string(event.Status), event.Message)
		}
	}

	if c.reports != nil {
		if err := c.reports.SaveReport(ctx, report); err != nil {
			c.logger.Warn().Err(err).Str("report_id", report.ID).Msg("Failed to store report")
		}
	}

	return report, nil
}

// Save stores catalog under key through the active terminus. An empty key means
// the local node. Catalogs whose resources cannot be ordered are rejected.
func (c *Catalog) Save(ctx context.Context, key string, catalog *engine.Catalog) (err error) {
	key = c.resolveKey(key)

	op := telemetry.StartOperation(ctx, "save", telemetry.AttrCertname.String(key))
	defer func() { op.End(err) }()

	if catalog == nil {
		return engine.NewConfigurationError("no catalog to save", nil).WithCode(engine.ErrCodeValidation)
	}
	if _, err := engine.BuildResourceGraph(catalog); err != nil {
		return err
	}
	return c.registry.Save(op.Ctx, indirector.SubjectCatalog, key, catalog)
}

func (c *Catalog) resolveKey(key string) string {
	if key == "" {
		return c.settings.Certname()
	}
	return key
}

func (c *Catalog) terminus(kind indirector.Kind) (indirector.Terminus[*engine.Catalog], error) {
	var t indirector.Terminus[*engine.Catalog]
	switch kind {
	case indirector.KindCompiler:
		t = c.termini.Compiler
	case indirector.KindNetwork:
		t = c.termini.Network
	case indirector.KindCache:
		t = c.termini.Cache
	}
	if t == nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("no %s terminus configured", kind), nil).
			WithCode(engine.ErrCodeNoTerminus).
			WithDetail("kind", string(kind))
	}
	return t, nil
}

func location(t indirector.Terminus[*engine.Catalog], key string) string {
	if l, ok := t.(interface{ Location(string) string }); ok {
		return l.Location(key)
	}
	return t.Name()
}

// writeClassFile writes one class per line.
func writeClassFile(path string, classes []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	var content string
	if len(classes) > 0 {
		content = strings.Join(classes, "\n") + "\n"
	}
	return os.WriteFile(path, []byte(content), 0o640)
}

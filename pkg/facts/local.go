// Package facts collects node facts and routes them through the facts indirection.
//
// The local terminus describes the host the process runs on. Its results are
// usually written through to a cache terminus so the compiler can read them
// back for nodes that are not the local one.
package facts

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/rs/zerolog"
)

// LocalName is the name of the local facts terminus.
const LocalName = "local"

// EnvPrefix marks environment variables that become facts. FROYO_FACT_ROLE=web
// yields the fact role with value web.
const EnvPrefix = "FROYO_FACT_"

// LocalTerminus collects facts about the running host. It only answers for the
// local node identity and only supports find.
type LocalTerminus struct {
	indirector.Unsupported[*engine.Facts]

	identity engine.NodeIdentity
	logger   zerolog.Logger

	hostname func() (string, error)
	environ  func() []string
	now      func() time.Time
}

var _ indirector.Terminus[*engine.Facts] = (*LocalTerminus)(nil)

// NewLocalTerminus creates a terminus answering for identity.Certname().
func NewLocalTerminus(identity engine.NodeIdentity, logger zerolog.Logger) *LocalTerminus {
	return &LocalTerminus{
		Unsupported: indirector.Unsupported[*engine.Facts]{TerminusName: LocalName},
		identity:    identity,
		logger:      logger.With().Str("terminus", LocalName).Logger(),
		hostname:    os.Hostname,
		environ:     os.Environ,
		now:         time.Now,
	}
}

// Name returns the terminus name.
func (t *LocalTerminus) Name() string { return LocalName }

// Kind returns KindCompiler: facts are produced on the spot.
func (t *LocalTerminus) Kind() indirector.Kind { return indirector.KindCompiler }

// Capabilities returns CapFind.
func (t *LocalTerminus) Capabilities() indirector.Capability { return indirector.CapFind }

// Find collects facts for key, which must be the local node identity.
func (t *LocalTerminus) Find(_ context.Context, key string, _ *indirector.Request) (*engine.Facts, error) {
	certname := t.identity.Certname()
	if key != certname {
		return nil, engine.NewNotFoundError(fmt.Sprintf("local facts describe %s, not %s", certname, key))
	}

	values, err := t.collect(certname)
	if err != nil {
		return nil, engine.NewRetrievalError("failed to collect local facts", err).
			WithOperation("find")
	}

	t.logger.Debug().Str("node", key).Int("facts", len(values)).Msg("Collected local facts")
	return &engine.Facts{Name: key, Values: values, Timestamp: t.now().UTC()}, nil
}

func (t *LocalTerminus) collect(certname string) (map[string]interface{}, error) {
	hostname, err := t.hostname()
	if err != nil {
		return nil, err
	}

	host, domain := hostname, ""
	if i := strings.IndexByte(hostname, '.'); i > 0 {
		host, domain = hostname[:i], hostname[i+1:]
	}
	fqdn := host
	if domain != "" {
		fqdn = host + "." + domain
	}

	values := map[string]interface{}{
		"certname":   certname,
		"hostname":   host,
		"domain":     domain,
		"fqdn":       fqdn,
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"processors": runtime.NumCPU(),
	}

	for _, kv := range t.environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) || len(name) == len(EnvPrefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(name, EnvPrefix))] = value
	}

	return values, nil
}

package facts

import (
	"context"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/openfroyo/catalog/pkg/termini/cache"
	"github.com/rs/zerolog"
)

// Provider answers fact lookups through the facts subject of a registry.
type Provider struct {
	registry *indirector.Registry[*engine.Facts]
}

var _ engine.FactsProvider = (*Provider)(nil)

// NewProvider creates a provider over registry.
func NewProvider(registry *indirector.Registry[*engine.Facts]) *Provider {
	return &Provider{registry: registry}
}

// Facts finds the facts for node.
func (p *Provider) Facts(ctx context.Context, node string) (*engine.Facts, error) {
	return p.registry.Find(ctx, indirector.SubjectFacts, node, nil)
}

// NewRegistry returns a facts registry with the local terminus active and store as
// its write-through cache. A nil store leaves the cache unset.
func NewRegistry(identity engine.NodeIdentity, store stores.KeyedStore[*engine.Facts], logger zerolog.Logger) *indirector.Registry[*engine.Facts] {
	registry := indirector.NewRegistry[*engine.Facts](logger)
	var factsCache indirector.Terminus[*engine.Facts]
	if store != nil {
		factsCache = cache.New("facts-cache", store, logger)
	}
	registry.Switch(indirector.SubjectFacts, NewLocalTerminus(identity, logger), factsCache)
	return registry
}

// NewCacheRegistry returns a facts registry that only reads stored facts. It is
// what a catalog server compiles with.
func NewCacheRegistry(store stores.KeyedStore[*engine.Facts], logger zerolog.Logger) *indirector.Registry[*engine.Facts] {
	registry := indirector.NewRegistry[*engine.Facts](logger)
	registry.SetActive(indirector.SubjectFacts, cache.New("facts-cache", store, logger))
	return registry
}

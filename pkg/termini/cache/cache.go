// Package cache provides a terminus that keeps entities in a local keyed store.
// It is used both as the write-through cache of a subject and, after a download,
// as its active terminus.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/indirector"
	"github.com/openfroyo/catalog/pkg/stores"
	"github.com/rs/zerolog"
)

// Name is the default terminus name.
const Name = "cache"

// Terminus stores entities of type T in a stores.KeyedStore.
type Terminus[T any] struct {
	name   string
	store  stores.KeyedStore[T]
	logger zerolog.Logger
}

// New creates a cache terminus named name over store.
func New[T any](name string, store stores.KeyedStore[T], logger zerolog.Logger) *Terminus[T] {
	if name == "" {
		name = Name
	}
	return &Terminus[T]{
		name:   name,
		store:  store,
		logger: logger.With().Str("terminus", name).Logger(),
	}
}

// Name returns the terminus name.
func (t *Terminus[T]) Name() string { return t.name }

// Kind returns KindCache.
func (t *Terminus[T]) Kind() indirector.Kind { return indirector.KindCache }

// Capabilities returns every operation.
func (t *Terminus[T]) Capabilities() indirector.Capability {
	return indirector.CapFind | indirector.CapSave | indirector.CapDestroy | indirector.CapSearch
}

// Location describes where key is stored.
func (t *Terminus[T]) Location(key string) string {
	return t.store.Location(key)
}

// Find reads key from the store. The request is ignored.
func (t *Terminus[T]) Find(ctx context.Context, key string, _ *indirector.Request) (T, error) {
	var zero T
	if err := validate(key); err != nil {
		return zero, err
	}

	value, err := t.store.Get(ctx, key)
	if errors.Is(err, stores.ErrNotFound) {
		return zero, engine.NewNotFoundError(fmt.Sprintf("nothing cached for %s", key)).
			WithDetail("location", t.store.Location(key))
	}
	if err != nil {
		return zero, storageError("read", key, err)
	}

	t.logger.Debug().Str("key", key).Msg("Using cached entry")
	return value, nil
}

// Save writes value under key, replacing what was there.
func (t *Terminus[T]) Save(ctx context.Context, key string, value T) error {
	if err := validate(key); err != nil {
		return err
	}
	if err := t.store.Put(ctx, key, value); err != nil {
		return storageError("write", key, err)
	}
	t.logger.Debug().Str("key", key).Str("location", t.store.Location(key)).Msg("Cached entry")
	return nil
}

// Destroy removes key. Removing a missing key succeeds.
func (t *Terminus[T]) Destroy(ctx context.Context, key string) error {
	if err := validate(key); err != nil {
		return err
	}
	if err := t.store.Delete(ctx, key); err != nil {
		return storageError("delete", key, err)
	}
	return nil
}

// Search returns the stored keys matching the glob pattern.
func (t *Terminus[T]) Search(ctx context.Context, pattern string) ([]string, error) {
	if pattern != "" {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("invalid search pattern %q", pattern), err).
				WithCode(engine.ErrCodeValidation)
		}
	}

	keys, err := t.store.Keys(ctx)
	if err != nil {
		return nil, storageError("list", pattern, err)
	}
	if pattern == "" {
		return keys, nil
	}

	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if ok, _ := filepath.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

func validate(key string) error {
	if err := stores.ValidateKey(key); err != nil {
		return engine.NewConfigurationError("invalid cache key", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

func storageError(operation, key string, err error) error {
	return engine.NewRetrievalError(fmt.Sprintf("failed to %s %s", operation, key), err).
		WithCode(engine.ErrCodeStorage).
		WithOperation(operation)
}

package indirector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

// Observer receives the outcome of every terminus call, typically for metrics.
type Observer interface {
	ObserveTerminus(subject Subject, terminus, operation, outcome string, duration time.Duration)
}

type entry[T any] struct {
	active Terminus[T]
	cache  Terminus[T]
}

// Registry maps subjects to their active and cache termini.
// Reads are concurrent; switching termini is serialized.
type Registry[T any] struct {
	mu       sync.RWMutex
	entries  map[Subject]*entry[T]
	logger   zerolog.Logger
	observer Observer
}

// NewRegistry creates an empty registry.
func NewRegistry[T any](logger zerolog.Logger) *Registry[T] {
	return &Registry[T]{
		entries: make(map[Subject]*entry[T]),
		logger:  logger.With().Str("component", "indirector").Logger(),
	}
}

// WithObserver sets the observer notified of every terminus call.
func (r *Registry[T]) WithObserver(o Observer) *Registry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
	return r
}

// SetActive makes t the active terminus for subject.
func (r *Registry[T]) SetActive(subject Subject, t Terminus[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryLocked(subject)
	e.active = t

	r.logger.Debug().
		Str("subject", string(subject)).
		Str("terminus", nameOf(t)).
		Msg("Active terminus changed")
}

// SetCache sets the cache terminus for subject. A nil terminus clears it.
func (r *Registry[T]) SetCache(subject Subject, t Terminus[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryLocked(subject)
	e.cache = t

	r.logger.Debug().
		Str("subject", string(subject)).
		Str("cache", nameOf(t)).
		Msg("Cache terminus changed")
}

// Switch replaces the active and cache termini for subject in one step and
// returns the resulting state. A nil cache clears it.
func (r *Registry[T]) Switch(subject Subject, active, cache Terminus[T]) BackendState {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryLocked(subject)
	e.active = active
	e.cache = cache

	r.logger.Debug().
		Str("subject", string(subject)).
		Str("terminus", nameOf(active)).
		Str("cache", nameOf(cache)).
		Msg("Termini switched")

	return r.stateLocked(subject)
}

// Active returns the active terminus for subject.
func (r *Registry[T]) Active(subject Subject) (Terminus[T], error) {
	active, _, err := r.snapshot(subject)
	return active, err
}

// Cache returns the cache terminus for subject, or nil when none is configured.
func (r *Registry[T]) Cache(subject Subject) Terminus[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[subject]; ok {
		return e.cache
	}
	return nil
}

// State returns a snapshot of the termini selected for subject.
func (r *Registry[T]) State(subject Subject) BackendState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateLocked(subject)
}

func (r *Registry[T]) stateLocked(subject Subject) BackendState {
	state := BackendState{Subject: subject}
	if e, ok := r.entries[subject]; ok {
		if e.active != nil {
			state.Active = e.active.Name()
			state.ActiveKind = e.active.Kind()
		}
		state.Cache = nameOf(e.cache)
	}
	return state
}

// Find asks the active terminus for key. When a cache terminus is configured and the
// result did not come from the cache itself, the result is written through to the cache.
// A failed write-through is logged and does not fail the find.
func (r *Registry[T]) Find(ctx context.Context, subject Subject, key string, req *Request) (T, error) {
	var zero T

	active, cache, err := r.snapshot(subject)
	if err != nil {
		return zero, err
	}

	var result T
	if err := r.call(subject, active, "find", func() error {
		var ferr error
		result, ferr = active.Find(ctx, key, req)
		return ferr
	}); err != nil {
		return zero, r.annotate(err, subject, active, "find", key)
	}

	if cache != nil && cache.Name() != active.Name() {
		if cerr := r.call(subject, cache, "save", func() error {
			return cache.Save(ctx, key, result)
		}); cerr != nil {
			r.logger.Warn().
				Err(cerr).
				Str("subject", string(subject)).
				Str("cache", cache.Name()).
				Str("key", key).
				Msg("Failed to write result through to cache")
		}
	}

	return result, nil
}

// Save persists value through the active terminus.
func (r *Registry[T]) Save(ctx context.Context, subject Subject, key string, value T) error {
	active, _, err := r.snapshot(subject)
	if err != nil {
		return err
	}

	if err := r.call(subject, active, "save", func() error {
		return active.Save(ctx, key, value)
	}); err != nil {
		return r.annotate(err, subject, active, "save", key)
	}
	return nil
}

// Destroy removes key through the active terminus.
func (r *Registry[T]) Destroy(ctx context.Context, subject Subject, key string) error {
	active, _, err := r.snapshot(subject)
	if err != nil {
		return err
	}

	if err := r.call(subject, active, "destroy", func() error {
		return active.Destroy(ctx, key)
	}); err != nil {
		return r.annotate(err, subject, active, "destroy", key)
	}
	return nil
}

// Search lists matching keys through the active terminus.
func (r *Registry[T]) Search(ctx context.Context, subject Subject, pattern string) ([]string, error) {
	active, _, err := r.snapshot(subject)
	if err != nil {
		return nil, err
	}

	var keys []string
	if err := r.call(subject, active, "search", func() error {
		var serr error
		keys, serr = active.Search(ctx, pattern)
		return serr
	}); err != nil {
		return nil, r.annotate(err, subject, active, "search", pattern)
	}
	return keys, nil
}

// snapshot reads the (active, cache) pair under one lock.
func (r *Registry[T]) snapshot(subject Subject) (Terminus[T], Terminus[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[subject]
	if !ok || e.active == nil {
		return nil, nil, engine.NewConfigurationError(
			fmt.Sprintf("no terminus registered for %s", subject), nil,
		).WithCode(engine.ErrCodeNoTerminus).WithDetail("subject", string(subject))
	}
	return e.active, e.cache, nil
}

// call runs fn against terminus t and reports the outcome to the observer.
func (r *Registry[T]) call(subject Subject, t Terminus[T], operation string, fn func() error) error {
	start := time.Now()
	err := fn()

	r.mu.RLock()
	observer := r.observer
	r.mu.RUnlock()

	if observer != nil {
		outcome := "success"
		if err != nil {
			outcome = string(engine.ClassOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		observer.ObserveTerminus(subject, t.Name(), operation, outcome, time.Since(start))
	}
	return err
}

// annotate adds the originating terminus to err without changing its class.
func (r *Registry[T]) annotate(err error, subject Subject, t Terminus[T], operation, key string) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		ee.WithDetail("terminus", t.Name()).
			WithDetail("terminus_kind", string(t.Kind())).
			WithDetail("subject", string(subject)).
			WithDetail("key", key)
		if ee.Operation == "" {
			ee.WithOperation(operation)
		}
		return fmt.Errorf("%s terminus %s: %w", subject, t.Name(), err)
	}

	return engine.NewRetrievalError(
		fmt.Sprintf("%s terminus %s failed to %s %s", subject, t.Name(), operation, key), err,
	).WithOperation(operation).
		WithDetail("terminus", t.Name()).
		WithDetail("terminus_kind", string(t.Kind())).
		WithDetail("subject", string(subject))
}

func (r *Registry[T]) entryLocked(subject Subject) *entry[T] {
	e, ok := r.entries[subject]
	if !ok {
		e = &entry[T]{}
		r.entries[subject] = e
	}
	return e
}

func nameOf[T any](t Terminus[T]) string {
	if t == nil {
		return ""
	}
	return t.Name()
}

package telemetry

import (
	"sync"
	"time"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

type attachedSink struct {
	id   uint64
	name string
	sink engine.LogSink
}

// SinkRegistry fans log events out to the sinks attached at the time of the event.
// It is a zerolog.Hook: add it to a logger with Logger.AddHook and every event that
// logger emits is delivered to the attached sinks, in attachment order.
type SinkRegistry struct {
	mu     sync.RWMutex
	sinks  []attachedSink
	nextID uint64
	now    func() time.Time
}

var (
	_ engine.LogSinkRegistry = (*SinkRegistry)(nil)
	_ zerolog.Hook           = (*SinkRegistry)(nil)
)

// NewSinkRegistry creates an empty sink registry.
func NewSinkRegistry() *SinkRegistry {
	return &SinkRegistry{now: time.Now}
}

// Attach starts delivering entries to sink. The returned detach function is idempotent.
func (r *SinkRegistry) Attach(name string, sink engine.LogSink) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.sinks = append(r.sinks, attachedSink{id: id, name: name, sink: sink})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.detach(id) })
	}
}

func (r *SinkRegistry) detach(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.sinks {
		if s.id == id {
			r.sinks = append(r.sinks[:i:i], r.sinks[i+1:]...)
			return
		}
	}
}

// Names lists the attached sink names in attachment order.
func (r *SinkRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.name
	}
	return names
}

// Run implements zerolog.Hook.
func (r *SinkRegistry) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.NoLevel || level == zerolog.Disabled {
		return
	}

	r.mu.RLock()
	if len(r.sinks) == 0 {
		r.mu.RUnlock()
		return
	}
	targets := make([]engine.LogSink, len(r.sinks))
	for i, s := range r.sinks {
		targets[i] = s.sink
	}
	r.mu.RUnlock()

	entry := engine.LogEntry{
		Time:    r.now().UTC(),
		Level:   level.String(),
		Message: msg,
	}
	// Sinks are called outside the lock so a sink may log or detach itself.
	for _, sink := range targets {
		sink.WriteEntry(entry)
	}
}

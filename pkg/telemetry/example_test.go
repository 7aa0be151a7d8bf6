package telemetry_test

import (
	"fmt"
	"io"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/openfroyo/catalog/pkg/telemetry"
)

type printSink struct{}

func (printSink) WriteEntry(entry engine.LogEntry) {
	fmt.Printf("%s: %s\n", entry.Level, entry.Message)
}

// ExampleSinkRegistry shows scoped log capture through a zerolog hook.
func ExampleSinkRegistry() {
	sinks := telemetry.NewSinkRegistry()
	logger := telemetry.NewWriterLogger(io.Discard, telemetry.LoggingConfig{Level: "info", Format: "json"}).
		AddHook(sinks)

	logger.Info("before attach")

	detach := sinks.Attach("example", printSink{})
	logger.Info("Applying resource file[/etc/motd]")
	logger.Warn("Skipping exec[reload]")
	detach()

	logger.Info("after detach")
	// Output:
	// info: Applying resource file[/etc/motd]
	// warn: Skipping exec[reload]
}


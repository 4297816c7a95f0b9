// Package telemetry defines the logging, metrics, and tracing abstractions
// used throughout the pipeline. Implementations delegate to goa.design/clue
// and OpenTelemetry; no-op implementations keep tests and embedded uses free
// of observability dependencies.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log messages with key-value pairs. Methods accept
	// a context so implementations can read request-scoped fields (run IDs,
	// session IDs) set upstream.
	Logger interface {
		// Debug emits a debug-level message with structured key-value pairs.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level message with structured key-value pairs.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level message with structured key-value pairs.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level message with structured key-value pairs.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers for pipeline instrumentation. Tags
	// are flat key/value string pairs appended to the metric.
	Metrics interface {
		// IncCounter increments the named counter by value.
		IncCounter(name string, value float64, tags ...string)
		// RecordTimer records a duration under the named timer.
		RecordTimer(name string, d time.Duration, tags ...string)
	}

	// Tracer creates spans around pipeline stages (workflow nodes, store
	// transactions, model calls).
	Tracer interface {
		// StartSpan starts a span with the given name and returns the derived
		// context and the span. Callers must End the span on all exit paths.
		StartSpan(ctx context.Context, name string) (context.Context, Span)
	}

	// Span is a minimal span surface: annotate with key-values, record an
	// error, and end.
	Span interface {
		// SetAttribute annotates the span with a key-value pair.
		SetAttribute(key string, value any)
		// RecordError records err on the span and marks it failed.
		RecordError(err error)
		// End completes the span.
		End()
	}
)

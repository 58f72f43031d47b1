package epic

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxDepth is the default cascade depth limit per cycle.
const DefaultMaxDepth = 1000

// Option configures a Store.
type Option func(*Store)

// WithPatterns enables wildcard condition matching.
func WithPatterns() Option {
	return func(s *Store) {
		s.patterns = true
	}
}

// WithUndo enables undo and redo.
func WithUndo(opts UndoOptions) Option {
	return func(s *Store) {
		s.history = newHistory(opts)
	}
}

// WithLogger sets the store logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver adds an observer. Observers are called in the order added.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithTracer sets the tracer used for dispatch, undo and redo spans.
// Default: the global otel tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMaxDepth sets the cascade depth limit.
//
// Default: 1000 (DefaultMaxDepth)
// Use WithMaxDepth(10) for testing cascade enforcement.
func WithMaxDepth(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// WithNameGenerator sets the generator used by Store.NewEpic for
// unnamed epics. Default: UUIDv7Generator.
func WithNameGenerator(g NameGenerator) Option {
	return func(s *Store) {
		if g != nil {
			s.names = g
		}
	}
}

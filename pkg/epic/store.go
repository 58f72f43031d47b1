package epic

import (
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

const tracerName = "github.com/roach88/epicflow/pkg/epic"

// phase is the dispatch state machine: Idle -> InCycle -> AfterCycle -> Idle.
type phase int

const (
	phaseIdle phase = iota
	phaseInCycle
	phaseAfterCycle
)

// Store registers epics and runs dispatch cycles.
//
// A Store is single-threaded: Dispatch, Undo and Redo run to completion
// on the calling goroutine and must not be called concurrently. Calling
// Dispatch from a reducer or a listener is rejected.
type Store struct {
	patterns  bool
	history   *history
	logger    *slog.Logger
	observers []Observer
	tracer    trace.Tracer
	maxDepth  int
	names     NameGenerator
	clock     clock

	epics map[string]*Epic
	order []string

	reducers        *registry
	listeners       *registry
	listenerList    []*reducer
	listenerOrdinal int

	phase phase
	cycle *cycle
}

// NewStore creates a store.
//
// Options can be passed to enable patterns and undo, or to attach a
// logger, observers and a tracer.
func NewStore(opts ...Option) *Store {
	s := &Store{
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		maxDepth:  DefaultMaxDepth,
		names:     UUIDv7Generator{},
		epics:     make(map[string]*Epic),
		reducers:  newRegistry(),
		listeners: newRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewEpic creates an unregistered epic, naming it with the store's
// generator when name is empty.
func (s *Store) NewEpic(name string) *Epic {
	return newEpic(name, s.names)
}

// Register adds e and indexes its reducers.
// Fails with DUPLICATE_EPIC if the name is taken.
func (s *Store) Register(e *Epic) error {
	if e == nil {
		return newError(CodeInvalidCondition, "nil epic")
	}
	if _, ok := s.epics[e.name]; ok {
		return newError(CodeDuplicateEpic, e.name).at(e.name, "")
	}

	s.epics[e.name] = e
	s.order = append(s.order, e.name)
	for _, r := range e.reducers {
		s.reducers.add(r)
	}
	e.attach(s)

	s.logger.Debug("epic registered",
		"epic", e.name,
		"reducers", len(e.reducers))
	return nil
}

// Unregister removes an epic given as *Epic or name. It reports whether
// the epic was registered.
func (s *Store) Unregister(epicOrName any) bool {
	var name string
	switch v := epicOrName.(type) {
	case *Epic:
		if v == nil {
			return false
		}
		name = v.name
	case string:
		name = v
	default:
		return false
	}

	e, ok := s.epics[name]
	if !ok {
		return false
	}
	if ep, isEpic := epicOrName.(*Epic); isEpic && ep != e {
		return false
	}

	delete(s.epics, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	for _, r := range e.reducers {
		s.reducers.remove(r)
	}
	e.detach(s)

	s.logger.Debug("epic unregistered", "epic", name)
	return true
}

// AddListener registers a store-level listener. Listeners run after a
// cycle commits, at most once per cycle, and cannot change state.
// The returned function removes the listener.
func (s *Store) AddListener(spec any, fn ListenerFunc, opts ...HandlerOption) (func(), error) {
	cfg := handlerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = ordinalName("L", s.listenerOrdinal)
	}

	r, err := newReducer(cfg.name, spec)
	if err != nil {
		if ee, ok := err.(*Error); ok {
			ee.at("", cfg.name)
		}
		return nil, err
	}
	r.listener = fn

	s.listenerOrdinal++
	s.listeners.add(r)
	s.listenerList = append(s.listenerList, r)

	removed := false
	return func() {
		if removed {
			return
		}
		removed = true
		r.detached = true
		s.listeners.remove(r)
		s.listenerList = slices.DeleteFunc(s.listenerList, func(x *reducer) bool { return x == r })
	}, nil
}

// EpicState returns a copy of a registered epic's committed state.
func (s *Store) EpicState(name string) (ir.Value, bool) {
	e, ok := s.epics[name]
	if !ok {
		return ir.Unset, false
	}
	return object.Clone(e.state.value), true
}

// EpicScope returns a copy of a registered epic's committed scope.
func (s *Store) EpicScope(name string) (ir.Value, bool) {
	e, ok := s.epics[name]
	if !ok {
		return ir.Unset, false
	}
	return object.Clone(e.scope.value), true
}

// Epic returns a registered epic by name.
func (s *Store) Epic(name string) (*Epic, bool) {
	e, ok := s.epics[name]
	return e, ok
}

// Epics returns registered epic names in registration order.
func (s *Store) Epics() []string {
	return slices.Clone(s.order)
}

// Listeners returns the names of listeners bound to key, an exact type or
// a wildcard source, in registration order.
func (s *Store) Listeners(key string) []string {
	rs := s.listeners.bound(key)
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = r.name
	}
	return names
}

// PatternsEnabled reports whether wildcard conditions are matched.
func (s *Store) PatternsEnabled() bool {
	return s.patterns
}

// UndoEnabled reports whether the store keeps undo history.
func (s *Store) UndoEnabled() bool {
	return s.history != nil
}

// UndoDepth returns the number of undoable frames.
func (s *Store) UndoDepth() int {
	if s.history == nil {
		return 0
	}
	return len(s.history.undo)
}

// RedoDepth returns the number of redoable frames.
func (s *Store) RedoDepth() int {
	if s.history == nil {
		return 0
	}
	return len(s.history.redo)
}

// Seq returns the sequence number of the most recent cycle.
func (s *Store) Seq() int64 {
	return s.clock.current()
}

// registered reports whether e is the epic registered under its name.
func (s *Store) registered(e *Epic) bool {
	return e != nil && s.epics[e.name] == e
}

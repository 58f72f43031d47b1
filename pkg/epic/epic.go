package epic

import (
	"slices"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

// Epic is a named unit of state, scope and reducers.
//
// State and scope live on the Epic itself. Registering one Epic into
// several stores shares that state between them; dispatching into those
// stores from different goroutines without external synchronization is
// undefined.
type Epic struct {
	name     string
	state    cell
	scope    cell
	stateSet bool
	scopeSet bool

	reducers []*reducer
	ordinal  int

	// stores holds every store the epic is registered in, in registration order.
	stores []*Store
}

// NewEpic creates an epic with Unset state and scope. An empty name is
// replaced by a generated UUIDv7.
func NewEpic(name string) *Epic {
	return newEpic(name, UUIDv7Generator{})
}

func newEpic(name string, gen NameGenerator) *Epic {
	if name == "" {
		name = gen.Generate()
	}
	return &Epic{
		name:  name,
		state: newCell(),
		scope: newCell(),
	}
}

// Name returns the epic name.
func (e *Epic) Name() string {
	return e.name
}

// State returns a copy of the committed state.
func (e *Epic) State() ir.Value {
	return object.Clone(e.state.value)
}

// Scope returns a copy of the committed scope.
func (e *Epic) Scope() ir.Value {
	return object.Clone(e.scope.value)
}

// UseState sets the initial state. It may be called once.
func (e *Epic) UseState(initial ir.Value) error {
	if e.stateSet {
		return newError(CodeMultipleSetState, e.name).at(e.name, "")
	}
	e.stateSet = true
	e.state.value = object.Freeze(initial)
	return nil
}

// UseScope sets the initial scope. It may be called once.
func (e *Epic) UseScope(initial ir.Value) error {
	if e.scopeSet {
		return newError(CodeMultipleSetScope, e.name).at(e.name, "")
	}
	e.scopeSet = true
	e.scope.value = object.Freeze(initial)
	return nil
}

// UseReducer attaches a reducer. If the epic is already registered, the
// reducer is indexed into every owning store immediately. The returned
// function detaches the reducer from the epic and from every store.
//
// Registration is atomic: on error nothing is attached.
func (e *Epic) UseReducer(spec any, h ReducerFunc, opts ...HandlerOption) (func(), error) {
	cfg := handlerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = ordinalName("R", e.ordinal)
	}

	r, err := newReducer(cfg.name, spec)
	if err != nil {
		if ee, ok := err.(*Error); ok {
			ee.at(e.name, cfg.name)
		}
		return nil, err
	}
	r.epic = e
	r.handler = h

	e.ordinal++
	e.reducers = append(e.reducers, r)
	for _, s := range e.stores {
		s.reducers.add(r)
	}

	detached := false
	return func() {
		if detached {
			return
		}
		detached = true
		r.detached = true
		e.reducers = slices.DeleteFunc(e.reducers, func(x *reducer) bool { return x == r })
		for _, s := range e.stores {
			s.reducers.remove(r)
		}
	}, nil
}

// Reducers returns the names of attached reducers in attachment order.
func (e *Epic) Reducers() []string {
	names := make([]string, len(e.reducers))
	for i, r := range e.reducers {
		names[i] = r.name
	}
	return names
}

func (e *Epic) attach(s *Store) {
	if !slices.Contains(e.stores, s) {
		e.stores = append(e.stores, s)
	}
}

func (e *Epic) detach(s *Store) {
	e.stores = slices.DeleteFunc(e.stores, func(x *Store) bool { return x == s })
}

package epic

import (
	"fmt"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

// Update is a reducer's partial result. A nil State or Scope leaves the
// corresponding value untouched.
type Update struct {
	State ir.Value
	Scope ir.Value

	// Passive updates change state without producing the internal action
	// other epics depend on.
	Passive bool
}

// ReducerFunc handles one firing. params is shaped after the condition
// spec: the value itself for a single condition, an ir.Array for Resolve
// and an ir.Object for ResolveMap.
type ReducerFunc func(params ir.Value, meta *Meta) (Update, error)

// ListenerFunc is notified at most once per committed cycle.
type ListenerFunc func(params ir.Value, meta *Meta) error

// HandlerOption configures a reducer or listener.
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	name string
}

// Named sets the reducer or listener name used in diagnostics and traces.
func Named(name string) HandlerOption {
	return func(c *handlerConfig) {
		c.name = name
	}
}

// Meta is the invocation context passed to handlers.
type Meta struct {
	// Action is the action being processed. For undo and redo cycles it
	// is empty and Kind says what happened.
	Action Action

	// Kind is the kind of cycle.
	Kind CycleKind

	// Changed lists the epics whose state changed this cycle. Only set
	// for listeners.
	Changed []string

	store *Store
	epic  *Epic
}

// Store returns the store running the cycle.
func (m *Meta) Store() *Store {
	return m.store
}

// Epic returns the owning epic's name, or "" for listeners.
func (m *Meta) Epic() string {
	if m.epic == nil {
		return ""
	}
	return m.epic.name
}

// State returns the owning epic's state as committed before this cycle.
func (m *Meta) State() ir.Value {
	if m.epic == nil {
		return ir.Unset
	}
	return object.Clone(m.epic.state.value)
}

// Scope returns the owning epic's scope as committed before this cycle.
func (m *Meta) Scope() ir.Value {
	if m.epic == nil {
		return ir.Unset
	}
	return object.Clone(m.epic.scope.value)
}

// CycleState returns the owning epic's state including updates staged
// earlier in this cycle.
func (m *Meta) CycleState() ir.Value {
	if m.epic == nil {
		return ir.Unset
	}
	return object.Clone(m.epic.state.current())
}

// CycleScope returns the owning epic's scope including updates staged
// earlier in this cycle.
func (m *Meta) CycleScope() ir.Value {
	if m.epic == nil {
		return ir.Unset
	}
	return object.Clone(m.epic.scope.current())
}

// reducer is the normalized form of a reducer or listener registration.
type reducer struct {
	epic     *Epic
	name     string
	handler  ReducerFunc
	listener ListenerFunc
	shape    shape
	slots    []*slot

	// processed dedupes listener invocations within a cycle.
	processed bool
	triggered bool
	detached  bool
}

func newReducer(name string, spec any) (*reducer, error) {
	sh, slots, err := buildSlots(spec)
	if err != nil {
		return nil, err
	}
	if err := validateSlots(name, slots); err != nil {
		return nil, err
	}
	return &reducer{name: name, shape: sh, slots: slots}, nil
}

// id identifies the reducer in traces: "epic/reducer" or "listener:name".
func (r *reducer) id() string {
	if r.epic == nil {
		return "listener:" + r.name
	}
	return r.epic.name + "/" + r.name
}

func (r *reducer) epicName() string {
	if r.epic == nil {
		return ""
	}
	return r.epic.name
}

// params shapes one value per slot into the handler argument.
func (r *reducer) params(values []ir.Value) ir.Value {
	switch r.shape {
	case shapeArray:
		return ir.Array(values)
	case shapeObject:
		obj := make(ir.Object, len(values))
		for i, s := range r.slots {
			obj[s.key] = values[i]
		}
		return obj
	default:
		return values[0]
	}
}

func ordinalName(prefix string, n int) string {
	return fmt.Sprintf("%s[%d]", prefix, n)
}

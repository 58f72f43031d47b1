package epic

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

// Selector derives the comparison value of a condition from a raw payload.
type Selector func(ir.Value) ir.Value

// Guard admits or rejects a selected value.
type Guard func(ir.Value) bool

// Condition describes one trigger. Type is an action type or epic name; a
// Type containing "*" is a wildcard pattern.
//
// Condition specs accepted by UseReducer and AddListener are a type string,
// an *Epic, a Condition, an AnyOfGroup, or Params built by Resolve and
// ResolveMap.
type Condition struct {
	Type     string
	Readonly bool
	Selector Selector
	Guard    Guard

	err error
}

// On returns a condition on the given action type or epic name.
func On(actionType string) Condition {
	return Condition{Type: actionType}
}

// Readonly marks c as observe-only: its value refreshes but it never
// triggers a reducer alone.
func Readonly(c any) Condition {
	cond, err := toCondition(c)
	if err != nil {
		return Condition{err: err}
	}
	cond.Readonly = true
	return cond
}

// WithSelector attaches a selector to c.
func WithSelector(c any, fn Selector) Condition {
	cond, err := toCondition(c)
	if err != nil {
		return Condition{err: err}
	}
	cond.Selector = fn
	return cond
}

// WithGuard attaches a guard to c.
func WithGuard(c any, fn Guard) Condition {
	cond, err := toCondition(c)
	if err != nil {
		return Condition{err: err}
	}
	cond.Guard = fn
	return cond
}

// AnyOfGroup is satisfied when any member fires. The member that fired
// supplies the value.
type AnyOfGroup []any

// AnyOf groups conditions so that any one of them satisfies the position.
func AnyOf(conds ...any) AnyOfGroup {
	return AnyOfGroup(conds)
}

// Params groups several conditions into one handler argument: an ir.Array
// for Resolve and an ir.Object for ResolveMap.
type Params struct {
	items []any
	keys  []string
	keyed bool
}

// Resolve groups conditions positionally.
func Resolve(conds ...any) Params {
	return Params{items: conds}
}

// ResolveMap groups conditions by name. Names are visited in sorted order.
func ResolveMap(conds map[string]any) Params {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]any, len(keys))
	for i, k := range keys {
		items[i] = conds[k]
	}
	return Params{items: items, keys: keys, keyed: true}
}

// toCondition normalizes a single condition input.
func toCondition(c any) (Condition, error) {
	switch v := c.(type) {
	case string:
		return Condition{Type: v}, nil
	case Condition:
		if v.err != nil {
			return Condition{}, v.err
		}
		return v, nil
	case *Condition:
		if v == nil {
			return Condition{}, newError(CodeInvalidCondition, "nil condition")
		}
		return toCondition(*v)
	case *Epic:
		if v == nil {
			return Condition{}, newError(CodeInvalidCondition, "nil epic")
		}
		return Condition{Type: v.Name()}, nil
	case AnyOfGroup:
		return Condition{}, newError(CodeInvalidCondition, "any-of group used where a single condition is required")
	case Params:
		return Condition{}, newError(CodeInvalidCondition, "resolved group used where a single condition is required")
	default:
		return Condition{}, newError(CodeInvalidCondition, "unsupported condition type "+typeName(c))
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

// cell holds a committed value and a cycle-scoped staged value.
type cell struct {
	value  ir.Value
	staged ir.Value
	dirty  bool
}

func newCell() cell {
	return cell{value: ir.Unset, staged: ir.Unset}
}

func (c *cell) current() ir.Value {
	if c.dirty {
		return c.staged
	}
	return c.value
}

func (c *cell) stage(v ir.Value) {
	c.staged = v
	c.dirty = true
}

func (c *cell) commit() {
	if c.dirty {
		c.value = c.staged
	}
	c.discard()
}

func (c *cell) discard() {
	c.staged = ir.Unset
	c.dirty = false
}

// selectorMemo caches the most recent selector call.
type selectorMemo struct {
	fn  Selector
	in  ir.Value
	out ir.Value
	ok  bool
}

func (m *selectorMemo) apply(v ir.Value) ir.Value {
	if m == nil {
		return v
	}
	if m.ok && object.Equal(m.in, v) {
		return m.out
	}
	out := m.fn(object.Freeze(v))
	if out == nil {
		out = ir.Null{}
	}
	m.in, m.out, m.ok = v, object.Freeze(out), true
	return m.out
}

// guardMemo caches the most recent guard call.
type guardMemo struct {
	fn  Guard
	in  ir.Value
	out bool
	ok  bool
}

func (m *guardMemo) admit(v ir.Value) bool {
	if m == nil {
		return true
	}
	if m.ok && object.Equal(m.in, v) {
		return m.out
	}
	m.in, m.out, m.ok = v, m.fn(object.Freeze(v)), true
	return m.out
}

// member is the normalized form of one Condition.
type member struct {
	typ      string
	readonly bool
	pattern  *regexp.Regexp
	sel      *selectorMemo
	guard    *guardMemo

	// seen is the last selected value, compared for novelty.
	seen cell
}

func newMember(c Condition) (*member, error) {
	if c.Type == "" {
		return nil, newError(CodeInvalidCondition, "empty type")
	}
	m := &member{typ: c.Type, readonly: c.Readonly, seen: newCell()}
	if strings.Contains(c.Type, "*") {
		m.pattern = compilePattern(c.Type)
	}
	if c.Selector != nil {
		m.sel = &selectorMemo{fn: c.Selector}
	}
	if c.Guard != nil {
		m.guard = &guardMemo{fn: c.Guard}
	}
	return m, nil
}

// universal reports whether m is the "*" pattern.
func (m *member) universal() bool {
	return m.typ == "*"
}

// matches reports whether m is keyed by actionType.
func (m *member) matches(actionType string) bool {
	if m.pattern != nil {
		return m.pattern.MatchString(actionType)
	}
	return m.typ == actionType
}

// derive applies the selector and guard. ok is false when the guard rejects.
func (m *member) derive(payload ir.Value) (ir.Value, bool) {
	v := m.sel.apply(payload)
	if !m.guard.admit(v) {
		return nil, false
	}
	return v, true
}

// firing is one fulfillment of a slot within a cycle.
type firing struct {
	typ   string
	value ir.Value
}

// slot is one handler-visible position: a single condition or an any-of group.
type slot struct {
	key     string
	members []*member
	group   bool

	// last is the most recent fulfilled value, persisted across cycles.
	last cell

	// fired lists this cycle's fulfillments, one per action type.
	fired []firing
}

func (s *slot) record(typ string, v ir.Value) {
	for i := range s.fired {
		if s.fired[i].typ == typ {
			s.fired[i].value = v
			return
		}
	}
	s.fired = append(s.fired, firing{typ: typ, value: v})
}

// multi reports whether the slot may contribute several values per cycle.
// withPatterns is the owning store's setting.
func (s *slot) multi(withPatterns bool) bool {
	return s.group || (withPatterns && s.members[0].pattern != nil)
}

// canTrigger reports whether the slot can fire a reducer on its own.
func (s *slot) canTrigger() bool {
	if s.group {
		return true
	}
	m := s.members[0]
	return !m.readonly && !m.universal()
}

type shape int

const (
	shapeSolo shape = iota
	shapeArray
	shapeObject
)

// buildSlots normalizes a condition spec into slots and the parameter shape.
func buildSlots(spec any) (shape, []*slot, error) {
	p, ok := spec.(Params)
	if !ok {
		s, err := buildSlot(spec, 0)
		if err != nil {
			return 0, nil, err
		}
		return shapeSolo, []*slot{s}, nil
	}

	if len(p.items) == 0 {
		return 0, nil, newError(CodeInvalidCondition, "empty condition group")
	}
	slots := make([]*slot, len(p.items))
	for i, item := range p.items {
		s, err := buildSlot(item, i)
		if err != nil {
			return 0, nil, err
		}
		if p.keyed {
			s.key = p.keys[i]
		}
		slots[i] = s
	}
	if p.keyed {
		return shapeObject, slots, nil
	}
	return shapeArray, slots, nil
}

func buildSlot(spec any, idx int) (*slot, error) {
	s := &slot{last: newCell()}

	group, ok := spec.(AnyOfGroup)
	if !ok {
		c, err := toCondition(spec)
		if err != nil {
			return nil, withIndex(err, idx)
		}
		m, err := newMember(c)
		if err != nil {
			return nil, withIndex(err, idx)
		}
		s.members = []*member{m}
		return s, nil
	}

	if len(group) == 0 {
		return nil, newError(CodeInvalidCondition, "empty any-of group").index(idx)
	}
	s.group = true
	for _, item := range group {
		c, err := toCondition(item)
		if err != nil {
			return nil, withIndex(err, idx)
		}
		m, err := newMember(c)
		if err != nil {
			return nil, withIndex(err, idx)
		}
		s.members = append(s.members, m)
	}
	return s, nil
}

func withIndex(err error, idx int) error {
	if e, ok := err.(*Error); ok && e.Index < 0 {
		e.Index = idx
	}
	return err
}

// validateSlots enforces the registration rules for a condition set.
func validateSlots(name string, slots []*slot) error {
	for i, s := range slots {
		for _, m := range s.members {
			if m.pattern != nil && m.readonly {
				return newError(CodeInvalidPattern, m.typ).index(i)
			}
			if !s.group {
				continue
			}
			if m.readonly {
				return newError(CodeInvalidAnyOf, "a readonly member").index(i)
			}
			if m.universal() {
				return newError(CodeInvalidAnyOf, `the universal pattern "*"`).index(i)
			}
		}
	}

	for _, s := range slots {
		if s.canTrigger() {
			return nil
		}
	}
	return newError(CodeNoReadonlyUpdaters, name)
}

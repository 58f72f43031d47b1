package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/epic"
	"github.com/roach88/epicflow/pkg/ir"
)

// Install builds every epic, registers them with s in declaration order,
// then adds the listeners. It stops at the first failure; epics
// registered before it stay registered.
func (d *Document) Install(s *epic.Store) error {
	for i := range d.Epics {
		e, err := d.Epics[i].Build()
		if err != nil {
			return err
		}
		if err := s.Register(e); err != nil {
			return fmt.Errorf("epic %s: %w", e.Name(), err)
		}
	}
	for i := range d.Listeners {
		if _, err := d.Listeners[i].Install(s); err != nil {
			return err
		}
	}
	return nil
}

// Build creates a live epic from the spec.
func (s *EpicSpec) Build() (*epic.Epic, error) {
	e := epic.NewEpic(s.Name)
	if !ir.IsUnset(s.State) {
		if err := e.UseState(s.State); err != nil {
			return nil, fmt.Errorf("epic %s: %w", s.Name, err)
		}
	}
	if s.HasScope() {
		if err := e.UseScope(s.Scope); err != nil {
			return nil, fmt.Errorf("epic %s: %w", s.Name, err)
		}
	}
	for i := range s.Reducers {
		r := &s.Reducers[i]
		if _, err := e.UseReducer(r.On.condition(), r.handler(), epic.Named(r.Name)); err != nil {
			return nil, fmt.Errorf("epic %s: reducer %s: %w", s.Name, r.Name, err)
		}
	}
	return e, nil
}

// Install adds the listener to s.
func (l *ListenerSpec) Install(s *epic.Store) (func(), error) {
	msg := l.Fail
	remove, err := s.AddListener(l.On.condition(), func(ir.Value, *epic.Meta) error {
		if msg != "" {
			return errors.New(msg)
		}
		return nil
	}, epic.Named(l.Name))
	if err != nil {
		return nil, fmt.Errorf("listener %s: %w", l.Name, err)
	}
	return remove, nil
}

// condition converts the spec into the value UseReducer and AddListener accept.
func (o OnSpec) condition() any {
	switch o.Shape {
	case ParamArray:
		items := make([]any, len(o.Slots))
		for i, s := range o.Slots {
			items[i] = s.condition()
		}
		return epic.Resolve(items...)
	case ParamObject:
		items := make(map[string]any, len(o.Slots))
		for i, s := range o.Slots {
			items[o.Keys[i]] = s.condition()
		}
		return epic.ResolveMap(items)
	default:
		return o.Slots[0].condition()
	}
}

func (s SlotSpec) condition() any {
	if s.Condition != nil {
		return s.Condition.condition()
	}
	members := make([]any, len(s.AnyOf))
	for i := range s.AnyOf {
		members[i] = s.AnyOf[i].condition()
	}
	return epic.AnyOf(members...)
}

func (c *ConditionSpec) condition() epic.Condition {
	cond := epic.On(c.Type)
	cond.Readonly = c.Readonly
	if len(c.Select) > 0 {
		path := c.Select
		cond.Selector = func(v ir.Value) ir.Value {
			out, ok := ir.Path(v, path...)
			if !ok {
				return ir.Null{}
			}
			return out
		}
	}
	if c.Guard != nil {
		cond.Guard = c.Guard.admit
	}
	return cond
}

// admit compares v against the guard literal. Ordering operators apply
// to two ints or two strings; any other pairing is rejected.
func (g *GuardSpec) admit(v ir.Value) bool {
	switch g.Op {
	case "eq":
		return object.Equal(v, g.Value)
	case "ne":
		return !object.Equal(v, g.Value)
	}

	var cmp int
	switch a := v.(type) {
	case ir.Int:
		b, ok := g.Value.(ir.Int)
		if !ok {
			return false
		}
		switch {
		case a < b:
			cmp = -1
		case a > b:
			cmp = 1
		}
	case ir.String:
		b, ok := g.Value.(ir.String)
		if !ok {
			return false
		}
		cmp = strings.Compare(string(a), string(b))
	default:
		return false
	}

	switch g.Op {
	case "gt":
		return cmp > 0
	case "lt":
		return cmp < 0
	case "ge":
		return cmp >= 0
	case "le":
		return cmp <= 0
	}
	return false
}

// handler runs the update program against the in-cycle state and scope.
func (r *ReducerSpec) handler() epic.ReducerFunc {
	ops := r.Updates
	passive := r.Passive
	return func(params ir.Value, meta *epic.Meta) (epic.Update, error) {
		var upd epic.Update
		for i := range ops {
			op := &ops[i]
			if op.Op == OpFail {
				return epic.Update{}, errors.New(op.Message)
			}

			cur, base := &upd.State, meta.CycleState
			if op.Target == TargetScope {
				cur, base = &upd.Scope, meta.CycleScope
			}
			if *cur == nil {
				*cur = base()
			}
			next, err := op.apply(*cur, params)
			if err != nil {
				return epic.Update{}, err
			}
			*cur = next
		}
		upd.Passive = passive
		return upd, nil
	}
}

func (op *UpdateOp) apply(cur, params ir.Value) (ir.Value, error) {
	switch op.Op {
	case OpSet:
		return setPath(cur, op.Path, object.Clone(op.Value))

	case OpInc:
		var n int64
		if old, ok := ir.Path(cur, op.Path...); ok && !ir.IsUnset(old) {
			i, isInt := old.(ir.Int)
			if !isInt {
				return nil, fmt.Errorf("inc %s: %s is not an int", op.where(), ir.Format(old))
			}
			n = int64(i)
		}
		return setPath(cur, op.Path, ir.Int(n+op.By))

	case OpParam:
		v, err := op.pick(params)
		if err != nil {
			return nil, err
		}
		return setPath(cur, op.Path, v)

	default:
		return nil, fmt.Errorf("unknown op %q", op.Op)
	}
}

// pick selects the op's source value from the handler params.
func (op *UpdateOp) pick(params ir.Value) (ir.Value, error) {
	v := params
	if op.From != "" {
		switch p := params.(type) {
		case ir.Array:
			idx, err := strconv.Atoi(op.From)
			if err != nil || idx < 0 || idx >= len(p) {
				return nil, fmt.Errorf("param %s: no index %q in %d params", op.where(), op.From, len(p))
			}
			v = p[idx]
		case ir.Object:
			elem, ok := p[op.From]
			if !ok {
				return nil, fmt.Errorf("param %s: no param named %q", op.where(), op.From)
			}
			v = elem
		default:
			return nil, fmt.Errorf("param %s: from %q needs grouped params", op.where(), op.From)
		}
	}
	if len(op.Select) > 0 {
		out, ok := ir.Path(v, op.Select...)
		if !ok {
			return nil, fmt.Errorf("param %s: %q not found in %s", op.where(), strings.Join(op.Select, "."), ir.Format(v))
		}
		v = out
	}
	return object.Clone(v), nil
}

func (op *UpdateOp) where() string {
	if len(op.Path) == 0 {
		return op.Target
	}
	return op.Target + "." + strings.Join(op.Path, ".")
}

// setPath returns root with v written at path. Missing or unset
// intermediate objects are created; root is not modified.
func setPath(root ir.Value, path []string, v ir.Value) (ir.Value, error) {
	if len(path) == 0 {
		return v, nil
	}

	var obj ir.Object
	switch r := root.(type) {
	case ir.Object:
		obj = r
	default:
		if !ir.IsUnset(root) {
			return nil, fmt.Errorf("cannot set %q on %s", path[0], ir.Format(root))
		}
	}

	child, ok := obj[path[0]]
	if !ok {
		child = ir.Unset
	}
	next, err := setPath(child, path[1:], v)
	if err != nil {
		return nil, err
	}

	out := make(ir.Object, len(obj)+1)
	for k, elem := range obj {
		out[k] = elem
	}
	out[path[0]] = next
	return out, nil
}

package epic

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

// snapshot is an epic's committed state and scope at first touch.
type snapshot struct {
	state ir.Value
	scope ir.Value
}

// cycle is the scratch of one dispatch, undo or redo.
type cycle struct {
	seq    int64
	kind   CycleKind
	action Action
	start  time.Time

	cells    []*cell
	cellSeen map[*cell]struct{}
	slots    []*slot
	slotSeen map[*slot]struct{}

	epics []*Epic
	base  map[*Epic]snapshot

	// patches collects undo/redo patches for the frame of this cycle.
	patches *frame

	reducers  int
	listeners int

	// poison is set by a rejected re-entrant dispatch and fails the cycle
	// even if the handler swallowed the error.
	poison error
}

func (c *cycle) stage(cl *cell, v ir.Value) {
	if _, ok := c.cellSeen[cl]; !ok {
		c.cellSeen[cl] = struct{}{}
		c.cells = append(c.cells, cl)
	}
	cl.stage(v)
}

func (c *cycle) fire(sl *slot, typ string, v ir.Value) {
	if _, ok := c.slotSeen[sl]; !ok {
		c.slotSeen[sl] = struct{}{}
		c.slots = append(c.slots, sl)
	}
	sl.record(typ, v)
	c.stage(&sl.last, v)
}

func (c *cycle) touch(e *Epic) {
	if _, ok := c.base[e]; ok {
		return
	}
	c.base[e] = snapshot{state: e.state.value, scope: e.scope.value}
	c.epics = append(c.epics, e)
}

// settle commits (ok) or discards every staged value and clears the
// cycle-scoped firing records.
func (c *cycle) settle(ok bool) {
	for _, cl := range c.cells {
		if ok {
			cl.commit()
		} else {
			cl.discard()
		}
	}
	for _, sl := range c.slots {
		sl.fired = nil
	}
	c.cells, c.slots = nil, nil
	clear(c.cellSeen)
	clear(c.slotSeen)
}

// changed returns the touched epics whose committed state (and, with
// scope set, scope) differs from the snapshot.
func (c *cycle) changed(scope bool) []*Epic {
	var out []*Epic
	for _, e := range c.epics {
		b := c.base[e]
		if !object.Equal(b.state, e.state.value) || (scope && !object.Equal(b.scope, e.scope.value)) {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) begin(kind CycleKind, a Action) *cycle {
	c := &cycle{
		seq:      s.clock.next(),
		kind:     kind,
		action:   a,
		start:    time.Now(),
		cellSeen: make(map[*cell]struct{}),
		slotSeen: make(map[*slot]struct{}),
		base:     make(map[*Epic]snapshot),
		patches:  &frame{},
	}
	s.phase = phaseInCycle
	s.cycle = c
	return c
}

func (s *Store) end() {
	s.phase = phaseIdle
	s.cycle = nil
}

// busy rejects re-entrant entry. op names what was attempted.
func (s *Store) busy(op string) error {
	switch s.phase {
	case phaseInCycle:
		err := newError(CodeNoDispatchInReducer, op)
		if s.cycle != nil && s.cycle.poison == nil {
			s.cycle.poison = err
		}
		return err
	case phaseAfterCycle:
		return newError(CodeNoDispatchInListener, op)
	default:
		return nil
	}
}

// Dispatch runs one dispatch cycle. action is a type string, an Action or
// an *Action.
//
// On a reducer error the whole cycle is rolled back and the error is
// returned; no partial update is ever committed. Listener failures are
// returned as a *ListenerError after the cycle has committed.
func (s *Store) Dispatch(action any) error {
	return s.DispatchContext(context.Background(), action)
}

// DispatchContext is Dispatch with a span recorded on ctx's tracer.
func (s *Store) DispatchContext(ctx context.Context, action any) error {
	if err := s.busy(describe(action)); err != nil {
		return err
	}
	a, err := normalizeAction(action)
	if err != nil {
		return err
	}

	_, span := s.tracer.Start(ctx, "epic.dispatch",
		trace.WithAttributes(attribute.String("epic.action_type", a.Type)))
	defer span.End()

	c := s.begin(CycleDispatch, a)
	span.SetAttributes(attribute.Int64("epic.cycle_seq", c.seq))

	err = s.protect(func() error {
		return s.executeAction(c, a, true, 0)
	})
	if err == nil && c.poison != nil {
		err = c.poison
	}
	c.settle(err == nil)

	if err != nil {
		s.end()
		s.logger.Debug("cycle rolled back",
			"cycle_seq", c.seq,
			"action_type", a.Type,
			"error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle rolled back")
		s.report(c, nil, err, nil)
		return err
	}

	if s.history != nil {
		s.history.record(c.patches, s.history.wantsFreshFrame(a))
	}
	s.end()

	changed := c.changed(true)
	lerr := s.notify(c, &a, c.changed(false))
	if lerr != nil {
		span.RecordError(lerr)
	}
	span.SetAttributes(attribute.Int("epic.changed", len(changed)))

	s.logger.Debug("cycle committed",
		"cycle_seq", c.seq,
		"action_type", a.Type,
		"changed", len(changed),
		"reducers", c.reducers)
	s.report(c, changed, nil, lerr)
	return lerr
}

// protect converts a panic raised while evaluating conditions into an error.
func (s *Store) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newError(CodeHandlerPanic, r)
		}
	}()
	return fn()
}

// executeAction processes one action and, recursively, the internal
// actions produced by the state changes it causes.
func (s *Store) executeAction(c *cycle, a Action, external bool, depth int) error {
	if depth > s.maxDepth {
		return newError(CodeCascadeLimit, s.maxDepth)
	}
	if external {
		if _, ok := s.epics[a.Type]; ok {
			return newError(CodeInvalidEpicAction, a.Type)
		}
	}

	onTarget := targetMatcher(a.Target)
	for _, b := range s.reducers.lookup(a.Type, s.patterns) {
		r := b.r
		if r.detached || !s.registered(r.epic) || !onTarget(r.epic.name) {
			continue
		}
		if err := s.consider(c, b, a, external, depth); err != nil {
			return err
		}
		if c.poison != nil {
			return c.poison
		}
	}
	return nil
}

// consider evaluates one candidate binding and invokes its reducer when
// every condition is satisfied.
func (s *Store) consider(c *cycle, b binding, a Action, external bool, depth int) error {
	r := b.r
	sl := r.slots[b.slot]
	m := sl.members[b.member]

	v, ok := m.derive(a.Payload)
	if !ok {
		s.logger.Debug("guard rejected",
			"epic", r.epicName(),
			"reducer", r.name,
			"action_type", a.Type)
		return nil
	}

	fulfilled := s.wildcard(m) || external || m.sel == nil || !object.Equal(v, m.seen.value)
	c.stage(&m.seen, v)
	if !fulfilled {
		return nil
	}
	c.fire(sl, a.Type, v)

	if !sl.group && m.readonly && !r.triggeredExcept(b.slot) {
		return nil
	}

	options := make([][]ir.Value, len(r.slots))
	for i, other := range r.slots {
		if i == b.slot {
			options[i] = []ir.Value{v}
			continue
		}
		vals, ok := s.available(other)
		if !ok {
			s.logger.Debug("reducer waiting on condition",
				"epic", r.epicName(),
				"reducer", r.name,
				"condition", i)
			return nil
		}
		options[i] = vals
	}

	combo := make([]ir.Value, len(options))
	var walk func(i int) error
	walk = func(i int) error {
		if i == len(options) {
			return s.invoke(c, r, a, slices.Clone(combo), s.wildcard(m) && m.universal(), depth)
		}
		for _, opt := range options[i] {
			combo[i] = opt
			if err := walk(i + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0)
}

// triggeredExcept reports whether a slot other than skip that can trigger
// has fired this cycle.
func (r *reducer) triggeredExcept(skip int) bool {
	for i, sl := range r.slots {
		if i == skip || len(sl.fired) == 0 {
			continue
		}
		if sl.group || !sl.members[0].readonly {
			return true
		}
	}
	return false
}

// wildcard reports whether m matches by pattern on this store. With
// patterns off its type is an ordinary name.
func (s *Store) wildcard(m *member) bool {
	return s.patterns && m.pattern != nil
}

// available returns the values a slot contributes to an invocation it did
// not trigger: this cycle's firings, else the persisted value, else the
// committed state of an epic the slot names.
func (s *Store) available(sl *slot) ([]ir.Value, bool) {
	if n := len(sl.fired); n > 0 {
		if !sl.multi(s.patterns) {
			return []ir.Value{sl.fired[n-1].value}, true
		}
		vals := make([]ir.Value, n)
		for i, f := range sl.fired {
			vals[i] = f.value
		}
		return vals, true
	}
	if v := sl.last.current(); !ir.IsUnset(v) {
		return []ir.Value{v}, true
	}
	if v, ok := s.lazyEpicValue(sl); ok {
		return []ir.Value{v}, true
	}
	return nil, false
}

// lazyEpicValue derives a slot value from the committed state of a
// registered epic one of its members names.
func (s *Store) lazyEpicValue(sl *slot) (ir.Value, bool) {
	for _, m := range sl.members {
		if s.wildcard(m) {
			continue
		}
		e, ok := s.epics[m.typ]
		if !ok || ir.IsUnset(e.state.value) {
			continue
		}
		if v, ok := m.derive(e.state.value); ok {
			return v, true
		}
	}
	return nil, false
}

// invoke calls a reducer, merges its update and cascades.
func (s *Store) invoke(c *cycle, r *reducer, a Action, values []ir.Value, universal bool, depth int) error {
	e := r.epic
	c.reducers++
	s.logger.Debug("reducer invoked",
		"cycle_seq", c.seq,
		"epic", e.name,
		"reducer", r.name,
		"action_type", a.Type,
		"depth", depth)
	s.emit(ReducerEvent{
		Seq:        c.seq,
		Kind:       c.kind,
		ActionType: a.Type,
		Epic:       e.name,
		Reducer:    r.name,
		Depth:      depth,
	})

	for i, v := range values {
		values[i] = object.Clone(v)
	}
	meta := &Meta{Action: a, Kind: c.kind, store: s, epic: e}
	upd, err := callReducer(r, r.params(values), meta)
	if c.poison != nil {
		return c.poison
	}
	if err != nil {
		return err
	}

	changed, err := s.apply(c, r, upd)
	if err != nil {
		return err
	}
	if !changed || upd.Passive || universal {
		return nil
	}

	next := Action{Type: e.name, Payload: e.state.current()}
	return s.executeAction(c, next, false, depth+1)
}

func callReducer(r *reducer, params ir.Value, meta *Meta) (upd Update, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newError(CodeHandlerPanic, p).at(r.epicName(), r.name)
		}
	}()
	upd, err = r.handler(params, meta)
	if err != nil {
		var ee *Error
		if !errors.As(err, &ee) {
			err = fmt.Errorf("%s: %w", r.id(), err)
		}
	}
	return upd, err
}

// apply merges an update into the epic's staged values. It reports
// whether the state changed.
func (s *Store) apply(c *cycle, r *reducer, upd Update) (bool, error) {
	e := r.epic
	wantPatches := s.history != nil

	merge := func(cl *cell, v ir.Value, what string) (bool, error) {
		if ir.IsUnset(v) {
			return false, nil
		}
		c.touch(e)
		base := cl.current()
		res, err := object.Merge(base, object.Freeze(v), wantPatches)
		if err != nil {
			if errors.Is(err, object.ErrShapeMismatch) {
				return false, newError(CodeInvalidHandlerUpdate, what).at(e.name, r.name).wrap(err)
			}
			return false, err
		}
		if object.Equal(base, res.Value) {
			return false, nil
		}
		c.stage(cl, res.Value)
		if wantPatches {
			c.patches.add(e, what == "scope", res)
		}
		return true, nil
	}

	stateChanged, err := merge(&e.state, upd.State, "state")
	if err != nil {
		return false, err
	}
	if _, err := merge(&e.scope, upd.Scope, "scope"); err != nil {
		return false, err
	}
	return stateChanged, nil
}

func (s *Store) emit(ev ReducerEvent) {
	for _, o := range s.observers {
		o.ReducerInvoked(ev)
	}
}

func (s *Store) report(c *cycle, changed []*Epic, err, lerr error) {
	if len(s.observers) == 0 {
		return
	}
	rep := CycleReport{
		Seq:         c.seq,
		Kind:        c.kind,
		ActionType:  c.action.Type,
		Err:         err,
		ListenerErr: lerr,
		Reducers:    c.reducers,
		Listeners:   c.listeners,
		Duration:    time.Since(c.start),
	}
	if len(changed) > 0 {
		rep.States = make(map[string]ir.Value, len(changed))
		for _, e := range changed {
			rep.Changed = append(rep.Changed, e.name)
			rep.States[e.name] = object.Clone(e.state.value)
		}
	}
	for _, o := range s.observers {
		o.CycleFinished(rep)
	}
}

// describe names a dispatch input for error messages.
func describe(action any) string {
	switch v := action.(type) {
	case string:
		return v
	case Action:
		return v.Type
	case *Action:
		if v != nil {
			return v.Type
		}
	}
	return typeName(action)
}

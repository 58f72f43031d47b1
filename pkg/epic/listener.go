package epic

import (
	"fmt"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

// notify runs store listeners for a committed cycle. The keys offered to
// listeners are the external action (if any) followed by every epic whose
// state changed, carrying its new state.
//
// Each listener runs at most once. Failures are collected and returned
// together after every triggered listener has run; condition values
// refresh regardless.
func (s *Store) notify(c *cycle, a *Action, changed []*Epic) error {
	if len(s.listenerList) == 0 {
		return nil
	}

	s.phase = phaseAfterCycle
	defer func() {
		s.phase = phaseIdle
	}()

	keys := make([]firing, 0, len(changed)+1)
	if a != nil {
		keys = append(keys, firing{typ: a.Type, value: a.Payload})
	}
	names := make([]string, len(changed))
	for i, e := range changed {
		keys = append(keys, firing{typ: e.name, value: e.state.value})
		names[i] = e.name
	}

	for i, k := range keys {
		external := a != nil && i == 0
		for _, b := range s.listeners.lookup(k.typ, s.patterns) {
			s.offer(c, b, k, external)
		}
	}

	meta := &Meta{Kind: c.kind, Changed: names, store: s}
	if a != nil {
		meta.Action = *a
	}

	var errs []error
	for _, r := range s.listenerList {
		if !r.triggered || r.processed || r.detached {
			continue
		}
		r.processed = true
		c.listeners++

		s.emit(ReducerEvent{
			Seq:        c.seq,
			Kind:       c.kind,
			ActionType: meta.Action.Type,
			Reducer:    r.name,
			Listener:   true,
		})
		if err := callListener(r, s.listenerParams(r), meta); err != nil {
			s.logger.Warn("listener failed",
				"cycle_seq", c.seq,
				"listener", r.name,
				"error", err)
			errs = append(errs, err)
		}
	}

	c.settle(true)
	for _, r := range s.listenerList {
		r.triggered, r.processed = false, false
	}

	if len(errs) > 0 {
		return &ListenerError{Errs: errs}
	}
	return nil
}

// offer evaluates one listener binding against a fired key.
func (s *Store) offer(c *cycle, b binding, k firing, external bool) {
	r := b.r
	if r.detached {
		return
	}
	sl := r.slots[b.slot]
	m := sl.members[b.member]

	v, ok := m.derive(k.value)
	if !ok {
		return
	}
	fulfilled := s.wildcard(m) || external || m.sel == nil || !object.Equal(v, m.seen.value)
	c.stage(&m.seen, v)
	if !fulfilled {
		return
	}
	c.fire(sl, k.typ, v)
	if sl.group || !m.readonly {
		r.triggered = true
	}
}

// listenerParams builds a listener argument. Unlike reducers, listeners
// never wait: a slot with no value yet contributes Unset.
func (s *Store) listenerParams(r *reducer) ir.Value {
	values := make([]ir.Value, len(r.slots))
	for i, sl := range r.slots {
		switch {
		case len(sl.fired) > 0:
			values[i] = sl.fired[len(sl.fired)-1].value
		case !ir.IsUnset(sl.last.current()):
			values[i] = sl.last.current()
		default:
			if v, ok := s.lazyEpicValue(sl); ok {
				values[i] = v
			} else {
				values[i] = ir.Unset
			}
		}
		values[i] = object.Clone(values[i])
	}
	return r.params(values)
}

func callListener(r *reducer, params ir.Value, meta *Meta) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newError(CodeHandlerPanic, p).at("", r.name)
		}
	}()
	if err := r.listener(params, meta); err != nil {
		return fmt.Errorf("%s: %w", r.id(), err)
	}
	return nil
}

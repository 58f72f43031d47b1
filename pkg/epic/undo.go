package epic

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

// DefaultMaxUndoStack is the undo history depth used when UndoOptions
// leaves MaxStack at zero.
const DefaultMaxUndoStack = 100

// UndoOptions configures undo history.
type UndoOptions struct {
	// MaxStack caps the number of undo frames. The oldest frame is dropped
	// when the cap is exceeded.
	MaxStack int

	// ManualUndoPoints makes cycles join the current frame unless the
	// action sets CreateUndoPoint. By default every cycle starts a new
	// frame unless the action sets SkipUndoPoint.
	ManualUndoPoints bool
}

// patchPair holds the inverse and forward patch for one value.
type patchPair struct {
	undo object.Patch
	redo object.Patch
}

// absorb folds a newer patch pair into p so that p spans both.
func (p *patchPair) absorb(newer *patchPair) {
	p.undo = newer.undo.Then(p.undo)
	p.redo = p.redo.Then(newer.redo)
}

// frameEntry is the patch record of one epic within a frame.
type frameEntry struct {
	epic  *Epic
	state *patchPair
	scope *patchPair
}

// frame is one undoable step.
type frame struct {
	entries []*frameEntry
}

func (f *frame) entry(e *Epic) *frameEntry {
	for _, fe := range f.entries {
		if fe.epic == e {
			return fe
		}
	}
	fe := &frameEntry{epic: e}
	f.entries = append(f.entries, fe)
	return fe
}

// add records the patches of one merge.
func (f *frame) add(e *Epic, scope bool, res object.Result) {
	if res.Undo == nil && res.Redo == nil {
		return
	}
	fe := f.entry(e)
	pp := &patchPair{undo: res.Undo, redo: res.Redo}
	target := &fe.state
	if scope {
		target = &fe.scope
	}
	if *target == nil {
		*target = pp
		return
	}
	(*target).absorb(pp)
}

// absorb merges a newer frame into f, entity by entity.
func (f *frame) absorb(newer *frame) {
	for _, ne := range newer.entries {
		fe := f.entry(ne.epic)
		for _, pair := range []struct {
			dst **patchPair
			src *patchPair
		}{{&fe.state, ne.state}, {&fe.scope, ne.scope}} {
			switch {
			case pair.src == nil:
			case *pair.dst == nil:
				*pair.dst = pair.src
			default:
				(*pair.dst).absorb(pair.src)
			}
		}
	}
}

func (f *frame) empty() bool {
	return f == nil || len(f.entries) == 0
}

// history is the bounded undo stack plus its redo stack.
type history struct {
	opts UndoOptions
	undo []*frame
	redo []*frame
}

func newHistory(opts UndoOptions) *history {
	if opts.MaxStack <= 0 {
		opts.MaxStack = DefaultMaxUndoStack
	}
	return &history{opts: opts}
}

// wantsFreshFrame reports whether a cycle for a starts a new frame.
func (h *history) wantsFreshFrame(a Action) bool {
	if a.CreateUndoPoint {
		return true
	}
	return !h.opts.ManualUndoPoints && !a.SkipUndoPoint
}

// record pushes f, or merges it into the top frame. Any recorded change
// invalidates the redo stack.
func (h *history) record(f *frame, fresh bool) {
	if f.empty() {
		return
	}
	h.redo = nil

	if !fresh && len(h.undo) > 0 {
		h.undo[len(h.undo)-1].absorb(f)
		return
	}
	h.undo = append(h.undo, f)
	if len(h.undo) > h.opts.MaxStack {
		h.undo = h.undo[len(h.undo)-h.opts.MaxStack:]
	}
}

func pop(stack *[]*frame) *frame {
	n := len(*stack)
	if n == 0 {
		return nil
	}
	f := (*stack)[n-1]
	*stack = (*stack)[:n-1]
	return f
}

// apply runs the undo (or redo) side of every entry of f.
func (f *frame) apply(forward bool, fn func(e *Epic, state, scope object.Patch)) {
	if forward {
		for _, fe := range f.entries {
			fn(fe.epic, redoOf(fe.state), redoOf(fe.scope))
		}
		return
	}
	for i := len(f.entries) - 1; i >= 0; i-- {
		fe := f.entries[i]
		fn(fe.epic, undoOf(fe.state), undoOf(fe.scope))
	}
}

func undoOf(p *patchPair) object.Patch {
	if p == nil {
		return nil
	}
	return p.undo
}

func redoOf(p *patchPair) object.Patch {
	if p == nil {
		return nil
	}
	return p.redo
}

// patched applies p to v and freezes the result. A nil patch leaves v.
func patched(p object.Patch, v ir.Value) (ir.Value, bool) {
	if p == nil {
		return v, false
	}
	return object.Freeze(p(v)), true
}

// Undo reverts the most recent undo frame. It reports false when there is
// nothing to undo and fails with UNDO_DISABLED on a store without undo.
//
// Applying a frame is a cycle of its own: the touched epics commit
// together and store listeners are notified of the epics whose state
// changed. Reducers are not re-run.
func (s *Store) Undo() (bool, error) {
	return s.UndoContext(context.Background())
}

// UndoContext is Undo with a span recorded on ctx's tracer.
func (s *Store) UndoContext(ctx context.Context) (bool, error) {
	return s.travel(ctx, CycleUndo)
}

// Redo re-applies the most recently undone frame.
func (s *Store) Redo() (bool, error) {
	return s.RedoContext(context.Background())
}

// RedoContext is Redo with a span recorded on ctx's tracer.
func (s *Store) RedoContext(ctx context.Context) (bool, error) {
	return s.travel(ctx, CycleRedo)
}

func (s *Store) travel(ctx context.Context, kind CycleKind) (bool, error) {
	if s.history == nil {
		return false, newError(CodeUndoDisabled)
	}
	if err := s.busy(string(kind)); err != nil {
		return false, err
	}

	forward := kind == CycleRedo
	from, to := &s.history.undo, &s.history.redo
	if forward {
		from, to = to, from
	}
	f := pop(from)
	if f == nil {
		return false, nil
	}

	_, span := s.tracer.Start(ctx, "epic."+string(kind),
		trace.WithAttributes(attribute.Int("epic.frame_entries", len(f.entries))))
	defer span.End()

	c := s.begin(kind, Action{})
	f.apply(forward, func(e *Epic, state, scope object.Patch) {
		if !s.registered(e) {
			return
		}
		c.touch(e)
		if v, ok := patched(state, e.state.value); ok {
			c.stage(&e.state, v)
		}
		if v, ok := patched(scope, e.scope.value); ok {
			c.stage(&e.scope, v)
		}
	})
	c.settle(true)
	*to = append(*to, f)
	s.end()

	changed := c.changed(true)
	lerr := s.notify(c, nil, c.changed(false))
	if lerr != nil {
		span.RecordError(lerr)
	}

	s.logger.Debug("history applied",
		"cycle_seq", c.seq,
		"kind", string(kind),
		"changed", len(changed))
	s.report(c, changed, nil, lerr)
	return true, lerr
}

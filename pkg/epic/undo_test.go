package epic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/epicflow/pkg/ir"
)

func newUndoCounter(t *testing.T, opts UndoOptions) *Store {
	t.Helper()
	s := NewStore(WithUndo(opts))
	e := newCounter(t, "counter")
	mustUse(t, e, "INC", increment("count"))
	mustRegister(t, s, e)
	return s
}

func TestUndo_RoundTrip(t *testing.T) {
	s := newUndoCounter(t, UndoOptions{})
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Dispatch("INC"))
	}
	require.Equal(t, int64(4), countOf(t, s, "counter"))
	assert.Equal(t, 4, s.UndoDepth())

	for i := 0; i < 3; i++ {
		ok, err := s.Undo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, int64(1), countOf(t, s, "counter"))
	assert.Equal(t, 1, s.UndoDepth())
	assert.Equal(t, 3, s.RedoDepth())

	for i := 0; i < 3; i++ {
		ok, err := s.Redo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, int64(4), countOf(t, s, "counter"))

	ok, err := s.Redo()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndo_MaxStackCaps(t *testing.T) {
	s := newUndoCounter(t, UndoOptions{MaxStack: 2})
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Dispatch("INC"))
	}
	assert.Equal(t, 2, s.UndoDepth())

	for i := 0; i < 2; i++ {
		ok, err := s.Undo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := s.Undo()
	require.NoError(t, err)
	assert.False(t, ok, "history beyond the cap is gone")
	assert.Equal(t, int64(2), countOf(t, s, "counter"))
}

func TestUndo_Disabled(t *testing.T) {
	s := NewStore()

	_, err := s.Undo()
	assert.True(t, IsCode(err, CodeUndoDisabled))
	_, err = s.Redo()
	assert.True(t, IsCode(err, CodeUndoDisabled))
}

func TestUndo_ToUnset(t *testing.T) {
	s := NewStore(WithUndo(UndoOptions{}))
	e := NewEpic("lazy")
	mustUse(t, e, "SET", func(p ir.Value, _ *Meta) (Update, error) {
		return Update{State: ir.Object{"v": p}}, nil
	})
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch(WithPayload(Act("SET"), ir.Int(7))))
	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)

	v, _ := s.EpicState("lazy")
	assert.True(t, ir.IsUnset(v))

	_, err = s.Redo()
	require.NoError(t, err)
	v, _ = s.EpicState("lazy")
	assert.Equal(t, ir.Object{"v": ir.Int(7)}, v)
}

func TestUndo_ManualUndoPoints(t *testing.T) {
	s := newUndoCounter(t, UndoOptions{ManualUndoPoints: true})

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Dispatch("INC"))
	}
	assert.Equal(t, 1, s.UndoDepth(), "cycles join the first frame")

	require.NoError(t, s.Dispatch(WithUndoPoint(Act("INC"))))
	assert.Equal(t, 2, s.UndoDepth())

	_, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, int64(3), countOf(t, s, "counter"))

	_, err = s.Undo()
	require.NoError(t, err)
	assert.Equal(t, int64(0), countOf(t, s, "counter"))

	_, err = s.Redo()
	require.NoError(t, err)
	assert.Equal(t, int64(3), countOf(t, s, "counter"))
}

func TestUndo_SkipUndoPoint(t *testing.T) {
	s := newUndoCounter(t, UndoOptions{})

	require.NoError(t, s.Dispatch("INC"))
	require.NoError(t, s.Dispatch(WithoutUndoPoint(Act("INC"))))
	assert.Equal(t, 1, s.UndoDepth())

	_, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, int64(0), countOf(t, s, "counter"))
}

func TestUndo_NewChangeClearsRedo(t *testing.T) {
	s := newUndoCounter(t, UndoOptions{})
	require.NoError(t, s.Dispatch("INC"))
	require.NoError(t, s.Dispatch("INC"))

	_, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, 1, s.RedoDepth())

	require.NoError(t, s.Dispatch("INC"))
	assert.Equal(t, 0, s.RedoDepth())
	assert.Equal(t, int64(2), countOf(t, s, "counter"))
}

func TestUndo_NoChangeRecordsNothing(t *testing.T) {
	s := newUndoCounter(t, UndoOptions{})
	require.NoError(t, s.Dispatch("UNRELATED"))
	assert.Equal(t, 0, s.UndoDepth())

	ok, err := s.Undo()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUndo_RolledBackCycleRecordsNothing(t *testing.T) {
	s := newUndoCounter(t, UndoOptions{})
	e, _ := s.Epic("counter")
	mustUse(t, e, "INC", func(ir.Value, *Meta) (Update, error) {
		panic("no")
	})

	require.Error(t, s.Dispatch("INC"))
	assert.Equal(t, 0, s.UndoDepth())
}

func TestUndo_CascadeUndoesAtomically(t *testing.T) {
	s := NewStore(WithUndo(UndoOptions{}))
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", increment("count"))
	e2 := newCounter(t, "e2")
	mustUse(t, e2, e1, increment("count"))
	require.NoError(t, e2.UseScope(ir.Object{"seen": ir.Int(0)}))
	mustUse(t, e2, e1, func(ir.Value, *Meta) (Update, error) {
		return Update{Scope: ir.Object{"seen": ir.Int(1), "extra": ir.Bool(true)}}, nil
	})
	mustRegister(t, s, e1, e2)

	require.NoError(t, s.Dispatch("A"))
	_, err := s.Undo()
	require.NoError(t, err)

	assert.Equal(t, int64(0), countOf(t, s, "e1"))
	assert.Equal(t, int64(0), countOf(t, s, "e2"))
	scope, _ := s.EpicScope("e2")
	assert.Equal(t, ir.Object{"seen": ir.Int(0)}, scope)
}

func TestUndo_NotifiesListeners(t *testing.T) {
	obs := &recordingObserver{}
	s := NewStore(WithUndo(UndoOptions{}), WithObserver(obs))
	e := newCounter(t, "counter")
	mustUse(t, e, "INC", increment("count"))
	mustRegister(t, s, e)

	var kinds []CycleKind
	var values []ir.Value
	_, err := s.AddListener(e, func(p ir.Value, meta *Meta) error {
		kinds = append(kinds, meta.Kind)
		values = append(values, p)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Dispatch("INC"))
	_, err = s.Undo()
	require.NoError(t, err)
	_, err = s.Redo()
	require.NoError(t, err)

	assert.Equal(t, []CycleKind{CycleDispatch, CycleUndo, CycleRedo}, kinds)
	assert.Equal(t, []ir.Value{
		ir.Object{"count": ir.Int(1)},
		ir.Object{"count": ir.Int(0)},
		ir.Object{"count": ir.Int(1)},
	}, values)

	require.Len(t, obs.cycles, 3)
	assert.Equal(t, CycleUndo, obs.cycles[1].Kind)
	assert.Equal(t, []string{"counter"}, obs.cycles[1].Changed)
	assert.Equal(t, []string{"listener:L[0]", "listener:L[0]", "listener:L[0]"}, obs.ids()[1:])
}

func TestUndo_RejectedInsideReducer(t *testing.T) {
	s := NewStore(WithUndo(UndoOptions{}))
	e := newCounter(t, "counter")
	mustUse(t, e, "INC", func(_ ir.Value, meta *Meta) (Update, error) {
		_, err := meta.Store().Undo()
		return Update{}, err
	})
	mustRegister(t, s, e)

	err := s.Dispatch("INC")
	assert.True(t, IsCode(err, CodeNoDispatchInReducer))
}

package epic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

func TestDispatch_NoopLeavesEverythingUnchanged(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	var calls int
	mustUse(t, e, "INCREMENT", func(ir.Value, *Meta) (Update, error) {
		calls++
		return Update{}, nil
	})
	mustRegister(t, s, e)

	before, _ := s.EpicState("counter")
	require.NoError(t, s.Dispatch("UNRELATED"))

	after, _ := s.EpicState("counter")
	assert.Equal(t, before, after)
	assert.Equal(t, 0, calls)
	assert.True(t, ir.IsUnset(e.reducers[0].slots[0].members[0].seen.value))
	assert.True(t, ir.IsUnset(e.Scope()))
}

func TestDispatch_Atomicity(t *testing.T) {
	s := NewStore()
	e2 := newCounter(t, "e2")
	mustUse(t, e2, "A", increment("count"))

	fail := true
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", func(_ ir.Value, meta *Meta) (Update, error) {
		if fail {
			return Update{}, errors.New("boom")
		}
		return increment("count")(nil, meta)
	})
	mustRegister(t, s, e2, e1)

	err := s.Dispatch("A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e1/R[0]")
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, int64(0), countOf(t, s, "e2"))
	assert.Equal(t, int64(0), countOf(t, s, "e1"))

	fail = false
	require.NoError(t, s.Dispatch("A"))
	assert.Equal(t, int64(1), countOf(t, s, "e2"))
	assert.Equal(t, int64(1), countOf(t, s, "e1"))
}

func TestDispatch_Cascade(t *testing.T) {
	s := NewStore()
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", increment("count"))
	e2 := newCounter(t, "e2")
	mustUse(t, e2, e1, increment("count"))
	mustRegister(t, s, e1, e2)

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Dispatch("A"))
	}

	assert.Equal(t, int64(4), countOf(t, s, "e1"))
	assert.Equal(t, int64(4), countOf(t, s, "e2"))
}

func TestDispatch_CascadeReceivesNewState(t *testing.T) {
	s := NewStore()
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", increment("count"))

	var seen []ir.Value
	e2 := NewEpic("e2")
	mustUse(t, e2, e1, func(params ir.Value, _ *Meta) (Update, error) {
		seen = append(seen, params)
		return Update{}, nil
	})
	mustRegister(t, s, e1, e2)

	require.NoError(t, s.Dispatch("A"))
	require.NoError(t, s.Dispatch("A"))

	assert.Equal(t, []ir.Value{
		ir.Object{"count": ir.Int(1)},
		ir.Object{"count": ir.Int(2)},
	}, seen)
}

func TestDispatch_ReadonlyDoesNotTrigger(t *testing.T) {
	s := NewStore()
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", increment("count"))

	var observed []ir.Value
	e2 := newCounter(t, "e2")
	mustUse(t, e2, Resolve(Readonly(e1), "B"), func(params ir.Value, meta *Meta) (Update, error) {
		observed = append(observed, params.(ir.Array)[0])
		return increment("count")(params, meta)
	})
	mustRegister(t, s, e1, e2)

	require.NoError(t, s.Dispatch("A"))
	assert.Empty(t, observed, "readonly condition must not trigger alone")
	assert.Equal(t, int64(0), countOf(t, s, "e2"))

	require.NoError(t, s.Dispatch("A"))
	require.NoError(t, s.Dispatch("B"))
	require.Len(t, observed, 1)
	assert.Equal(t, ir.Object{"count": ir.Int(2)}, observed[0])
	assert.Equal(t, int64(1), countOf(t, s, "e2"))
}

func TestDispatch_ReadonlyUsesRegisteredEpicState(t *testing.T) {
	s := NewStore()
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", increment("count"))

	var observed ir.Value
	e2 := NewEpic("e2")
	mustUse(t, e2, Resolve("B", Readonly(e1)), func(params ir.Value, _ *Meta) (Update, error) {
		observed = params.(ir.Array)[1]
		return Update{}, nil
	})
	mustRegister(t, s, e1, e2)

	require.NoError(t, s.Dispatch("B"))
	assert.Equal(t, ir.Object{"count": ir.Int(0)}, observed)
}

func TestDispatch_AnyOfFanOut(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	mustUse(t, e, Resolve(AnyOf("X", "Y")), increment("count"))
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch("X"))
	assert.Equal(t, int64(1), countOf(t, s, "counter"))

	require.NoError(t, s.Dispatch("Y"))
	assert.Equal(t, int64(2), countOf(t, s, "counter"))
}

func TestDispatch_AllConditionsRequired(t *testing.T) {
	s := NewStore()
	var got []ir.Value
	e := NewEpic("pair")
	mustUse(t, e, ResolveMap(map[string]any{"x": "X", "y": "Y"}), func(params ir.Value, _ *Meta) (Update, error) {
		got = append(got, params)
		return Update{}, nil
	})
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch(WithPayload(Act("X"), ir.Int(1))))
	assert.Empty(t, got, "Y has never been seen")

	require.NoError(t, s.Dispatch(WithPayload(Act("Y"), ir.Int(2))))
	require.NoError(t, s.Dispatch(WithPayload(Act("X"), ir.Int(3))))

	assert.Equal(t, []ir.Value{
		ir.Object{"x": ir.Int(1), "y": ir.Int(2)},
		ir.Object{"x": ir.Int(3), "y": ir.Int(2)},
	}, got)
}

func TestDispatch_ReentrancyGuard(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	var inner error
	mustUse(t, e, "A", func(_ ir.Value, meta *Meta) (Update, error) {
		inner = meta.Store().Dispatch("B")
		return Update{State: ir.Object{"count": ir.Int(10)}}, nil
	})
	mustRegister(t, s, e)

	err := s.Dispatch("A")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeNoDispatchInReducer))
	assert.True(t, IsCode(inner, CodeNoDispatchInReducer))
	assert.Equal(t, int64(0), countOf(t, s, "counter"))

	// The store is usable again.
	require.NoError(t, s.Dispatch("B"))
}

func TestDispatch_InvalidEpicAction(t *testing.T) {
	s := NewStore()
	mustRegister(t, s, newCounter(t, "counter"))

	err := s.Dispatch("counter")
	assert.True(t, IsCode(err, CodeInvalidEpicAction))
}

func TestDispatch_InvalidAction(t *testing.T) {
	s := NewStore()

	tests := []struct {
		name string
		in   any
	}{
		{"empty string", ""},
		{"nil pointer", (*Action)(nil)},
		{"wrong type", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsCode(s.Dispatch(tt.in), CodeInvalidAction))
		})
	}
}

func TestDispatch_InvalidHandlerUpdate(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	mustUse(t, e, "A", func(ir.Value, *Meta) (Update, error) {
		return Update{State: ir.Int(1)}, nil
	}, Named("flatten"))
	mustRegister(t, s, e)

	err := s.Dispatch("A")
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeInvalidHandlerUpdate))
	assert.ErrorIs(t, err, object.ErrShapeMismatch)

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "counter", ee.Epic)
	assert.Equal(t, "flatten", ee.Reducer)
	assert.Equal(t, int64(0), countOf(t, s, "counter"))
}

func TestDispatch_PrimitiveStateReplaces(t *testing.T) {
	s := NewStore()
	e := NewEpic("label")
	mustUse(t, e, "SET", func(params ir.Value, _ *Meta) (Update, error) {
		return Update{State: params}, nil
	})
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch(WithPayload(Act("SET"), ir.String("a"))))
	require.NoError(t, s.Dispatch(WithPayload(Act("SET"), ir.String("b"))))

	v, _ := s.EpicState("label")
	assert.Equal(t, ir.String("b"), v)
}

func TestDispatch_HandlerPanicRollsBack(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	mustUse(t, e, "A", increment("count"))
	mustUse(t, e, "A", func(ir.Value, *Meta) (Update, error) {
		panic("kaboom")
	})
	mustRegister(t, s, e)

	err := s.Dispatch("A")
	assert.True(t, IsCode(err, CodeHandlerPanic))
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, int64(0), countOf(t, s, "counter"))
}

func TestDispatch_CascadeLimit(t *testing.T) {
	s := NewStore(WithMaxDepth(10))
	ping := newCounter(t, "ping")
	pong := newCounter(t, "pong")
	mustUse(t, ping, AnyOf("START", pong), increment("count"))
	mustUse(t, pong, ping, increment("count"))
	mustRegister(t, s, ping, pong)

	err := s.Dispatch("START")
	assert.True(t, IsCode(err, CodeCascadeLimit))
	assert.Equal(t, int64(0), countOf(t, s, "ping"))
	assert.Equal(t, int64(0), countOf(t, s, "pong"))
}

func TestDispatch_PassiveUpdateDoesNotCascade(t *testing.T) {
	s := NewStore()
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", func(_ ir.Value, meta *Meta) (Update, error) {
		upd, err := increment("count")(nil, meta)
		upd.Passive = true
		return upd, err
	})
	e2 := newCounter(t, "e2")
	mustUse(t, e2, e1, increment("count"))
	mustRegister(t, s, e1, e2)

	require.NoError(t, s.Dispatch("A"))
	assert.Equal(t, int64(1), countOf(t, s, "e1"))
	assert.Equal(t, int64(0), countOf(t, s, "e2"))
}

func TestDispatch_ScopeUpdates(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	require.NoError(t, e.UseScope(ir.Object{"hits": ir.Int(0)}))
	mustUse(t, e, "HIT", func(_ ir.Value, meta *Meta) (Update, error) {
		hits, _ := ir.Path(meta.CycleScope(), "hits")
		return Update{Scope: ir.Object{"hits": hits.(ir.Int) + 1}}, nil
	})
	watcher := newCounter(t, "watcher")
	mustUse(t, watcher, e, increment("count"))
	mustRegister(t, s, e, watcher)

	require.NoError(t, s.Dispatch("HIT"))

	scope, ok := s.EpicScope("counter")
	require.True(t, ok)
	assert.Equal(t, ir.Object{"hits": ir.Int(1)}, scope)
	assert.Equal(t, int64(0), countOf(t, s, "watcher"), "scope changes do not cascade")
}

func TestDispatch_MetaSeesCommittedAndCycleState(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	mustUse(t, e, "A", increment("count"))

	var committed, inCycle ir.Value
	mustUse(t, e, "A", func(_ ir.Value, meta *Meta) (Update, error) {
		committed = meta.State()
		inCycle = meta.CycleState()
		assert.Equal(t, "counter", meta.Epic())
		assert.Equal(t, "A", meta.Action.Type)
		return Update{}, nil
	})
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch("A"))
	assert.Equal(t, ir.Object{"count": ir.Int(0)}, committed)
	assert.Equal(t, ir.Object{"count": ir.Int(1)}, inCycle)
}

func TestDispatch_HandlerCannotMutateState(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "counter")
	mustUse(t, e, "A", func(_ ir.Value, meta *Meta) (Update, error) {
		meta.State().(ir.Object)["count"] = ir.Int(99)
		return Update{}, nil
	})
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch("A"))
	assert.Equal(t, int64(0), countOf(t, s, "counter"))
}

func TestDispatch_Guard(t *testing.T) {
	s := NewStore()
	e := NewEpic("positive")
	positive := func(v ir.Value) bool {
		n, ok := v.(ir.Int)
		return ok && n > 0
	}
	mustUse(t, e, WithGuard("SET", positive), func(params ir.Value, _ *Meta) (Update, error) {
		return Update{State: params}, nil
	})
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch(WithPayload(Act("SET"), ir.Int(-1))))
	v, _ := s.EpicState("positive")
	assert.True(t, ir.IsUnset(v))

	require.NoError(t, s.Dispatch(WithPayload(Act("SET"), ir.Int(5))))
	v, _ = s.EpicState("positive")
	assert.Equal(t, ir.Int(5), v)
}

func TestDispatch_SelectorGatesInternalActions(t *testing.T) {
	s := NewStore()
	e1 := NewEpic("e1")
	require.NoError(t, e1.UseState(ir.Object{"a": ir.Int(0), "b": ir.Int(0)}))
	mustUse(t, e1, "A", increment("a"))
	mustUse(t, e1, "B", increment("b"))

	onlyA := func(v ir.Value) ir.Value {
		a, _ := ir.Path(v, "a")
		return a
	}
	e2 := newCounter(t, "e2")
	mustUse(t, e2, WithSelector(e1, onlyA), increment("count"))
	mustRegister(t, s, e1, e2)

	require.NoError(t, s.Dispatch("A"))
	assert.Equal(t, int64(1), countOf(t, s, "e2"))

	require.NoError(t, s.Dispatch("B"))
	assert.Equal(t, int64(1), countOf(t, s, "e2"), "b changed but the selected value did not")

	require.NoError(t, s.Dispatch("A"))
	assert.Equal(t, int64(2), countOf(t, s, "e2"))
}

func TestDispatch_SelectorReceivesPayload(t *testing.T) {
	s := NewStore()
	e := NewEpic("name")
	pick := func(v ir.Value) ir.Value {
		n, _ := ir.Path(v, "user", "name")
		return n
	}
	mustUse(t, e, WithSelector("LOGIN", pick), func(params ir.Value, _ *Meta) (Update, error) {
		return Update{State: params}, nil
	})
	mustRegister(t, s, e)

	payload := ir.Object{"user": ir.Object{"name": ir.String("ada")}}
	require.NoError(t, s.Dispatch(WithPayload(Act("LOGIN"), payload)))

	v, _ := s.EpicState("name")
	assert.Equal(t, ir.String("ada"), v)
}

func TestDispatch_Target(t *testing.T) {
	s := NewStore()
	e1 := newCounter(t, "e1")
	e2 := newCounter(t, "e2")
	other := newCounter(t, "other")
	for _, e := range []*Epic{e1, e2, other} {
		mustUse(t, e, "A", increment("count"))
	}
	mustRegister(t, s, e1, e2, other)

	require.NoError(t, s.Dispatch(WithTarget(Act("A"), "e2")))
	assert.Equal(t, int64(0), countOf(t, s, "e1"))
	assert.Equal(t, int64(1), countOf(t, s, "e2"))

	require.NoError(t, s.Dispatch(WithTarget(Act("A"), "e*")))
	assert.Equal(t, int64(1), countOf(t, s, "e1"))
	assert.Equal(t, int64(2), countOf(t, s, "e2"))
	assert.Equal(t, int64(0), countOf(t, s, "other"))
}

func TestDispatch_Patterns(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		expected int64
	}{
		{"enabled", []Option{WithPatterns()}, 1},
		{"disabled", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(tt.opts...)
			e := newCounter(t, "items")
			mustUse(t, e, "ITEM_*", increment("count"))
			mustRegister(t, s, e)

			require.NoError(t, s.Dispatch("ITEM_ADDED"))
			require.NoError(t, s.Dispatch("OTHER"))
			assert.Equal(t, tt.expected, countOf(t, s, "items"))
		})
	}
}

func TestDispatch_PatternsDisabledMatchLiterally(t *testing.T) {
	s := NewStore()
	e := newCounter(t, "items")
	mustUse(t, e, "ITEM_*", increment("count"))
	mustRegister(t, s, e)

	require.NoError(t, s.Dispatch("ITEM_ADDED"))
	assert.Equal(t, int64(0), countOf(t, s, "items"))

	require.NoError(t, s.Dispatch("ITEM_*"))
	assert.Equal(t, int64(1), countOf(t, s, "items"))
}

func TestDispatch_PatternFiresPerMatchingEpic(t *testing.T) {
	s := NewStore(WithPatterns())
	a := newCounter(t, "ITEM_A")
	b := newCounter(t, "ITEM_B")
	mustUse(t, a, "GO", increment("count"))
	mustUse(t, b, "GO", increment("count"))
	watch := newCounter(t, "watch")
	mustUse(t, watch, "ITEM_*", increment("count"))
	mustRegister(t, s, a, b, watch)

	require.NoError(t, s.Dispatch("GO"))
	assert.Equal(t, int64(2), countOf(t, s, "watch"))
}

func TestDispatch_ExactBeforePatternOrder(t *testing.T) {
	obs := &recordingObserver{}
	s := NewStore(WithPatterns(), WithObserver(obs))

	wide := NewEpic("wide")
	mustUse(t, wide, "GO_*", func(ir.Value, *Meta) (Update, error) { return Update{}, nil }, Named("wild"))
	narrow := NewEpic("narrow")
	mustUse(t, narrow, "GO_*_X", func(ir.Value, *Meta) (Update, error) { return Update{}, nil }, Named("wild"))
	exact := NewEpic("exact")
	mustUse(t, exact, "GO_NOW_X", func(ir.Value, *Meta) (Update, error) { return Update{}, nil }, Named("exact"))
	mustRegister(t, s, wide, narrow, exact)

	require.NoError(t, s.Dispatch("GO_NOW_X"))
	assert.Equal(t, []string{"exact/exact", "wide/wild", "narrow/wild"}, obs.ids())
}

func TestDispatch_ObserverReports(t *testing.T) {
	obs := &recordingObserver{}
	s := NewStore(WithObserver(obs))
	e1 := newCounter(t, "e1")
	mustUse(t, e1, "A", increment("count"))
	e2 := newCounter(t, "e2")
	mustUse(t, e2, e1, increment("count"), Named("follow"))
	mustRegister(t, s, e1, e2)

	require.NoError(t, s.Dispatch("A"))

	assert.Equal(t, []string{"e1/R[0]", "e2/follow"}, obs.ids())
	assert.Equal(t, 0, obs.invoked[0].Depth)
	assert.Equal(t, 1, obs.invoked[1].Depth)

	require.Len(t, obs.cycles, 1)
	rep := obs.cycles[0]
	assert.Equal(t, int64(1), rep.Seq)
	assert.Equal(t, CycleDispatch, rep.Kind)
	assert.Equal(t, OutcomeCommitted, rep.Outcome())
	assert.Equal(t, []string{"e1", "e2"}, rep.Changed)
	assert.Equal(t, ir.Object{"count": ir.Int(1)}, rep.States["e2"])
	assert.Equal(t, 2, rep.Reducers)
}

func TestDispatch_ObserverSeesRollback(t *testing.T) {
	obs := &recordingObserver{}
	s := NewStore(WithObserver(obs))
	e := newCounter(t, "counter")
	mustUse(t, e, "A", func(ir.Value, *Meta) (Update, error) {
		return Update{}, errors.New("nope")
	})
	mustRegister(t, s, e)

	require.Error(t, s.Dispatch("A"))
	require.Len(t, obs.cycles, 1)
	assert.Equal(t, OutcomeRolledBack, obs.cycles[0].Outcome())
	assert.Empty(t, obs.cycles[0].Changed)
}

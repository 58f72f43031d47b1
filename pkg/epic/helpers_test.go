package epic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/epicflow/pkg/ir"
)

// newCounter creates an epic whose state starts at {"count": 0}.
func newCounter(t *testing.T, name string) *Epic {
	t.Helper()
	e := NewEpic(name)
	require.NoError(t, e.UseState(ir.Object{"count": ir.Int(0)}))
	return e
}

// increment returns a reducer adding one to field of the in-cycle state.
func increment(field string) ReducerFunc {
	return func(_ ir.Value, meta *Meta) (Update, error) {
		cur, _ := ir.Path(meta.CycleState(), field)
		n, _ := cur.(ir.Int)
		return Update{State: ir.Object{field: n + 1}}, nil
	}
}

func mustUse(t *testing.T, e *Epic, spec any, h ReducerFunc, opts ...HandlerOption) func() {
	t.Helper()
	detach, err := e.UseReducer(spec, h, opts...)
	require.NoError(t, err)
	return detach
}

func mustRegister(t *testing.T, s *Store, epics ...*Epic) {
	t.Helper()
	for _, e := range epics {
		require.NoError(t, s.Register(e))
	}
}

func countOf(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	v, ok := s.EpicState(name)
	require.True(t, ok, "epic %q not registered", name)
	n, ok := v.(ir.Object)["count"].(ir.Int)
	require.True(t, ok, "epic %q has no count: %s", name, ir.Format(v))
	return int64(n)
}

// stubNames returns predetermined names.
type stubNames struct {
	names []string
	idx   int
}

func (g *stubNames) Generate() string {
	if g.idx >= len(g.names) {
		panic("stubNames: no more names")
	}
	n := g.names[g.idx]
	g.idx++
	return n
}

// recordingObserver keeps every event it receives.
type recordingObserver struct {
	invoked []ReducerEvent
	cycles  []CycleReport
}

func (o *recordingObserver) ReducerInvoked(ev ReducerEvent) {
	o.invoked = append(o.invoked, ev)
}

func (o *recordingObserver) CycleFinished(rep CycleReport) {
	o.cycles = append(o.cycles, rep)
}

func (o *recordingObserver) ids() []string {
	out := make([]string, len(o.invoked))
	for i, ev := range o.invoked {
		out[i] = ev.ID()
	}
	return out
}

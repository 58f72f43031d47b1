package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/epicflow/pkg/epic"
	"github.com/roach88/epicflow/pkg/ir"
)

func newStore(t *testing.T, c *Collector) *epic.Store {
	t.Helper()
	s := epic.NewStore(epic.WithObserver(c))

	counter := epic.NewEpic("counter")
	require.NoError(t, counter.UseState(ir.NewObject(ir.O("count", ir.Int(0)))))
	_, err := counter.UseReducer("INCREMENT", func(_ ir.Value, m *epic.Meta) (epic.Update, error) {
		n, _ := ir.Path(m.CycleState(), "count")
		return epic.Update{State: ir.NewObject(ir.O("count", n.(ir.Int)+1))}, nil
	}, epic.Named("increment"))
	require.NoError(t, err)
	_, err = counter.UseReducer("FAIL", func(ir.Value, *epic.Meta) (epic.Update, error) {
		return epic.Update{}, errors.New("nope")
	}, epic.Named("fail"))
	require.NoError(t, err)
	require.NoError(t, s.Register(counter))

	_, err = s.AddListener("counter", func(v ir.Value, _ *epic.Meta) error {
		if n, _ := ir.Path(v, "count"); n == ir.Int(2) {
			return errors.New("two")
		}
		return nil
	}, epic.Named("watch"))
	require.NoError(t, err)
	return s
}

func TestCollector_CountsCycles(t *testing.T) {
	c := New()
	s := newStore(t, c)

	require.NoError(t, s.Dispatch("INCREMENT"))
	require.Error(t, s.Dispatch("FAIL"))
	require.Error(t, s.Dispatch("counter"))
	err := s.Dispatch("INCREMENT")
	require.True(t, epic.IsListenerError(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("dispatch", epic.OutcomeCommitted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues("dispatch", epic.OutcomeRolledBack)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("dispatch", epic.OutcomeListenerError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.reducers.WithLabelValues("counter")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.listeners))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rollbacks.WithLabelValues("handler")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rollbacks.WithLabelValues(string(epic.CodeInvalidEpicAction))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.listenerErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.changed))
}

func TestCollector_Summary(t *testing.T) {
	c := New()
	s := newStore(t, c)
	require.NoError(t, s.Dispatch("INCREMENT"))

	samples, err := c.Summary()
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, smp := range samples {
		byName[smp.Name+"{"+smp.Labels+"}"] = smp.Value
	}
	assert.Equal(t, 1.0, byName[`epicflow_cycles_total{kind="dispatch",outcome="committed"}`])
	assert.Equal(t, 1.0, byName[`epicflow_reducer_invocations_total{epic="counter"}`])
	assert.Equal(t, 1.0, byName[`epicflow_cycle_duration_seconds_count{kind="dispatch"}`])
}

func TestNewWithRegistry_Conflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewWithRegistry(reg, reg)
	require.NoError(t, err)

	_, err = NewWithRegistry(reg, reg)
	assert.Error(t, err)
}

func TestSummary_NoGatherer(t *testing.T) {
	c, err := NewWithRegistry(prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	_, err = c.Summary()
	assert.Error(t, err)
}

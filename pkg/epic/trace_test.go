package epic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/epicflow/pkg/ir"
)

func newTracedStore(t *testing.T, opts ...Option) (*Store, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	opts = append(opts, WithTracer(tp.Tracer("epicflow-test")))
	return NewStore(opts...), recorder
}

func attrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTrace_DispatchSpan(t *testing.T) {
	s, recorder := newTracedStore(t)
	counter := newCounter(t, "counter")
	mustUse(t, counter, "INCREMENT", increment("count"))
	mustRegister(t, s, counter)

	require.NoError(t, s.DispatchContext(context.Background(), "INCREMENT"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "epic.dispatch", spans[0].Name())
	a := attrs(spans[0])
	assert.Equal(t, "INCREMENT", a["epic.action_type"].AsString())
	assert.Equal(t, int64(1), a["epic.cycle_seq"].AsInt64())
	assert.Equal(t, int64(1), a["epic.changed"].AsInt64())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTrace_RollbackMarksSpan(t *testing.T) {
	s, recorder := newTracedStore(t)
	e := newCounter(t, "counter")
	mustUse(t, e, "FAIL", func(ir.Value, *Meta) (Update, error) {
		return Update{}, errors.New("nope")
	})
	mustRegister(t, s, e)

	require.Error(t, s.DispatchContext(context.Background(), "FAIL"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "cycle rolled back", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events(), "the error is recorded as a span event")
}

func TestTrace_UndoRedoSpans(t *testing.T) {
	s, recorder := newTracedStore(t, WithUndo(UndoOptions{}))
	counter := newCounter(t, "counter")
	mustUse(t, counter, "INCREMENT", increment("count"))
	mustRegister(t, s, counter)

	require.NoError(t, s.Dispatch("INCREMENT"))
	ok, err := s.UndoContext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.RedoContext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"epic.dispatch", "epic.undo", "epic.redo"}, names)
}

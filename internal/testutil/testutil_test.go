package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/epicflow/pkg/epic"
	"github.com/roach88/epicflow/pkg/ir"
)

func TestSequentialNames_Sequence(t *testing.T) {
	gen := NewSequentialNames("todo")
	assert.Equal(t, "todo-1", gen.Generate())
	assert.Equal(t, "todo-2", gen.Generate())

	gen.Reset()
	assert.Equal(t, "todo-1", gen.Generate())
}

func TestSequentialNames_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "epic-1", NewSequentialNames("").Generate())
}

func TestSequentialNames_ThreadSafe(t *testing.T) {
	gen := NewSequentialNames("n")
	const workers, calls = 20, 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				name := gen.Generate()
				mu.Lock()
				seen[name] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*calls, "names must be unique")
}

func TestSequentialNames_DrivesStore(t *testing.T) {
	s := epic.NewStore(epic.WithNameGenerator(NewSequentialNames("auto")))
	a := s.NewEpic("")
	b := s.NewEpic("")
	assert.Equal(t, "auto-1", a.Name())
	assert.Equal(t, "auto-2", b.Name())
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	s := epic.NewStore(epic.WithObserver(rec))

	counter := epic.NewEpic("counter")
	require.NoError(t, counter.UseState(ir.NewObject(ir.O("count", ir.Int(0)))))
	_, err := counter.UseReducer("INCREMENT", func(_ ir.Value, m *epic.Meta) (epic.Update, error) {
		n, _ := ir.Path(m.CycleState(), "count")
		return epic.Update{State: ir.NewObject(ir.O("count", n.(ir.Int)+1))}, nil
	}, epic.Named("increment"))
	require.NoError(t, err)
	require.NoError(t, s.Register(counter))

	_, err = s.AddListener("counter", func(ir.Value, *epic.Meta) error { return nil }, epic.Named("audit"))
	require.NoError(t, err)

	require.NoError(t, s.Dispatch("INCREMENT"))

	assert.Equal(t, []string{"counter/increment", "listener:audit"}, rec.IDs())
	require.Len(t, rec.Reports(), 1)
	report := rec.Reports()[0]
	assert.Equal(t, epic.OutcomeCommitted, report.Outcome())
	assert.Equal(t, []string{"counter"}, report.Changed)
	assert.Len(t, rec.Events(), 2)

	rec.Reset()
	assert.Empty(t, rec.IDs())
	assert.Empty(t, rec.Reports())
}

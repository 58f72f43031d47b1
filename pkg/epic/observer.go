package epic

import (
	"time"

	"github.com/roach88/epicflow/pkg/ir"
)

// CycleKind says what started a cycle.
type CycleKind string

const (
	CycleDispatch CycleKind = "dispatch"
	CycleUndo     CycleKind = "undo"
	CycleRedo     CycleKind = "redo"
)

// Outcomes reported in CycleReport.Outcome.
const (
	OutcomeCommitted     = "committed"
	OutcomeRolledBack    = "rolled_back"
	OutcomeListenerError = "listener_error"
)

// ReducerEvent describes one handler invocation.
type ReducerEvent struct {
	Seq        int64
	Kind       CycleKind
	ActionType string
	Epic       string
	Reducer    string
	Listener   bool
	Depth      int
}

// ID returns "epic/reducer" for reducers and "listener:name" for listeners.
func (e ReducerEvent) ID() string {
	if e.Listener {
		return "listener:" + e.Reducer
	}
	return e.Epic + "/" + e.Reducer
}

// CycleReport summarizes a finished cycle.
type CycleReport struct {
	Seq        int64
	Kind       CycleKind
	ActionType string

	// Changed lists the epics whose state or scope was committed with a
	// new value, in the order they were first touched.
	Changed []string

	// States holds the committed state of every changed epic.
	States map[string]ir.Value

	// Err is the cycle error. The cycle was rolled back when it is set.
	Err error

	// ListenerErr is the listener aggregate, if any listener failed.
	ListenerErr error

	Reducers  int
	Listeners int
	Duration  time.Duration
}

// Outcome classifies the report.
func (r CycleReport) Outcome() string {
	switch {
	case r.Err != nil:
		return OutcomeRolledBack
	case r.ListenerErr != nil:
		return OutcomeListenerError
	default:
		return OutcomeCommitted
	}
}

// Observer receives store events. Observers run synchronously on the
// dispatching goroutine and must not call back into the store.
type Observer interface {
	ReducerInvoked(ReducerEvent)
	CycleFinished(CycleReport)
}

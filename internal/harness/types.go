package harness

import "github.com/roach88/epicflow/pkg/ir"

// TraceEvent is one reducer or listener invocation.
type TraceEvent struct {
	Step   int    `json:"step"` // index into Scenario.Steps
	Seq    int64  `json:"seq"`  // cycle sequence number
	Kind   string `json:"kind"` // "dispatch", "undo" or "redo"
	Action string `json:"action,omitempty"`

	// ID is "epic/reducer" for reducers and "listener:name" for listeners.
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// CycleEvent summarizes one finished cycle.
type CycleEvent struct {
	Step    int      `json:"step"`
	Seq     int64    `json:"seq"`
	Kind    string   `json:"kind"`
	Action  string   `json:"action,omitempty"`
	Outcome string   `json:"outcome"`
	Changed []string `json:"changed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success: every step behaved as expected
	// and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains all invocations in order.
	Trace []TraceEvent `json:"trace"`

	// Cycles contains every finished cycle in order.
	Cycles []CycleEvent `json:"cycles"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// States and Scopes hold the final committed values of every
	// registered epic. Unset values are omitted.
	States map[string]ir.Value `json:"states,omitempty"`
	Scopes map[string]ir.Value `json:"scopes,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Cycles: []CycleEvent{},
		Errors: []string{},
		States: make(map[string]ir.Value),
		Scopes: make(map[string]ir.Value),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// IDs returns the trace invocation IDs in order.
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		ids[i] = ev.ID
	}
	return ids
}

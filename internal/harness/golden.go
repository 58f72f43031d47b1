package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/epicflow/pkg/ir"
)

// TraceSnapshot captures the deterministic part of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
// Durations are left out.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Cycles       []CycleEvent
	States       map[string]ir.Value
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step":  event.Step,
			"seq":   event.Seq,
			"kind":  event.Kind,
			"id":    event.ID,
			"depth": event.Depth,
		}
		if event.Action != "" {
			eventMap["action"] = event.Action
		}
		traceList[i] = eventMap
	}

	cycleList := make([]any, len(s.Cycles))
	for i, c := range s.Cycles {
		cycleMap := map[string]any{
			"step":    c.Step,
			"seq":     c.Seq,
			"kind":    c.Kind,
			"outcome": c.Outcome,
		}
		if c.Action != "" {
			cycleMap["action"] = c.Action
		}
		if len(c.Changed) > 0 {
			changed := make([]any, len(c.Changed))
			for j, name := range c.Changed {
				changed[j] = name
			}
			cycleMap["changed"] = changed
		}
		if c.Error != "" {
			cycleMap["error"] = c.Error
		}
		cycleList[i] = cycleMap
	}

	states := make(map[string]any, len(s.States))
	for name, v := range s.States {
		states[name] = v
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"cycles":        cycleList,
		"states":        states,
	}
}

// Marshal returns the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Cycles:       result.Cycles,
		States:       result.States,
	}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}

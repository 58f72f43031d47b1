package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/epic"
	"github.com/roach88/epicflow/pkg/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d seq %d %s (%s)\n", i+1, event.Step, event.Seq, event.ID, event.Action)
		}
	}

	return buf.String()
}

// matches reports whether event is the asserted invocation, narrowed to
// the asserted action type when one is given.
func matches(event TraceEvent, assertion Assertion) bool {
	if event.ID != assertion.Invocation {
		return false
	}
	return assertion.Action == "" || event.Action == assertion.Action
}

// assertTraceContains checks if the trace contains the invocation.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion) {
			return nil
		}
	}

	expected := assertion.Invocation
	if assertion.Action != "" {
		expected += " on " + assertion.Action
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that invocations first appear in the specified
// order. They don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.ID]; !seen {
			positions[event.ID] = i + 1 // 1-indexed for readability
		}
	}

	for _, id := range assertion.Order {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all invocations present: %v", assertion.Order),
				Actual:   fmt.Sprintf("missing invocation: %s", id),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Order); i++ {
		prev := assertion.Order[i-1]
		curr := assertion.Order[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("invocations in order: %v", assertion.Order),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks the invocation appears exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Invocation),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinal compares an epic's committed state or scope with Expect.
// The comparison is exact: every key must match and no extra keys are allowed.
func assertFinal(st *epic.Store, assertion Assertion) error {
	lookup, what := st.EpicState, "state"
	if assertion.Type == AssertFinalScope {
		lookup, what = st.EpicScope, "scope"
	}

	actual, ok := lookup(assertion.Epic)
	if !ok {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("registered epic %s", assertion.Epic),
			Actual:   "epic not found",
		}
	}

	expected, err := ir.FromGo(assertion.Expect)
	if err != nil {
		return fmt.Errorf("%s: expect for %s: %w", assertion.Type, assertion.Epic, err)
	}

	if !object.Equal(actual, expected) {
		return &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("%s %s = %s", assertion.Epic, what, ir.Format(expected)),
			Actual:   ir.Format(actual),
		}
	}
	return nil
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *epic.Store
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for final_state and final_scope.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertFinalScope:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a store", i, assertion.Type)
			} else {
				err = assertFinal(actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// Package harness runs conformance scenarios against compiled epic specs.
//
// A scenario installs CUE specs into a fresh store, runs a list of
// dispatch, undo and redo steps, and checks assertions against the
// recorded invocation trace and the final committed values.
//
// # Scenario Format
//
//	name: counter_basics
//	description: "Increment twice, then undo once"
//	specs:
//	  - specs/counter.cue
//	store:
//	  undo: { max_stack: 10 }
//	steps:
//	  - dispatch: INCREMENT
//	  - dispatch: ADD
//	    payload: { amount: 5 }
//	  - undo: 1
//	  - dispatch: BOOM
//	    expect_error: "boom"
//	assertions:
//	  - type: trace_count
//	    invocation: counter/increment
//	    count: 1
//	  - type: final_state
//	    epic: counter
//	    expect: { count: 1 }
//
// # Assertion Types
//
//   - trace_contains: an invocation ("epic/reducer" or "listener:name") appears
//   - trace_order: invocations first appear in the given order
//   - trace_count: an invocation appears exactly N times
//   - final_state: an epic's committed state equals expect
//   - final_scope: an epic's committed scope equals expect
//
// Auto-generated epic names come from testutil.SequentialNames seeded with
// the scenario name, so traces are identical across runs and can be
// compared against golden snapshots with RunWithGolden.
package harness

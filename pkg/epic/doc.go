// Package epic implements a dependency-driven reactive state container.
//
// An Epic is a named unit of state, scope and reducers. Reducers declare
// the conditions (action types, other epics, wildcard patterns) under
// which they fire. A Store registers epics and runs dispatch cycles:
//
//	Idle -> InCycle -> AfterCycle -> Idle
//
// Within a cycle the store finds every reducer whose conditions are
// satisfied, merges the partial updates they return, and treats each
// epic state change as an internal action other epics may depend on. The
// cascade runs depth-first in a deterministic order:
//   - bindings of one key are visited in registration order
//   - exact-type bindings are visited before wildcard bindings
//   - wildcard keys are visited in the order they were first registered
//
// A cycle is all-or-nothing. If any reducer fails, every staged state,
// scope and condition value is discarded and the error is returned.
// After a successful commit, store listeners run at most once each; their
// failures are aggregated into a *ListenerError and never roll back the
// cycle.
//
// Values are ir.Value trees. State handed to handlers and returned by
// accessors is always a copy, so callers cannot mutate committed state in
// place.
//
// Stores are single-threaded. Reentrant Dispatch from a reducer fails the
// running cycle with NO_DISPATCH_IN_REDUCER; from a listener it fails with
// NO_DISPATCH_IN_LISTENER.
package epic

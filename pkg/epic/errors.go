package epic

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error category.
type Code string

const (
	// CodeDuplicateEpic: an epic with the same name is already registered.
	CodeDuplicateEpic Code = "DUPLICATE_EPIC"

	// CodeNoReadonlyUpdaters: a condition set has no member able to trigger.
	CodeNoReadonlyUpdaters Code = "NO_READONLY_UPDATERS"

	// CodeInvalidPattern: a wildcard condition was marked readonly.
	CodeInvalidPattern Code = "INVALID_PATTERN"

	// CodeInvalidAnyOf: an any-of group holds a readonly member or "*".
	CodeInvalidAnyOf Code = "INVALID_ANY_OF"

	// CodeInvalidCondition: a condition descriptor could not be normalized.
	CodeInvalidCondition Code = "INVALID_CONDITION"

	// CodeInvalidHandlerUpdate: a reducer changed the container kind of state or scope.
	CodeInvalidHandlerUpdate Code = "INVALID_HANDLER_UPDATE"

	// CodeInvalidEpicAction: an external dispatch used a registered epic name as its type.
	CodeInvalidEpicAction Code = "INVALID_EPIC_ACTION"

	// CodeInvalidAction: the dispatch input could not be normalized into an action.
	CodeInvalidAction Code = "INVALID_ACTION"

	// CodeNoDispatchInReducer: dispatch was called while a cycle is running.
	CodeNoDispatchInReducer Code = "NO_DISPATCH_IN_REDUCER"

	// CodeNoDispatchInListener: dispatch was called from a store listener.
	CodeNoDispatchInListener Code = "NO_DISPATCH_IN_LISTENER"

	// CodeMultipleSetState: UseState was called twice on one epic.
	CodeMultipleSetState Code = "MULTIPLE_SET_STATE"

	// CodeMultipleSetScope: UseScope was called twice on one epic.
	CodeMultipleSetScope Code = "MULTIPLE_SET_SCOPE"

	// CodeCascadeLimit: internal cascades nested deeper than the store allows.
	CodeCascadeLimit Code = "CASCADE_LIMIT"

	// CodeUndoDisabled: Undo or Redo on a store created without undo support.
	CodeUndoDisabled Code = "UNDO_DISABLED"

	// CodeHandlerPanic: a handler, selector or guard panicked.
	CodeHandlerPanic Code = "HANDLER_PANIC"
)

// messages is the template table used by newError. Arguments are
// positional and documented by the verbs.
var messages = map[Code]string{
	CodeDuplicateEpic:        "epic %q is already registered",
	CodeNoReadonlyUpdaters:   "condition set of %q has no non-readonly member",
	CodeInvalidPattern:       "pattern condition %q cannot be readonly",
	CodeInvalidAnyOf:         "any-of group cannot contain %s",
	CodeInvalidCondition:     "invalid condition: %s",
	CodeInvalidHandlerUpdate: "reducer returned an incompatible %s update",
	CodeInvalidEpicAction:    "action %q names a registered epic and cannot be dispatched",
	CodeInvalidAction:        "invalid action: %s",
	CodeNoDispatchInReducer:  "cannot dispatch %q while a dispatch cycle is running",
	CodeNoDispatchInListener: "cannot dispatch %q from a store listener",
	CodeMultipleSetState:     "state of epic %q is already set",
	CodeMultipleSetScope:     "scope of epic %q is already set",
	CodeCascadeLimit:         "cascade exceeded max depth %d",
	CodeUndoDisabled:         "undo is not enabled on this store",
	CodeHandlerPanic:         "handler panicked: %v",
}

// Error is the error type returned by every operation in this package.
//
// Error carries structured fields so callers can react to the category
// (Code) and the location (Epic, Reducer, Index) without parsing Message.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Epic is the epic involved, if any.
	Epic string

	// Reducer is the reducer or listener involved, if any.
	Reducer string

	// Index is the condition position involved, or -1.
	Index int

	// Err is the underlying cause, if any.
	Err error
}

// newError classifies an error kind and renders its message from the
// template table.
func newError(code Code, args ...any) *Error {
	msg, ok := messages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(msg, args...),
		Index:   -1,
	}
}

func (e *Error) at(epicName, reducer string) *Error {
	e.Epic = epicName
	e.Reducer = reducer
	return e
}

func (e *Error) index(i int) *Error {
	e.Index = i
	return e
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var loc []string
	if e.Epic != "" {
		loc = append(loc, "epic="+e.Epic)
	}
	if e.Reducer != "" {
		loc = append(loc, "reducer="+e.Reducer)
	}
	if e.Index >= 0 {
		loc = append(loc, fmt.Sprintf("condition=%d", e.Index))
	}

	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(loc) > 0 {
		msg += " (" + strings.Join(loc, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err, or any error it wraps, is an *Error with code.
func IsCode(err error, code Code) bool {
	var ee *Error
	if errors.As(err, &ee) {
		if ee.Code == code {
			return true
		}
		return ee.Err != nil && IsCode(ee.Err, code)
	}
	var le *ListenerError
	if errors.As(err, &le) {
		for _, inner := range le.Errs {
			if IsCode(inner, code) {
				return true
			}
		}
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// ListenerError aggregates the failures of store listeners in one cycle.
// The cycle itself has already been committed when it is returned.
type ListenerError struct {
	Errs []error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	if len(e.Errs) == 1 {
		return "listener failed: " + e.Errs[0].Error()
	}
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d listeners failed: %s", len(e.Errs), strings.Join(parts, "; "))
}

// Unwrap exposes every listener failure to errors.Is and errors.As.
func (e *ListenerError) Unwrap() []error {
	return e.Errs
}

// IsListenerError reports whether err is a listener aggregate.
func IsListenerError(err error) bool {
	var le *ListenerError
	return errors.As(err, &le)
}

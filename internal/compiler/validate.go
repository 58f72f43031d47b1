package compiler

import (
	"fmt"
	"strconv"

	"cuelang.org/go/cue/token"
)

// Validation error codes (E100-E199)
const (
	ErrDuplicateEpic     = "E101" // epic declared twice across files
	ErrScopeUndeclared   = "E102" // scope update on an epic without scope
	ErrParamSource       = "E103" // param op reads a slot that does not exist
	ErrNoTrigger         = "E104" // every condition is readonly
	ErrDuplicateListener = "E105" // listener declared twice across files
)

// ValidationError represents a static check failure on a compiled document.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks what a single CUE value cannot: names repeated across
// files and update programs that do not fit their epic or conditions.
// Returns all errors found (does not fail-fast). Checks that the store
// enforces at registration are left to it.
func Validate(doc *Document) []ValidationError {
	var errs []ValidationError

	epics := make(map[string]bool)
	for _, e := range doc.Epics {
		if epics[e.Name] {
			errs = append(errs, ValidationError{
				Field:   "epic." + e.Name,
				Message: fmt.Sprintf("duplicate epic name: %q", e.Name),
				Code:    ErrDuplicateEpic,
				Line:    lineOf(e.Pos),
			})
		}
		epics[e.Name] = true

		for _, r := range e.Reducers {
			field := fmt.Sprintf("epic.%s.reducer.%s", e.Name, r.Name)
			errs = append(errs, validateTrigger(field, r.On, r.Pos)...)

			for i, op := range r.Updates {
				opField := fmt.Sprintf("%s.update[%d]", field, i)
				if op.Target == TargetScope && !e.HasScope() {
					errs = append(errs, ValidationError{
						Field:   opField,
						Message: fmt.Sprintf("epic %q declares no scope", e.Name),
						Code:    ErrScopeUndeclared,
						Line:    lineOf(op.Pos),
					})
				}
				if op.Op == OpParam {
					if msg := checkParamSource(op.From, r.On); msg != "" {
						errs = append(errs, ValidationError{
							Field:   opField + ".from",
							Message: msg,
							Code:    ErrParamSource,
							Line:    lineOf(op.Pos),
						})
					}
				}
			}
		}
	}

	listeners := make(map[string]bool)
	for _, l := range doc.Listeners {
		field := "listener." + l.Name
		if listeners[l.Name] {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("duplicate listener name: %q", l.Name),
				Code:    ErrDuplicateListener,
				Line:    lineOf(l.Pos),
			})
		}
		listeners[l.Name] = true
		errs = append(errs, validateTrigger(field, l.On, l.Pos)...)
	}

	return errs
}

// validateTrigger reports condition sets that can never fire.
func validateTrigger(field string, on OnSpec, pos token.Pos) []ValidationError {
	for _, s := range on.Slots {
		if s.Condition == nil || !s.Condition.Readonly {
			return nil
		}
	}
	return []ValidationError{{
		Field:   field + ".on",
		Message: "every condition is readonly, nothing can trigger it",
		Code:    ErrNoTrigger,
		Line:    lineOf(pos),
	}}
}

func checkParamSource(from string, on OnSpec) string {
	if from == "" {
		return ""
	}
	switch on.Shape {
	case ParamArray:
		idx, err := strconv.Atoi(from)
		if err != nil || idx < 0 || idx >= len(on.Slots) {
			return fmt.Sprintf("index %q out of range for %d conditions", from, len(on.Slots))
		}
	case ParamObject:
		for _, k := range on.Keys {
			if k == from {
				return ""
			}
		}
		return fmt.Sprintf("no condition named %q", from)
	default:
		return fmt.Sprintf("from %q requires grouped conditions", from)
	}
	return ""
}

func lineOf(pos token.Pos) int {
	if !pos.IsValid() {
		return 0
	}
	return pos.Line()
}

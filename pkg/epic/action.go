package epic

import (
	"regexp"
	"strings"

	"github.com/roach88/epicflow/internal/object"
	"github.com/roach88/epicflow/pkg/ir"
)

// Action is the canonical record of one dispatch input.
type Action struct {
	// Type is the action type, or an epic name for internal actions.
	Type string

	// Payload is the action value. Dispatch replaces nil with ir.Null.
	Payload ir.Value

	// Target restricts delivery to one epic. A target containing "*" is
	// matched as a pattern against epic names.
	Target string

	// CreateUndoPoint starts a new undo frame for this cycle.
	CreateUndoPoint bool

	// SkipUndoPoint merges this cycle into the current undo frame even
	// when the store creates undo points automatically.
	SkipUndoPoint bool
}

// Act returns an action of the given type with a null payload.
func Act(actionType string) Action {
	return Action{Type: actionType, Payload: ir.Null{}}
}

// WithPayload returns a copy of a carrying payload.
func WithPayload(a Action, payload ir.Value) Action {
	a.Payload = payload
	return a
}

// WithTarget returns a copy of a delivered only to target.
func WithTarget(a Action, target string) Action {
	a.Target = target
	return a
}

// WithUndoPoint returns a copy of a that starts a new undo frame.
func WithUndoPoint(a Action) Action {
	a.CreateUndoPoint = true
	a.SkipUndoPoint = false
	return a
}

// WithoutUndoPoint returns a copy of a that joins the current undo frame.
func WithoutUndoPoint(a Action) Action {
	a.SkipUndoPoint = true
	a.CreateUndoPoint = false
	return a
}

// normalizeAction turns a dispatch input into an Action.
// Accepted inputs: a type string, an Action or a non-nil *Action.
func normalizeAction(in any) (Action, error) {
	var a Action
	switch v := in.(type) {
	case string:
		a = Act(v)
	case Action:
		a = v
	case *Action:
		if v == nil {
			return Action{}, newError(CodeInvalidAction, "nil action")
		}
		a = *v
	default:
		return Action{}, newError(CodeInvalidAction, "unsupported input type "+typeName(in))
	}

	if a.Type == "" {
		return Action{}, newError(CodeInvalidAction, "empty type")
	}
	if ir.IsUnset(a.Payload) {
		a.Payload = ir.Null{}
	}
	a.Payload = object.Freeze(a.Payload)
	return a, nil
}

// targetMatcher returns a predicate over epic names for a.Target.
func targetMatcher(target string) func(string) bool {
	if target == "" {
		return func(string) bool { return true }
	}
	if !strings.Contains(target, "*") {
		return func(name string) bool { return name == target }
	}
	re := compilePattern(target)
	return re.MatchString
}

// compilePattern translates a wildcard type into an anchored regexp where
// each "*" matches lazily.
func compilePattern(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*?") + "$")
}

package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/epicflow/pkg/ir"
)

// Compile parses a CUE value holding top-level `epic` and `listener`
// structs. Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
//	ctx := cuecontext.New()
//	doc, err := Compile(ctx.CompileString(`epic: counter: { ... }`))
func Compile(v cue.Value) (*Document, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	doc := &Document{}

	epicsVal := v.LookupPath(cue.ParsePath("epic"))
	if epicsVal.Exists() {
		iter, err := epicsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			spec, err := CompileEpic(iter.Value())
			if err != nil {
				return nil, err
			}
			doc.Epics = append(doc.Epics, *spec)
		}
	}

	listenersVal := v.LookupPath(cue.ParsePath("listener"))
	if listenersVal.Exists() {
		iter, err := listenersVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			spec, err := CompileListener(iter.Value())
			if err != nil {
				return nil, err
			}
			doc.Listeners = append(doc.Listeners, *spec)
		}
	}

	return doc, nil
}

// CompileEpic parses one epic struct. The epic name is the struct label.
func CompileEpic(v cue.Value) (*EpicSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := checkFields(v, "epic", "state", "scope", "reducer"); err != nil {
		return nil, err
	}

	spec := &EpicSpec{
		Name:  labelOf(v),
		State: ir.Unset,
		Scope: ir.Unset,
		Pos:   v.Pos(),
	}

	var err error
	if stateVal := v.LookupPath(cue.ParsePath("state")); stateVal.Exists() {
		if spec.State, err = decodeValue(stateVal, "state"); err != nil {
			return nil, err
		}
	}
	if scopeVal := v.LookupPath(cue.ParsePath("scope")); scopeVal.Exists() {
		if spec.Scope, err = decodeValue(scopeVal, "scope"); err != nil {
			return nil, err
		}
	}

	reducersVal := v.LookupPath(cue.ParsePath("reducer"))
	if !reducersVal.Exists() {
		return spec, nil
	}
	iter, err := reducersVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		r, err := compileReducer(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Reducers = append(spec.Reducers, *r)
	}

	return spec, nil
}

// CompileListener parses one listener struct.
func CompileListener(v cue.Value) (*ListenerSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := checkFields(v, "listener", "on", "fail"); err != nil {
		return nil, err
	}

	spec := &ListenerSpec{Name: labelOf(v), Pos: v.Pos()}

	onVal := v.LookupPath(cue.ParsePath("on"))
	if !onVal.Exists() {
		return nil, &CompileError{Field: "on", Message: "on is required", Pos: v.Pos()}
	}
	on, err := compileOn(onVal)
	if err != nil {
		return nil, err
	}
	spec.On = on

	if failVal := v.LookupPath(cue.ParsePath("fail")); failVal.Exists() {
		if spec.Fail, err = failVal.String(); err != nil {
			return nil, formatCUEError(err)
		}
	}
	return spec, nil
}

func compileReducer(name string, v cue.Value) (*ReducerSpec, error) {
	if err := checkFields(v, "reducer", "on", "update", "passive"); err != nil {
		return nil, err
	}

	spec := &ReducerSpec{Name: name, Pos: v.Pos()}

	onVal := v.LookupPath(cue.ParsePath("on"))
	if !onVal.Exists() {
		return nil, &CompileError{Field: "on", Message: "on is required", Pos: v.Pos()}
	}
	on, err := compileOn(onVal)
	if err != nil {
		return nil, err
	}
	spec.On = on

	if passiveVal := v.LookupPath(cue.ParsePath("passive")); passiveVal.Exists() {
		if spec.Passive, err = passiveVal.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	updateVal := v.LookupPath(cue.ParsePath("update"))
	if !updateVal.Exists() {
		return spec, nil
	}
	if updateVal.IncompleteKind() != cue.ListKind {
		return nil, &CompileError{Field: "update", Message: "update must be a list of operations", Pos: updateVal.Pos()}
	}
	iter, err := updateVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		op, err := compileUpdate(iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Updates = append(spec.Updates, *op)
	}
	return spec, nil
}

// compileOn parses the `on` field. A list groups positionally, a struct of
// named conditions groups by key, and anything else is a single condition.
// A struct with a `type` or `any_of` field is a single condition, so those
// two names cannot be used as keys.
func compileOn(v cue.Value) (OnSpec, error) {
	switch v.IncompleteKind() {
	case cue.ListKind:
		on := OnSpec{Shape: ParamArray}
		iter, err := v.List()
		if err != nil {
			return OnSpec{}, formatCUEError(err)
		}
		for iter.Next() {
			slot, err := compileSlot(iter.Value())
			if err != nil {
				return OnSpec{}, err
			}
			on.Slots = append(on.Slots, slot)
		}
		if len(on.Slots) == 0 {
			return OnSpec{}, &CompileError{Field: "on", Message: "on must name at least one condition", Pos: v.Pos()}
		}
		return on, nil

	case cue.StructKind:
		if isConditionStruct(v) {
			slot, err := compileSlot(v)
			if err != nil {
				return OnSpec{}, err
			}
			return OnSpec{Shape: ParamSolo, Slots: []SlotSpec{slot}}, nil
		}
		on := OnSpec{Shape: ParamObject}
		iter, err := v.Fields()
		if err != nil {
			return OnSpec{}, formatCUEError(err)
		}
		for iter.Next() {
			slot, err := compileSlot(iter.Value())
			if err != nil {
				return OnSpec{}, err
			}
			on.Keys = append(on.Keys, iter.Label())
			on.Slots = append(on.Slots, slot)
		}
		if len(on.Slots) == 0 {
			return OnSpec{}, &CompileError{Field: "on", Message: "on must name at least one condition", Pos: v.Pos()}
		}
		return on, nil

	case cue.StringKind:
		slot, err := compileSlot(v)
		if err != nil {
			return OnSpec{}, err
		}
		return OnSpec{Shape: ParamSolo, Slots: []SlotSpec{slot}}, nil

	default:
		return OnSpec{}, &CompileError{
			Field:   "on",
			Message: fmt.Sprintf("on must be a string, list or struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

func isConditionStruct(v cue.Value) bool {
	return v.LookupPath(cue.ParsePath("type")).Exists() ||
		v.LookupPath(cue.ParsePath("any_of")).Exists()
}

func compileSlot(v cue.Value) (SlotSpec, error) {
	anyOfVal := v.LookupPath(cue.ParsePath("any_of"))
	if v.IncompleteKind() != cue.StructKind || !anyOfVal.Exists() {
		cond, err := compileCondition(v)
		if err != nil {
			return SlotSpec{}, err
		}
		return SlotSpec{Condition: cond}, nil
	}

	if err := checkFields(v, "any_of", "any_of"); err != nil {
		return SlotSpec{}, err
	}
	if anyOfVal.IncompleteKind() != cue.ListKind {
		return SlotSpec{}, &CompileError{Field: "any_of", Message: "any_of must be a list", Pos: anyOfVal.Pos()}
	}
	iter, err := anyOfVal.List()
	if err != nil {
		return SlotSpec{}, formatCUEError(err)
	}
	var slot SlotSpec
	for iter.Next() {
		item := iter.Value()
		if item.IncompleteKind() == cue.StructKind && item.LookupPath(cue.ParsePath("any_of")).Exists() {
			return SlotSpec{}, &CompileError{Field: "any_of", Message: "any_of groups cannot be nested", Pos: item.Pos()}
		}
		cond, err := compileCondition(item)
		if err != nil {
			return SlotSpec{}, err
		}
		slot.AnyOf = append(slot.AnyOf, *cond)
	}
	if len(slot.AnyOf) == 0 {
		return SlotSpec{}, &CompileError{Field: "any_of", Message: "any_of must not be empty", Pos: anyOfVal.Pos()}
	}
	return slot, nil
}

func compileCondition(v cue.Value) (*ConditionSpec, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		typ, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if typ == "" {
			return nil, &CompileError{Field: "type", Message: "condition type must not be empty", Pos: v.Pos()}
		}
		return &ConditionSpec{Type: typ}, nil
	case cue.StructKind:
	default:
		return nil, &CompileError{
			Field:   "condition",
			Message: fmt.Sprintf("condition must be a string or struct, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}

	if err := checkFields(v, "condition", "type", "readonly", "select", "guard"); err != nil {
		return nil, err
	}

	cond := &ConditionSpec{}
	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return nil, &CompileError{Field: "type", Message: "condition type is required", Pos: v.Pos()}
	}
	typ, err := typeVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if typ == "" {
		return nil, &CompileError{Field: "type", Message: "condition type must not be empty", Pos: typeVal.Pos()}
	}
	cond.Type = typ

	if roVal := v.LookupPath(cue.ParsePath("readonly")); roVal.Exists() {
		if cond.Readonly, err = roVal.Bool(); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if selVal := v.LookupPath(cue.ParsePath("select")); selVal.Exists() {
		sel, err := selVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		cond.Select = splitPath(sel)
	}

	if guardVal := v.LookupPath(cue.ParsePath("guard")); guardVal.Exists() {
		if cond.Guard, err = compileGuard(guardVal); err != nil {
			return nil, err
		}
	}
	return cond, nil
}

func compileGuard(v cue.Value) (*GuardSpec, error) {
	if err := checkFields(v, "guard", "op", "value"); err != nil {
		return nil, err
	}
	opVal := v.LookupPath(cue.ParsePath("op"))
	if !opVal.Exists() {
		return nil, &CompileError{Field: "guard.op", Message: "guard op is required", Pos: v.Pos()}
	}
	op, err := opVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if !guardOps[op] {
		return nil, &CompileError{
			Field:   "guard.op",
			Message: fmt.Sprintf("unknown guard op %q, must be one of eq, ne, gt, lt, ge, le", op),
			Pos:     opVal.Pos(),
		}
	}

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if !valueVal.Exists() {
		return nil, &CompileError{Field: "guard.value", Message: "guard value is required", Pos: v.Pos()}
	}
	value, err := decodeValue(valueVal, "guard.value")
	if err != nil {
		return nil, err
	}
	return &GuardSpec{Op: op, Value: value}, nil
}

func compileUpdate(v cue.Value) (*UpdateOp, error) {
	if v.IncompleteKind() != cue.StructKind {
		return nil, &CompileError{Field: "update", Message: "update operation must be a struct", Pos: v.Pos()}
	}
	if err := checkFields(v, "update", "path", "op", "by", "value", "from", "select", "message", "target"); err != nil {
		return nil, err
	}

	op := &UpdateOp{Target: TargetState, Pos: v.Pos()}

	opVal := v.LookupPath(cue.ParsePath("op"))
	if !opVal.Exists() {
		return nil, &CompileError{Field: "update.op", Message: "op is required", Pos: v.Pos()}
	}
	name, err := opVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	op.Op = name

	if pathVal := v.LookupPath(cue.ParsePath("path")); pathVal.Exists() {
		path, err := pathVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		op.Path = splitPath(path)
	}

	if targetVal := v.LookupPath(cue.ParsePath("target")); targetVal.Exists() {
		target, err := targetVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if target != TargetState && target != TargetScope {
			return nil, &CompileError{
				Field:   "update.target",
				Message: fmt.Sprintf("unknown target %q, must be \"state\" or \"scope\"", target),
				Pos:     targetVal.Pos(),
			}
		}
		op.Target = target
	}

	switch name {
	case OpSet:
		valueVal := v.LookupPath(cue.ParsePath("value"))
		if !valueVal.Exists() {
			return nil, &CompileError{Field: "update.value", Message: "set requires a value", Pos: v.Pos()}
		}
		if op.Value, err = decodeValue(valueVal, "update.value"); err != nil {
			return nil, err
		}

	case OpInc:
		op.By = 1
		if byVal := v.LookupPath(cue.ParsePath("by")); byVal.Exists() {
			if byVal.IncompleteKind() != cue.IntKind {
				return nil, &CompileError{Field: "update.by", Message: "by must be an integer", Pos: byVal.Pos()}
			}
			if op.By, err = byVal.Int64(); err != nil {
				return nil, formatCUEError(err)
			}
		}

	case OpParam:
		if fromVal := v.LookupPath(cue.ParsePath("from")); fromVal.Exists() {
			switch fromVal.IncompleteKind() {
			case cue.IntKind:
				idx, err := fromVal.Int64()
				if err != nil {
					return nil, formatCUEError(err)
				}
				op.From = fmt.Sprint(idx)
			case cue.StringKind:
				if op.From, err = fromVal.String(); err != nil {
					return nil, formatCUEError(err)
				}
			default:
				return nil, &CompileError{Field: "update.from", Message: "from must be an index or a key", Pos: fromVal.Pos()}
			}
		}
		if selVal := v.LookupPath(cue.ParsePath("select")); selVal.Exists() {
			sel, err := selVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			op.Select = splitPath(sel)
		}

	case OpFail:
		op.Message = "reducer failed"
		if msgVal := v.LookupPath(cue.ParsePath("message")); msgVal.Exists() {
			if op.Message, err = msgVal.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}

	default:
		return nil, &CompileError{
			Field:   "update.op",
			Message: fmt.Sprintf("unknown op %q, must be one of set, inc, param, fail", name),
			Pos:     opVal.Pos(),
		}
	}

	return op, nil
}

// decodeValue converts a concrete CUE value into an ir.Value through its
// JSON form. Floats are rejected.
func decodeValue(v cue.Value, field string) (ir.Value, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	val, err := ir.UnmarshalValue(data)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return val, nil
}

// checkFields rejects labels outside allowed. Struct-valued specs are
// strict so that typos surface at compile time.
func checkFields(v cue.Value, field string, allowed ...string) error {
	if v.IncompleteKind() != cue.StructKind {
		return nil
	}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		label := iter.Label()
		known := false
		for _, a := range allowed {
			if a == label {
				known = true
				break
			}
		}
		if !known {
			return &CompileError{
				Field:   field,
				Message: fmt.Sprintf("unknown field %q", label),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

// labelOf returns the last path selector of v, unquoted.
func labelOf(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	sel := sels[len(sels)-1]
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

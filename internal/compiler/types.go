package compiler

import (
	"cuelang.org/go/cue/token"

	"github.com/roach88/epicflow/pkg/ir"
)

// Document is the compiled form of one or more CUE spec files.
// Epics and listeners keep their declaration order.
type Document struct {
	Epics     []EpicSpec
	Listeners []ListenerSpec
}

// Merge appends other's declarations to d.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	d.Epics = append(d.Epics, other.Epics...)
	d.Listeners = append(d.Listeners, other.Listeners...)
}

// Epic returns the spec named name.
func (d *Document) Epic(name string) (*EpicSpec, bool) {
	for i := range d.Epics {
		if d.Epics[i].Name == name {
			return &d.Epics[i], true
		}
	}
	return nil, false
}

// EpicSpec declares one epic.
type EpicSpec struct {
	Name string

	// State and Scope are ir.Unset when the spec omits them.
	State ir.Value
	Scope ir.Value

	Reducers []ReducerSpec
	Pos      token.Pos
}

// HasScope reports whether the spec declares a scope.
func (s *EpicSpec) HasScope() bool {
	return !ir.IsUnset(s.Scope)
}

// ReducerSpec declares a reducer as an update program.
type ReducerSpec struct {
	Name    string
	On      OnSpec
	Updates []UpdateOp
	Passive bool
	Pos     token.Pos
}

// ListenerSpec declares a store listener. A listener with Fail set
// returns that message as an error every time it runs.
type ListenerSpec struct {
	Name string
	On   OnSpec
	Fail string
	Pos  token.Pos
}

// ParamShape is how a handler's conditions are grouped.
type ParamShape int

const (
	// ParamSolo is a single condition; params is its value.
	ParamSolo ParamShape = iota
	// ParamArray is a CUE list; params is an ir.Array.
	ParamArray
	// ParamObject is a CUE struct of named conditions; params is an ir.Object.
	ParamObject
)

// String returns a lowercase name for the shape.
func (p ParamShape) String() string {
	switch p {
	case ParamArray:
		return "array"
	case ParamObject:
		return "object"
	default:
		return "solo"
	}
}

// OnSpec is the compiled `on` field.
type OnSpec struct {
	Shape ParamShape

	// Keys names each slot for ParamObject, in declaration order.
	Keys  []string
	Slots []SlotSpec
}

// Refs returns every condition type referenced by the spec.
func (o OnSpec) Refs() []ConditionSpec {
	var out []ConditionSpec
	for _, s := range o.Slots {
		out = append(out, s.Members()...)
	}
	return out
}

// SlotSpec is one parameter position: a single condition or an any-of group.
type SlotSpec struct {
	Condition *ConditionSpec
	AnyOf     []ConditionSpec
}

// Members returns the conditions of the slot.
func (s SlotSpec) Members() []ConditionSpec {
	if s.Condition != nil {
		return []ConditionSpec{*s.Condition}
	}
	return s.AnyOf
}

// ConditionSpec is a single declarative condition.
type ConditionSpec struct {
	Type     string
	Readonly bool

	// Select is a dotted sub-path applied to the value before comparison.
	Select []string
	Guard  *GuardSpec
}

// GuardSpec admits a value by comparing it against a literal.
type GuardSpec struct {
	Op    string
	Value ir.Value
}

// Update operations.
const (
	OpSet   = "set"
	OpInc   = "inc"
	OpParam = "param"
	OpFail  = "fail"
)

// Update targets.
const (
	TargetState = "state"
	TargetScope = "scope"
)

// Guard operators.
var guardOps = map[string]bool{
	"eq": true, "ne": true,
	"gt": true, "lt": true,
	"ge": true, "le": true,
}

// UpdateOp is one step of a reducer's update program.
type UpdateOp struct {
	// Path is the dotted location to write; empty writes the whole value.
	Path []string
	Op   string

	// By is the increment for OpInc.
	By int64

	// Value is the literal for OpSet.
	Value ir.Value

	// From picks a param slot for OpParam: an index for array params, a
	// key for object params. Select then walks into the picked value.
	From   string
	Select []string

	// Message is the error text for OpFail.
	Message string

	Target string
	Pos    token.Pos
}

package object

import (
	"errors"
	"fmt"

	"github.com/roach88/epicflow/pkg/ir"
)

// ErrShapeMismatch is returned by Merge when the top-level container kind of
// the new value differs from the old one. Callers translate it into their
// own error type; it is never meant to reach end users unwrapped.
var ErrShapeMismatch = errors.New("shape mismatch")

// Patch rewrites a value. Undo patches map a merge result back to the value
// before the merge; redo patches map the old value forward to the result.
// A nil Patch is the identity.
type Patch func(ir.Value) ir.Value

// Apply runs p on v, treating a nil Patch as the identity.
func (p Patch) Apply(v ir.Value) ir.Value {
	if p == nil {
		return v
	}
	return p(v)
}

// Then returns a patch that applies p first and next second.
func (p Patch) Then(next Patch) Patch {
	switch {
	case p == nil:
		return next
	case next == nil:
		return p
	}
	return func(v ir.Value) ir.Value {
		return next(p(v))
	}
}

// Result is the outcome of Merge.
type Result struct {
	// Value is the merged value. It never aliases containers of the inputs.
	Value ir.Value

	// Undo reconstructs the old value from Value. Nil unless patches were requested.
	Undo Patch

	// Redo reconstructs Value from the old value. Nil unless patches were requested.
	Redo Patch
}

// Merge merges newValue into oldValue.
//
// Rules:
//   - oldValue Unset: the result is newValue.
//   - newValue Unset: the result is oldValue (nothing was written).
//   - top-level kind change between container and primitive, or between
//     array and object: ErrShapeMismatch.
//   - two arrays, or two primitives: newValue replaces oldValue.
//   - two objects: keys only in old are kept, keys only in new are added,
//     keys in both are merged recursively. Nested kind changes replace the
//     old child instead of failing.
//
// When wantPatches is set the Result carries undo and redo patches built
// from the per-key operations, so undo followed by redo round-trips.
func Merge(oldValue, newValue ir.Value, wantPatches bool) (Result, error) {
	return merge(oldValue, newValue, wantPatches, false)
}

func merge(oldValue, newValue ir.Value, wantPatches, nested bool) (Result, error) {
	if ir.IsUnset(newValue) {
		return Result{Value: Clone(oldValue)}, nil
	}

	ko, kn := ir.KindOf(oldValue), ir.KindOf(newValue)
	if ko == ir.KindUnset {
		return replace(oldValue, newValue, wantPatches), nil
	}

	if ko != kn {
		if !nested {
			return Result{}, fmt.Errorf("%w: cannot merge %s into %s", ErrShapeMismatch, kn, ko)
		}
		return replace(oldValue, newValue, wantPatches), nil
	}

	if ko != ir.KindObject {
		return replace(oldValue, newValue, wantPatches), nil
	}
	return mergeObjects(oldValue.(ir.Object), newValue.(ir.Object), wantPatches)
}

// replace builds a Result where newValue wholesale replaces oldValue.
func replace(oldValue, newValue ir.Value, wantPatches bool) Result {
	res := Result{Value: Clone(newValue)}
	if !wantPatches || Equal(oldValue, newValue) {
		return res
	}

	before, after := Clone(oldValue), Clone(newValue)
	res.Undo = func(ir.Value) ir.Value { return Clone(before) }
	res.Redo = func(ir.Value) ir.Value { return Clone(after) }
	return res
}

func mergeObjects(oldObj, newObj ir.Object, wantPatches bool) (Result, error) {
	out := make(ir.Object, len(oldObj)+len(newObj))
	for k, v := range oldObj {
		if _, ok := newObj[k]; !ok {
			out[k] = Clone(v)
		}
	}

	var added []string
	childUndo := map[string]Patch{}
	childRedo := map[string]Patch{}
	addedValues := map[string]ir.Value{}

	// Sorted for deterministic patch construction.
	for _, k := range newObj.SortedKeys() {
		nv := newObj[k]
		ov, existed := oldObj[k]
		if !existed {
			out[k] = Clone(nv)
			if wantPatches {
				added = append(added, k)
				addedValues[k] = Clone(nv)
			}
			continue
		}

		child, err := merge(ov, nv, wantPatches, true)
		if err != nil {
			return Result{}, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = child.Value
		if child.Undo != nil {
			childUndo[k] = child.Undo
		}
		if child.Redo != nil {
			childRedo[k] = child.Redo
		}
	}

	res := Result{Value: out}
	if !wantPatches || (len(added) == 0 && len(childUndo) == 0 && len(childRedo) == 0) {
		return res, nil
	}

	res.Undo = func(v ir.Value) ir.Value {
		obj, ok := v.(ir.Object)
		if !ok {
			return v
		}
		next := Clone(obj).(ir.Object)
		for _, k := range added {
			delete(next, k)
		}
		for k, p := range childUndo {
			if cur, ok := next[k]; ok {
				next[k] = p(cur)
			}
		}
		return next
	}
	res.Redo = func(v ir.Value) ir.Value {
		obj, ok := v.(ir.Object)
		if !ok {
			return v
		}
		next := Clone(obj).(ir.Object)
		for k, p := range childRedo {
			if cur, ok := next[k]; ok {
				next[k] = p(cur)
			}
		}
		for _, k := range added {
			next[k] = Clone(addedValues[k])
		}
		return next
	}
	return res, nil
}

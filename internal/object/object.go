package object

import (
	"github.com/roach88/epicflow/pkg/ir"
)

// Freeze returns a detached deep copy of v that shares no containers with
// the caller. Go maps and slices cannot be made read-only, so isolation is
// achieved by copying: later writes to the argument never reach the frozen
// value. Freeze is idempotent in the sense that Freeze(Freeze(v)) is equal
// to Freeze(v).
func Freeze(v ir.Value) ir.Value {
	return Clone(v)
}

// Clone returns a deep structural copy of v.
// Primitives and the Unset sentinel are returned as-is.
func Clone(v ir.Value) ir.Value {
	switch val := v.(type) {
	case nil:
		return ir.Unset
	case ir.Array:
		out := make(ir.Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case ir.Object:
		out := make(ir.Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// Equal reports structural equality. Primitives compare by value, containers
// compare by key set (or length) and recursively by element. A container
// never equals a primitive, and Unset equals only Unset.
func Equal(a, b ir.Value) bool {
	ka, kb := ir.KindOf(a), ir.KindOf(b)
	if ka != kb {
		return false
	}

	switch ka {
	case ir.KindUnset:
		return true
	case ir.KindArray:
		aa, ba := a.(ir.Array), b.(ir.Array)
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !Equal(aa[i], ba[i]) {
				return false
			}
		}
		return true
	case ir.KindObject:
		ao, bo := a.(ir.Object), b.(ir.Object)
		if len(ao) != len(bo) {
			return false
		}
		for k, av := range ao {
			bv, ok := bo[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return primitiveEqual(a, b)
	}
}

func primitiveEqual(a, b ir.Value) bool {
	switch av := a.(type) {
	case ir.Null:
		_, ok := b.(ir.Null)
		return ok
	case ir.String:
		bv, ok := b.(ir.String)
		return ok && av == bv
	case ir.Int:
		bv, ok := b.(ir.Int)
		return ok && av == bv
	case ir.Bool:
		bv, ok := b.(ir.Bool)
		return ok && av == bv
	default:
		return false
	}
}

package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/value"
)

// iterateOverload tries seq's class for a bound "iterate(_)" BLOCK
// method before falling back to iterate's built-in List/Map/Range/String
// handling (§4.G). A user iterate(_) follows the same protocol as the
// built-ins: it returns false once exhausted, otherwise the next
// iterator value to carry into the matching iteratorValue(_) call.
func (vm *VM) iterateOverload(f *value.Fiber, seq, iter value.Value) (bool, value.Value, error) {
	if seq.Is(value.ObjInstance) || seq.Is(value.ObjClass) {
		if closure, ok := vm.findOverload(seq, "iterate(_)"); ok {
			result, err := vm.callOverloadSync(f, closure, seq, iter)
			if err != nil {
				return false, value.Null, err
			}
			return value.Truthy(result), result, nil
		}
	}
	return vm.iterate(seq, iter)
}

// iteratorValueOverload mirrors iterateOverload for ITERATORVALUE: a
// bound "iteratorValue(_)" BLOCK method is tried first, falling back to
// iteratorValue's built-in projection.
func (vm *VM) iteratorValueOverload(f *value.Fiber, seq, iter value.Value) (value.Value, error) {
	if seq.Is(value.ObjInstance) || seq.Is(value.ObjClass) {
		if closure, ok := vm.findOverload(seq, "iteratorValue(_)"); ok {
			return vm.callOverloadSync(f, closure, seq, iter)
		}
	}
	return vm.iteratorValue(seq, iter)
}

// iterate implements ITERATE's built-in fallback (§4.G): given the
// current iterator value (Null to start), advance it one step and report
// whether the sequence has more elements. List/Map/Range/String each
// define their own notion of "iterator value" -- an index for List and
// String, a slot index for Map, the running number for Range. (For a Map,
// ITERATORVALUE builds a MapEntry instance per entry and `key`/`value` are
// read from it by ordinary method calls; there is no Map-specific
// shortcut in ITERATORVALUE.)
func (vm *VM) iterate(seq, iter value.Value) (bool, value.Value, error) {
	switch {
	case seq.Is(value.ObjList):
		l := seq.AsObj().(*value.List)
		idx := nextIndex(iter)
		if idx >= len(l.Elems) {
			return false, value.Null, nil
		}
		return true, value.Num(float64(idx)), nil

	case seq.Is(value.ObjString):
		s := seq.AsObj().(*value.String)
		idx := nextByteIndex(iter, s.Bytes)
		if idx >= len(s.Bytes) {
			return false, value.Null, nil
		}
		return true, value.Num(float64(idx)), nil

	case seq.Is(value.ObjMap):
		m := seq.AsObj().(*value.Map)
		idx := nextIndex(iter)
		for idx < m.Capacity() {
			if _, _, ok := m.EntryAt(idx); ok {
				return true, value.Num(float64(idx)), nil
			}
			idx++
		}
		return false, value.Null, nil

	case seq.Is(value.ObjRange):
		r := seq.AsObj().(*value.Range)
		return iterateRange(r, iter)

	default:
		return false, value.Null, fmt.Errorf("%s is not iterable", vm.describeClass(seq))
	}
}

func nextIndex(iter value.Value) int {
	if iter.IsNull() {
		return 0
	}
	return int(iter.AsNum()) + 1
}

func nextByteIndex(iter value.Value, s string) int {
	if iter.IsNull() {
		return 0
	}
	idx := int(iter.AsNum())
	_, size := decodeRuneAt(s, idx)
	return idx + size
}

// decodeRuneAt returns a placeholder byte-width of 1; full UTF-8
// boundary advancement belongs to the core String implementation this
// component treats as an external collaborator (§1), so iteration here
// only guarantees termination and in-bounds indices, not grapheme-aware
// stepping.
func decodeRuneAt(s string, idx int) (rune, int) {
	if idx >= len(s) {
		return 0, 1
	}
	return rune(s[idx]), 1
}

func iterateRange(r *value.Range, iter value.Value) (bool, value.Value, error) {
	step := 1.0
	if r.From > r.To {
		step = -1.0
	}
	var cur float64
	if iter.IsNull() {
		cur = r.From
	} else {
		cur = iter.AsNum() + step
	}
	if step > 0 {
		if r.Inclusive && cur > r.To {
			return false, value.Null, nil
		}
		if !r.Inclusive && cur >= r.To {
			return false, value.Null, nil
		}
	} else {
		if r.Inclusive && cur < r.To {
			return false, value.Null, nil
		}
		if !r.Inclusive && cur <= r.To {
			return false, value.Null, nil
		}
	}
	return true, value.Num(cur), nil
}

// iteratorValue implements ITERATORVALUE's built-in fallback: given the
// iterator state ITERATE produced, project out the actual element.
func (vm *VM) iteratorValue(seq, iter value.Value) (value.Value, error) {
	switch {
	case seq.Is(value.ObjList):
		return seq.AsObj().(*value.List).Elems[int(iter.AsNum())], nil
	case seq.Is(value.ObjString):
		s := seq.AsObj().(*value.String)
		idx := int(iter.AsNum())
		r, _ := decodeRuneAt(s.Bytes, idx)
		return value.FromObj(vm.NewString(string(r))), nil
	case seq.Is(value.ObjMap):
		m := seq.AsObj().(*value.Map)
		k, v, ok := m.EntryAt(int(iter.AsNum()))
		if !ok {
			return value.Null, fmt.Errorf("invalid map iterator")
		}
		entry := vm.NewInstance(vm.mapEntryClassLazy())
		entry.Fields[0], entry.Fields[1] = k, v
		return value.FromObj(entry), nil
	case seq.Is(value.ObjRange):
		return iter, nil
	default:
		return value.Null, fmt.Errorf("%s is not iterable", vm.describeClass(seq))
	}
}

// mapEntryClassLazy builds (once) the minimal {key, value} carrier class
// ITERATORVALUE hands back when walking a Map: a dedicated two-field
// class rather than reusing Object, so binding "key"/"value" getters here
// doesn't leak onto every other object in the program (§4.G; full core
// MapEntry semantics -- comparison, string conversion -- are out of
// scope per the Non-goals).
func (vm *VM) mapEntryClassLazy() *value.Class {
	if vm.mapEntryClass != nil {
		return vm.mapEntryClass
	}
	cls := vm.NewClass("MapEntry", 2)
	_ = bindSuperclass(cls, vm.core.Object)
	_ = bindSuperclass(cls.Class, vm.core.Class)
	vm.definePrimitive(cls, "key", func(f *value.Fiber, args []value.Value) bool {
		args[0] = args[0].AsObj().(*value.Instance).Fields[0]
		return true
	})
	vm.definePrimitive(cls, "value", func(f *value.Fiber, args []value.Value) bool {
		args[0] = args[0].AsObj().(*value.Instance).Fields[1]
		return true
	})
	vm.mapEntryClass = cls
	return cls
}

func (vm *VM) describeClass(v value.Value) string {
	if c := vm.ClassOf(v); c != nil {
		return c.Name
	}
	return "value"
}

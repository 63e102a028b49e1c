package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/value"
)

// getSubscript implements GETSUB with built-in behavior for
// List/Map/String/Range (§4.G). An Instance or Class receiver is rejected
// with an error; no "[_]" overload is looked up. List and String indices
// count back from the end when negative, matching the teacher's
// validateIndex convention.
func (vm *VM) getSubscript(receiver, index value.Value) (value.Value, error) {
	switch {
	case receiver.Is(value.ObjInstance) || receiver.Is(value.ObjClass):
		// The compiler emits GETSUB for every subscript expression, and a
		// user-defined "[_]" method is not consulted here.
		return value.Null, fmt.Errorf("%s does not support subscripting", vm.describeClass(receiver))

	case receiver.Is(value.ObjList):
		l := receiver.AsObj().(*value.List)
		i, err := validateIndex(index, len(l.Elems))
		if err != nil {
			return value.Null, err
		}
		return l.Elems[i], nil

	case receiver.Is(value.ObjMap):
		m := receiver.AsObj().(*value.Map)
		v, ok := m.Get(index)
		if !ok {
			return value.Null, fmt.Errorf("map does not contain key")
		}
		return v, nil

	case receiver.Is(value.ObjString):
		s := receiver.AsObj().(*value.String)
		i, err := validateIndex(index, len(s.Bytes))
		if err != nil {
			return value.Null, err
		}
		r, _ := decodeRuneAt(s.Bytes, i)
		return value.FromObj(vm.NewString(string(r))), nil

	case receiver.Is(value.ObjRange):
		r := receiver.AsObj().(*value.Range)
		i, err := validateIndex(index, rangeLen(r))
		if err != nil {
			return value.Null, err
		}
		step := 1.0
		if r.From > r.To {
			step = -1.0
		}
		return value.Num(r.From + step*float64(i)), nil

	default:
		return value.Null, fmt.Errorf("%s does not support subscripting", vm.describeClass(receiver))
	}
}

// setSubscript implements SETSUB: `[_]=(_)` on List/Map. Strings and
// ranges are immutable and reject it; Instance/Class receivers are
// rejected too, with no "[_]=(_)" overload lookup, same as getSubscript.
func (vm *VM) setSubscript(receiver, index, val value.Value) error {
	switch {
	case receiver.Is(value.ObjList):
		l := receiver.AsObj().(*value.List)
		i, err := validateIndex(index, len(l.Elems))
		if err != nil {
			return err
		}
		l.Elems[i] = val
		return nil

	case receiver.Is(value.ObjMap):
		m := receiver.AsObj().(*value.Map)
		m.Set(index, val)
		return nil

	default:
		return fmt.Errorf("%s does not support subscript assignment", vm.describeClass(receiver))
	}
}

func rangeLen(r *value.Range) int {
	n := r.To - r.From
	if n < 0 {
		n = -n
	}
	count := int(n)
	if r.Inclusive {
		count++
	}
	return count
}

// validateIndex resolves a subscript index against a collection of the
// given length: negative indices count from the end, and the result must
// land in [0, length).
func validateIndex(index value.Value, length int) (int, error) {
	if !index.IsNum() {
		return 0, fmt.Errorf("subscript must be a number")
	}
	n := index.AsNum()
	i := int(n)
	if float64(i) != n {
		return 0, fmt.Errorf("subscript must be an integer")
	}
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, fmt.Errorf("subscript out of bounds")
	}
	return i, nil
}

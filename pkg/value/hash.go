package value

import "math"

// Hash computes a Map key hash. Only immutable kinds are hashable: hashing
// a mutable object (List, Map, Instance, Fiber, ...) would let its hash
// drift out from under a Map after insertion, so it's a programming error
// and panics rather than silently corrupting the table.
func Hash(v Value) uint32 {
	switch v.kind {
	case KindNull:
		return 0x42
	case KindBool:
		if v.AsBool() {
			return 1
		}
		return 0
	case KindNum:
		return hashNum(v.AsNum())
	case KindObj:
		return hashObj(v.ref)
	default:
		panic("value: cannot hash undefined")
	}
}

func hashObj(o Obj) uint32 {
	switch o.ObjKind() {
	case ObjString:
		return o.(*String).Hash
	case ObjRange:
		r := o.(*Range)
		h := hashNum(r.From) ^ hashNum(r.To)
		if r.Inclusive {
			h ^= 1
		}
		return h
	case ObjClass:
		return fnv1a(o.(*Class).Name)
	case ObjFn:
		fn := o.(*Fn)
		return uint32(fn.Arity) ^ uint32(len(fn.Code))*2654435761
	case ObjClosure:
		return hashObj(o.(*Closure).Fn)
	default:
		panic("value: hashing a mutable object is a programming error")
	}
}

// hashNum runs a double's bit pattern through a 64-bit avalanche mix
// (Murmur3's fmix64) so nearby floats don't cluster in a Map's buckets.
func hashNum(n float64) uint32 {
	bits := math.Float64bits(n)
	bits ^= bits >> 33
	bits *= 0xff51afd7ed558ccd
	bits ^= bits >> 33
	bits *= 0xc4ceb9fe1a85ec53
	bits ^= bits >> 33
	return uint32(bits)
}

package value

import "strings"

// MethodKind distinguishes the four ways a bound method can be executed.
// NONE is the zero value so a freshly-grown, sparse method table reads as
// "nothing bound here" without an extra presence bitmap.
type MethodKind byte

const (
	MethodNone MethodKind = iota
	MethodPrimitive
	MethodForeign
	MethodBlock
	MethodFunctionCall
)

// Primitive is a native method. It returns true when args[0] already holds
// the result and the caller should simply continue; false means the
// primitive either set fiber.Error, pushed a new call frame, or switched
// fibers, and the dispatcher must re-examine VM state before continuing.
type Primitive func(fiber *Fiber, args []Value) bool

// Slots is the embedding API surface a ForeignFn sees: a flat window of
// argument/return slots over the active fiber's stack, plus the means to
// abort that fiber with an arbitrary error Value (§4.I). pkg/vm
// implements this directly on *VM rather than pkg/value constructing the
// slot window itself, since pkg/value can't import pkg/vm without a
// cycle.
type Slots interface {
	SlotCount() int
	EnsureSlots(count int)
	GetSlot(slot int) Value
	SetSlot(slot int, v Value)
	AbortFiber(slot int)
}

// ForeignFn is a host-supplied native method. It reads its arguments from
// and writes its return value to slot 0 of api's slot window (§4.I).
// Finalizers are invoked with a nil api -- there is no active call whose
// arguments or result a finalizer would read or write.
type ForeignFn func(api Slots)

// Method is one entry of a Class's method table, indexed by method symbol.
type Method struct {
	Kind      MethodKind
	Primitive Primitive
	Foreign   ForeignFn
	Closure   *Closure // populated for MethodBlock
}

// SignatureArity reports how many arguments a wire-level method
// signature's underscore placeholders encode: "+(_)" is 1, "call(_,_)"
// is 2, a bare getter name like "length" is 0. The two reserved
// lifecycle signatures "<allocate>" and "<finalize>" carry no call
// arity at all and report -1 (§4).
func SignatureArity(sig string) int {
	if strings.HasPrefix(sig, "<") {
		return -1
	}
	open := strings.IndexByte(sig, '(')
	if open == -1 {
		return 0
	}
	close := strings.LastIndexByte(sig, ')')
	if close <= open+1 {
		return 0
	}
	return strings.Count(sig[open+1:close], "_")
}

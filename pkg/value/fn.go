package value

import "github.com/kristofer/ember/pkg/bytecode"

// UpvalueDesc describes, for one slot of a compiled function's upvalue
// array, where a CLOSURE instruction should capture it from: a local slot
// of the immediately enclosing function (IsLocal) or that function's own
// upvalue array at Index.
type UpvalueDesc struct {
	IsLocal bool
	Index   int
}

// Fn is compiled code: the immutable half of what the teacher's ancestor
// calls a prototype. A runtime Closure pairs one Fn with a set of captured
// Upvalues.
type Fn struct {
	ObjHeader
	Module       *Module
	Constants    []Value
	Code         []bytecode.Instruction
	Lines        []int // parallel to Code, for error reporting
	Arity        int
	MaxSlots     int
	NumUpvalues  int
	UpvalueDescs []UpvalueDesc
	DebugName    string
}

func NewFn(module *Module, class *Class) *Fn {
	return &Fn{ObjHeader: ObjHeader{Kind: ObjFn, Class: class}, Module: module}
}

// Closure is a runtime function value: an Fn plus the upvalues it closed
// over at the point a CLOSURE instruction built it.
type Closure struct {
	ObjHeader
	Fn       *Fn
	Upvalues []*Upvalue
}

func NewClosure(fn *Fn, class *Class) *Closure {
	return &Closure{
		ObjHeader: ObjHeader{Kind: ObjClosure, Class: class},
		Fn:        fn,
		Upvalues:  make([]*Upvalue, fn.NumUpvalues),
	}
}

// Upvalue is a reference cell for a captured local. While Open, Value
// points into the owning Fiber's stack; Close copies that slot into Closed
// and repoints Value at it, so the cell outlives the stack frame.
//
// Class is always nil for an Upvalue (§3's invariant table): host code
// never observes one directly, so it needs no class identity.
type Upvalue struct {
	ObjHeader
	Value  *Value
	Closed Value
	Next   *Upvalue // intrusive list on Fiber.OpenUpvalues, sorted by stack depth

	// StackIndex is the owning fiber's stack slot this upvalue points at
	// while open. Go slices reallocate on growth (unlike the teacher's
	// pointer arithmetic over a fixed C array), so relocation needs an
	// index to recompute Value from, not just the old pointer.
	StackIndex int
}

func NewUpvalue(slot *Value, index int) *Upvalue {
	u := &Upvalue{ObjHeader: ObjHeader{Kind: ObjUpvalue}, StackIndex: index}
	u.Value = slot
	return u
}

func (u *Upvalue) IsOpen() bool { return u.Value != &u.Closed }

func (u *Upvalue) Close() {
	u.Closed = *u.Value
	u.Value = &u.Closed
}

package value

// FiberState tracks a fiber's place in the call-state machine (§4.E):
// a fresh fiber is New (never run), becomes Running once called into,
// and Done once its base call returns or an error unwinds past it. Try
// marks a fiber entered via a protected call so its caller receives an
// error value instead of a propagated abort. pkg/vm never assigns Other.
type FiberState byte

const (
	FiberNew FiberState = iota
	FiberRunning
	FiberOther
	FiberTry
	FiberDone
)

// CallFrame is one activation record: the executing Closure, the index in
// Fiber.Stack where its registers begin, and its instruction pointer.
type CallFrame struct {
	Closure    *Closure
	StackStart int
	IP         int
	ReturnReg  int // -1 means "write the result to stackStart[0]"
}

// Fiber is ember's coroutine: an independent register stack and call-frame
// stack, plus the bookkeeping needed to suspend and resume it. Stack
// relocation on growth is the caller's job (pkg/vm), since it must also
// rewrite every CallFrame.StackStart and every open Upvalue pointing into
// the old array.
type Fiber struct {
	ObjHeader
	Stack        []Value
	Frames       []CallFrame
	OpenUpvalues *Upvalue
	Caller       *Fiber
	State        FiberState
	Error        Value

	// APIStackStart is the index into Stack where the active foreign call's
	// slot-0 sits, or -1 when no foreign call is in progress (§4.I).
	APIStackStart int

	// LastCallReg is the register in the caller's frame that should
	// receive a value transferred across a fiber boundary: a normal
	// Fiber.call return or a Fiber.try error.
	LastCallReg int
}

func NewFiber(class *Class) *Fiber {
	return &Fiber{
		ObjHeader:     ObjHeader{Kind: ObjFiber, Class: class},
		State:         FiberNew,
		Error:         Null,
		APIStackStart: -1,
	}
}

func (f *Fiber) HasError() bool { return !f.Error.IsNull() }

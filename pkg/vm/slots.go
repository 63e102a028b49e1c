package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/value"
)

// *VM implements value.Slots directly (§4.I): a ForeignFn is always called
// mid-dispatch on the VM that owns the active fiber, so there is no
// separate wrapper type to thread through -- vm.apiStack and vm.fiber
// already carry everything GetSlot/SetSlot/AbortFiber need.
var _ value.Slots = (*VM)(nil)

// SlotCount reports the width of the active foreign call's slot window.
func (vm *VM) SlotCount() int { return len(vm.apiStack) }

// GetSlot reads slot, which must be in [0, SlotCount()).
func (vm *VM) GetSlot(slot int) value.Value { return vm.apiStack[slot] }

// SetSlot writes slot, which must be in [0, SlotCount()). Slot 0 is how a
// ForeignFn hands back its return value.
func (vm *VM) SetSlot(slot int, v value.Value) { vm.apiStack[slot] = v }

// EnsureSlots grows the active slot window to at least count slots,
// preserving the slots already in use. Called with no foreign call and no
// running fiber in progress (a host-initiated Call sequence), it starts a
// fresh window at fiber stack index 0.
func (vm *VM) EnsureSlots(count int) {
	f := vm.fiber
	if f == nil {
		f = vm.NewFiber(nil)
		vm.fiber = f
	}
	if f.APIStackStart < 0 {
		f.APIStackStart = 0
	}
	if count <= len(vm.apiStack) {
		return
	}
	start := f.APIStackStart
	vm.ensureStackCapacity(f, start+count)
	vm.apiStack = f.Stack[start : start+count]
}

// AbortFiber sets the active fiber's error to the raw Value at slot (not a
// stringified message, unlike Fiber.abort(_) from script code) and begins
// unwinding its caller chain once the foreign call returns. The unwind
// itself happens back in dispatch's MethodForeign case, since f.Frames and
// vm.fiber must not change out from under the ForeignFn that's still
// running.
func (vm *VM) AbortFiber(slot int) {
	vm.apiAbortValue = vm.apiStack[slot]
	vm.apiAborted = true
}

// CallHandle is a reusable, GC-pinned handle for invoking one method
// signature through the slot API (§4.I), built once via MakeCallHandle and
// reused across many Call calls.
type CallHandle struct {
	closure *value.Closure
	handle  *Handle
	numArgs int // receiver plus every argument slot the signature declares
}

// MakeCallHandle builds a handle for signature: a two-instruction stub Fn
// (a CALLK immediately followed by a RETURN) that dispatches through the
// exact same method-table lookup CALLK's compiled call sites use, so
// invoking the handle behaves identically to source that sends signature
// to whatever receiver occupies slot 0.
func (vm *VM) MakeCallHandle(signature string) *CallHandle {
	arity := value.SignatureArity(signature)
	if arity < 0 {
		arity = 0
	}
	numArgs := arity + 1

	fn := vm.NewFn(nil)
	fn.MaxSlots = numArgs
	fn.DebugName = "<call " + signature + ">"
	symbol := vm.methodSymbol(signature)
	fn.Code = []bytecode.Instruction{
		bytecode.ABC(bytecode.OpCallK, 0, arity, symbol),
		bytecode.ABC(bytecode.OpReturn, 0, 1, 0),
	}
	fn.Lines = []int{0, 0}

	closure := vm.NewClosure(fn)
	h := &CallHandle{closure: closure, numArgs: numArgs}
	h.handle = vm.MakeHandle(value.FromObj(closure))
	return h
}

// ReleaseCallHandle unpins h, letting its stub closure be collected once
// nothing else references it.
func (vm *VM) ReleaseCallHandle(h *CallHandle) {
	if h == nil {
		return
	}
	vm.ReleaseHandle(h.handle)
}

// Call invokes h against the receiver and arguments already written into
// slots 0..h.numArgs-1 (via EnsureSlots/SetSlot), running the interpreter
// to completion and leaving the result in slot 0. It requires no frame
// already in progress on the active fiber -- a ForeignFn cannot itself
// call back into Call, matching the embedding API's single-threaded,
// non-reentrant contract (§4.I).
func (vm *VM) Call(h *CallHandle) error {
	f := vm.fiber
	if f == nil {
		f = vm.NewFiber(nil)
		vm.fiber = f
	}
	if len(f.Frames) != 0 {
		return fmt.Errorf("slot API call re-entered while a fiber frame is active")
	}
	if f.APIStackStart < 0 {
		f.APIStackStart = 0
	}
	vm.pushFrame(f, h.closure, f.APIStackStart, -1)
	return vm.run(f)
}

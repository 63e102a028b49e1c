package vm

import "github.com/kristofer/ember/pkg/value"

const initialCallFrames = 4

// ensureStackCapacity grows f.Stack to at least needed slots, relocating
// every open upvalue to point into the new backing array. Frame
// StackStart fields are plain indices rather than pointers, so they need
// no fixup -- the index-based port's one real simplification over the
// teacher's pointer-relocation dance (§4.E).
func (vm *VM) ensureStackCapacity(f *value.Fiber, needed int) {
	if needed <= len(f.Stack) {
		return
	}
	newCap := len(f.Stack)
	if newCap == 0 {
		newCap = 8
	}
	for newCap < needed {
		newCap *= 2
	}
	newStack := make([]value.Value, newCap)
	copy(newStack, f.Stack)
	f.Stack = newStack

	for uv := f.OpenUpvalues; uv != nil; uv = uv.Next {
		uv.Value = &f.Stack[uv.StackIndex]
	}
	if vm.fiber == f && vm.apiStack != nil {
		start := f.APIStackStart
		vm.apiStack = f.Stack[start : start+len(vm.apiStack)]
	}
}

// pushFrame appends a new call frame for closure at stackStart,
// reserving registers up to closure.Fn.MaxSlots.
func (vm *VM) pushFrame(f *value.Fiber, closure *value.Closure, stackStart, returnReg int) {
	if len(f.Frames) == 0 {
		f.Frames = make([]value.CallFrame, 0, initialCallFrames)
	}
	vm.ensureStackCapacity(f, stackStart+closure.Fn.MaxSlots)
	f.Frames = append(f.Frames, value.CallFrame{
		Closure:    closure,
		StackStart: stackStart,
		ReturnReg:  returnReg,
	})
}

// captureUpvalue returns the open upvalue for f's stack slot at index,
// reusing an existing one if the sorted-descending open list already has
// one for that exact slot, otherwise splicing a new one into position.
func (vm *VM) captureUpvalue(f *value.Fiber, index int) *value.Upvalue {
	var prev *value.Upvalue
	cur := f.OpenUpvalues
	for cur != nil && cur.StackIndex > index {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.StackIndex == index {
		return cur
	}

	created := vm.NewUpvalue(&f.Stack[index], index)
	created.Next = cur
	if prev == nil {
		f.OpenUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above fromIndex: each
// copies its live slot into its own boxed storage and is unlinked from
// the open list, used both by the CLOSE instruction and on frame return.
func (vm *VM) closeUpvalues(f *value.Fiber, fromIndex int) {
	for f.OpenUpvalues != nil && f.OpenUpvalues.StackIndex >= fromIndex {
		uv := f.OpenUpvalues
		uv.Close()
		f.OpenUpvalues = uv.Next
		uv.Next = nil
	}
}

// switchToFiber makes f the running fiber, recording the previous one as
// its caller when transfer is true (a plain Fiber.call or Fiber.try), or
// leaving Caller untouched when false.
func (vm *VM) switchToFiber(f *value.Fiber, transfer bool) {
	if transfer {
		f.Caller = vm.fiber
	}
	f.State = value.FiberRunning
	vm.fiber = f
}

// raiseRuntimeError sets the active fiber's error and begins unwinding
// the caller chain, per §4.G/§7: a fiber entered under `try` absorbs the
// error as its caller's return value; otherwise it propagates up and, if
// no TRY fiber is found, is reported to the host and terminates the run.
func (vm *VM) raiseRuntimeError(message string) *value.Fiber {
	f := vm.fiber
	f.Error = value.FromObj(vm.NewString(message))
	return vm.unwind(f)
}

// unwind walks the caller chain starting at f (which already has `error`
// set) looking for a TRY fiber to hand the error to. It returns the fiber
// that should keep running (nil if the whole chain is exhausted and the
// host should be notified).
func (vm *VM) unwind(f *value.Fiber) *value.Fiber {
	fiberLog := vm.log.Sub("fiber")
	for f != nil {
		caller := f.Caller
		f.Caller = nil
		if f.State == value.FiberTry {
			fiberLog.Debug().Msg("error absorbed by try fiber")
			caller.Stack[f.LastCallReg] = f.Error
			vm.fiber = caller
			caller.State = value.FiberRunning
			return caller
		}
		f.State = value.FiberDone
		f = caller
	}
	fiberLog.Debug().Msg("unwound past root fiber, no try handler found")
	vm.fiber = nil
	return nil
}

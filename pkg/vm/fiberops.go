package vm

import "github.com/kristofer/ember/pkg/value"

// fiberPrimitive intercepts the four Fiber control-flow methods before
// dispatch's generic method-table lookup. Unlike an ordinary primitive
// (value.Primitive, which only sees the receiver and args) these need the
// call's absolute argStart to seed Fiber.LastCallReg -- the stack slot a
// fiber boundary crossing eventually writes its result into (§4.E) -- so
// they live here instead of in corelib.go's closures.
func (vm *VM) fiberPrimitive(f *value.Fiber, argStart, numArgs, symbol int) (handled bool, errMsg string) {
	class := vm.ClassOf(f.Stack[argStart])
	if class != vm.core.Fiber && class != vm.core.Fiber.Class {
		return false, ""
	}
	args := f.Stack[argStart : argStart+numArgs]

	switch symbol {
	case vm.symFiberNew:
		closure, ok := args[1].AsObj().(*value.Closure)
		if !ok {
			return true, "Fiber.new(_) expects a function"
		}
		args[0] = value.FromObj(vm.NewFiber(closure))
		return true, ""

	case vm.symFiberCall, vm.symFiberCall1:
		callee, ok := args[0].AsObj().(*value.Fiber)
		if !ok {
			return true, "call expects a fiber receiver"
		}
		if callee.State == value.FiberDone {
			return true, "cannot call a finished fiber"
		}
		if numArgs > 1 && len(callee.Stack) > 1 {
			callee.Stack[1] = args[1]
		}
		callee.LastCallReg = argStart
		vm.switchToFiber(callee, true)
		return true, ""

	case vm.symFiberTry:
		callee, ok := args[0].AsObj().(*value.Fiber)
		if !ok {
			return true, "try expects a fiber receiver"
		}
		if callee.State == value.FiberDone {
			return true, "cannot call a finished fiber"
		}
		callee.LastCallReg = argStart
		vm.switchToFiber(callee, true)
		callee.State = value.FiberTry
		return true, ""

	case vm.symFiberAbort:
		message := ""
		if s, ok := args[1].AsObj().(*value.String); ok {
			message = s.Bytes
		}
		next := vm.fail(f, message)
		if next != nil {
			vm.fiber = next
		}
		return true, ""
	}
	return false, ""
}

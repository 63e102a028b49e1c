package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/value"
)

// dispatch implements the CALLK/CALLSUPERK calling convention (§4.G): it
// resolves the receiver's class (or, for a super send, the class the
// compiler already resolved and placed just past the argument window),
// looks up symbol in that class's method table, and executes it
// according to its kind. It returns a non-empty message on a runtime
// error the caller should convert into a fiber error and unwind.
func (vm *VM) dispatch(f *value.Fiber, argStart, numArgs, symbol int, superOverride *value.Class) string {
	if superOverride == nil {
		if handled, errMsg := vm.fiberPrimitive(f, argStart, numArgs, symbol); handled {
			return errMsg
		}
	}

	args := f.Stack[argStart : argStart+numArgs]
	receiver := args[0]

	class := superOverride
	if class == nil {
		class = vm.ClassOf(receiver)
	}
	if class == nil || symbol >= len(class.Methods) || class.Methods[symbol].Kind == value.MethodNone {
		return methodNotFoundMessage(class, symbol, vm)
	}
	method := class.Methods[symbol]

	switch method.Kind {
	case value.MethodPrimitive:
		if !method.Primitive(f, args) {
			// The primitive already set f.Error, pushed a frame, or
			// switched fibers; the caller re-examines VM state.
			return ""
		}
		return ""

	case value.MethodForeign:
		if arity := value.SignatureArity(vm.methodNames[symbol]); arity >= 0 && numArgs-1 != arity {
			return fmt.Sprintf("method %q expects %d argument(s), got %d",
				vm.methodNames[symbol], arity, numArgs-1)
		}
		savedStack, savedStart := vm.apiStack, f.APIStackStart
		vm.apiStack = args
		f.APIStackStart = argStart
		method.Foreign(vm)
		vm.apiStack, f.APIStackStart = savedStack, savedStart

		if vm.apiAborted {
			vm.apiAborted = false
			errVal := vm.apiAbortValue
			vm.apiAbortValue = value.Null
			// Mirrors the Fiber.abort primitive (fiberops.go): perform the
			// unwind here and update vm.fiber directly rather than
			// bubbling a stepErr, since the error is a raw Value and
			// runUntil's generic error path only knows how to wrap a
			// string.
			if next := vm.failValue(f, errVal); next != nil {
				vm.fiber = next
			}
		}
		return ""

	case value.MethodFunctionCall:
		closure, ok := receiver.AsObj().(*value.Closure)
		if !ok {
			return "receiver of call(...) is not a function"
		}
		if numArgs-1 != closure.Fn.Arity {
			return fmt.Sprintf("function expects %d argument(s), got %d", closure.Fn.Arity, numArgs-1)
		}
		vm.pushFrame(f, closure, argStart, argStart-f.Frames[len(f.Frames)-1].StackStart)
		return ""

	case value.MethodBlock:
		if numArgs-1 != method.Closure.Fn.Arity {
			return fmt.Sprintf("method %q expects %d argument(s), got %d",
				vm.methodNames[symbol], method.Closure.Fn.Arity, numArgs-1)
		}
		callerFrame := &f.Frames[len(f.Frames)-1]
		vm.pushFrame(f, method.Closure, argStart, argStart-callerFrame.StackStart)
		return ""

	default:
		return "unreachable method kind"
	}
}

func methodNotFoundMessage(class *value.Class, symbol int, vm *VM) string {
	name := "<unknown>"
	if class != nil {
		name = class.Name
	}
	sig := "<unknown>"
	if symbol >= 0 && symbol < len(vm.methodNames) {
		sig = vm.methodNames[symbol]
	}
	return fmt.Sprintf("%s does not implement %q", name, sig)
}

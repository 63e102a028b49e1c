package vm

import (
	"math"
	"strconv"
	"strings"

	"github.com/kristofer/ember/pkg/value"
)

// bootstrapCoreLib binds the handful of primitive methods ember's
// compiler-emitted CALLK instructions depend on but that don't warrant
// their own opcode: System.write, list/map construction and mutation,
// and number formatting. The Fiber control surface is reserved here
// (symbol interning only) and wired in fiberops.go, since it needs the
// raw argStart a generic Primitive closure never sees.
//
// This is the register machine's analogue of the teacher's wren_core.c
// method table, trimmed to what the spec's core library actually
// exercises rather than ported wholesale (§1's "core-library method
// bodies are out of scope" non-goal).
func (vm *VM) bootstrapCoreLib() {
	system := vm.NewClass("System", 0)
	_ = bindSuperclass(system, vm.core.Object)
	_ = bindSuperclass(system.Class, vm.core.Class)
	vm.coreModule.DefineVariable("System", value.FromObj(system))

	vm.definePrimitive(system.Class, "write(_)", func(f *value.Fiber, args []value.Value) bool {
		vm.config.Write(vm.displayString(args[1]))
		args[0] = args[1]
		return true
	})

	vm.definePrimitive(vm.core.List.Class, "new()", func(f *value.Fiber, args []value.Value) bool {
		args[0] = value.FromObj(vm.NewList())
		return true
	})
	vm.definePrimitive(vm.core.List, "add(_)", func(f *value.Fiber, args []value.Value) bool {
		l := args[0].AsObj().(*value.List)
		l.Add(args[1])
		args[0] = args[1]
		return true
	})
	vm.definePrimitive(vm.core.List, "count", func(f *value.Fiber, args []value.Value) bool {
		l := args[0].AsObj().(*value.List)
		args[0] = value.Num(float64(l.Count()))
		return true
	})

	vm.definePrimitive(vm.core.Map.Class, "new()", func(f *value.Fiber, args []value.Value) bool {
		args[0] = value.FromObj(vm.NewMap())
		return true
	})
	vm.definePrimitive(vm.core.Map, "count", func(f *value.Fiber, args []value.Value) bool {
		m := args[0].AsObj().(*value.Map)
		args[0] = value.Num(float64(m.Count()))
		return true
	})

	vm.definePrimitive(vm.core.Num, "toString", func(f *value.Fiber, args []value.Value) bool {
		args[0] = value.FromObj(vm.NewString(formatNum(args[0].AsNum())))
		return true
	})
	vm.definePrimitive(vm.core.Num, "%(_)", func(f *value.Fiber, args []value.Value) bool {
		args[0] = value.Num(math.Mod(args[0].AsNum(), args[1].AsNum()))
		return true
	})

	vm.definePrimitive(vm.core.Fn.Class, "new(_)", func(f *value.Fiber, args []value.Value) bool {
		// A block literal already compiles straight to a Closure value
		// (CLOSURE), so `Fn.new { ... }` is an identity constructor over
		// its one argument rather than something that needs to build a
		// new object.
		args[0] = args[1]
		return true
	})

	// call()/call(_)/... bind Fn (and Closure, whose class is also Fn)
	// to the generic MethodFunctionCall dispatch path rather than a
	// closure-backed primitive: dispatch.go already knows how to push a
	// frame for an arbitrary arity against the receiver closure, so the
	// method table only needs an entry that says "this signature means
	// invoke the receiver" (§4.E). Eight call-sites comfortably covers
	// every block literal ember's own compiler emits.
	for arity := 0; arity <= 8; arity++ {
		sig := "call(" + strings.TrimSuffix(strings.Repeat("_,", arity), ",") + ")"
		if arity == 0 {
			sig = "call()"
		}
		vm.defineFunctionCall(vm.core.Fn, sig)
	}

	vm.symFiberNew = vm.methodSymbol("new(_)")
	vm.symFiberCall = vm.methodSymbol("call()")
	vm.symFiberCall1 = vm.methodSymbol("call(_)")
	vm.symFiberTry = vm.methodSymbol("try()")
	vm.symFiberAbort = vm.methodSymbol("abort(_)")
}

// defineFunctionCall binds signature on class to the generic
// MethodFunctionCall dispatch kind (§4.E): the runtime treats the
// receiver itself as the thing to invoke rather than looking up a
// separate method body.
func (vm *VM) defineFunctionCall(class *value.Class, signature string) {
	sym := vm.methodSymbol(signature)
	class.BindMethod(sym, value.Method{Kind: value.MethodFunctionCall})
}

// formatNum renders n the way System.write and string interpolation show
// a number: shortest round-tripping decimal, no trailing ".0" for whole
// values (strconv's -1 precision already drops it).
func formatNum(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// displayString renders any value for System.write without requiring the
// caller to call toString first -- Strings pass through, everything else
// formats the way its own toString getter would.
func (vm *VM) displayString(v value.Value) string {
	switch {
	case v.Is(value.ObjString):
		return v.AsObj().(*value.String).Bytes
	case v.IsNum():
		return formatNum(v.AsNum())
	case v.IsBool():
		if v.AsBool() {
			return "true"
		}
		return "false"
	case v.IsNull():
		return "null"
	default:
		return vm.describeClass(v)
	}
}

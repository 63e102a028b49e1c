package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/value"
)

// execClass implements CLASS A B C: R[A] holds the superclass (or Null
// for an implicit Object superclass) on entry and the freshly built
// class on exit; B is a constant-pool index of the class name, C is the
// declared field count.
func (vm *VM) execClass(regs []value.Value, fn *value.Fn, instr bytecode.Instruction) string {
	a, nameConst, numFields := instr.A(), instr.B(), instr.C()
	name := fn.Constants[nameConst].AsObj().(*value.String).Bytes

	super := vm.core.Object
	if regs[a].Is(value.ObjClass) {
		super = regs[a].AsObj().(*value.Class)
	}
	if err := validateSuperclass(name, value.FromObj(super), vm.core); err != nil {
		return err.Error()
	}

	cls := vm.NewClass(name, numFields)
	if err := bindSuperclass(cls, super); err != nil {
		return err.Error()
	}
	if err := bindSuperclass(cls.Class, super.Class); err != nil {
		return err.Error()
	}
	regs[a] = value.FromObj(cls)
	return ""
}

// execMethod implements METHOD A B C: A's top bit is the isStatic flag
// (splitFlag), A's low bits name the register holding the class being
// defined, B is a constant-pool index of the method signature, and C is
// the register holding either a Closure (a BLOCK method) or Null (a
// foreign method the host must supply via Config.BindForeignMethod).
func (vm *VM) execMethod(fn *value.Fn, regs []value.Value, instr bytecode.Instruction) string {
	aRaw, sigConst, closureReg := instr.A(), instr.B(), instr.C()
	a, isStatic := splitFlag(aRaw)
	cls := regs[a].AsObj().(*value.Class)
	signature := fn.Constants[sigConst].AsObj().(*value.String).Bytes
	symbol := vm.methodSymbol(signature)

	target := cls
	if isStatic {
		target = cls.Class
	}

	if regs[closureReg].IsNull() {
		if vm.config.BindForeignMethod != nil {
			if ff := vm.config.BindForeignMethod(fn.Module.Name, cls.Name, isStatic, signature); ff != nil {
				target.BindMethod(symbol, value.Method{Kind: value.MethodForeign, Foreign: ff})
				return ""
			}
		}
		return fmt.Sprintf("could not find foreign method %q for class %q", signature, cls.Name)
	}

	cl := regs[closureReg].AsObj().(*value.Closure)
	target.BindMethod(symbol, value.Method{Kind: value.MethodBlock, Closure: cl})
	return ""
}

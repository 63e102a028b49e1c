package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/value"
)

// methodSymbol interns signature into the process-wide table, returning
// its small integer. Repeated lookups of the same signature always
// return the same symbol, so `table[symbol]` dispatch never needs a
// string compare at call time.
// MethodSymbol exposes methodSymbol to the compiler, which needs to
// intern a CALLK instruction's signature into the same table the runtime
// looks symbols up in at compile time rather than at load time.
func (vm *VM) MethodSymbol(signature string) int {
	return vm.methodSymbol(signature)
}

func (vm *VM) methodSymbol(signature string) int {
	if sym, ok := vm.methodSymbols[signature]; ok {
		return sym
	}
	sym := len(vm.methodNames)
	vm.methodNames = append(vm.methodNames, signature)
	vm.methodSymbols[signature] = sym
	return sym
}

// reserveSymbols interns the two reserved foreign-binding signatures
// first, so every class's method table has room for them even when the
// class declares neither -- the lookup is then a single index compare
// rather than a presence check (§4.B).
func (vm *VM) reserveSymbols() {
	vm.symAllocate = vm.methodSymbol("<allocate>")
	vm.symFinalize = vm.methodSymbol("<finalize>")
}

// validateSuperclass reports the diagnostic ember's ancestor raises when a
// class declaration names an invalid superclass: not a class at all, the
// sealed Class/Fiber/Fn/built-in value classes, or a foreign class. The
// 255-field ceiling (§3's invariant) is checked by bindSuperclass.
func validateSuperclass(name string, super value.Value, core *value.CoreClasses) error {
	if !super.Is(value.ObjClass) {
		return fmt.Errorf("class %q cannot inherit from a non-class object", name)
	}
	sup := super.AsObj().(*value.Class)
	switch sup {
	case core.Class, core.Fiber, core.Fn, core.Bool, core.Num, core.Null, core.String, core.List, core.Map, core.Range:
		return fmt.Errorf("class %q cannot inherit from built-in class %q", name, sup.Name)
	}
	if sup.NumFields == -1 {
		return fmt.Errorf("class %q cannot inherit from foreign class %q", name, sup.Name)
	}
	return nil
}

// bindSuperclass wires sub under sup: links the class pointer, folds
// sup's field count into sub's (foreign subs must inherit zero fields),
// and copies every method sup's table binds down into sub so a lookup on
// sub never has to walk the chain for an inherited, non-overridden
// method (§4.B's "copies each inherited method slot" rule).
func bindSuperclass(sub, sup *value.Class) error {
	sub.Super = sup
	if sub.IsForeign() {
		if sup.NumFields > 0 {
			return fmt.Errorf("foreign class %q cannot inherit from class %q with fields", sub.Name, sup.Name)
		}
	} else {
		sub.NumFields += sup.NumFields
		if sub.NumFields > 255 {
			return fmt.Errorf("class %q has too many fields (%d > 255)", sub.Name, sub.NumFields)
		}
	}
	for sym, m := range sup.Methods {
		if m.Kind != value.MethodNone {
			sub.BindMethod(sym, m)
		}
	}
	return nil
}

// newSingleClass builds one class object with no superclass link and no
// metaclass, for the two classes (Object, Class) whose metaclass
// bootstrapping is circular and must be wired by hand in bootstrapCore.
func (vm *VM) newSingleClass(name string, numFields int) *value.Class {
	cls := value.NewClass(name, nil, numFields)
	vm.track(cls, sizeHeader)
	return cls
}

// defineMethod binds a BLOCK method built from closure under signature on
// class, or on its metaclass when isStatic.
func (vm *VM) defineMethod(class *value.Class, signature string, isStatic bool, closure *value.Closure) {
	target := class
	if isStatic {
		target = class.Class
	}
	target.BindMethod(vm.methodSymbol(signature), value.Method{Kind: value.MethodBlock, Closure: closure})
}

func (vm *VM) definePrimitive(class *value.Class, signature string, fn value.Primitive) {
	class.BindMethod(vm.methodSymbol(signature), value.Method{Kind: value.MethodPrimitive, Primitive: fn})
}

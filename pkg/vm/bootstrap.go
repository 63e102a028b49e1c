package vm

import "github.com/kristofer/ember/pkg/value"

// bootstrapCore builds the built-in class table. Object and Class are
// mutually referential (every class, including Class itself, is an
// instance of some metaclass, and every metaclass's superclass chain
// bottoms out at Class, whose own superclass is Object) so they are
// wired by hand before NewClass's general metaclass pattern can be used
// for everything else; this is a direct port of wrenInitializeCore's
// bootstrapping order.
func (vm *VM) bootstrapCore() {
	vm.reserveSymbols()

	objectClass := vm.newSingleClass("Object", 0)
	classClass := vm.newSingleClass("Class", 0)
	_ = bindSuperclass(classClass, objectClass)

	objectMetaclass := vm.newSingleClass("Object metaclass", 0)
	objectClass.Class = objectMetaclass
	objectMetaclass.Class = classClass
	_ = bindSuperclass(objectMetaclass, classClass)
	classClass.Class = classClass

	core := &value.CoreClasses{Object: objectClass, Class: classClass}
	vm.core = core

	core.Null = vm.newBuiltinClass("Null", objectClass)
	core.Bool = vm.newBuiltinClass("Bool", objectClass)
	core.Num = vm.newBuiltinClass("Num", objectClass)
	core.String = vm.newBuiltinClass("String", objectClass)
	core.List = vm.newBuiltinClass("List", objectClass)
	core.Map = vm.newBuiltinClass("Map", objectClass)
	core.Range = vm.newBuiltinClass("Range", objectClass)
	core.Fn = vm.newBuiltinClass("Fn", objectClass)
	core.Fiber = vm.newBuiltinClass("Fiber", objectClass)

	vm.lastModule = vm.NewModule("")
	vm.coreModule = vm.lastModule
	for _, c := range []*value.Class{objectClass, classClass, core.Null, core.Bool, core.Num,
		core.String, core.List, core.Map, core.Range, core.Fn, core.Fiber} {
		vm.coreModule.DefineVariable(c.Name, value.FromObj(c))
	}
}

// newBuiltinClass follows wrenNewClass's general pattern: build a fresh
// metaclass whose superclass is Class, attach it, then bind the class's
// own superclass.
func (vm *VM) newBuiltinClass(name string, super *value.Class) *value.Class {
	cls := vm.NewClass(name, 0)
	_ = bindSuperclass(cls.Class, vm.core.Class)
	_ = bindSuperclass(cls, super)
	return cls
}

// importCoreVariables copies every core-module variable into a freshly
// created module by value, matching the "implicit import" rule in §4.H.
func (vm *VM) importCoreVariables(m *value.Module) {
	if vm.coreModule == nil {
		return // bootstrapping the core module itself
	}
	for i, name := range vm.coreModule.VariableNames {
		m.DefineVariable(name, vm.coreModule.Variables[i])
	}
}

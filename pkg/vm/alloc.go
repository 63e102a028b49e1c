package vm

import "github.com/kristofer/ember/pkg/value"

// track links a freshly built object onto the allocation list and charges
// its estimated size against bytesAllocated, triggering a collection if
// the new total crosses nextGC. This is the one chokepoint every
// constructor in this file routes through, mirroring wrenReallocate's
// role as the sole place the GC can be provoked.
func (vm *VM) track(o value.Obj, size int) {
	h := o.Header()
	h.AllNext = vm.allocHead
	vm.allocHead = o

	vm.bytesAllocated += size
	if vm.bytesAllocated > vm.nextGC {
		vm.collectGarbage()
	}
}

// pushRoot keeps o alive across any allocation between its construction
// and the point it is stored into a GC-visible root (a register, a
// field, a module variable). Every allocator below that can itself
// allocate again (NewClass is the one here that does) must bracket the
// risky section with pushRoot/popRoot.
func (vm *VM) pushRoot(o value.Obj) {
	if vm.tempRootTop >= len(vm.tempRoots) {
		panic("vm: temp root stack overflow")
	}
	vm.tempRoots[vm.tempRootTop] = o
	vm.tempRootTop++
}

func (vm *VM) popRoot() {
	vm.tempRootTop--
	vm.tempRoots[vm.tempRootTop] = nil
}

const (
	sizeHeader  = 32 // rough header + Go interface overhead, not load-bearing for correctness
	sizeValue   = 24
)

func (vm *VM) NewString(s string) *value.String {
	o := value.NewString(s, vm.core.String)
	vm.track(o, sizeHeader+len(s))
	return o
}

func (vm *VM) NewList() *value.List {
	o := value.NewList(vm.core.List)
	vm.track(o, sizeHeader)
	return o
}

func (vm *VM) NewMap() *value.Map {
	o := value.NewMap(vm.core.Map)
	vm.track(o, sizeHeader)
	return o
}

func (vm *VM) NewRange(from, to float64, inclusive bool) *value.Range {
	o := value.NewRange(from, to, inclusive, vm.core.Range)
	vm.track(o, sizeHeader)
	return o
}

// NewClass builds both a class and its metaclass (whose own superclass is
// the built-in Class class), attaching the metaclass before the caller
// binds the class's own superclass -- matching wrenNewClass's ordering so
// bindSuperclass never observes a class with a nil metaclass.
func (vm *VM) NewClass(name string, numFields int) *value.Class {
	meta := value.NewClass(name+" metaclass", vm.core.Class, 0)
	vm.track(meta, sizeHeader)
	vm.pushRoot(meta)

	cls := value.NewClass(name, nil, numFields)
	cls.Class = meta
	vm.track(cls, sizeHeader)

	vm.popRoot()
	return cls
}

func (vm *VM) NewInstance(class *value.Class) *value.Instance {
	o := value.NewInstance(class)
	vm.track(o, sizeHeader+len(o.Fields)*sizeValue)
	return o
}

func (vm *VM) NewForeign(class *value.Class, data interface{}) *value.Foreign {
	o := value.NewForeign(class, data)
	vm.track(o, sizeHeader)
	return o
}

func (vm *VM) NewFn(module *value.Module) *value.Fn {
	o := value.NewFn(module, vm.core.Fn)
	vm.track(o, sizeHeader)
	return o
}

func (vm *VM) NewClosure(fn *value.Fn) *value.Closure {
	o := value.NewClosure(fn, vm.core.Fn)
	vm.track(o, sizeHeader+fn.NumUpvalues*8)
	return o
}

func (vm *VM) NewUpvalue(slot *value.Value, index int) *value.Upvalue {
	o := value.NewUpvalue(slot, index)
	vm.track(o, sizeHeader)
	return o
}

func (vm *VM) NewModule(name string) *value.Module {
	m := value.NewModule(name)
	vm.track(m, sizeHeader)
	if name != "" {
		vm.modules[name] = m
		vm.moduleOrder = append(vm.moduleOrder, name)
		vm.importCoreVariables(m)
	}
	return m
}

// NewFiber allocates a fiber with an initial stack and frame array sized
// the way the teacher's INITIAL_CALL_FRAMES/stack-growth constants are:
// small, and grown geometrically on demand (see ensureStackCapacity).
func (vm *VM) NewFiber(closure *value.Closure) *value.Fiber {
	f := value.NewFiber(vm.core.Fiber)
	vm.track(f, sizeHeader)
	if closure != nil {
		f.Stack = make([]value.Value, closure.Fn.MaxSlots)
		f.Frames = append(f.Frames, value.CallFrame{Closure: closure, StackStart: 0, ReturnReg: -1})
	}
	return f
}

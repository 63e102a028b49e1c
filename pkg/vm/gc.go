package vm

import (
	"reflect"

	"github.com/dustin/go-humanize"

	"github.com/kristofer/ember/pkg/value"
)

// collectGarbage runs one full tri-color mark-sweep cycle: gray every
// root, blacken the gray stack to exhaustion, then sweep the allocation
// list. bytesAllocated is rebuilt from scratch during blackening (each
// blackened object re-adds its own live size) so the allocator learns
// total live bytes without the sweep phase needing to know the size of
// anything it frees (§4.D).
func (vm *VM) collectGarbage() {
	gcLog := vm.log.Sub("gc")
	before := vm.bytesAllocated
	vm.bytesAllocated = 0
	vm.grayStack = vm.grayStack[:0]

	vm.markRoots()
	vm.blackenAll()
	vm.sweep()

	vm.nextGC = vm.bytesAllocated * (100 + vm.config.HeapGrowthPercent) / 100
	if vm.nextGC < vm.config.MinHeapSize {
		vm.nextGC = vm.config.MinHeapSize
	}
	gcLog.Debug().
		Str("before", humanize.Bytes(uint64(before))).
		Str("after", humanize.Bytes(uint64(vm.bytesAllocated))).
		Str("nextGC", humanize.Bytes(uint64(vm.nextGC))).
		Msg("collected")
}

func (vm *VM) markRoots() {
	for _, name := range vm.moduleOrder {
		vm.grayObj(vm.modules[name])
	}
	vm.grayObj(vm.coreModule)

	for i := 0; i < vm.tempRootTop; i++ {
		vm.grayObj(vm.tempRoots[i])
	}

	for h := vm.handles; h != nil; h = h.next {
		vm.grayValue(h.value)
	}

	vm.grayObj(vm.fiber)

	if vm.compiler != nil {
		vm.compiler.MarkCompiler(vm)
	}
}

// grayValue is grayObj lifted to a Value: primitives carry no reference
// to track.
func (vm *VM) grayValue(v value.Value) {
	if v.IsObj() {
		vm.grayObj(v.AsObj())
	}
}

// grayObj marks obj live and pushes it onto the worklist for blackening,
// unless it's already marked (cycles are broken here, not in blacken).
//
// Fields like Class.Super, ObjHeader.Class, and Fiber.Caller are typed
// nil pointers (*value.Class, *value.Fiber, ...) rather than a nil
// value.Obj interface when absent, so a plain `obj == nil` check would
// miss them and panic dereferencing a nil receiver in Header(). The
// reflect check catches that typed-nil case once, here, rather than at
// every call site.
func (vm *VM) grayObj(obj value.Obj) {
	if obj == nil {
		return
	}
	if rv := reflect.ValueOf(obj); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return
	}
	h := obj.Header()
	if h.Marked {
		return
	}
	h.Marked = true
	vm.grayStack = append(vm.grayStack, obj)
}

func (vm *VM) blackenAll() {
	for len(vm.grayStack) > 0 {
		n := len(vm.grayStack) - 1
		obj := vm.grayStack[n]
		vm.grayStack = vm.grayStack[:n]
		vm.blacken(obj)
	}
}

// blacken grays every reference obj holds and adds obj's own estimated
// live size back into bytesAllocated.
func (vm *VM) blacken(obj value.Obj) {
	h := obj.Header()
	vm.grayObj(h.Class)
	vm.bytesAllocated += sizeHeader

	switch o := obj.(type) {
	case *value.String:
		vm.bytesAllocated += len(o.Bytes)
	case *value.List:
		for _, e := range o.Elems {
			vm.grayValue(e)
		}
		vm.bytesAllocated += len(o.Elems) * sizeValue
	case *value.Map:
		for _, e := range o.RawEntries() {
			vm.grayValue(e.Key)
			vm.grayValue(e.Val)
		}
		vm.bytesAllocated += o.Capacity() * sizeValue * 2
	case *value.Range:
		// no references
	case *value.Class:
		vm.grayObj(o.Super)
		for _, m := range o.Methods {
			if m.Kind == value.MethodBlock {
				vm.grayObj(m.Closure)
			}
		}
		vm.grayValue(o.Attributes)
	case *value.Instance:
		for _, f := range o.Fields {
			vm.grayValue(f)
		}
		vm.bytesAllocated += len(o.Fields) * sizeValue
	case *value.Foreign:
		if marker, ok := o.Data.(interface{ MarkGC(vm *VM) }); ok {
			marker.MarkGC(vm)
		}
	case *value.Fn:
		vm.grayObj(o.Module)
		for _, c := range o.Constants {
			vm.grayValue(c)
		}
	case *value.Closure:
		vm.grayObj(o.Fn)
		for _, uv := range o.Upvalues {
			vm.grayObj(uv)
		}
	case *value.Upvalue:
		if o.IsOpen() {
			vm.grayValue(*o.Value)
		} else {
			vm.grayValue(o.Closed)
		}
	case *value.Fiber:
		vm.blackenFiber(o)
	case *value.Module:
		for _, v := range o.Variables {
			vm.grayValue(v)
		}
		vm.grayValue(o.Attributes)
	}
}

func (vm *VM) blackenFiber(f *value.Fiber) {
	for _, v := range f.Stack {
		vm.grayValue(v)
	}
	for _, fr := range f.Frames {
		vm.grayObj(fr.Closure)
	}
	for uv := f.OpenUpvalues; uv != nil; uv = uv.Next {
		vm.grayObj(uv)
	}
	vm.grayObj(f.Caller)
	vm.grayValue(f.Error)
	vm.bytesAllocated += len(f.Stack) * sizeValue
}

// sweep walks the intrusive allocation list, unlinking and dropping every
// object that wasn't marked this cycle, and clearing the mark bit on
// everything that survives so the next cycle starts clean. Foreign
// objects are finalized before being dropped.
func (vm *VM) sweep() {
	var prev value.Obj
	cur := vm.allocHead
	for cur != nil {
		h := cur.Header()
		next := h.AllNext
		if !h.Marked {
			if f, ok := cur.(*value.Foreign); ok {
				vm.finalizeForeign(f)
			}
			if prev == nil {
				vm.allocHead = next
			} else {
				prev.Header().AllNext = next
			}
		} else {
			h.Marked = false
			prev = cur
		}
		cur = next
	}
}

func (vm *VM) finalizeForeign(f *value.Foreign) {
	if f.Class == nil {
		return
	}
	if m, ok := f.Class.MethodAt(vm.symFinalize); ok && m.Kind == value.MethodForeign {
		// Finalizers run outside any fiber; there is no slot window.
		m.Foreign(nil)
	}
}

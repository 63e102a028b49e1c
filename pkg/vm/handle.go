package vm

import "github.com/kristofer/ember/pkg/value"

// Handle is a stable reference to a Value that survives garbage
// collection, for host code holding onto a result across calls into the
// VM. The handle list is itself a GC root (§4.J); releasing a handle
// unlinks it immediately, no finalizer involved.
type Handle struct {
	value      value.Value
	prev, next *Handle
	vm         *VM
}

// Value returns the Value this handle pins.
func (h *Handle) Value() value.Value { return h.value }

// MakeHandle prepends a new handle onto vm.handles.
func (vm *VM) MakeHandle(v value.Value) *Handle {
	h := &Handle{value: v, vm: vm}
	h.next = vm.handles
	if vm.handles != nil {
		vm.handles.prev = h
	}
	vm.handles = h
	return h
}

// ReleaseHandle unlinks h from the handle list. Calling it twice, or on a
// handle whose VM has already dropped it, is a no-op.
func (vm *VM) ReleaseHandle(h *Handle) {
	if h == nil || h.vm != vm {
		return
	}
	if h.prev != nil {
		h.prev.next = h.next
	} else if vm.handles == h {
		vm.handles = h.next
	}
	if h.next != nil {
		h.next.prev = h.prev
	}
	h.prev, h.next, h.vm = nil, nil, nil
}

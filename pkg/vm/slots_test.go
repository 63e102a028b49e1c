package vm

import (
	"testing"

	"github.com/kristofer/ember/pkg/value"
)

func TestSplitFlagRoundTrip(t *testing.T) {
	cases := []struct {
		rest int
		flag bool
	}{
		{0, false},
		{0, true},
		{42, false},
		{42, true},
		{0x7f, true},
	}
	for _, c := range cases {
		a := c.rest
		if c.flag {
			a |= 0x80
		}
		gotRest, gotFlag := splitFlag(a)
		if gotRest != c.rest || gotFlag != c.flag {
			t.Errorf("splitFlag(%#x) = (%d, %v), want (%d, %v)", a, gotRest, gotFlag, c.rest, c.flag)
		}
	}
}

// TestEnsureStackCapacityRelocatesApiStack forces a fiber's backing array
// to grow while a slot window is active and checks the window still
// points at the right logical slots afterward.
func TestEnsureStackCapacityRelocatesApiStack(t *testing.T) {
	vm := New(Config{})
	f := vm.NewFiber(nil)
	vm.fiber = f
	f.APIStackStart = 0
	f.Stack = make([]value.Value, 2)
	f.Stack[0] = value.Num(1)
	f.Stack[1] = value.Num(2)
	vm.apiStack = f.Stack[0:2]

	vm.ensureStackCapacity(f, 40)

	if len(vm.apiStack) != 2 {
		t.Fatalf("apiStack width changed: got %d, want 2", len(vm.apiStack))
	}
	if vm.apiStack[0].AsNum() != 1 || vm.apiStack[1].AsNum() != 2 {
		t.Fatalf("apiStack contents lost across relocation: %v", vm.apiStack)
	}
	if &vm.apiStack[0] != &f.Stack[0] {
		t.Fatal("apiStack does not alias the new backing array")
	}
}

// TestEnsureStackCapacityRelocatesOpenUpvalues checks an open upvalue's
// Value pointer is repointed into the regrown stack rather than left
// dangling into the old, discarded array.
func TestEnsureStackCapacityRelocatesOpenUpvalues(t *testing.T) {
	vm := New(Config{})
	f := vm.NewFiber(nil)
	f.Stack = make([]value.Value, 2)
	f.Stack[1] = value.Num(99)
	uv := vm.captureUpvalue(f, 1)

	vm.ensureStackCapacity(f, 64)

	if uv.Value != &f.Stack[1] {
		t.Fatal("open upvalue still points into the old backing array")
	}
	if uv.Value.AsNum() != 99 {
		t.Fatalf("upvalue value corrupted across relocation: got %v", *uv.Value)
	}
}

func newSlotTestVM() (*VM, *value.Class) {
	vm := New(Config{})
	cls := vm.newBuiltinClass("SlotTarget", vm.core.Object)
	return vm, cls
}

// TestCallHandleRoundTrip drives MakeCallHandle/EnsureSlots/SetSlot/Call/
// GetSlot against a hand-bound foreign method, without going through the
// compiler at all.
func TestCallHandleRoundTrip(t *testing.T) {
	vm, cls := newSlotTestVM()
	sym := vm.methodSymbol("double(_)")
	cls.BindMethod(sym, value.Method{
		Kind: value.MethodForeign,
		Foreign: func(api value.Slots) {
			if api.SlotCount() < 2 {
				t.Fatal("expected at least 2 slots in the foreign call window")
			}
			api.SetSlot(0, value.Num(api.GetSlot(1).AsNum()*2))
		},
	})

	handle := vm.MakeCallHandle("double(_)")
	defer vm.ReleaseCallHandle(handle)

	vm.EnsureSlots(2)
	vm.SetSlot(0, value.FromObj(vm.NewInstance(cls)))
	vm.SetSlot(1, value.Num(21))

	if err := vm.Call(handle); err != nil {
		t.Fatalf("Call returned an error: %v", err)
	}
	if got := vm.GetSlot(0).AsNum(); got != 42 {
		t.Fatalf("GetSlot(0) = %v, want 42", got)
	}
}

// TestForeignDispatchArityMismatch checks dispatch's MethodForeign case
// rejects a call whose argument count disagrees with the signature's own
// declared arity, rather than letting the ForeignFn read past the slot
// window it was actually given.
func TestForeignDispatchArityMismatch(t *testing.T) {
	vm, cls := newSlotTestVM()
	sym := vm.methodSymbol("oneArg(_)")
	called := false
	cls.BindMethod(sym, value.Method{
		Kind:    value.MethodForeign,
		Foreign: func(value.Slots) { called = true },
	})

	f := vm.NewFiber(nil)
	f.Stack = []value.Value{value.FromObj(vm.NewInstance(cls)), value.Num(1), value.Num(2)}

	// Three register slots (receiver + 2 args) sent against a one-argument
	// signature.
	if errMsg := vm.dispatch(f, 0, 3, sym, nil); errMsg == "" {
		t.Fatal("expected an arity-mismatch error")
	}
	if called {
		t.Fatal("the foreign method must not run when arity disagrees")
	}
}

// TestAbortFiberPropagatesThroughCall checks that a ForeignFn calling
// AbortFiber turns into an error from Call rather than being silently
// swallowed once the call-handle's stub RETURN instruction runs.
func TestAbortFiberPropagatesThroughCall(t *testing.T) {
	vm, cls := newSlotTestVM()
	sym := vm.methodSymbol("explode(_)")
	cls.BindMethod(sym, value.Method{
		Kind: value.MethodForeign,
		Foreign: func(api value.Slots) {
			api.AbortFiber(1)
		},
	})

	handle := vm.MakeCallHandle("explode(_)")
	defer vm.ReleaseCallHandle(handle)

	vm.EnsureSlots(2)
	vm.SetSlot(0, value.FromObj(vm.NewInstance(cls)))
	vm.SetSlot(1, value.FromObj(vm.NewString("boom")))

	err := vm.Call(handle)
	if err == nil {
		t.Fatal("expected Call to report the abort as an error")
	}
	if err.Error() != "boom" {
		t.Fatalf("error = %q, want %q", err.Error(), "boom")
	}
}

func TestSignatureArityFeedsMakeCallHandle(t *testing.T) {
	vm := New(Config{})
	h := vm.MakeCallHandle("call(_,_,_)")
	if h.numArgs != 4 {
		t.Fatalf("numArgs = %d, want 4 (receiver + 3 args)", h.numArgs)
	}
}

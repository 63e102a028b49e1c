package bytecode

import "testing"

func TestABCRoundTrip(t *testing.T) {
	i := ABC(OpCallK, 12, 200, 300)
	if i.Op() != OpCallK {
		t.Fatalf("op = %v, want CALLK", i.Op())
	}
	if i.A() != 12 || i.B() != 200 || i.C() != 300 {
		t.Fatalf("got a=%d b=%d c=%d", i.A(), i.B(), i.C())
	}
}

func TestABxRoundTrip(t *testing.T) {
	i := ABx(OpLoadK, 7, 1000)
	if i.Op() != OpLoadK || i.A() != 7 || i.Bx() != 1000 {
		t.Fatalf("got op=%v a=%d bx=%d", i.Op(), i.A(), i.Bx())
	}
}

func TestAsBxRoundTripNegative(t *testing.T) {
	i := AsBx(OpJump, 0, -5)
	if i.SBx() != -5 {
		t.Fatalf("sbx = %d, want -5", i.SBx())
	}
}

func TestAsBxRoundTripPositive(t *testing.T) {
	i := AsBx(OpJump, 0, 42)
	if i.SBx() != 42 {
		t.Fatalf("sbx = %d, want 42", i.SBx())
	}
}

func TestSJxRoundTrip(t *testing.T) {
	for _, sj := range []int{0, 17, -17, 1000, -1000} {
		i := SJx(OpJump, sj)
		if i.Op() != OpJump {
			t.Fatalf("op = %v, want JUMP", i.Op())
		}
		if got := i.SJ(); got != sj {
			t.Fatalf("sj = %d, want %d", got, sj)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	if OpCallSuperK.String() != "CALLSUPERK" {
		t.Fatalf("got %q", OpCallSuperK.String())
	}
	if Opcode(255).String() != "UNKNOWN" {
		t.Fatalf("out-of-range opcode should stringify as UNKNOWN")
	}
}

package vm

import (
	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/value"
)

// operatorSignature maps an arithmetic/comparison opcode to the overload
// signature the interpreter tries before falling back to built-in
// behavior (§4.G). swapped selects the ">(_)"/">=(_)" signatures over
// "<(_)"/"<=(_)"  -- ember's wire format gives the inverted comparisons
// their own overloadable slot rather than compiling them as pure sugar.
func operatorSignature(op bytecode.Opcode, swapped bool) string {
	switch op {
	case bytecode.OpAdd, bytecode.OpAddK:
		return "+(_)"
	case bytecode.OpSub, bytecode.OpSubK:
		return "-(_)"
	case bytecode.OpMul, bytecode.OpMulK:
		return "*(_)"
	case bytecode.OpDiv, bytecode.OpDivK:
		return "/(_)"
	case bytecode.OpLt, bytecode.OpLtK:
		if swapped {
			return ">(_)"
		}
		return "<(_)"
	case bytecode.OpLte, bytecode.OpLteK:
		if swapped {
			return ">=(_)"
		}
		return "<=(_)"
	default:
		return ""
	}
}

// findOverload reports whether left's class binds a BLOCK method for
// signature -- primitives on the built-in numeric/string/collection
// classes are handled inline below instead, since the core library's
// own method bodies are out of scope (§1).
func (vm *VM) findOverload(left value.Value, signature string) (*value.Closure, bool) {
	class := vm.ClassOf(left)
	if class == nil {
		return nil, false
	}
	sym, ok := vm.methodSymbols[signature]
	if !ok {
		return nil, false
	}
	m, found := class.MethodAt(sym)
	if !found || m.Kind != value.MethodBlock {
		return nil, false
	}
	return m.Closure, true
}

// callOverloadSync pushes a frame for closure against [receiver, arg]
// and runs the interpreter to completion on f just for that call,
// returning its result. This is a simplification of §4.G's "reserve
// stackTop, push frame, continue the same dispatch loop" scheme: rather
// than threading the pending opcode's destination register through the
// main loop's hot-path state, an overload call recurses into a nested
// run() that returns once its one new frame pops. It is not re-entrant
// with fiber switches initiated from inside the overload (a class
// defining `+` that also yields a fiber mid-call is not supported).
func (vm *VM) callOverloadSync(f *value.Fiber, closure *value.Closure, receiver, arg value.Value) (value.Value, error) {
	top := len(f.Stack)
	vm.ensureStackCapacity(f, top+2)
	f.Stack[top] = receiver
	f.Stack[top+1] = arg
	stopDepth := len(f.Frames)
	vm.pushFrame(f, closure, top, -1)

	if err := vm.runUntil(f, stopDepth); err != nil {
		return value.Null, err
	}
	return f.Stack[top], nil
}

func (vm *VM) execArith(f *value.Fiber, frame *value.CallFrame, regs []value.Value, fn *value.Fn, instr bytecode.Instruction) string {
	op := instr.Op()
	a, b := instr.A(), instr.B()
	left := regs[b]

	isK := op == bytecode.OpAddK || op == bytecode.OpSubK || op == bytecode.OpMulK || op == bytecode.OpDivK
	c := instr.C()
	var right value.Value
	if isK {
		right = fn.Constants[c]
	} else {
		right = regs[c]
	}

	if sig := operatorSignature(canonicalArithOp(op), false); left.Is(value.ObjInstance) || left.Is(value.ObjClass) {
		if closure, ok := vm.findOverload(left, sig); ok {
			result, err := vm.callOverloadSync(f, closure, left, right)
			if err != nil {
				return err.Error()
			}
			// callOverloadSync grows f.Stack, so regs may be stale.
			f.Stack[frame.StackStart+a] = result
			return ""
		}
	}

	switch canonicalArithOp(op) {
	case bytecode.OpAdd:
		return vm.execAdd(regs, a, left, right)
	case bytecode.OpSub:
		if !left.IsNum() || !right.IsNum() {
			return "operands of '-' must be numbers"
		}
		regs[a] = value.Num(left.AsNum() - right.AsNum())
	case bytecode.OpMul:
		return vm.execMul(regs, a, left, right)
	case bytecode.OpDiv:
		if !left.IsNum() || !right.IsNum() {
			return "operands of '/' must be numbers"
		}
		regs[a] = value.Num(left.AsNum() / right.AsNum())
	}
	return ""
}

func canonicalArithOp(op bytecode.Opcode) bytecode.Opcode {
	switch op {
	case bytecode.OpAddK:
		return bytecode.OpAdd
	case bytecode.OpSubK:
		return bytecode.OpSub
	case bytecode.OpMulK:
		return bytecode.OpMul
	case bytecode.OpDivK:
		return bytecode.OpDiv
	case bytecode.OpLtK:
		return bytecode.OpLt
	case bytecode.OpLteK:
		return bytecode.OpLte
	case bytecode.OpEqK:
		return bytecode.OpEq
	default:
		return op
	}
}

func (vm *VM) execAdd(regs []value.Value, a int, left, right value.Value) string {
	switch {
	case left.IsNum() && right.IsNum():
		regs[a] = value.Num(left.AsNum() + right.AsNum())
	case left.Is(value.ObjString) && right.Is(value.ObjString):
		ls, rs := left.AsObj().(*value.String), right.AsObj().(*value.String)
		regs[a] = value.FromObj(vm.NewString(ls.Bytes + rs.Bytes))
	case left.Is(value.ObjList) && right.Is(value.ObjList):
		ll, rl := left.AsObj().(*value.List), right.AsObj().(*value.List)
		out := vm.NewList()
		out.Elems = append(append([]value.Value{}, ll.Elems...), rl.Elems...)
		regs[a] = value.FromObj(out)
	default:
		return "operands of '+' must both be numbers, strings, or lists"
	}
	return ""
}

func (vm *VM) execMul(regs []value.Value, a int, left, right value.Value) string {
	switch {
	case left.IsNum() && right.IsNum():
		regs[a] = value.Num(left.AsNum() * right.AsNum())
	case left.Is(value.ObjString) && right.IsNum():
		return vm.repeatString(regs, a, left.AsObj().(*value.String), right.AsNum())
	case left.Is(value.ObjList) && right.IsNum():
		return vm.repeatList(regs, a, left.AsObj().(*value.List), right.AsNum())
	default:
		return "operands of '*' must be two numbers, or a string/list and a non-negative integer"
	}
	return ""
}

func (vm *VM) repeatString(regs []value.Value, a int, s *value.String, count float64) string {
	n := int(count)
	if float64(n) != count || n < 0 {
		return "'*' repeat count must be a non-negative integer"
	}
	out := ""
	for i := 0; i < n; i++ {
		out += s.Bytes
	}
	regs[a] = value.FromObj(vm.NewString(out))
	return ""
}

func (vm *VM) repeatList(regs []value.Value, a int, l *value.List, count float64) string {
	n := int(count)
	if float64(n) != count || n < 0 {
		return "'*' repeat count must be a non-negative integer"
	}
	out := vm.NewList()
	for i := 0; i < n; i++ {
		out.Elems = append(out.Elems, l.Elems...)
	}
	regs[a] = value.FromObj(out)
	return ""
}

// execCompare implements EQ/LT/LTE and their K variants: it materializes
// both operands, computes the boolean, and skips the next instruction
// (conventionally a JUMP) exactly when that boolean matches the polarity
// bit packed into A, per §4.G's `CMP; JUMP` pattern. A's low bits (the
// "reg" slot packFlag otherwise leaves at 0) double as the swapped flag
// comparisonLevel packs for `>`/`>=`, recovered here via splitFlag to
// resolve the overload against the original left-hand operand rather
// than whichever register the compiler put in B to get the numeric
// fallback's ordering right.
func (vm *VM) execCompare(f *value.Fiber, frame *value.CallFrame, regs []value.Value, fn *value.Fn, instr bytecode.Instruction) string {
	op := canonicalArithOp(instr.Op())
	aRaw, b := instr.A(), instr.B()
	swapped, want := splitFlag(aRaw)

	left := regs[b]
	var right value.Value
	switch instr.Op() {
	case bytecode.OpEqK, bytecode.OpLtK, bytecode.OpLteK:
		right = fn.Constants[instr.C()]
	default:
		right = regs[instr.C()]
	}

	receiver, arg := left, right
	if swapped != 0 {
		receiver, arg = right, left
	}

	if receiver.Is(value.ObjInstance) || receiver.Is(value.ObjClass) {
		var sig string
		if op == bytecode.OpEq {
			if want {
				sig = "==(_)"
			} else {
				sig = "!=(_)"
			}
		} else {
			sig = operatorSignature(op, swapped != 0)
		}
		if closure, ok := vm.findOverload(receiver, sig); ok {
			result, err := vm.callOverloadSync(f, closure, receiver, arg)
			if err != nil {
				return err.Error()
			}
			// "!=(_)" answers the negated question, so its truthiness is
			// flipped back to equality before the polarity test. The call
			// may have regrown f.Frames, so the frame is re-fetched.
			outcome := value.Truthy(result)
			if op == bytecode.OpEq && !want {
				outcome = !outcome
			}
			if outcome == want {
				f.Frames[len(f.Frames)-1].IP++
			}
			return ""
		}
	}

	var result bool
	switch op {
	case bytecode.OpEq:
		result = value.Equals(left, right)
	case bytecode.OpLt:
		if !left.IsNum() || !right.IsNum() {
			return "operands of '<' must be numbers"
		}
		result = left.AsNum() < right.AsNum()
	case bytecode.OpLte:
		if !left.IsNum() || !right.IsNum() {
			return "operands of '<=' must be numbers"
		}
		result = left.AsNum() <= right.AsNum()
	}
	if result == want {
		frame.IP++
	}
	return ""
}

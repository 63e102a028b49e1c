package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/value"
)

// splitFlag pulls the single polarity/inclusive bit a handful of opcodes
// pack into the top bit of their A operand, leaving the low 7 bits as the
// actual register/flag. This is how EQ/LT/LTE encode which skip polarity
// a `CMP; JUMP` pair wants, METHOD encodes isStatic, and RANGE encodes
// inclusive -- one fewer operand slot needed per opcode than giving each
// its own dedicated bit field would cost.
func splitFlag(a int) (rest int, flag bool) {
	return a &^ 0x80, a&0x80 != 0
}

// Interpret compiles source as a fresh module-level Fn, wraps it in a
// non-proto closure, and runs it to completion on a new root fiber.
func (vm *VM) Interpret(moduleName, source string) InterpretResult {
	if vm.compiler == nil {
		vm.config.Error(ErrorCompile, moduleName, 0, "no compiler installed")
		return ResultCompileError
	}
	module := vm.modules[moduleName]
	if module == nil {
		module = vm.NewModule(moduleName)
	}
	fn, err := vm.compiler.Compile(vm, module, source, false, true)
	if err != nil {
		vm.config.Error(ErrorCompile, moduleName, 0, err.Error())
		return ResultCompileError
	}

	closure := vm.NewClosure(fn)
	f := vm.NewFiber(closure)
	vm.switchToFiber(f, false)

	if err := vm.run(f); err != nil {
		rtErr := newRuntimeError(err.Error(), vm.lastTrace)
		line := 0
		if len(vm.lastTrace) > 0 {
			line = vm.lastTrace[len(vm.lastTrace)-1].SourceLine
		}
		vm.config.Error(ErrorRuntime, moduleName, line, rtErr.Error())
		return ResultRuntimeError
	}
	return ResultSuccess
}

// fail sets f's error to message, snapshots its call frames as a stack
// trace (for host reporting if nothing catches it), and unwinds the
// caller chain. It returns the fiber the run loop should continue with,
// or nil if the whole chain was exhausted and the caller should report
// failure to the host.
func (vm *VM) fail(f *value.Fiber, message string) *value.Fiber {
	return vm.failValue(f, value.FromObj(vm.NewString(message)))
}

// failValue is fail's generalization to an arbitrary error Value rather
// than always wrapping a Go string -- AbortFiber (§4.I) needs to set
// f.Error to exactly the Value a host handed it, not a stringified
// rendering of it.
func (vm *VM) failValue(f *value.Fiber, errVal value.Value) *value.Fiber {
	f.Error = errVal
	vm.lastTrace = captureStackTrace(f)
	return vm.unwind(f)
}

// captureStackTrace walks f's frames from outermost to innermost,
// recording enough to render a trace: the running function's debug name,
// the source line the faulting instruction maps to, and the raw
// instruction pointer for callers without line info.
func captureStackTrace(f *value.Fiber) []StackFrame {
	frames := make([]StackFrame, 0, len(f.Frames))
	for _, fr := range f.Frames {
		fn := fr.Closure.Fn
		line := 0
		if fr.IP-1 >= 0 && fr.IP-1 < len(fn.Lines) {
			line = fn.Lines[fr.IP-1]
		}
		frames = append(frames, StackFrame{
			Name:       fn.DebugName,
			IP:         fr.IP,
			SourceLine: line,
		})
	}
	return frames
}

// run drives the dispatch loop to completion: f's frame stack is run
// down to empty (a root fiber's base call returning).
func (vm *VM) run(f *value.Fiber) error {
	return vm.runUntil(f, 0)
}

// runUntil drives the dispatch loop until f's own frame stack depth
// drops to stopDepth or below. A plain top-level run uses stopDepth 0;
// a synchronous nested overload call (see callOverloadSync) uses the
// depth f had just before the overload's frame was pushed, so the
// nested loop returns control as soon as that one call completes
// instead of running the rest of the program.
//
// It always operates on the current value of f, which is reassigned
// whenever execution transfers to a different fiber (a normal call/
// return across a Fiber.call boundary, or an error unwinding into a
// `try` fiber) -- which is why a nested call (stopDepth > 0) does not
// support the callee switching fibers out from under it.
func (vm *VM) runUntil(f *value.Fiber, stopDepth int) error {
	for {
		if len(f.Frames) <= stopDepth {
			return nil
		}
		frame := &f.Frames[len(f.Frames)-1]
		fn := frame.Closure.Fn
		stackStart := frame.StackStart
		regs := f.Stack[stackStart:]

		if frame.IP >= len(fn.Code) {
			return fmt.Errorf("instruction pointer ran off the end of %q", fn.DebugName)
		}
		if vm.debugger != nil && !vm.debugger.onStep(f, frame, fn, fn.Code[frame.IP]) {
			return fmt.Errorf("execution aborted by debugger")
		}

		instr := fn.Code[frame.IP]
		frame.IP++

		var stepErr string // set by a case below to signal a recoverable runtime error

		switch instr.Op() {
		case bytecode.OpNoop:
			// nothing in pkg/compiler emits NOOP; nothing to do.

		case bytecode.OpLoadK:
			regs[instr.A()] = fn.Constants[instr.Bx()]

		case bytecode.OpLoadNull:
			regs[instr.A()] = value.Null

		case bytecode.OpLoadBool:
			regs[instr.A()] = value.Bool(instr.B() != 0)

		case bytecode.OpMove:
			regs[instr.A()] = regs[instr.B()]

		case bytecode.OpGetUpval:
			regs[instr.A()] = *frame.Closure.Upvalues[instr.B()].Value

		case bytecode.OpSetUpval:
			*frame.Closure.Upvalues[instr.B()].Value = regs[instr.A()]

		case bytecode.OpGetGlobal:
			regs[instr.A()] = fn.Module.Variables[instr.Bx()]

		case bytecode.OpSetGlobal:
			fn.Module.Variables[instr.Bx()] = regs[instr.A()]

		case bytecode.OpGetField:
			self := regs[0].AsObj().(*value.Instance)
			regs[instr.A()] = self.Fields[instr.B()]

		case bytecode.OpSetField:
			self := regs[0].AsObj().(*value.Instance)
			self.Fields[instr.B()] = regs[instr.A()]

		case bytecode.OpCallK:
			a, numArgsM1, symbol := instr.A(), instr.B(), instr.C()
			stepErr = vm.dispatch(f, stackStart+a, numArgsM1+1, symbol, nil)

		case bytecode.OpCallSuperK:
			a, numArgsM1, symbol := instr.A(), instr.B(), instr.C()
			numArgs := numArgsM1 + 1
			super, _ := regs[a+numArgs].AsObj().(*value.Class)
			stepErr = vm.dispatch(f, stackStart+a, numArgs, symbol, super)

		case bytecode.OpTest:
			cond := value.Truthy(regs[instr.A()])
			want := instr.B() != 0
			if cond == want {
				frame.IP++
			}

		case bytecode.OpJump:
			frame.IP += instr.SJ()

		case bytecode.OpReturn:
			vm.execReturn(f, frame, fn, regs, instr)
			if len(f.Frames) == 0 && f.State == value.FiberDone {
				f = vm.fiber
			}
			continue

		case bytecode.OpClose:
			vm.closeUpvalues(f, stackStart+instr.A())

		case bytecode.OpClosure:
			proto := fn.Constants[instr.Bx()].AsObj().(*value.Fn)
			cl := vm.NewClosure(proto)
			for i, desc := range proto.UpvalueDescs {
				if desc.IsLocal {
					cl.Upvalues[i] = vm.captureUpvalue(f, stackStart+desc.Index)
				} else {
					cl.Upvalues[i] = frame.Closure.Upvalues[desc.Index]
				}
			}
			regs[instr.A()] = value.FromObj(cl)

		case bytecode.OpConstruct:
			a := instr.A()
			class := regs[a].AsObj().(*value.Class)
			regs[a] = value.FromObj(vm.NewInstance(class))

		case bytecode.OpClass:
			stepErr = vm.execClass(regs, fn, instr)

		case bytecode.OpEndClass:
			cls := regs[instr.A()].AsObj().(*value.Class)
			if cls.IsForeign() && vm.config.BindForeignClass != nil {
				alloc, fin := vm.config.BindForeignClass(fn.Module.Name, cls.Name)
				if alloc != nil {
					cls.BindMethod(vm.symAllocate, value.Method{Kind: value.MethodForeign, Foreign: alloc})
				}
				if fin != nil {
					cls.BindMethod(vm.symFinalize, value.Method{Kind: value.MethodForeign, Foreign: fin})
				}
			}

		case bytecode.OpMethod:
			stepErr = vm.execMethod(fn, regs, instr)

		case bytecode.OpImportModule:
			a, nameConst := instr.A(), instr.Bx()
			name := fn.Constants[nameConst].AsObj().(*value.String).Bytes
			cl, err := vm.importModule(fn.Module.Name, name)
			if err != nil {
				stepErr = err.Error()
			} else {
				regs[a] = value.FromObj(cl)
			}

		case bytecode.OpImportVar:
			a, nameConst := instr.A(), instr.Bx()
			name := fn.Constants[nameConst].AsObj().(*value.String).Bytes
			idx := vm.lastModule.VarIndex(name)
			if idx == -1 {
				stepErr = fmt.Sprintf("module %q has no variable %q", vm.lastModule.Name, name)
			} else {
				regs[a] = vm.lastModule.Variables[idx]
			}

		case bytecode.OpEq, bytecode.OpLt, bytecode.OpLte, bytecode.OpEqK, bytecode.OpLtK, bytecode.OpLteK:
			stepErr = vm.execCompare(f, frame, regs, fn, instr)

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
			bytecode.OpAddK, bytecode.OpSubK, bytecode.OpMulK, bytecode.OpDivK:
			stepErr = vm.execArith(f, frame, regs, fn, instr)

		case bytecode.OpNeg:
			v := regs[instr.B()]
			if v.IsNum() {
				regs[instr.A()] = value.Num(-v.AsNum())
			} else {
				stepErr = "cannot negate a non-number"
			}

		case bytecode.OpNot:
			regs[instr.A()] = value.Not(regs[instr.B()])

		case bytecode.OpIterate:
			ok, newIter, err := vm.iterateOverload(f, regs[instr.B()], regs[instr.C()])
			if err != nil {
				stepErr = err.Error()
			} else {
				// an iterate(_) overload call may have regrown f.Stack
				regs = f.Stack[stackStart:]
				regs[instr.C()] = newIter
				regs[instr.A()] = value.Bool(ok)
			}

		case bytecode.OpIteratorValue:
			v, err := vm.iteratorValueOverload(f, regs[instr.B()], regs[instr.C()])
			if err != nil {
				stepErr = err.Error()
			} else {
				// an iteratorValue(_) overload call may have regrown f.Stack
				regs = f.Stack[stackStart:]
				regs[instr.A()] = v
			}

		case bytecode.OpGetSub:
			v, err := vm.getSubscript(regs[instr.B()], regs[instr.C()])
			if err != nil {
				stepErr = err.Error()
			} else {
				regs[instr.A()] = v
			}

		case bytecode.OpSetSub:
			if err := vm.setSubscript(regs[instr.A()], regs[instr.B()], regs[instr.C()]); err != nil {
				stepErr = err.Error()
			}

		case bytecode.OpAddElem:
			l := regs[instr.A()].AsObj().(*value.List)
			l.Add(regs[instr.B()])

		case bytecode.OpAddElemK:
			l := regs[instr.A()].AsObj().(*value.List)
			l.Add(fn.Constants[instr.Bx()])

		case bytecode.OpRange:
			aRaw := instr.A()
			a, inclusive := splitFlag(aRaw)
			from, to := regs[instr.B()], regs[instr.C()]
			if !from.IsNum() || !to.IsNum() {
				stepErr = "range bounds must be numbers"
			} else {
				regs[a] = value.FromObj(vm.NewRange(from.AsNum(), to.AsNum(), inclusive))
			}

		default:
			return fmt.Errorf("unknown opcode %d", instr.Op())
		}

		if stepErr != "" {
			next := vm.fail(f, stepErr)
			if next == nil {
				return fmt.Errorf("%s", stepErr)
			}
			f = next
			continue
		}

		// A primitive invoked by CALLK/CALLSUPERK may have switched the
		// running fiber (Fiber.call/try/abort); pick it up so the next
		// iteration drives whichever fiber is now live.
		if vm.fiber != nil && vm.fiber != f {
			f = vm.fiber
		}

		// An abort (Fiber.abort, or a ForeignFn's AbortFiber) that found no
		// enclosing try unwinds the whole chain and leaves vm.fiber nil;
		// unwind deliberately does not pop f's own Frames, so without this
		// check the loop would fall through to f's next instruction (often
		// a RETURN) and resurrect the dead fiber instead of reporting the
		// failure.
		if vm.fiber == nil {
			return fmt.Errorf("%s", vm.displayString(f.Error))
		}
	}
}

// execReturn implements the RETURN instruction: it either writes the
// result into the caller's designated register, publishes the module on
// import completion, or -- when the current frame is the fiber's last --
// transfers the result across to the fiber that called into this one,
// per §4.G/§4.E.
func (vm *VM) execReturn(f *value.Fiber, frame *value.CallFrame, fn *value.Fn, regs []value.Value, instr bytecode.Instruction) {
	a, hasResult, publish := instr.A(), instr.B(), instr.C()
	result := value.Null
	if hasResult != 0 {
		result = regs[a]
	}
	if publish == 1 {
		vm.lastModule = fn.Module
	}

	stackStart := frame.StackStart
	vm.closeUpvalues(f, stackStart)
	returnReg := frame.ReturnReg
	f.Frames = f.Frames[:len(f.Frames)-1]

	if len(f.Frames) == 0 {
		f.State = value.FiberDone
		if f.Caller == nil {
			f.Stack[0] = result
			vm.fiber = f
			return
		}
		caller := f.Caller
		f.Caller = nil
		caller.Stack[f.LastCallReg] = result
		caller.State = value.FiberRunning
		vm.fiber = caller
		return
	}

	if returnReg != -1 {
		callerFrame := &f.Frames[len(f.Frames)-1]
		f.Stack[callerFrame.StackStart+returnReg] = result
	} else {
		f.Stack[stackStart] = result
	}
}

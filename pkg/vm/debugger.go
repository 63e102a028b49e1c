// Package vm - interactive debugger support.
package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/value"
)

// Debugger provides interactive stepping and inspection of one VM's
// execution, adapted from wren_debug.c's trace hooks to the register
// machine: breakpoints key on (function debug name, instruction pointer)
// rather than a single flat instruction index, since a program has many
// Fns instead of one top-level instruction stream.
type Debugger struct {
	vm          *VM
	breakpoints map[string]map[int]bool
	stepMode    bool
	enabled     bool
}

// NewDebugger creates a debugger for vm. Call vm.AttachDebugger to make
// the dispatch loop consult it before each instruction.
func NewDebugger(vm *VM) *Debugger {
	return &Debugger{vm: vm, breakpoints: make(map[string]map[int]bool)}
}

// AttachDebugger installs d as the VM's tracing hook; runUntil calls
// d.onStep before executing every instruction when set.
func (vm *VM) AttachDebugger(d *Debugger) { vm.debugger = d }

func (d *Debugger) Enable()                { d.enabled = true }
func (d *Debugger) Disable()               { d.enabled = false }
func (d *Debugger) SetStepMode(on bool)    { d.stepMode = on }

func (d *Debugger) AddBreakpoint(fnName string, ip int) {
	if d.breakpoints[fnName] == nil {
		d.breakpoints[fnName] = make(map[int]bool)
	}
	d.breakpoints[fnName][ip] = true
}

func (d *Debugger) RemoveBreakpoint(fnName string, ip int) {
	delete(d.breakpoints[fnName], ip)
}

func (d *Debugger) ClearBreakpoints() {
	d.breakpoints = make(map[string]map[int]bool)
}

func (d *Debugger) shouldPause(fnName string, ip int) bool {
	if !d.enabled {
		return false
	}
	if d.stepMode {
		return true
	}
	return d.breakpoints[fnName][ip]
}

// onStep is runUntil's per-instruction hook. It returns false if the
// user chose to abort execution from the prompt.
func (d *Debugger) onStep(f *value.Fiber, frame *value.CallFrame, fn *value.Fn, instr bytecode.Instruction) bool {
	if !d.shouldPause(fn.DebugName, frame.IP) {
		return true
	}
	return d.interactivePrompt(f, frame, fn, instr)
}

func (d *Debugger) showInstruction(frame *value.CallFrame, fn *value.Fn, instr bytecode.Instruction) {
	fmt.Printf("  %-12s %4d: %s", fn.DebugName, frame.IP, instr.Op())
	d.formatOperands(instr, fn)
	fmt.Println()
}

func (d *Debugger) formatOperands(instr bytecode.Instruction, fn *value.Fn) {
	switch instr.Op() {
	case bytecode.OpLoadK, bytecode.OpGetGlobal, bytecode.OpSetGlobal, bytecode.OpClosure, bytecode.OpAddElemK:
		fmt.Printf(" A=%d Bx=%d", instr.A(), instr.Bx())
		if bx := instr.Bx(); bx >= 0 && bx < len(fn.Constants) {
			fmt.Printf(" (%v)", fn.Constants[bx])
		}
	case bytecode.OpJump:
		fmt.Printf(" sJ=%d", instr.SJ())
	default:
		fmt.Printf(" A=%d B=%d C=%d", instr.A(), instr.B(), instr.C())
	}
}

func (d *Debugger) showRegisters(f *value.Fiber, frame *value.CallFrame) {
	fmt.Println("Registers (this frame):")
	regs := f.Stack[frame.StackStart:]
	for i, v := range regs {
		fmt.Printf("  R%-3d %v\n", i, v)
	}
}

func (d *Debugger) showCallStack(f *value.Fiber) {
	fmt.Println("Call stack (innermost first):")
	for i := len(f.Frames) - 1; i >= 0; i-- {
		fr := f.Frames[i]
		fmt.Printf("  %s [IP=%d stackStart=%d]\n", fr.Closure.Fn.DebugName, fr.IP, fr.StackStart)
	}
}

func (d *Debugger) interactivePrompt(f *value.Fiber, frame *value.CallFrame, fn *value.Fn, instr bytecode.Instruction) bool {
	fmt.Println("\n=== paused ===")
	d.showInstruction(frame, fn, instr)
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("debug> ")
		if !scanner.Scan() {
			return false
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		switch parts[0] {
		case "help", "h", "?":
			d.printHelp()
		case "continue", "c":
			d.SetStepMode(false)
			return true
		case "step", "s", "next", "n":
			d.SetStepMode(true)
			return true
		case "registers", "r":
			d.showRegisters(f, frame)
		case "callstack", "cs":
			d.showCallStack(f)
		case "instruction", "i":
			d.showInstruction(frame, fn, instr)
		case "break", "b":
			if len(parts) < 2 {
				fmt.Println("usage: break <ip>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("invalid instruction number")
				continue
			}
			d.AddBreakpoint(fn.DebugName, ip)
			fmt.Printf("breakpoint set at %s:%d\n", fn.DebugName, ip)
		case "delete", "d":
			if len(parts) < 2 {
				fmt.Println("usage: delete <ip>")
				continue
			}
			ip, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Println("invalid instruction number")
				continue
			}
			d.RemoveBreakpoint(fn.DebugName, ip)
		case "list", "ls":
			d.listInstructions(fn, frame.IP)
		case "quit", "q":
			return false
		default:
			fmt.Printf("unknown command: %s (type 'help')\n", parts[0])
		}
	}
}

func (d *Debugger) printHelp() {
	fmt.Println("  help, h, ?        show this help")
	fmt.Println("  continue, c       resume to next breakpoint")
	fmt.Println("  step, s, next, n  execute one instruction")
	fmt.Println("  registers, r      show this frame's register window")
	fmt.Println("  callstack, cs     show the fiber's call stack")
	fmt.Println("  instruction, i    show the current instruction")
	fmt.Println("  break <ip>, b     set a breakpoint in the current function")
	fmt.Println("  delete <ip>, d    remove a breakpoint in the current function")
	fmt.Println("  list, ls          list the current function's instructions")
	fmt.Println("  quit, q           abort execution")
}

func (d *Debugger) listInstructions(fn *value.Fn, currentIP int) {
	for i, instr := range fn.Code {
		marker := "  "
		if i == currentIP {
			marker = "->"
		} else if d.breakpoints[fn.DebugName][i] {
			marker = "* "
		}
		fmt.Printf("%s %4d: %s", marker, i, instr.Op())
		d.formatOperands(instr, fn)
		fmt.Println()
	}
}

// Package vm implements ember's execution core: a register bytecode
// interpreter, its tracing garbage collector, the class/method dispatch
// machinery, fiber scheduling, the module loader, and the embedding slot
// API.
//
// Unlike the stack machine this package's ancestor interpreted, ember
// instructions address registers within a call frame's stack window
// rather than push/pop a shared operand stack. The architecture otherwise
// keeps the ancestor's shape: a single VM struct owns the allocation
// list, the method-name symbol table, the module registry, and the
// currently running fiber; run/runUntil drive one tight dispatch loop per fiber
// until it suspends, errors, or completes.
package vm

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kristofer/ember/pkg/emberlog"
	"github.com/kristofer/ember/pkg/value"
)

// InterpretResult mirrors the three-way outcome the host's entry point
// reports back.
type InterpretResult int

const (
	ResultSuccess InterpretResult = iota
	ResultCompileError
	ResultRuntimeError
)

// Config collects the host-recognized options from the embedding
// interface: module resolution/loading hooks, foreign binding hooks, the
// output sink, and GC tuning. A zero Config is valid; every field has a
// documented default applied by New.
type Config struct {
	ResolveModule func(importer, name string) string
	LoadModule    func(name string) (source string, ok bool)

	BindForeignMethod func(module, className string, isStatic bool, signature string) value.ForeignFn
	BindForeignClass  func(module, className string) (allocate value.ForeignFn, finalize value.ForeignFn)

	Write func(text string)
	Error func(kind ErrorKind, module string, line int, message string)

	InitialHeapSize  int
	MinHeapSize      int
	HeapGrowthPercent int

	Logger zerolog.Logger
}

// ErrorKind classifies a host error callback invocation.
type ErrorKind int

const (
	ErrorCompile ErrorKind = iota
	ErrorRuntime
	ErrorStackTrace
)

const (
	defaultInitialHeapSize   = 1 << 20 // 1 MiB, matches the teacher's DEFAULT_MIN_HEAP_SIZE order of magnitude
	defaultMinHeapSize       = 1 << 20
	defaultHeapGrowthPercent = 50
	tempRootCapacity         = 8
)

// Compiler is the output contract the external compiler satisfies (§6).
// The VM never inspects source grammar; it only calls Compile and, during
// a collection that happens mid-compile, MarkCompiler.
type Compiler interface {
	Compile(vm *VM, module *value.Module, source string, isExpression, printErrors bool) (*value.Fn, error)
	MarkCompiler(vm *VM)
	IsLocalName(name string) bool
}

// VM is one isolated interpreter instance: its own heap, module registry,
// method-name table, and currently running fiber. Nothing is shared
// between VMs; embedding multiple VMs in one process is safe exactly
// because of that.
type VM struct {
	config Config
	log    emberlog.Logger

	// id distinguishes this VM's log lines from any sibling VM's in a host
	// embedding more than one, e.g. a server running one VM per request.
	id uuid.UUID

	core *value.CoreClasses

	// methodNames interns signature strings ("+(_)", "call(_,_)", ...) to
	// small integers so dispatch is table[symbol], never a string lookup.
	methodNames   []string
	methodSymbols map[string]int
	symAllocate   int
	symFinalize   int

	modules     map[string]*value.Module
	moduleOrder []string // insertion order, for deterministic trace/debug output
	lastModule  *value.Module
	coreModule  *value.Module

	fiber *value.Fiber

	handles *Handle

	// allocHead is the newest entry of the intrusive "every object ever
	// allocated" list the sweep phase walks (the list grows by
	// prepending, matching wrenNewXxx's contract of threading the fresh
	// object onto vm->first before it can be lost to a GC triggered by a
	// later allocation in the same expression).
	allocHead value.Obj

	bytesAllocated int
	nextGC         int

	tempRoots    [tempRootCapacity]value.Obj
	tempRootTop  int

	grayStack []value.Obj

	compiler Compiler

	// debugger, when attached via AttachDebugger, is consulted by runUntil
	// before every instruction; nil in normal (non-debugging) operation, so
	// the hot path costs one nil check.
	debugger *Debugger

	// apiStack is the active slot window (§4.I), aliasing into
	// fiber.Stack: EnsureSlots sets it for a host-initiated call, and
	// dispatch swaps it in for the duration of each foreign call.
	apiStack []value.Value

	// apiAborted/apiAbortValue relay an AbortFiber call from inside a
	// ForeignFn back out to dispatch's MethodForeign case, which performs
	// the actual unwind once the call returns (§4.I).
	apiAborted    bool
	apiAbortValue value.Value

	// lastTrace is the call-frame snapshot fail() captured for the most
	// recent uncaught error, consumed by Interpret when reporting to the
	// host via Config.Error.
	lastTrace []StackFrame

	// mapEntryClass backs the {key, value} carrier ITERATORVALUE hands out
	// when walking a Map (§4.G); built lazily on first use rather than in
	// bootstrapCore since nothing else needs it to exist up front.
	mapEntryClass *value.Class

	// Fiber.new/call/try/abort are intercepted directly in dispatch before
	// the generic method table lookup (see fiberops.go): they need the raw
	// argStart the generic Primitive signature doesn't carry, to seed
	// LastCallReg on a fiber boundary crossing.
	symFiberNew   int
	symFiberCall  int
	symFiberCall1 int
	symFiberTry   int
	symFiberAbort int
}

// New constructs a VM and bootstraps its core classes. cfg's zero fields
// are replaced with defaults; a nil Write/Error is replaced with a no-op.
func New(cfg Config) *VM {
	if cfg.InitialHeapSize == 0 {
		cfg.InitialHeapSize = defaultInitialHeapSize
	}
	if cfg.MinHeapSize == 0 {
		cfg.MinHeapSize = defaultMinHeapSize
	}
	if cfg.HeapGrowthPercent == 0 {
		cfg.HeapGrowthPercent = defaultHeapGrowthPercent
	}
	if cfg.Write == nil {
		cfg.Write = func(string) {}
	}
	if cfg.Error == nil {
		cfg.Error = func(ErrorKind, string, int, string) {}
	}

	id := uuid.New()
	vm := &VM{
		config:        cfg,
		log:           emberlog.New(cfg.Logger.With().Str("vm_id", id.String()).Logger(), "vm"),
		id:            id,
		methodSymbols: make(map[string]int),
		modules:       make(map[string]*value.Module),
		nextGC:        cfg.InitialHeapSize,
	}
	vm.bootstrapCore()
	vm.bootstrapCoreLib()
	return vm
}

// Core exposes the built-in class table; the compiler and host bindings
// need it to resolve literals (e.g. a number literal's class) without a
// second source of truth.
func (vm *VM) Core() *value.CoreClasses { return vm.core }

// ID returns this VM's unique identifier, stamped on every log line it
// emits so a host embedding several VMs can tell their output apart.
func (vm *VM) ID() uuid.UUID { return vm.id }

// SetCompiler installs the external compiler collaborator used by the
// module loader (§4.H) and marked as a GC root while set.
func (vm *VM) SetCompiler(c Compiler) { vm.compiler = c }

// ClassOf returns v's class using this VM's core-class table.
func (vm *VM) ClassOf(v value.Value) *value.Class {
	return value.ClassOf(v, vm.core)
}

package vm

import (
	"fmt"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/value"
)

// importModule implements IMPORTMODULE's module loader pipeline (§4.H):
// resolve the requested name relative to the importing module, return the
// already-loaded module's body closure if cached, or compile a fresh one
// and register it.
//
// The closure returned for an already-loaded module only returns null;
// importModule itself points lastModule at the module, which is what
// IMPORTVAR's subsequent lookups resolve against.
func (vm *VM) importModule(importer, name string) (*value.Closure, error) {
	importLog := vm.log.Sub("importer")
	resolved := name
	if vm.config.ResolveModule != nil {
		resolved = vm.config.ResolveModule(importer, name)
	}

	if m, ok := vm.modules[resolved]; ok {
		importLog.Debug().Str("module", resolved).Str("importer", importer).Msg("cache hit")
		vm.lastModule = m
		return vm.noopClosure(m), nil
	}

	importLog.Debug().Str("module", resolved).Str("importer", importer).Msg("loading")
	if vm.config.LoadModule == nil {
		return nil, fmt.Errorf("module %q could not be loaded: no module loader configured", resolved)
	}
	source, ok := vm.config.LoadModule(resolved)
	if !ok {
		return nil, fmt.Errorf("could not find module %q", resolved)
	}

	module := vm.NewModule(resolved)
	if vm.compiler == nil {
		return nil, fmt.Errorf("module %q could not be compiled: no compiler installed", resolved)
	}
	fn, err := vm.compiler.Compile(vm, module, source, false, true)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", resolved, err)
	}
	vm.lastModule = module
	return vm.NewClosure(fn), nil
}

// noopClosure builds a zero-arity Fn whose one instruction is a RETURN of
// null and whose sole purpose
// is to satisfy IMPORTMODULE's "leaves a callable closure in the
// destination register" contract when the module is already loaded and
// there is nothing left to run.
func (vm *VM) noopClosure(m *value.Module) *value.Closure {
	fn := vm.NewFn(m)
	fn.MaxSlots = 1
	fn.Code = []bytecode.Instruction{bytecode.ABC(bytecode.OpReturn, 0, 0, 0)}
	fn.Lines = []int{0}
	fn.DebugName = "<" + m.Name + ">"
	return vm.NewClosure(fn)
}

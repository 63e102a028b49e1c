package vm_test

import (
	"strings"
	"testing"

	"github.com/kristofer/ember/pkg/compiler"
	"github.com/kristofer/ember/pkg/vm"
)

// newScenarioVM builds a VM wired to the real compiler, the way a host
// embedding ember would, and captures everything System.write prints.
func newScenarioVM(t *testing.T, cfg vm.Config) (*vm.VM, *strings.Builder) {
	t.Helper()
	var out strings.Builder
	write := cfg.Write
	cfg.Write = func(s string) {
		out.WriteString(s)
		if write != nil {
			write(s)
		}
	}
	cfg.Error = func(kind vm.ErrorKind, module string, line int, msg string) {
		t.Errorf("%v error in %q line %d: %s", kind, module, line, msg)
	}
	v := vm.New(cfg)
	v.SetCompiler(compiler.New())
	return v, &out
}

func TestScenarioArithmeticOverloadFallback(t *testing.T) {
	v, out := newScenarioVM(t, vm.Config{})
	source := `
class V {
	construct new(x) { _x = x }
	+(o) { return V.new(_x + o._x) }
	x { _x }
}
var a = V.new(2) + V.new(3)
System.write(a.x)
`
	if res := v.Interpret("main", source); res != vm.ResultSuccess {
		t.Fatalf("Interpret returned %v", res)
	}
	if got := out.String(); got != "5" {
		t.Fatalf("output = %q, want %q", got, "5")
	}
}

func TestScenarioClosuresAndUpvalues(t *testing.T) {
	v, out := newScenarioVM(t, vm.Config{})
	source := `
var c
{
	var x = 1
	c = Fn.new { x = x + 1; return x }
}
System.write(c.call())
System.write(c.call())
`
	if res := v.Interpret("main", source); res != vm.ResultSuccess {
		t.Fatalf("Interpret returned %v", res)
	}
	if got := out.String(); got != "23" {
		t.Fatalf("output = %q, want %q", got, "23")
	}
}

func TestScenarioMapIterationPeephole(t *testing.T) {
	v, out := newScenarioVM(t, vm.Config{})
	source := `
var m = { "a": 1, "b": 2 }
var s = 0
for (e in m) s = s + e.value
System.write(s)
`
	if res := v.Interpret("main", source); res != vm.ResultSuccess {
		t.Fatalf("Interpret returned %v", res)
	}
	if got := out.String(); got != "3" {
		t.Fatalf("output = %q, want %q", got, "3")
	}
}

func TestScenarioFiberTryAbort(t *testing.T) {
	v, out := newScenarioVM(t, vm.Config{})
	source := `
var f = Fiber.new { Fiber.abort("boom") }
var e = f.try()
System.write(e)
`
	if res := v.Interpret("main", source); res != vm.ResultSuccess {
		t.Fatalf("Interpret returned %v, want success (the abort is caught by try())", res)
	}
	if got := out.String(); got != "boom" {
		t.Fatalf("output = %q, want %q", got, "boom")
	}
}

func TestScenarioModuleImport(t *testing.T) {
	cfg := vm.Config{
		LoadModule: func(name string) (string, bool) {
			if name == "m" {
				return `var answer = 42`, true
			}
			return "", false
		},
	}
	v, out := newScenarioVM(t, cfg)
	source := `
import "m" for answer
System.write(answer)
`
	if res := v.Interpret("main", source); res != vm.ResultSuccess {
		t.Fatalf("Interpret returned %v", res)
	}
	if got := out.String(); got != "42" {
		t.Fatalf("output = %q, want %q", got, "42")
	}
}

// TestScenarioGCUnderStress forces collections to run constantly by
// pinning the heap tight against its minimum, then builds a 10000-element
// list via a Range walk -- the §8 stress scenario.
func TestScenarioGCUnderStress(t *testing.T) {
	cfg := vm.Config{
		InitialHeapSize: 1,
		MinHeapSize:     1,
	}
	v, out := newScenarioVM(t, cfg)
	source := `
var l = []
for (i in 1..10000) l.add(i.toString)
System.write(l.count)
`
	if res := v.Interpret("main", source); res != vm.ResultSuccess {
		t.Fatalf("Interpret returned %v", res)
	}
	if got := out.String(); got != "10000" {
		t.Fatalf("output = %q, want %q", got, "10000")
	}
}

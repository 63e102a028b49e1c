package modcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/compiler"
	"github.com/kristofer/ember/pkg/value"
	"github.com/kristofer/ember/pkg/vm"
)

func newTestVM(t *testing.T) *vm.VM {
	t.Helper()
	return vm.New(vm.Config{})
}

func TestPutGetRoundTrip(t *testing.T) {
	v := newTestVM(t)
	module := v.NewModule("test_module")

	cachePath := filepath.Join(t.TempDir(), "modcache.sqlite3")
	cache, err := Open(cachePath)
	require.NoError(t, err)
	defer cache.Close()

	fn := v.NewFn(module)
	fn.Arity = 1
	fn.MaxSlots = 3
	fn.NumUpvalues = 1
	fn.UpvalueDescs = []value.UpvalueDesc{{IsLocal: true, Index: 0}}
	fn.DebugName = "greet"
	fn.Constants = []value.Value{
		value.FromObj(v.NewString("hello")),
		value.Num(42),
	}
	fn.Code = []bytecode.Instruction{
		bytecode.ABC(bytecode.OpLoadK, 1, 0, 0),
		bytecode.ABC(bytecode.OpReturn, 1, 1, 1),
	}
	fn.Lines = []int{1, 1}

	source := `var greeting = "hello"`
	hash := HashSource(source)

	require.NoError(t, cache.Put("test_module", hash, fn))

	got, ok, err := cache.Get(v, "test_module", hash, module)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, fn.Arity, got.Arity)
	require.Equal(t, fn.MaxSlots, got.MaxSlots)
	require.Equal(t, fn.NumUpvalues, got.NumUpvalues)
	require.Equal(t, fn.UpvalueDescs, got.UpvalueDescs)
	require.Equal(t, fn.DebugName, got.DebugName)
	require.Equal(t, fn.Code, got.Code)
	require.Equal(t, fn.Lines, got.Lines)
	require.Len(t, got.Constants, 2)
	require.True(t, got.Constants[0].Is(value.ObjString))
	require.Equal(t, "hello", got.Constants[0].AsObj().(*value.String).Bytes)
	require.Equal(t, float64(42), got.Constants[1].AsNum())
}

func TestGetMissOnUnknownKey(t *testing.T) {
	v := newTestVM(t)
	module := v.NewModule("test_module")

	cache, err := Open(filepath.Join(t.TempDir(), "modcache.sqlite3"))
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get(v, "test_module", HashSource("nope"), module)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissOnVersionMismatch(t *testing.T) {
	v := newTestVM(t)
	module := v.NewModule("test_module")

	cache, err := Open(filepath.Join(t.TempDir(), "modcache.sqlite3"))
	require.NoError(t, err)
	defer cache.Close()

	fn := v.NewFn(module)
	fn.Code = []bytecode.Instruction{bytecode.ABC(bytecode.OpReturn, 0, 0, 1)}
	fn.Lines = []int{1}

	hash := HashSource("var x = 1")
	require.NoError(t, cache.Put("test_module", hash, fn))

	_, err = cache.db.Exec(`UPDATE modules SET format_version = ? WHERE module_name = ?`, formatVersion+1, "test_module")
	require.NoError(t, err)

	_, ok, err := cache.Get(v, "test_module", hash, module)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCachingCompilerPopulatesAndReusesCache(t *testing.T) {
	cache, err := Open(filepath.Join(t.TempDir(), "modcache.sqlite3"))
	require.NoError(t, err)
	defer cache.Close()

	inner := compiler.New()
	caching := NewCachingCompiler(inner, cache)

	v := vm.New(vm.Config{})
	v.SetCompiler(caching)
	module := v.NewModule("greeter")

	source := `var x = 1 + 2`
	fn1, err := caching.Compile(v, module, source, false, false)
	require.NoError(t, err)
	require.NotNil(t, fn1)

	hash := HashSource(source)
	_, ok, err := cache.Get(v, "greeter", hash, module)
	require.NoError(t, err)
	require.True(t, ok, "compiling a whole module should populate the cache")

	fn2, err := caching.Compile(v, module, source, false, false)
	require.NoError(t, err)
	require.Equal(t, len(fn1.Code), len(fn2.Code))
}

func TestCachingCompilerNilCacheFallsThrough(t *testing.T) {
	inner := compiler.New()
	caching := NewCachingCompiler(inner, nil)

	v := vm.New(vm.Config{})
	v.SetCompiler(caching)
	module := v.NewModule("greeter")

	fn, err := caching.Compile(v, module, `var x = 1`, false, false)
	require.NoError(t, err)
	require.NotNil(t, fn)
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	v := newTestVM(t)
	module := v.NewModule("test_module")

	cache, err := Open(filepath.Join(t.TempDir(), "modcache.sqlite3"))
	require.NoError(t, err)
	defer cache.Close()

	hash := HashSource("var x = 1")

	fn1 := v.NewFn(module)
	fn1.DebugName = "first"
	fn1.Code = []bytecode.Instruction{bytecode.ABC(bytecode.OpReturn, 0, 0, 1)}
	fn1.Lines = []int{1}
	require.NoError(t, cache.Put("test_module", hash, fn1))

	fn2 := v.NewFn(module)
	fn2.DebugName = "second"
	fn2.Code = []bytecode.Instruction{bytecode.ABC(bytecode.OpReturn, 0, 0, 1)}
	fn2.Lines = []int{2}
	require.NoError(t, cache.Put("test_module", hash, fn2))

	got, ok, err := cache.Get(v, "test_module", hash, module)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", got.DebugName)
}

// Package modcache is an optional on-disk cache for compiled modules,
// keyed by (module name, source hash) and backed by modernc.org/sqlite.
// It is a host-level convenience sitting entirely outside the VM's
// in-memory bytecode contract: a cache miss or a format-version mismatch
// simply means the caller falls back to compiling the source normally,
// the same way it would if no cache existed at all.
package modcache

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	_ "modernc.org/sqlite"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/value"
	"github.com/kristofer/ember/pkg/vm"
)

// formatVersion guards against a stale cache entry written by an earlier,
// incompatible build of this package reading back as if it were valid.
const formatVersion uint32 = 1

const schema = `
CREATE TABLE IF NOT EXISTS modules (
	module_name TEXT NOT NULL,
	source_hash TEXT NOT NULL,
	format_version INTEGER NOT NULL,
	fn_blob BLOB NOT NULL,
	PRIMARY KEY (module_name, source_hash)
);
`

// Cache is a handle on one sqlite-backed module cache file.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("modcache: opening %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("modcache: connecting to %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("modcache: creating schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// HashSource returns the cache key for a module's source text.
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get looks up a previously cached Fn for moduleName compiled from source
// hashing to sourceHash. The second return is false on a clean miss, as
// distinct from an error; a version mismatch also reports a miss rather
// than an error, since the caller's correct response to either is the
// same recompile fallback.
func (c *Cache) Get(v *vm.VM, moduleName, sourceHash string, module *value.Module) (*value.Fn, bool, error) {
	var version uint32
	var blob []byte
	row := c.db.QueryRow(
		`SELECT format_version, fn_blob FROM modules WHERE module_name = ? AND source_hash = ?`,
		moduleName, sourceHash,
	)
	if err := row.Scan(&version, &blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("modcache: querying %s: %w", moduleName, err)
	}
	if version != formatVersion {
		return nil, false, nil
	}
	fn, err := decodeFn(v, blob, module)
	if err != nil {
		return nil, false, fmt.Errorf("modcache: decoding %s: %w", moduleName, err)
	}
	return fn, true, nil
}

// Put stores fn under (moduleName, sourceHash), replacing any prior entry.
func (c *Cache) Put(moduleName, sourceHash string, fn *value.Fn) error {
	blob, err := encodeFn(fn)
	if err != nil {
		return fmt.Errorf("modcache: encoding %s: %w", moduleName, err)
	}
	_, err = c.db.Exec(
		`INSERT INTO modules (module_name, source_hash, format_version, fn_blob) VALUES (?, ?, ?, ?)
		 ON CONFLICT(module_name, source_hash) DO UPDATE SET format_version = excluded.format_version, fn_blob = excluded.fn_blob`,
		moduleName, sourceHash, formatVersion, blob,
	)
	if err != nil {
		return fmt.Errorf("modcache: storing %s: %w", moduleName, err)
	}
	return nil
}

// constant type tags for the value kinds encodeFn can represent: numbers
// and strings. The compiler also stores Fn prototypes in the constant
// pool (one per function literal, method or constructor, loaded by
// CLOSURE); encodeFn rejects those, so Put fails for any module that
// defines a function, method or class.
const (
	constNum byte = iota
	constString
)

// encodeFn serializes the register-format half of fn that's independent
// of any particular VM instance: its constants, code, line table, and
// calling-convention metadata. The owning Module and every object's Class
// are supplied fresh by the VM at decode time, since they're identity-bound
// to the VM doing the importing, not portable data.
func encodeFn(fn *value.Fn) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Constants))); err != nil {
		return nil, err
	}
	for i, c := range fn.Constants {
		if err := writeConstant(&buf, c); err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Code))); err != nil {
		return nil, err
	}
	for _, instr := range fn.Code {
		if err := binary.Write(&buf, binary.LittleEndian, uint32(instr)); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(fn.Lines))); err != nil {
		return nil, err
	}
	for _, ln := range fn.Lines {
		if err := binary.Write(&buf, binary.LittleEndian, int32(ln)); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.LittleEndian, int32(fn.Arity)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, int32(fn.MaxSlots)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, int32(fn.NumUpvalues)); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(fn.UpvalueDescs))); err != nil {
		return nil, err
	}
	for _, d := range fn.UpvalueDescs {
		var isLocal byte
		if d.IsLocal {
			isLocal = 1
		}
		if err := buf.WriteByte(isLocal); err != nil {
			return nil, err
		}
		if err := binary.Write(&buf, binary.LittleEndian, int32(d.Index)); err != nil {
			return nil, err
		}
	}

	if err := writeString(&buf, fn.DebugName); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeFn(v *vm.VM, data []byte, module *value.Module) (*value.Fn, error) {
	r := bytes.NewReader(data)

	var numConsts uint32
	if err := binary.Read(r, binary.LittleEndian, &numConsts); err != nil {
		return nil, err
	}
	constants := make([]value.Value, numConsts)
	for i := range constants {
		c, err := readConstant(v, r)
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		constants[i] = c
	}

	var numCode uint32
	if err := binary.Read(r, binary.LittleEndian, &numCode); err != nil {
		return nil, err
	}
	code := make([]bytecode.Instruction, numCode)
	for i := range code {
		var word uint32
		if err := binary.Read(r, binary.LittleEndian, &word); err != nil {
			return nil, err
		}
		code[i] = bytecode.Instruction(word)
	}

	var numLines uint32
	if err := binary.Read(r, binary.LittleEndian, &numLines); err != nil {
		return nil, err
	}
	lines := make([]int, numLines)
	for i := range lines {
		var ln int32
		if err := binary.Read(r, binary.LittleEndian, &ln); err != nil {
			return nil, err
		}
		lines[i] = int(ln)
	}

	var arity, maxSlots, numUpvalues int32
	if err := binary.Read(r, binary.LittleEndian, &arity); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &maxSlots); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &numUpvalues); err != nil {
		return nil, err
	}

	var numDescs uint32
	if err := binary.Read(r, binary.LittleEndian, &numDescs); err != nil {
		return nil, err
	}
	descs := make([]value.UpvalueDesc, numDescs)
	for i := range descs {
		isLocal, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var idx int32
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return nil, err
		}
		descs[i] = value.UpvalueDesc{IsLocal: isLocal != 0, Index: int(idx)}
	}

	debugName, err := readString(r)
	if err != nil {
		return nil, err
	}

	fn := v.NewFn(module)
	fn.Constants = constants
	fn.Code = code
	fn.Lines = lines
	fn.Arity = int(arity)
	fn.MaxSlots = int(maxSlots)
	fn.NumUpvalues = int(numUpvalues)
	fn.UpvalueDescs = descs
	fn.DebugName = debugName
	return fn, nil
}

func writeConstant(w io.Writer, c value.Value) error {
	switch {
	case c.IsNum():
		if _, err := w.Write([]byte{constNum}); err != nil {
			return err
		}
		return binary.Write(w, binary.LittleEndian, c.AsNum())
	case c.Is(value.ObjString):
		if _, err := w.Write([]byte{constString}); err != nil {
			return err
		}
		return writeString(w, c.AsObj().(*value.String).Bytes)
	default:
		return fmt.Errorf("unsupported constant kind in cached Fn")
	}
}

func readConstant(v *vm.VM, r io.Reader) (value.Value, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return value.Value{}, err
	}
	switch tag[0] {
	case constNum:
		var n float64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return value.Value{}, err
		}
		return value.Num(n), nil
	case constString:
		s, err := readString(r)
		if err != nil {
			return value.Value{}, err
		}
		return value.FromObj(v.NewString(s)), nil
	default:
		return value.Value{}, fmt.Errorf("unknown constant tag 0x%02x", tag[0])
	}
}

// compiler is the subset of vm.Compiler that CachingCompiler wraps. It's
// declared locally (rather than importing vm.Compiler by name) purely so
// this file reads self-contained; *compiler.Compiler and any other
// vm.Compiler implementation satisfy it without change.
type compiler interface {
	Compile(v *vm.VM, module *value.Module, source string, isExpression, printErrors bool) (*value.Fn, error)
	MarkCompiler(v *vm.VM)
	IsLocalName(name string) bool
}

// CachingCompiler decorates a vm.Compiler with a cache-first Compile: a
// whole-module, non-expression compile whose source hashes to a key
// already in the cache returns the stored Fn directly, skipping the
// inner compiler entirely. Everything else -- REPL expressions, a miss,
// a corrupt or stale entry -- falls through to inner and (on success)
// refreshes the cache, exactly the "opt-in fast path, never a different
// in-memory contract" role modcache plays relative to the module loader.
type CachingCompiler struct {
	inner compiler
	cache *Cache
}

// NewCachingCompiler wraps inner with cache. Passing a nil cache is valid
// and makes every Compile call fall straight through to inner, so a host
// can flip caching on and off by swapping in or out this wrapper.
func NewCachingCompiler(inner compiler, cache *Cache) *CachingCompiler {
	return &CachingCompiler{inner: inner, cache: cache}
}

func (c *CachingCompiler) Compile(v *vm.VM, module *value.Module, source string, isExpression, printErrors bool) (*value.Fn, error) {
	if c.cache == nil || isExpression {
		return c.inner.Compile(v, module, source, isExpression, printErrors)
	}

	hash := HashSource(source)
	if fn, ok, err := c.cache.Get(v, module.Name, hash, module); err == nil && ok {
		return fn, nil
	}

	fn, err := c.inner.Compile(v, module, source, isExpression, printErrors)
	if err != nil {
		return nil, err
	}
	_ = c.cache.Put(module.Name, hash, fn)
	return fn, nil
}

func (c *CachingCompiler) MarkCompiler(v *vm.VM) { c.inner.MarkCompiler(v) }
func (c *CachingCompiler) IsLocalName(name string) bool { return c.inner.IsLocalName(name) }

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Package compiler implements ember's front end: a single-pass recursive
// descent parser that emits register bytecode directly against a
// *vm.VM, with no separate AST stage. It satisfies vm.Compiler.
package compiler

import (
	"fmt"
	"strings"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/lexer"
	"github.com/kristofer/ember/pkg/value"
	"github.com/kristofer/ember/pkg/vm"
)

// Compiler is the vm.Compiler implementation installed by cmd/ember.
type Compiler struct{}

func New() *Compiler { return &Compiler{} }

// MarkCompiler has nothing to mark: a funcState chain lives entirely on
// the Go call stack for the duration of one Compile call, never stored
// anywhere the collector can observe between collections.
func (c *Compiler) MarkCompiler(v *vm.VM) {}

// IsLocalName reports whether name starts with a lowercase ASCII letter,
// the conventional shape of a local name. identifierRef does not use
// letter case: it resolves names by enclosing scope, with a leading '_'
// marking a field and anything else unresolved falling to a module
// variable.
func (c *Compiler) IsLocalName(name string) bool {
	return len(name) > 0 && name[0] >= 'a' && name[0] <= 'z'
}

// parseError unwinds the whole recursive descent back to Compile on the
// first syntax error, the way several std-lib-adjacent parsers in the
// ecosystem short-circuit a deeply recursive grammar without threading
// an error return through every production.
type parseError struct{ err error }

type parser struct {
	vmRef  *vm.VM
	module *value.Module
	lex    *lexer.Lexer
	cur    lexer.Token
	prev   lexer.Token
}

func (c *Compiler) Compile(v *vm.VM, module *value.Module, source string, isExpression, printErrors bool) (fn *value.Fn, err error) {
	p := &parser{vmRef: v, module: module, lex: lexer.New(source)}

	defer func() {
		if r := recover(); r != nil {
			pe, ok := r.(parseError)
			if !ok {
				panic(r)
			}
			fn, err = nil, pe.err
		}
	}()

	p.advance()
	fs := p.pushFunc(nil, "(script)")

	if isExpression {
		reg, ref := p.assignment(fs)
		result := p.materializeIfRef(fs, reg, ref)
		p.emit(fs, bytecode.ABC(bytecode.OpReturn, result, 1, 1), p.line())
	} else {
		for !p.check(lexer.TokenEOF) {
			p.statement(fs)
		}
		p.emit(fs, bytecode.ABC(bytecode.OpReturn, 0, 0, 1), p.line())
	}

	return p.finishFunc(fs), nil
}

// --- token stream -----------------------------------------------------

func (p *parser) advance() {
	p.prev = p.cur
	p.cur = p.lex.NextToken()
	for p.cur.Type == lexer.TokenIllegal {
		p.errorf("unexpected character %q", p.cur.Literal)
	}
}

func (p *parser) check(t lexer.TokenType) bool { return p.cur.Type == t }

func (p *parser) match(t lexer.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *parser) expect(t lexer.TokenType, what string) lexer.Token {
	if !p.check(t) {
		p.errorf("expected %s, got %q", what, p.cur.Literal)
	}
	tok := p.cur
	p.advance()
	return tok
}

func (p *parser) line() int { return p.prev.Line }

func (p *parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf("line %d: ", p.cur.Line) + fmt.Sprintf(format, args...)
	panic(parseError{fmt.Errorf("%s", msg)})
}

func (p *parser) consumeStatementEnd() {
	for p.match(lexer.TokenSemicolon) {
	}
}

// --- function/register state ------------------------------------------

type local struct {
	name string
	reg  int
}

type upvalRef struct {
	isLocal bool
	index   int
}

// classInfo tracks the field names a class's method bodies discover as
// they compile, so the CLASS instruction's declared-field-count operand
// (known only once every method has been seen) can be backpatched.
type classInfo struct {
	fields    map[string]int
	nextField int
}

type funcState struct {
	parent     *funcState
	fn         *value.Fn
	locals     []local
	scopeDepth int
	nextReg    int
	maxReg     int
	upvalues   []upvalRef
	classInfo  *classInfo
	loopBreaks [][]int
}

func (p *parser) pushFunc(parent *funcState, debugName string) *funcState {
	f := p.vmRef.NewFn(p.module)
	f.DebugName = debugName
	return &funcState{parent: parent, fn: f, nextReg: 1, maxReg: 1}
}

func (p *parser) finishFunc(fs *funcState) *value.Fn {
	fs.fn.MaxSlots = fs.maxReg
	fs.fn.NumUpvalues = len(fs.upvalues)
	descs := make([]value.UpvalueDesc, len(fs.upvalues))
	for i, u := range fs.upvalues {
		descs[i] = value.UpvalueDesc{IsLocal: u.isLocal, Index: u.index}
	}
	fs.fn.UpvalueDescs = descs
	return fs.fn
}

func (fs *funcState) alloc() int {
	r := fs.nextReg
	fs.nextReg++
	if fs.nextReg > fs.maxReg {
		fs.maxReg = fs.nextReg
	}
	return r
}

func (fs *funcState) declareLocal(name string) int {
	reg := fs.alloc()
	fs.locals = append(fs.locals, local{name: name, reg: reg})
	return reg
}

// bindLocalAt registers an already-allocated register (e.g. the one a
// class declaration or a for-loop's iterator leaves its result in) as a
// named local, with no extra move.
func (fs *funcState) bindLocalAt(name string, reg int) {
	fs.locals = append(fs.locals, local{name: name, reg: reg})
}

func (fs *funcState) resolveLocal(name string) (int, bool) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			return fs.locals[i].reg, true
		}
	}
	return 0, false
}

func (fs *funcState) addUpvalue(isLocal bool, index int) int {
	for i, u := range fs.upvalues {
		if u.isLocal == isLocal && u.index == index {
			return i
		}
	}
	fs.upvalues = append(fs.upvalues, upvalRef{isLocal: isLocal, index: index})
	return len(fs.upvalues) - 1
}

func (fs *funcState) resolveUpvalue(name string) (int, bool) {
	if fs.parent == nil {
		return 0, false
	}
	if reg, ok := fs.parent.resolveLocal(name); ok {
		return fs.addUpvalue(true, reg), true
	}
	if idx, ok := fs.parent.resolveUpvalue(name); ok {
		return fs.addUpvalue(false, idx), true
	}
	return 0, false
}

// --- code emission ------------------------------------------------------

func (p *parser) emit(fs *funcState, instr bytecode.Instruction, line int) int {
	fs.fn.Code = append(fs.fn.Code, instr)
	fs.fn.Lines = append(fs.fn.Lines, line)
	return len(fs.fn.Code) - 1
}

func (fs *funcState) addConst(v value.Value) int {
	fs.fn.Constants = append(fs.fn.Constants, v)
	return len(fs.fn.Constants) - 1
}

func (p *parser) emitMoveIfNeeded(fs *funcState, dest, src int) {
	if dest == src {
		return
	}
	p.emit(fs, bytecode.ABC(bytecode.OpMove, dest, src, 0), p.line())
}

func (p *parser) emitJumpPlaceholder(fs *funcState) int {
	return p.emit(fs, bytecode.SJx(bytecode.OpJump, 0), p.line())
}

func (p *parser) patchJumpHere(fs *funcState, idx int) {
	offset := len(fs.fn.Code) - idx - 1
	fs.fn.Code[idx] = bytecode.SJx(bytecode.OpJump, offset)
}

func (p *parser) emitJumpTo(fs *funcState, target int) {
	idx := len(fs.fn.Code)
	p.emit(fs, bytecode.SJx(bytecode.OpJump, target-(idx+1)), p.line())
}

// emitTestJump emits TEST cond,want + a JUMP placeholder; the jump fires
// when cond's truthiness does NOT match want.
func (p *parser) emitTestJump(fs *funcState, condReg int, want bool) int {
	w := 0
	if want {
		w = 1
	}
	p.emit(fs, bytecode.ABC(bytecode.OpTest, condReg, w, 0), p.line())
	return p.emitJumpPlaceholder(fs)
}

func (p *parser) emitClosure(fs *funcState, proto *value.Fn) int {
	idx := fs.addConst(value.FromObj(proto))
	dest := fs.alloc()
	p.emit(fs, bytecode.ABx(bytecode.OpClosure, dest, idx), p.line())
	return dest
}

func (p *parser) emitImplicitReturn(fs *funcState, returnsSelf bool) {
	if returnsSelf {
		p.emit(fs, bytecode.ABC(bytecode.OpReturn, 0, 1, 0), p.line())
	} else {
		p.emit(fs, bytecode.ABC(bytecode.OpReturn, 0, 0, 0), p.line())
	}
}

func methodSigFor(name string, arity int) string {
	if arity == 0 {
		return name
	}
	return name + "(" + strings.Repeat("_,", arity-1) + "_)"
}

func (p *parser) emitCallSig(fs *funcState, recvReg int, sig string, argRegs []int) int {
	line := p.line()
	base := fs.alloc()
	p.emitMoveIfNeeded(fs, base, recvReg)
	for _, a := range argRegs {
		reg := fs.alloc()
		p.emitMoveIfNeeded(fs, reg, a)
	}
	symbol := p.vmRef.MethodSymbol(sig)
	p.emit(fs, bytecode.ABC(bytecode.OpCallK, base, len(argRegs), symbol), line)
	return base
}

// emitCallSuperSig compiles a super send: self (always R0 in a method
// body) as the receiver, argRegs copied in after it, and the enclosing
// class's captured superclass value in the one register past the last
// argument -- the layout CALLSUPERK's execution expects (interp.go).
func (p *parser) emitCallSuperSig(fs *funcState, sig string, argRegs []int) int {
	line := p.line()
	superReg0, superRef0 := p.identifierRef(fs, superLocalName)
	superVal := p.materializeIfRef(fs, superReg0, superRef0)

	base := fs.alloc()
	p.emitMoveIfNeeded(fs, base, 0)
	for _, a := range argRegs {
		reg := fs.alloc()
		p.emitMoveIfNeeded(fs, reg, a)
	}
	superArg := fs.alloc()
	p.emitMoveIfNeeded(fs, superArg, superVal)

	symbol := p.vmRef.MethodSymbol(sig)
	p.emit(fs, bytecode.ABC(bytecode.OpCallSuperK, base, len(argRegs), symbol), line)
	return base
}

func (p *parser) loadGlobal(fs *funcState, name string) int {
	reg, r := p.identifierRef(fs, name)
	return p.materializeIfRef(fs, reg, r)
}

// --- scoping --------------------------------------------------------

func (p *parser) enterBlock(fs *funcState) (localsMark, regMark int) {
	fs.scopeDepth++
	return len(fs.locals), fs.nextReg
}

func (p *parser) exitBlock(fs *funcState, localsMark, regMark int) {
	p.emit(fs, bytecode.ABC(bytecode.OpClose, regMark, 0, 0), p.line())
	fs.locals = fs.locals[:localsMark]
	fs.nextReg = regMark
	fs.scopeDepth--
}

// --- statements -------------------------------------------------------

func (p *parser) statement(fs *funcState) {
	switch p.cur.Type {
	case lexer.TokenVar:
		p.varStatement(fs)
	case lexer.TokenClass:
		p.classStatement(fs)
	case lexer.TokenImport:
		p.importStatement(fs)
	case lexer.TokenIf:
		p.ifStatement(fs)
	case lexer.TokenWhile:
		p.whileStatement(fs)
	case lexer.TokenFor:
		p.forStatement(fs)
	case lexer.TokenReturn:
		p.returnStatement(fs)
	case lexer.TokenBreak:
		p.breakStatement(fs)
	case lexer.TokenLBrace:
		p.blockStatement(fs)
	default:
		p.exprStatement(fs)
	}
}

func (p *parser) blockStatement(fs *funcState) {
	p.advance() // '{'
	localsMark, regMark := p.enterBlock(fs)
	for !p.check(lexer.TokenRBrace) && !p.check(lexer.TokenEOF) {
		p.statement(fs)
	}
	p.expect(lexer.TokenRBrace, "'}'")
	p.exitBlock(fs, localsMark, regMark)
}

// declareNamedBinding makes name refer to the value currently sitting in
// reg: a module variable at top-level scope, a plain local otherwise.
func (p *parser) declareNamedBinding(fs *funcState, name string, reg int) {
	if fs.parent == nil && fs.scopeDepth == 0 {
		idx := p.module.VarIndex(name)
		if idx == -1 {
			idx = p.module.DefineVariable(name, value.Null)
		}
		p.emit(fs, bytecode.ABx(bytecode.OpSetGlobal, reg, idx), p.line())
	} else {
		fs.bindLocalAt(name, reg)
	}
}

func (p *parser) varStatement(fs *funcState) {
	p.advance() // 'var'
	name := p.expect(lexer.TokenIdentifier, "variable name").Literal
	hasInit := false
	var initReg int
	if p.match(lexer.TokenAssign) {
		reg, r := p.assignment(fs)
		initReg = p.materializeIfRef(fs, reg, r)
		hasInit = true
	}
	if fs.parent == nil && fs.scopeDepth == 0 {
		idx := p.module.VarIndex(name)
		if idx == -1 {
			idx = p.module.DefineVariable(name, value.Null)
		}
		if hasInit {
			p.emit(fs, bytecode.ABx(bytecode.OpSetGlobal, initReg, idx), p.line())
		}
	} else if hasInit {
		fs.bindLocalAt(name, initReg)
	} else {
		reg := fs.declareLocal(name)
		p.emit(fs, bytecode.ABC(bytecode.OpLoadNull, reg, 0, 0), p.line())
	}
	p.consumeStatementEnd()
}

func (p *parser) ifStatement(fs *funcState) {
	p.advance() // 'if'
	p.expect(lexer.TokenLParen, "'('")
	condReg0, condRef0 := p.assignment(fs)
	condReg := p.materializeIfRef(fs, condReg0, condRef0)
	p.expect(lexer.TokenRParen, "')'")

	elseJump := p.emitTestJump(fs, condReg, true)
	p.statement(fs)
	if p.match(lexer.TokenElse) {
		endJump := p.emitJumpPlaceholder(fs)
		p.patchJumpHere(fs, elseJump)
		p.statement(fs)
		p.patchJumpHere(fs, endJump)
	} else {
		p.patchJumpHere(fs, elseJump)
	}
}

func (p *parser) whileStatement(fs *funcState) {
	p.advance() // 'while'
	p.expect(lexer.TokenLParen, "'('")
	loopStart := len(fs.fn.Code)
	condReg0, condRef0 := p.assignment(fs)
	condReg := p.materializeIfRef(fs, condReg0, condRef0)
	p.expect(lexer.TokenRParen, "')'")

	exitJump := p.emitTestJump(fs, condReg, true)
	fs.loopBreaks = append(fs.loopBreaks, nil)
	p.statement(fs)
	breaks := fs.loopBreaks[len(fs.loopBreaks)-1]
	fs.loopBreaks = fs.loopBreaks[:len(fs.loopBreaks)-1]

	p.emitJumpTo(fs, loopStart)
	p.patchJumpHere(fs, exitJump)
	for _, b := range breaks {
		p.patchJumpHere(fs, b)
	}
}

func (p *parser) forStatement(fs *funcState) {
	line := p.line()
	p.advance() // 'for'
	p.expect(lexer.TokenLParen, "'('")
	varName := p.expect(lexer.TokenIdentifier, "loop variable").Literal
	p.expect(lexer.TokenIn, "'in'")
	seqReg0, seqRef0 := p.assignment(fs)
	seqReg := p.materializeIfRef(fs, seqReg0, seqRef0)
	p.expect(lexer.TokenRParen, "')'")

	localsMark, regMark := p.enterBlock(fs)

	iterReg := fs.alloc()
	p.emit(fs, bytecode.ABC(bytecode.OpLoadNull, iterReg, 0, 0), line)
	condReg := fs.alloc()

	loopStart := len(fs.fn.Code)
	p.emit(fs, bytecode.ABC(bytecode.OpIterate, condReg, seqReg, iterReg), p.line())
	exitJump := p.emitTestJump(fs, condReg, true)

	varReg := fs.declareLocal(varName)
	p.emit(fs, bytecode.ABC(bytecode.OpIteratorValue, varReg, seqReg, iterReg), p.line())

	fs.loopBreaks = append(fs.loopBreaks, nil)
	p.statement(fs)
	breaks := fs.loopBreaks[len(fs.loopBreaks)-1]
	fs.loopBreaks = fs.loopBreaks[:len(fs.loopBreaks)-1]

	p.emitJumpTo(fs, loopStart)
	p.patchJumpHere(fs, exitJump)
	for _, b := range breaks {
		p.patchJumpHere(fs, b)
	}

	p.exitBlock(fs, localsMark, regMark)
}

func (p *parser) returnStatement(fs *funcState) {
	line := p.line()
	p.advance() // 'return'
	if p.check(lexer.TokenSemicolon) || p.check(lexer.TokenRBrace) || p.check(lexer.TokenEOF) {
		p.emit(fs, bytecode.ABC(bytecode.OpReturn, 0, 0, 0), line)
	} else {
		reg, r := p.assignment(fs)
		v := p.materializeIfRef(fs, reg, r)
		p.emit(fs, bytecode.ABC(bytecode.OpReturn, v, 1, 0), line)
	}
	p.consumeStatementEnd()
}

func (p *parser) breakStatement(fs *funcState) {
	p.advance() // 'break'
	if len(fs.loopBreaks) == 0 {
		p.errorf("'break' outside of a loop")
	}
	j := p.emitJumpPlaceholder(fs)
	top := len(fs.loopBreaks) - 1
	fs.loopBreaks[top] = append(fs.loopBreaks[top], j)
	p.consumeStatementEnd()
}

func (p *parser) importStatement(fs *funcState) {
	line := p.line()
	p.advance() // 'import'
	pathTok := p.expect(lexer.TokenString, "module path string")
	pathIdx := fs.addConst(value.FromObj(p.vmRef.NewString(pathTok.Literal)))
	modReg := fs.alloc()
	p.emit(fs, bytecode.ABx(bytecode.OpImportModule, modReg, pathIdx), line)
	p.emitCallSig(fs, modReg, "call()", nil)

	if p.match(lexer.TokenFor) {
		for {
			name := p.expect(lexer.TokenIdentifier, "imported variable name").Literal
			nameIdx := fs.addConst(value.FromObj(p.vmRef.NewString(name)))
			dest := fs.alloc()
			p.emit(fs, bytecode.ABx(bytecode.OpImportVar, dest, nameIdx), p.line())
			p.declareNamedBinding(fs, name, dest)
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consumeStatementEnd()
}

func (p *parser) exprStatement(fs *funcState) {
	reg, r := p.assignment(fs)
	p.materializeIfRef(fs, reg, r)
	p.consumeStatementEnd()
}

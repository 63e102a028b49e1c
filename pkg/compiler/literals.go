package compiler

import (
	"strconv"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/lexer"
)

// listLiteral compiles `[e1, e2, ...]`. There's no dedicated "allocate
// list" opcode, so it desugars to `List.new()` followed by one ADDELEM
// per element -- the same shape a user writing `var l = List.new(); l.add(e)`
// would produce, just without the intermediate local.
func (p *parser) listLiteral(fs *funcState) int {
	line := p.line()
	p.advance() // '['
	listReg := p.loadGlobal(fs, "List")
	listReg = p.emitCallSig(fs, listReg, "new()", nil)

	for !p.check(lexer.TokenRBracket) {
		elemReg0, elemRef0 := p.assignment(fs)
		elem := p.materializeIfRef(fs, elemReg0, elemRef0)
		p.emit(fs, bytecode.ABC(bytecode.OpAddElem, listReg, elem, 0), line)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRBracket, "']'")
	return listReg
}

// braceLiteral disambiguates `{ ... }` between a map literal and a
// function literal: `{|params| ...}` and `{}` are unambiguous; anything
// else speculatively peeks one key token and checks for a following
// ':', restoring the lexer to its pre-peek state if that guess is wrong.
func (p *parser) braceLiteral(fs *funcState) int {
	line := p.line()
	p.expect(lexer.TokenLBrace, "'{'")

	if p.check(lexer.TokenPipe) || p.check(lexer.TokenRBrace) {
		return p.functionLiteralBody(fs, true, line)
	}

	if isSimpleLiteralToken(p.cur.Type) {
		savedLex := *p.lex
		savedCur := p.cur
		savedPrev := p.prev
		keyTok := p.cur
		p.advance()
		if p.check(lexer.TokenColon) {
			p.advance()
			return p.mapLiteralBody(fs, line, keyTok)
		}
		*p.lex = savedLex
		p.cur = savedCur
		p.prev = savedPrev
	}

	return p.functionLiteralBody(fs, false, line)
}

func isSimpleLiteralToken(t lexer.TokenType) bool {
	switch t {
	case lexer.TokenString, lexer.TokenNumber, lexer.TokenTrue, lexer.TokenFalse,
		lexer.TokenNull, lexer.TokenIdentifier:
		return true
	}
	return false
}

// compileSimpleKeyToken emits the load for a map key token already
// consumed during braceLiteral's speculative lookahead.
func (p *parser) compileSimpleKeyToken(fs *funcState, tok lexer.Token) int {
	switch tok.Type {
	case lexer.TokenString:
		return p.loadConstString(fs, tok.Literal, tok.Line)
	case lexer.TokenNumber:
		n, _ := strconv.ParseFloat(tok.Literal, 64)
		return p.loadConstNum(fs, n, tok.Line)
	case lexer.TokenTrue:
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpLoadBool, dest, 1, 0), tok.Line)
		return dest
	case lexer.TokenFalse:
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpLoadBool, dest, 0, 0), tok.Line)
		return dest
	case lexer.TokenNull:
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpLoadNull, dest, 0, 0), tok.Line)
		return dest
	case lexer.TokenIdentifier:
		reg, r := p.identifierRef(fs, tok.Literal)
		return p.materializeIfRef(fs, reg, r)
	default:
		p.errorf("invalid map key %q", tok.Literal)
		return 0
	}
}

func (p *parser) mapLiteralBody(fs *funcState, line int, firstKeyTok lexer.Token) int {
	mapReg := p.loadGlobal(fs, "Map")
	mapReg = p.emitCallSig(fs, mapReg, "new()", nil)

	keyReg := p.compileSimpleKeyToken(fs, firstKeyTok)
	valReg0, valRef0 := p.assignment(fs)
	val := p.materializeIfRef(fs, valReg0, valRef0)
	p.emit(fs, bytecode.ABC(bytecode.OpSetSub, mapReg, keyReg, val), p.line())

	for p.match(lexer.TokenComma) {
		if p.check(lexer.TokenRBrace) {
			break
		}
		kReg0, kRef0 := p.assignment(fs)
		k := p.materializeIfRef(fs, kReg0, kRef0)
		p.expect(lexer.TokenColon, "':'")
		vReg0, vRef0 := p.assignment(fs)
		v := p.materializeIfRef(fs, vReg0, vRef0)
		p.emit(fs, bytecode.ABC(bytecode.OpSetSub, mapReg, k, v), p.line())
	}
	p.expect(lexer.TokenRBrace, "'}'")
	_ = line
	return mapReg
}

// functionLiteralBody compiles `{ |params| stmts }` / `{ stmts }` into a
// child Fn, emitting a CLOSURE in the parent once the body is complete.
func (p *parser) functionLiteralBody(fs *funcState, hasParams bool, line int) int {
	var params []string
	if hasParams && p.match(lexer.TokenPipe) {
		for !p.check(lexer.TokenPipe) {
			params = append(params, p.expect(lexer.TokenIdentifier, "parameter name").Literal)
			if !p.match(lexer.TokenComma) {
				break
			}
		}
		p.expect(lexer.TokenPipe, "'|'")
	}

	child := p.pushFunc(fs, "(anonymous)")
	child.classInfo = fs.classInfo
	child.fn.Arity = len(params)
	for _, name := range params {
		child.declareLocal(name)
	}

	for !p.check(lexer.TokenRBrace) && !p.check(lexer.TokenEOF) {
		p.statement(child)
	}
	p.expect(lexer.TokenRBrace, "'}'")
	p.emitImplicitReturn(child, false)
	proto := p.finishFunc(child)

	return p.emitClosure(fs, proto)
}

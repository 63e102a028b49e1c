package compiler

import (
	"strconv"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/lexer"
	"github.com/kristofer/ember/pkg/value"
)

// refKind tags what an un-materialized expression result refers to, so
// assignment() can recognize an lvalue without a separate AST pass.
type refKind int

const (
	refNone refKind = iota
	refLocal
	refUpvalue
	refGlobal
	refField
	refSubscript
	refProperty
)

// ref carries enough to either read or write the thing a bare reference
// expression named, once the caller knows which it wants. reg/aux/idx
// hold whatever registers or indices the particular kind needs; name carries
// a property/field name for refProperty (subscript targets use reg/aux
// registers instead, since the index is a full expression, not a name).
type ref struct {
	kind refKind
	reg  int // refLocal: the local's register. refSubscript: receiver reg.
	aux  int // refSubscript: index register. refUpvalue: upvalue slot.
	idx  int // refGlobal: module slot. refField: field slot.
	name string
}

// materializeIfRef loads ref's value into a register if reg doesn't
// already hold it (refLocal needs no instruction at all), and returns
// that register. Safe to call on a zero ref (refNone): returns reg as-is.
func (p *parser) materializeIfRef(fs *funcState, reg int, r ref) int {
	line := p.line()
	switch r.kind {
	case refNone, refLocal:
		return reg
	case refUpvalue:
		p.emit(fs, bytecode.ABC(bytecode.OpGetUpval, reg, r.aux, 0), line)
		return reg
	case refGlobal:
		p.emit(fs, bytecode.ABx(bytecode.OpGetGlobal, reg, r.idx), line)
		return reg
	case refField:
		p.emit(fs, bytecode.ABC(bytecode.OpGetField, reg, r.idx, 0), line)
		return reg
	case refSubscript:
		p.emit(fs, bytecode.ABC(bytecode.OpGetSub, reg, r.reg, r.aux), line)
		return reg
	case refProperty:
		return p.emitCallSig(fs, r.reg, r.name, nil)
	default:
		return reg
	}
}

// storeRef compiles an assignment of the value in valueReg into ref's
// target, returning the register the stored value is left in (ember
// assignment expressions evaluate to the assigned value).
func (p *parser) storeRef(fs *funcState, r ref, valueReg int) int {
	line := p.line()
	switch r.kind {
	case refLocal:
		p.emitMoveIfNeeded(fs, r.reg, valueReg)
		return r.reg
	case refUpvalue:
		p.emit(fs, bytecode.ABC(bytecode.OpSetUpval, valueReg, r.aux, 0), line)
		return valueReg
	case refGlobal:
		p.emit(fs, bytecode.ABx(bytecode.OpSetGlobal, valueReg, r.idx), line)
		return valueReg
	case refField:
		p.emit(fs, bytecode.ABC(bytecode.OpSetField, valueReg, r.idx, 0), line)
		return valueReg
	case refSubscript:
		// SETSUB is ABC(receiver, index, value) -- unlike every other
		// store opcode, the destination isn't A here since there's no
		// single register being overwritten, just a receiver mutated.
		p.emit(fs, bytecode.ABC(bytecode.OpSetSub, r.reg, r.aux, valueReg), line)
		return valueReg
	case refProperty:
		sig := r.name + "=(_)"
		return p.emitCallSig(fs, r.reg, sig, []int{valueReg})
	default:
		p.errorf("invalid assignment target")
		return valueReg
	}
}

// identifierRef resolves name against locals, upvalues, then finally
// module globals -- auto-defining an unresolved name as a forward-
// declared Null global, the way top-level scripts reference classes or
// functions declared later in the same file.
func (p *parser) identifierRef(fs *funcState, name string) (int, ref) {
	if reg, ok := fs.resolveLocal(name); ok {
		return reg, ref{kind: refLocal, reg: reg}
	}
	if idx, ok := fs.resolveUpvalue(name); ok {
		return fs.alloc(), ref{kind: refUpvalue, aux: idx}
	}
	if name[0] == '_' {
		// bare field reference inside a method body: resolved against
		// the class currently being compiled, self always sits in R0.
		if fs.classInfo == nil {
			p.errorf("field %q referenced outside of a method", name)
		}
		slot, ok := fs.classInfo.fields[name]
		if !ok {
			slot = fs.classInfo.nextField
			fs.classInfo.fields[name] = slot
			fs.classInfo.nextField++
		}
		return fs.alloc(), ref{kind: refField, idx: slot}
	}
	idx := p.module.VarIndex(name)
	if idx == -1 {
		idx = p.module.DefineVariable(name, value.Null)
	}
	return fs.alloc(), ref{kind: refGlobal, idx: idx}
}

// --- precedence cascade -------------------------------------------------
//
// Every level returns (reg, ref): a still-deferred ref when nothing at
// this level or below fired an operator, otherwise a materialized value
// in reg with ref.kind == refNone. assignment() is the only level that
// inspects a trailing '=' against a deferred ref.

func (p *parser) assignment(fs *funcState) (int, ref) {
	reg, r := p.orLevel(fs)
	if p.match(lexer.TokenAssign) {
		valReg0, valRef0 := p.assignment(fs)
		valReg := p.materializeIfRef(fs, valReg0, valRef0)
		stored := p.storeRef(fs, r, valReg)
		return stored, ref{}
	}
	return reg, r
}

func (p *parser) orLevel(fs *funcState) (int, ref) {
	reg0, r0 := p.andLevel(fs)
	if !p.check(lexer.TokenOr) {
		return reg0, r0
	}
	dest := p.materializeIfRef(fs, reg0, r0)
	for p.match(lexer.TokenOr) {
		skip := p.emitTestJump(fs, dest, false)
		rhsReg0, rhsRef0 := p.andLevel(fs)
		rhs := p.materializeIfRef(fs, rhsReg0, rhsRef0)
		p.emitMoveIfNeeded(fs, dest, rhs)
		p.patchJumpHere(fs, skip)
	}
	return dest, ref{}
}

func (p *parser) andLevel(fs *funcState) (int, ref) {
	reg0, r0 := p.equalityLevel(fs)
	if !p.check(lexer.TokenAnd) {
		return reg0, r0
	}
	dest := p.materializeIfRef(fs, reg0, r0)
	for p.match(lexer.TokenAnd) {
		skip := p.emitTestJump(fs, dest, true)
		rhsReg0, rhsRef0 := p.equalityLevel(fs)
		rhs := p.materializeIfRef(fs, rhsReg0, rhsRef0)
		p.emitMoveIfNeeded(fs, dest, rhs)
		p.patchJumpHere(fs, skip)
	}
	return dest, ref{}
}

// emitBoolFromCompare materializes the skip-next compare opcode's result
// as an actual true/false value, since CMP opcodes only ever conditionally
// skip the following instruction rather than writing a value themselves.
func (p *parser) emitBoolFromCompare(fs *funcState, emitCompare func(dest int)) int {
	dest := fs.alloc()
	line := p.line()
	emitCompare(dest)
	falseJump := p.emitJumpPlaceholder(fs)
	p.emit(fs, bytecode.ABC(bytecode.OpLoadBool, dest, 1, 0), line)
	endJump := p.emitJumpPlaceholder(fs)
	p.patchJumpHere(fs, falseJump)
	p.emit(fs, bytecode.ABC(bytecode.OpLoadBool, dest, 0, 0), line)
	p.patchJumpHere(fs, endJump)
	return dest
}

func (p *parser) equalityLevel(fs *funcState) (int, ref) {
	reg0, r0 := p.comparisonLevel(fs)
	if !p.check(lexer.TokenEqEq) && !p.check(lexer.TokenNotEq) {
		return reg0, r0
	}
	left := p.materializeIfRef(fs, reg0, r0)
	negate := p.check(lexer.TokenNotEq)
	p.advance()
	rhsReg0, rhsRef0 := p.comparisonLevel(fs)
	right := p.materializeIfRef(fs, rhsReg0, rhsRef0)
	line := p.line()
	// want carries the ==/!= distinction itself (§4.G): EQ's overload
	// branch in execCompare picks "==(_)" vs "!=(_)" off this same bit,
	// so there's no separate NOT pass needed for the negated form.
	dest := p.emitBoolFromCompare(fs, func(d int) {
		p.emit(fs, bytecode.ABC(bytecode.OpEq, packFlag(0, !negate), left, right), line)
	})
	return dest, ref{}
}

func (p *parser) comparisonLevel(fs *funcState) (int, ref) {
	reg0, r0 := p.rangeLevel(fs)
	switch p.cur.Type {
	case lexer.TokenLess, lexer.TokenLessEq, lexer.TokenGreater, lexer.TokenGreaterEq:
	default:
		return reg0, r0
	}
	left := p.materializeIfRef(fs, reg0, r0)
	op := p.cur.Type
	p.advance()
	rhsReg0, rhsRef0 := p.rangeLevel(fs)
	right := p.materializeIfRef(fs, rhsReg0, rhsRef0)
	line := p.line()

	a, b := left, right
	opcode := bytecode.OpLt
	swapped := false
	switch op {
	case lexer.TokenLess:
		opcode, a, b = bytecode.OpLt, left, right
	case lexer.TokenLessEq:
		opcode, a, b = bytecode.OpLte, left, right
	case lexer.TokenGreater:
		opcode, a, b = bytecode.OpLt, right, left
		swapped = true
	case lexer.TokenGreaterEq:
		opcode, a, b = bytecode.OpLte, right, left
		swapped = true
	}
	// The swapped bit rides along in A's low bits (packFlag's spare
	// "reg" slot) so execCompare can recover which operand was the
	// original left-hand side once it wants to resolve a ">(_)"/">=(_)"
	// overload instead of just comparing numbers (§4.G).
	dest := p.emitBoolFromCompare(fs, func(d int) {
		p.emit(fs, bytecode.ABC(opcode, packFlag(boolToInt(swapped), true), a, b), line)
	})
	return dest, ref{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (p *parser) rangeLevel(fs *funcState) (int, ref) {
	reg0, r0 := p.additiveLevel(fs)
	if !p.check(lexer.TokenDotDot) && !p.check(lexer.TokenDotDotDot) {
		return reg0, r0
	}
	from := p.materializeIfRef(fs, reg0, r0)
	inclusive := p.check(lexer.TokenDotDot)
	p.advance()
	rhsReg0, rhsRef0 := p.additiveLevel(fs)
	to := p.materializeIfRef(fs, rhsReg0, rhsRef0)
	line := p.line()
	// RANGE writes its result back into A's own register, so from doubles
	// as both an operand and the destination; no extra temp needed.
	p.emit(fs, bytecode.ABC(bytecode.OpRange, packFlag(from, inclusive), from, to), line)
	return from, ref{}
}

// packFlag packs a single polarity/inclusive bit into reg's top bit, the
// mirror image of the runtime's splitFlag (pkg/vm/interp.go).
func packFlag(reg int, flag bool) int {
	if flag {
		return reg | (1 << 7)
	}
	return reg
}

func (p *parser) additiveLevel(fs *funcState) (int, ref) {
	reg0, r0 := p.multiplicativeLevel(fs)
	for p.check(lexer.TokenPlus) || p.check(lexer.TokenMinus) {
		left := p.materializeIfRef(fs, reg0, r0)
		op := p.cur.Type
		p.advance()
		rhsReg0, rhsRef0 := p.multiplicativeLevel(fs)
		right := p.materializeIfRef(fs, rhsReg0, rhsRef0)
		line := p.line()
		dest := fs.alloc()
		opcode := bytecode.OpAdd
		if op == lexer.TokenMinus {
			opcode = bytecode.OpSub
		}
		p.emit(fs, bytecode.ABC(opcode, dest, left, right), line)
		reg0, r0 = dest, ref{}
	}
	return reg0, r0
}

func (p *parser) multiplicativeLevel(fs *funcState) (int, ref) {
	reg0, r0 := p.unaryLevel(fs)
	for p.check(lexer.TokenStar) || p.check(lexer.TokenSlash) || p.check(lexer.TokenPercent) {
		left := p.materializeIfRef(fs, reg0, r0)
		op := p.cur.Type
		p.advance()
		rhsReg0, rhsRef0 := p.unaryLevel(fs)
		right := p.materializeIfRef(fs, rhsReg0, rhsRef0)
		line := p.line()
		if op == lexer.TokenPercent {
			dest := p.emitCallSig(fs, left, "%(_)", []int{right})
			reg0, r0 = dest, ref{}
			continue
		}
		dest := fs.alloc()
		opcode := bytecode.OpMul
		if op == lexer.TokenSlash {
			opcode = bytecode.OpDiv
		}
		p.emit(fs, bytecode.ABC(opcode, dest, left, right), line)
		reg0, r0 = dest, ref{}
	}
	return reg0, r0
}

func (p *parser) unaryLevel(fs *funcState) (int, ref) {
	switch p.cur.Type {
	case lexer.TokenMinus:
		p.advance()
		reg0, r0 := p.unaryLevel(fs)
		src := p.materializeIfRef(fs, reg0, r0)
		line := p.line()
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpNeg, dest, src, 0), line)
		return dest, ref{}
	case lexer.TokenBang:
		p.advance()
		reg0, r0 := p.unaryLevel(fs)
		src := p.materializeIfRef(fs, reg0, r0)
		line := p.line()
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpNot, dest, src, 0), line)
		return dest, ref{}
	default:
		return p.postfixLevel(fs)
	}
}

func (p *parser) postfixLevel(fs *funcState) (int, ref) {
	reg, r := p.primaryRef(fs)
	return p.postfix(fs, reg, r)
}

// postfix chains .name, .name(args), .name{block}, [idx] against a base
// expression, returning a deferred refProperty/refSubscript only when the
// chain ends on a bare property/subscript (so assignment() can still
// detect `obj.prop = v` / `list[i] = v`).
func (p *parser) postfix(fs *funcState, reg int, r ref) (int, ref) {
	for {
		switch p.cur.Type {
		case lexer.TokenDot:
			p.advance()
			name := p.expect(lexer.TokenIdentifier, "member name").Literal
			recv := p.materializeIfRef(fs, reg, r)

			if p.check(lexer.TokenLParen) {
				args := p.argumentList(fs)
				sig := methodSigFor(name, len(args))
				dest := p.emitCallSig(fs, recv, sig, args)
				reg, r = dest, ref{}
				continue
			}
			if p.check(lexer.TokenLBrace) {
				argReg := p.blockArgument(fs)
				sig := methodSigFor(name, 1)
				dest := p.emitCallSig(fs, recv, sig, []int{argReg})
				reg, r = dest, ref{}
				continue
			}
			if p.check(lexer.TokenAssign) {
				// defer: caller (assignment()) decides get vs. set.
				reg, r = recv, ref{kind: refProperty, reg: recv, name: name}
				return reg, r
			}
			dest := p.emitCallSig(fs, recv, name, nil)
			reg, r = dest, ref{}

		case lexer.TokenLBracket:
			p.advance()
			recv := p.materializeIfRef(fs, reg, r)
			idxReg0, idxRef0 := p.assignment(fs)
			idx := p.materializeIfRef(fs, idxReg0, idxRef0)
			p.expect(lexer.TokenRBracket, "']'")
			if p.check(lexer.TokenAssign) {
				reg, r = recv, ref{kind: refSubscript, reg: recv, aux: idx}
				return reg, r
			}
			dest := fs.alloc()
			p.emit(fs, bytecode.ABC(bytecode.OpGetSub, dest, recv, idx), p.line())
			reg, r = dest, ref{}

		default:
			return reg, r
		}
	}
}

func (p *parser) argumentList(fs *funcState) []int {
	p.expect(lexer.TokenLParen, "'('")
	var args []int
	for !p.check(lexer.TokenRParen) {
		reg0, r0 := p.assignment(fs)
		args = append(args, p.materializeIfRef(fs, reg0, r0))
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRParen, "')'")
	return args
}

// blockArgument compiles a trailing `{ ... }` / `{ |x| ... }` literal as
// a one-argument closure, the sugar `list.each { |x| ... }` desugars to.
func (p *parser) blockArgument(fs *funcState) int {
	return p.braceLiteral(fs)
}

func (p *parser) primaryRef(fs *funcState) (int, ref) {
	line := p.line()
	switch p.cur.Type {
	case lexer.TokenNumber:
		lit := p.cur.Literal
		p.advance()
		n, _ := strconv.ParseFloat(lit, 64)
		return p.loadConstNum(fs, n, line), ref{}

	case lexer.TokenString:
		lit := p.cur.Literal
		p.advance()
		return p.loadConstString(fs, lit, line), ref{}

	case lexer.TokenTrue:
		p.advance()
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpLoadBool, dest, 1, 0), line)
		return dest, ref{}

	case lexer.TokenFalse:
		p.advance()
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpLoadBool, dest, 0, 0), line)
		return dest, ref{}

	case lexer.TokenNull:
		p.advance()
		dest := fs.alloc()
		p.emit(fs, bytecode.ABC(bytecode.OpLoadNull, dest, 0, 0), line)
		return dest, ref{}

	case lexer.TokenLParen:
		p.advance()
		reg, r := p.assignment(fs)
		p.expect(lexer.TokenRParen, "')'")
		return reg, r

	case lexer.TokenLBracket:
		return p.listLiteral(fs), ref{}

	case lexer.TokenLBrace:
		return p.braceLiteral(fs), ref{}

	case lexer.TokenIdentifier:
		name := p.cur.Literal
		p.advance()
		return p.identifierRef(fs, name)

	case lexer.TokenSuper:
		p.advance()
		return p.superSend(fs), ref{}

	default:
		p.errorf("unexpected token %q in expression", p.cur.Literal)
		return 0, ref{}
	}
}

// superSend compiles `super.name`, `super.name(args)`, and
// `super.name { block }`, always against self (R0) as the receiver.
func (p *parser) superSend(fs *funcState) int {
	p.expect(lexer.TokenDot, "'.' after 'super'")
	name := p.expect(lexer.TokenIdentifier, "method name after 'super.'").Literal

	if p.check(lexer.TokenLParen) {
		args := p.argumentList(fs)
		sig := methodSigFor(name, len(args))
		return p.emitCallSuperSig(fs, sig, args)
	}
	if p.check(lexer.TokenLBrace) {
		argReg := p.blockArgument(fs)
		sig := methodSigFor(name, 1)
		return p.emitCallSuperSig(fs, sig, []int{argReg})
	}
	return p.emitCallSuperSig(fs, name, nil)
}

func (p *parser) loadConstNum(fs *funcState, n float64, line int) int {
	idx := fs.addConst(value.Num(n))
	dest := fs.alloc()
	p.emit(fs, bytecode.ABx(bytecode.OpLoadK, dest, idx), line)
	return dest
}

func (p *parser) loadConstString(fs *funcState, s string, line int) int {
	idx := fs.addConst(value.FromObj(p.vmRef.NewString(s)))
	dest := fs.alloc()
	p.emit(fs, bytecode.ABx(bytecode.OpLoadK, dest, idx), line)
	return dest
}

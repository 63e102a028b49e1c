package compiler

import (
	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/lexer"
	"github.com/kristofer/ember/pkg/value"
)

// classStatement compiles `class Name [is Super] { members }`. The CLASS
// instruction's field-count operand isn't known until every member has
// been seen (a method body can reference a `_field` no earlier member
// mentioned), so it's emitted with a placeholder and backpatched once
// classInfo.nextField settles.
func (p *parser) classStatement(fs *funcState) {
	line := p.line()
	p.advance() // 'class'
	name := p.expect(lexer.TokenIdentifier, "class name").Literal

	// superValReg holds the superclass value (or Null) and is kept
	// around, untouched, for the lifetime of fs: CLASS overwrites its
	// own A operand in place with the freshly built class, so a
	// `super.method()` send inside one of this class's method bodies
	// needs its own stable register to capture as an upvalue.
	superValReg := fs.alloc()
	if p.match(lexer.TokenIs) {
		superName := p.expect(lexer.TokenIdentifier, "superclass name").Literal
		reg, r := p.identifierRef(fs, superName)
		src := p.materializeIfRef(fs, reg, r)
		p.emitMoveIfNeeded(fs, superValReg, src)
	} else {
		p.emit(fs, bytecode.ABC(bytecode.OpLoadNull, superValReg, 0, 0), line)
	}
	fs.bindLocalAt(superLocalName, superValReg)

	classReg := fs.alloc()
	p.emitMoveIfNeeded(fs, classReg, superValReg)
	nameIdx := fs.addConst(value.FromObj(p.vmRef.NewString(name)))
	classIdx := p.emit(fs, bytecode.ABC(bytecode.OpClass, classReg, nameIdx, 0), line)

	info := &classInfo{fields: map[string]int{}}

	p.expect(lexer.TokenLBrace, "'{'")
	for !p.check(lexer.TokenRBrace) && !p.check(lexer.TokenEOF) {
		p.classMember(fs, classReg, info)
	}
	p.expect(lexer.TokenRBrace, "'}'")

	p.emit(fs, bytecode.ABC(bytecode.OpEndClass, classReg, 0, 0), p.line())

	instr := fs.fn.Code[classIdx]
	fs.fn.Code[classIdx] = bytecode.ABC(bytecode.OpClass, instr.A(), instr.B(), info.nextField)

	p.declareNamedBinding(fs, name, classReg)
}

// superLocalName names the hidden local classStatement binds to the
// superclass value: a space makes it unreachable from source (the
// lexer never produces an identifier containing one), so it can't
// collide with a user's own local or field name.
const superLocalName = "super "

// classMember dispatches one class body entry: construct, static/instance
// method, getter, setter, or operator overload -- all of which end up as
// one METHOD instruction binding a compiled closure under a signature.
func (p *parser) classMember(fs *funcState, classReg int, info *classInfo) {
	isStatic := p.match(lexer.TokenStatic)

	if p.match(lexer.TokenConstruct) {
		p.constructMember(fs, classReg, info)
		return
	}

	if isOperatorStart(p.cur.Type) {
		opLiteral := p.cur.Literal
		p.advance()
		p.operatorMember(fs, classReg, isStatic, info, opLiteral)
		return
	}

	name := p.expect(lexer.TokenIdentifier, "method name").Literal

	switch {
	case p.check(lexer.TokenLParen):
		p.regularMethod(fs, classReg, isStatic, info, name)
	case p.check(lexer.TokenAssign):
		p.advance()
		p.setterMember(fs, classReg, isStatic, info, name)
	default:
		p.getterMember(fs, classReg, isStatic, info, name)
	}
}

func isOperatorStart(t lexer.TokenType) bool {
	switch t {
	case lexer.TokenPlus, lexer.TokenMinus, lexer.TokenStar, lexer.TokenSlash,
		lexer.TokenLess, lexer.TokenLessEq, lexer.TokenGreater, lexer.TokenGreaterEq,
		lexer.TokenEqEq, lexer.TokenNotEq, lexer.TokenBang:
		return true
	}
	return false
}

// bindMethodInstr emits the METHOD instruction for a just-compiled
// closure sitting in closureReg, under signature, static or instance.
func (p *parser) bindMethodInstr(fs *funcState, classReg int, isStatic bool, signature string, closureReg int) {
	sigIdx := fs.addConst(value.FromObj(p.vmRef.NewString(signature)))
	aRaw := classReg
	if isStatic {
		aRaw |= 1 << 7
	}
	p.emit(fs, bytecode.ABC(bytecode.OpMethod, aRaw, sigIdx, closureReg), p.line())
}

// pushMethodFunc opens a child funcState for one method body: R0 is
// reserved for the receiver, classInfo carries over so `_field`
// references resolve against the class being compiled, and params
// declare as locals R1..Rarity.
func (p *parser) pushMethodFunc(parent *funcState, info *classInfo, debugName string, params []string) *funcState {
	child := p.pushFunc(parent, debugName)
	child.classInfo = info
	child.fn.Arity = len(params)
	for _, name := range params {
		child.declareLocal(name)
	}
	return child
}

func (p *parser) parseParamList() []string {
	var params []string
	p.expect(lexer.TokenLParen, "'('")
	for !p.check(lexer.TokenRParen) {
		params = append(params, p.expect(lexer.TokenIdentifier, "parameter name").Literal)
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRParen, "')'")
	return params
}

func (p *parser) methodBodyBlock(child *funcState) {
	p.expect(lexer.TokenLBrace, "'{'")
	for !p.check(lexer.TokenRBrace) && !p.check(lexer.TokenEOF) {
		p.statement(child)
	}
	p.expect(lexer.TokenRBrace, "'}'")
}

func (p *parser) regularMethod(fs *funcState, classReg int, isStatic bool, info *classInfo, name string) {
	params := p.parseParamList()
	child := p.pushMethodFunc(fs, info, name, params)
	p.methodBodyBlock(child)
	p.emitImplicitReturn(child, false)
	proto := p.finishFunc(child)

	closureReg := p.emitClosure(fs, proto)
	sig := methodSigFor(name, len(params))
	p.bindMethodInstr(fs, classReg, isStatic, sig, closureReg)
}

func (p *parser) getterMember(fs *funcState, classReg int, isStatic bool, info *classInfo, name string) {
	child := p.pushMethodFunc(fs, info, name, nil)
	p.methodBodyBlock(child)
	p.emitImplicitReturn(child, false)
	proto := p.finishFunc(child)

	closureReg := p.emitClosure(fs, proto)
	p.bindMethodInstr(fs, classReg, isStatic, name, closureReg)
}

func (p *parser) setterMember(fs *funcState, classReg int, isStatic bool, info *classInfo, name string) {
	params := p.parseParamList()
	child := p.pushMethodFunc(fs, info, name+"=", params)
	p.methodBodyBlock(child)
	p.emitImplicitReturn(child, false)
	proto := p.finishFunc(child)

	closureReg := p.emitClosure(fs, proto)
	sig := name + "=(" + paramPlaceholders(len(params)) + ")"
	p.bindMethodInstr(fs, classReg, isStatic, sig, closureReg)
}

func paramPlaceholders(n int) string {
	if n == 0 {
		return ""
	}
	s := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			s += ","
		}
		s += "_"
	}
	return s
}

// operatorMember compiles an operator overload: `- () { }` / `! () { }`
// for the unary forms, `+(other) { }` (and so on) for binary -- the
// parenthesized parameter list's arity (0 or 1) is what distinguishes
// them, matching how `-` alone is ambiguous between negate and subtract.
func (p *parser) operatorMember(fs *funcState, classReg int, isStatic bool, info *classInfo, opLiteral string) {
	params := p.parseParamList()
	sig := opLiteral
	if len(params) > 0 {
		sig = opLiteral + "(" + paramPlaceholders(len(params)) + ")"
	}
	child := p.pushMethodFunc(fs, info, sig, params)
	p.methodBodyBlock(child)
	p.emitImplicitReturn(child, false)
	proto := p.finishFunc(child)

	closureReg := p.emitClosure(fs, proto)
	p.bindMethodInstr(fs, classReg, isStatic, sig, closureReg)
}

// constructMember compiles `construct new(params) { body }` as a single
// static method: its very first instruction turns R0 (the class value
// every static call receives as its receiver) into a fresh instance, and
// its implicit return hands that instance back rather than null.
func (p *parser) constructMember(fs *funcState, classReg int, info *classInfo) {
	name := "new"
	if p.check(lexer.TokenIdentifier) {
		name = p.cur.Literal
		p.advance()
	}
	params := p.parseParamList()
	child := p.pushMethodFunc(fs, info, "construct "+name, params)
	p.emit(child, bytecode.ABC(bytecode.OpConstruct, 0, 0, 0), p.line())
	p.methodBodyBlock(child)
	p.emitImplicitReturn(child, true)
	proto := p.finishFunc(child)

	closureReg := p.emitClosure(fs, proto)
	sig := methodSigFor(name, len(params))
	p.bindMethodInstr(fs, classReg, true, sig, closureReg)
}

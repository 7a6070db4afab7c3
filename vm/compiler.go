package vm

import (
	"fmt"
	"math"
	"strconv"

	"github.com/hashicorp/go-multierror"
	e "github.com/loxvm/golox/errors"
	"github.com/loxvm/golox/debug"
	"github.com/sirupsen/logrus"
)

// maxLocals matches the single-byte slot operand GET_LOCAL/SET_LOCAL encode.
const maxLocals = math.MaxUint8 + 1

// uninitialized marks a Local that has been declared but whose initializer
// hasn't finished compiling yet, so that reading it in its own initializer
// is a compile error rather than silently reading garbage.
const uninitialized = -1

// Local is one entry of the Compiler's lexical stack: a name and the scope
// depth it was declared at.
type Local struct {
	name  Token
	depth int
}

// Compiler is a single-pass Pratt parser that emits bytecode directly into
// a Chunk as it parses: there is no intermediate AST. It owns the Scanner,
// the parser's own {prev, curr, panicMode} state, the lexical stack of
// Locals, and the Chunk under construction - all in the one struct, mutated
// as parsing proceeds.
type Compiler struct {
	*Scanner
	prev, curr Token

	chunk *Chunk

	locals     []Local
	scopeDepth int

	errors *multierror.Error
	// panicMode suppresses cascading diagnostics until sync() resyncs at a
	// statement boundary.
	panicMode bool
}

func NewCompiler() *Compiler { return &Compiler{} }

// Compile drives the Scanner to completion, emitting bytecode into a fresh
// Chunk. It always runs to EOF, collecting every error it can along the way,
// and fails only if at least one was reported.
func (c *Compiler) Compile(src string) (*Chunk, error) {
	c.chunk = NewChunk()
	c.Scanner = NewScanner(src)

	c.advance()
	for !c.match(TEOF) {
		c.decl()
	}
	c.endCompiler()
	return c.chunk, c.errors.ErrorOrNil()
}

/* Emitting bytecode */

func (c *Compiler) currChunk() *Chunk { return c.chunk }

func (c *Compiler) emitBytes(bs ...byte) {
	for _, b := range bs {
		c.currChunk().Write(b, c.prev.Line)
	}
}

func (c *Compiler) emitConst(val Value) { c.emitBytes(byte(OpConst), c.mkConst(val)) }

func (c *Compiler) mkConst(val Value) byte {
	idx := c.currChunk().AddConst(val)
	if idx > math.MaxUint8 {
		c.Error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) endCompiler() {
	c.emitBytes(byte(OpReturn))
	if debug.DEBUG {
		logrus.Debugln(c.currChunk().Disassemble("code"))
	}
}

// emitJump reserves a two-byte placeholder after inst and returns its
// offset, to be filled in later by patchJump.
func (c *Compiler) emitJump(inst OpCode) (offset int) {
	c.emitBytes(byte(inst), 0xff, 0xff)
	return len(c.currChunk().code) - 2
}

// patchJump writes the distance from just after the placeholder at offset
// to the current end of the chunk, as a big-endian uint16.
func (c *Compiler) patchJump(offset int) {
	code := c.currChunk().code
	jump := len(code) - (offset + 2)
	if jump > math.MaxUint16 {
		c.Error("Too much code to jump over.")
		return
	}
	code[offset], code[offset+1] = byte(jump>>8&0xff), byte(jump&0xff)
}

/* Expressions */

func (c *Compiler) num(_canAssign bool) {
	val, err := strconv.ParseFloat(c.prev.String(), 64)
	if err != nil {
		c.errors = multierror.Append(c.errors, err)
	}
	c.emitConst(VNum(val))
}

func (c *Compiler) grouping(_canAssign bool) {
	c.expr()
	c.consume(TRParen, "Expect ')' after expression.")
}

func (c *Compiler) lit(_canAssign bool) {
	switch c.prev.Type {
	case TFalse:
		c.emitBytes(byte(OpFalse))
	case TNil:
		c.emitBytes(byte(OpNil))
	case TTrue:
		c.emitBytes(byte(OpTrue))
	default:
		panic(e.UnreachableError)
	}
}

func (c *Compiler) str(_canAssign bool) {
	runes := c.prev.Runes
	// Strip the surrounding quotes the lexeme keeps; COPY the bytes inside.
	unquoted := string(runes[1 : len(runes)-1])
	c.emitConst(NewVStr(unquoted))
}

func (c *Compiler) var_(canAssign bool) { c.namedVar(c.prev, canAssign) }

func (c *Compiler) namedVar(name Token, canAssign bool) {
	var arg byte
	var get, set OpCode
	if slot := c.resolveLocal(name); slot != uninitialized {
		arg, get, set = byte(slot), OpGetLocal, OpSetLocal
	} else {
		arg, get, set = c.identConst(&name), OpGetGlobal, OpSetGlobal
	}

	if canAssign && c.match(TEqual) {
		c.expr()
		c.emitBytes(byte(set), arg)
		return
	}
	c.emitBytes(byte(get), arg)
}

func (c *Compiler) unary(_canAssign bool) {
	op := c.prev.Type

	// Compile the operand at unary precedence so e.g. `-a + b` negates only
	// `a` rather than the whole sum.
	c.parsePrec(PrecUnary)

	switch op {
	case TBang:
		c.emitBytes(byte(OpNot))
	case TMinus:
		c.emitBytes(byte(OpNeg))
	default:
		panic(e.UnreachableError)
	}
}

func (c *Compiler) binary(_canAssign bool) {
	op := c.prev.Type
	rule := parseRules[op]

	// Left-associative: parse the RHS one level above this operator's own
	// precedence.
	c.parsePrec(rule.Prec + 1)

	switch op {
	case TBangEqual:
		c.emitBytes(byte(OpEqual), byte(OpNot))
	case TEqualEqual:
		c.emitBytes(byte(OpEqual))
	case TGreater:
		c.emitBytes(byte(OpGreater))
	case TGreaterEqual:
		c.emitBytes(byte(OpLess), byte(OpNot))
	case TLess:
		c.emitBytes(byte(OpLess))
	case TLessEqual:
		c.emitBytes(byte(OpGreater), byte(OpNot))
	case TPlus:
		c.emitBytes(byte(OpAdd))
	case TMinus:
		c.emitBytes(byte(OpSub))
	case TStar:
		c.emitBytes(byte(OpMul))
	case TSlash:
		c.emitBytes(byte(OpDiv))
	default:
		panic(e.UnreachableError)
	}
}

// and implements short-circuit `and`: if the LHS is falsy, skip the RHS and
// leave the LHS on the stack as the result; otherwise drop the LHS and
// evaluate the RHS.
func (c *Compiler) and(_canAssign bool) {
	endJump := c.emitJump(OpJumpIfFalse)
	c.emitBytes(byte(OpPop))
	c.parsePrec(PrecAnd)
	c.patchJump(endJump)
}

// or implements short-circuit `or`: if the LHS is truthy, skip the RHS and
// leave the LHS on the stack as the result; otherwise drop the LHS and
// evaluate the RHS.
func (c *Compiler) or(_canAssign bool) {
	elseJump := c.emitJump(OpJumpIfFalse)
	endJump := c.emitJump(OpJump)
	c.patchJump(elseJump)
	c.emitBytes(byte(OpPop))
	c.parsePrec(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) expr() { c.parsePrec(PrecAssign) }

/* Statements */

func (c *Compiler) exprStmt() {
	c.expr()
	c.consume(TSemi, "Expect ';' after value.")
	c.emitBytes(byte(OpPop))
}

func (c *Compiler) printStmt() {
	c.expr()
	c.consume(TSemi, "Expect ';' after value.")
	c.emitBytes(byte(OpPrint))
}

func (c *Compiler) block() {
	for !c.check(TRBrace) && !c.check(TEOF) {
		c.decl()
	}
	c.consume(TRBrace, "Expect '}' after block.")
}

func (c *Compiler) ifStmt() {
	c.consume(TLParen, "Expect '(' after 'if'.")
	c.expr()
	c.consume(TRParen, "Expect ')' after condition.")

	thenJump := c.emitJump(OpJumpIfFalse)
	c.emitBytes(byte(OpPop)) // Discard the condition on the `then` path.
	c.stmt()

	elseJump := c.emitJump(OpJump)
	c.patchJump(thenJump)
	c.emitBytes(byte(OpPop)) // Discard the condition on the `else` path.

	if c.match(TElse) {
		c.stmt()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) stmt() {
	switch {
	case c.match(TPrint):
		c.printStmt()
	case c.match(TIf):
		c.ifStmt()
	case c.match(TLBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.exprStmt()
	}
}

func (c *Compiler) varDecl() {
	global := c.parseVar("Expect variable name.")
	if c.match(TEqual) {
		c.expr()
	} else {
		c.emitBytes(byte(OpNil))
	}
	c.consume(TSemi, "Expect ';' after variable declaration.")
	c.defVar(global)
}

func (c *Compiler) decl() {
	switch {
	case c.match(TVar):
		c.varDecl()
	default:
		c.stmt()
	}
	if c.panicMode {
		c.sync()
	}
}

/* Pratt parser */

type ParseFn = func(c *Compiler, canAssign bool)

type ParseRule struct {
	Prefix, Infix ParseFn
	Prec
}

var parseRules []ParseRule

func init() {
	parseRules = make([]ParseRule, TEOF+1)
	parseRules[TLParen] = ParseRule{(*Compiler).grouping, nil, PrecNone}
	parseRules[TMinus] = ParseRule{(*Compiler).unary, (*Compiler).binary, PrecTerm}
	parseRules[TPlus] = ParseRule{nil, (*Compiler).binary, PrecTerm}
	parseRules[TSlash] = ParseRule{nil, (*Compiler).binary, PrecFactor}
	parseRules[TStar] = ParseRule{nil, (*Compiler).binary, PrecFactor}
	parseRules[TBang] = ParseRule{(*Compiler).unary, nil, PrecNone}
	parseRules[TBangEqual] = ParseRule{nil, (*Compiler).binary, PrecEqual}
	parseRules[TEqualEqual] = ParseRule{nil, (*Compiler).binary, PrecEqual}
	parseRules[TGreater] = ParseRule{nil, (*Compiler).binary, PrecComp}
	parseRules[TGreaterEqual] = ParseRule{nil, (*Compiler).binary, PrecComp}
	parseRules[TLess] = ParseRule{nil, (*Compiler).binary, PrecComp}
	parseRules[TLessEqual] = ParseRule{nil, (*Compiler).binary, PrecComp}
	parseRules[TIdent] = ParseRule{(*Compiler).var_, nil, PrecNone}
	parseRules[TStr] = ParseRule{(*Compiler).str, nil, PrecNone}
	parseRules[TNum] = ParseRule{(*Compiler).num, nil, PrecNone}
	parseRules[TAnd] = ParseRule{nil, (*Compiler).and, PrecAnd}
	parseRules[TFalse] = ParseRule{(*Compiler).lit, nil, PrecNone}
	parseRules[TNil] = ParseRule{(*Compiler).lit, nil, PrecNone}
	parseRules[TOr] = ParseRule{nil, (*Compiler).or, PrecOr}
	parseRules[TTrue] = ParseRule{(*Compiler).lit, nil, PrecNone}
	parseRules[TEOF] = ParseRule{}
}

func (c *Compiler) parsePrec(prec Prec) {
	c.advance()

	prefix := parseRules[c.prev.Type].Prefix
	if prefix == nil {
		c.Error("Expect expression.")
		return
	}
	canAssign := prec <= PrecAssign
	prefix(c, canAssign)

	for {
		rule := parseRules[c.curr.Type]
		if rule.Prec < prec {
			break
		}
		c.advance()
		if rule.Infix == nil {
			panic(e.UnreachableError)
		}
		rule.Infix(c, canAssign)
	}

	if canAssign && c.match(TEqual) {
		c.Error("Invalid assignment target.")
	}
}

/* Parsing helpers */

func (c *Compiler) check(ty TokenType) bool     { return c.curr.Type == ty }
func (c *Compiler) checkPrev(ty TokenType) bool { return c.prev.Type == ty }

func (c *Compiler) advance() {
	c.prev = c.curr
	for {
		if c.curr = c.ScanToken(); !c.check(TErr) {
			break
		}
		c.ErrorAtCurr(c.curr.String())
	}
	if logrus.IsLevelEnabled(logrus.DebugLevel) {
		logrus.Debugf("scanned %s %q (line %d)", c.curr.Type, c.curr.String(), c.curr.Line)
	}
}

func (c *Compiler) match(ty TokenType) (matched bool) {
	if !c.check(ty) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(ty TokenType, errorMsg string) *Token {
	if !c.check(ty) {
		c.ErrorAtCurr(errorMsg)
		return nil
	}
	c.advance()
	return &c.prev
}

/* Variables and scoping */

func (c *Compiler) identConst(name *Token) byte { return c.mkConst(NewVStr(name.String())) }

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope() {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		c.emitBytes(byte(OpPop))
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) addLocal(name Token) {
	if len(c.locals) >= maxLocals {
		c.Error("Too many local variables in function.")
		return
	}
	c.locals = append(c.locals, Local{name, uninitialized})
}

// declVar declares a local in the current scope, rejecting a duplicate name
// already declared at the same depth. Declarations at global scope (depth
// 0) are resolved by name at runtime instead, so there's nothing to do here.
func (c *Compiler) declVar() {
	if c.scopeDepth == 0 {
		return
	}
	name := c.prev
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := c.locals[i]
		if local.depth != uninitialized && local.depth < c.scopeDepth {
			break // A shallower scope: shadowing is fine.
		}
		if name.Eq(local.name) {
			c.Error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

// parseVar consumes an identifier, declares it, and returns the constant
// index to use with DEFINE_GLOBAL - or nil if it was declared local, since
// locals are resolved by stack slot, not by name constant.
func (c *Compiler) parseVar(errorMsg string) *byte {
	target := c.consume(TIdent, errorMsg)
	if target == nil {
		return nil
	}
	c.declVar()
	if c.scopeDepth > 0 {
		return nil
	}
	res := c.identConst(target)
	return &res
}

// markInitialized flips the most recently declared local from "declared"
// to "ready", letting later references to it succeed.
func (c *Compiler) markInitialized() {
	if c.scopeDepth == 0 {
		return
	}
	c.locals[len(c.locals)-1].depth = c.scopeDepth
}

func (c *Compiler) defVar(global *byte) {
	if global == nil {
		// Local: the value is already sitting in the right stack slot.
		c.markInitialized()
		return
	}
	c.emitBytes(byte(OpDefGlobal), *global)
}

// resolveLocal searches the lexical stack from newest to oldest, returning
// uninitialized if name isn't a local (i.e. it's a global).
func (c *Compiler) resolveLocal(name Token) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := c.locals[i]
		if name.Eq(local.name) {
			if local.depth == uninitialized {
				c.Error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return uninitialized
}

/* Precedence */

//go:generate stringer -type=Prec
type Prec int

const (
	PrecNone   Prec = iota
	PrecAssign      // =
	PrecOr          // or
	PrecAnd         // and
	PrecEqual       // == !=
	PrecComp        // < > <= >=
	PrecTerm        // + -
	PrecFactor      // * /
	PrecUnary       // ! -
	PrecCall        // . ()
	PrecPrimary
)

/* Error handling */

// sync discards tokens until it reaches a likely statement boundary: right
// after a ';', or right before a statement-introducing keyword. This bounds
// how far a single error cascades before compilation can resume collecting
// fresh ones.
func (c *Compiler) sync() {
	c.panicMode = false
	for !c.check(TEOF) {
		if c.checkPrev(TSemi) {
			return
		}
		switch c.curr.Type {
		case TClass, TFun, TVar, TFor, TIf, TWhile, TPrint, TReturn:
			return
		}
		c.advance()
	}
}

func (c *Compiler) ErrorAt(tk Token, reason string) {
	// While panicking, swallow follow-on errors until sync() resyncs.
	if c.panicMode {
		return
	}
	c.panicMode = true

	var at string
	switch tk.Type {
	case TEOF:
		at = "at end"
	case TErr:
		// The Scanner already folded its diagnostic into reason; there's no
		// lexeme worth pointing at.
		at = ""
	default:
		at = fmt.Sprintf("at '%s'", tk)
	}
	err := &e.CompilationError{Line: tk.Line, Where: at, Reason: reason}

	if debug.DEBUG {
		logrus.Debugln(err)
	}
	c.errors = multierror.Append(c.errors, err)
}

func (c *Compiler) Error(reason string)       { c.ErrorAt(c.prev, reason) }
func (c *Compiler) ErrorAtCurr(reason string) { c.ErrorAt(c.curr, reason) }
func (c *Compiler) HadError() bool            { return c.errors != nil }

package vm

import (
	"fmt"

	"github.com/loxvm/golox/utils"
)

//go:generate stringer -type=OpCode
type OpCode byte

const (
	OpReturn OpCode = iota
	OpConst
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpGetLocal
	OpSetLocal
	OpGetGlobal
	OpDefGlobal
	OpSetGlobal
	OpEqual
	OpGreater
	OpLess
	OpNot
	OpNeg
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpPrint
	OpJump
	OpJumpIfFalse
	OpLoop
)

// Chunk is a contiguous bytecode buffer with a parallel source-line table
// and an append-only constant pool. Contract: len(lines) == len(code).
type Chunk struct {
	code []byte
	// Contract: len(lines) == len(code)
	lines  []int
	consts []Value
}

func NewChunk() *Chunk { return &Chunk{} }

func (c *Chunk) Write(b byte, line int) {
	c.code = append(c.code, b)
	c.lines = append(c.lines, line)
}

// AddConst appends to the constant pool and returns its index. Callers must
// keep the result within a byte, since every opcode that references a
// constant encodes its index in a single operand byte.
func (c *Chunk) AddConst(const_ Value) (idx int) {
	idx = len(c.consts)
	c.consts = append(c.consts, const_)
	return
}

// DisassembleInst renders the instruction at offset and returns the offset
// of the instruction that follows it.
func (c *Chunk) DisassembleInst(offset int) (res string, newOffset int) {
	sprintf := func(format string, a ...any) { res += fmt.Sprintf(format, a...) }

	sprintf("%04d ", offset)
	if offset > 0 && c.lines[offset] == c.lines[offset-1] {
		sprintf("   | ")
	} else {
		sprintf("%4d ", c.lines[offset])
	}

	switch inst := OpCode(c.code[offset]); inst {
	// Unary operators: one operand byte.
	case OpConst, OpGetGlobal, OpDefGlobal, OpSetGlobal:
		const_ := c.code[offset+1]
		sprintf("%-16s %4d '%s'", inst, const_, c.consts[const_])
		return res, offset + 2
	case OpGetLocal, OpSetLocal:
		slot := c.code[offset+1]
		sprintf("%-16s %4d", inst, slot)
		return res, offset + 2

	// Jump operators: two big-endian operand bytes giving a relative offset.
	case OpJump, OpJumpIfFalse, OpLoop:
		hi, lo := c.code[offset+1], c.code[offset+2]
		jump := int(hi)<<8 | int(lo)
		sign := 1 - 2*utils.BoolToInt[int](inst == OpLoop)
		sprintf("%-16s %4d -> %d", inst, offset, offset+3+sign*jump)
		return res, offset + 3

	// Nullary operators.
	default:
		sprintf("%s", inst)
		return res, offset + 1
	}
}

func (c *Chunk) Disassemble(name string) (res string) {
	res = fmt.Sprintf("== %s ==\n", name)
	for i := 0; i < len(c.code); {
		var delta string
		delta, i = c.DisassembleInst(i)
		res += delta + "\n"
	}
	return res
}

package vm

import (
	"bufio"
	"fmt"
	"io"

	"github.com/chzyer/readline"
	"github.com/loxvm/golox/debug"
	e "github.com/loxvm/golox/errors"
	"github.com/loxvm/golox/utils"
	"github.com/sirupsen/logrus"
)

// InterpretResult is the outcome of a single VM.Interpret call.
//
//go:generate stringer -type=InterpretResult
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// VM is a stack machine: it executes a Chunk's bytecode against a value
// stack and a globals table, one instruction at a time.
type VM struct {
	chunk *Chunk
	ip    int
	// instrStart is the ip of the instruction currently executing, used to
	// attribute runtime errors to the right source line.
	instrStart int
	stack      []Value
	globals    map[VStr]Value
}

func NewVM() *VM { return &VM{} }

func (vm *VM) reset() {
	vm.stack = vm.stack[:0]
	vm.globals = map[VStr]Value{}
}

func (vm *VM) push(val Value) { vm.stack = append(vm.stack, val) }

func (vm *VM) pop() (last Value) {
	len_ := len(vm.stack)
	vm.stack, last = vm.stack[:len_-1], vm.stack[len_-1]
	return
}

func (vm *VM) peek(dist int) Value { return vm.stack[len(vm.stack)-1-dist] }

// REPL reads one line at a time from stdin and interprets each
// independently: golox's REPL carries no session state across lines.
func (vm *VM) REPL() error {
	rl, err := readline.New(">> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		switch err {
		case nil:
		case io.EOF, readline.ErrInterrupt:
			return nil
		default:
			return err
		}
		if _, err := vm.Interpret(line); err != nil {
			fmt.Fprintln(rl.Stderr(), err)
		}
	}
}

// RunFile reads all of r and interprets it, returning its InterpretResult
// so the caller can pick an exit code. A read failure is returned as
// InterpretRuntimeError together with the read error.
func (vm *VM) RunFile(r io.Reader) (InterpretResult, error) {
	src, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return InterpretRuntimeError, err
	}
	return vm.Interpret(string(src))
}

// Interpret compiles and runs src against a freshly reset VM, per the
// language's "each line/file is independent" contract.
func (vm *VM) Interpret(src string) (InterpretResult, error) {
	vm.reset()

	compiler := NewCompiler()
	chunk, err := compiler.Compile(src)
	if err != nil {
		return InterpretCompileError, err
	}

	vm.chunk = chunk
	vm.ip = 0
	return vm.run()
}

func (vm *VM) readByte() (res byte) {
	res = vm.chunk.code[vm.ip]
	vm.ip++
	return
}

func (vm *VM) readShort() (res int) {
	hi, lo := vm.readByte(), vm.readByte()
	return int(hi)<<8 | int(lo)
}

func (vm *VM) runtimeErr(format string, a ...any) error {
	line := vm.chunk.lines[vm.instrStart]
	err := &e.RuntimeError{Line: line, Reason: fmt.Sprintf(format, a...)}
	vm.reset()
	return err
}

func (vm *VM) run() (InterpretResult, error) {
	for {
		if debug.DEBUG && logrus.IsLevelEnabled(logrus.DebugLevel) {
			logrus.Debugln(vm.stackTrace())
			instDump, _ := vm.chunk.DisassembleInst(vm.ip)
			logrus.Debugln(instDump)
		}

		vm.instrStart = vm.ip
		switch inst := OpCode(vm.readByte()); inst {
		case OpConst:
			vm.push(vm.chunk.consts[vm.readByte()])

		case OpNil:
			vm.push(VNil{})
		case OpTrue:
			vm.push(VBool(true))
		case OpFalse:
			vm.push(VBool(false))

		case OpPop:
			vm.pop()

		case OpGetLocal:
			vm.push(vm.stack[vm.readByte()])
		case OpSetLocal:
			vm.stack[vm.readByte()] = vm.peek(0)

		case OpDefGlobal:
			name := vm.chunk.consts[vm.readByte()].(VStr)
			vm.globals[name] = vm.pop()

		case OpGetGlobal:
			name := vm.chunk.consts[vm.readByte()].(VStr)
			val, ok := vm.globals[name]
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Undefined variable '%s'.", name)
			}
			vm.push(val)

		case OpSetGlobal:
			name := vm.chunk.consts[vm.readByte()].(VStr)
			if _, ok := vm.globals[name]; !ok {
				return InterpretRuntimeError, vm.runtimeErr("Undefined variable '%s'.", name)
			}
			vm.globals[name] = vm.peek(0)

		case OpEqual:
			rhs, lhs := vm.pop(), vm.pop()
			vm.push(VEq(lhs, rhs))
		case OpGreater:
			rhs, lhs := vm.pop(), vm.pop()
			res, ok := VGreater(lhs, rhs)
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Operands must be numbers.")
			}
			vm.push(res)
		case OpLess:
			rhs, lhs := vm.pop(), vm.pop()
			res, ok := VLess(lhs, rhs)
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Operands must be numbers.")
			}
			vm.push(res)

		case OpAdd:
			rhs, lhs := vm.pop(), vm.pop()
			res, ok := VAdd(lhs, rhs)
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Operands must be two numbers or two strings.")
			}
			vm.push(res)
		case OpSub:
			rhs, lhs := vm.pop(), vm.pop()
			res, ok := VSub(lhs, rhs)
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Operands must be numbers.")
			}
			vm.push(res)
		case OpMul:
			rhs, lhs := vm.pop(), vm.pop()
			res, ok := VMul(lhs, rhs)
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Operands must be numbers.")
			}
			vm.push(res)
		case OpDiv:
			rhs, lhs := vm.pop(), vm.pop()
			res, ok := VDiv(lhs, rhs)
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Operands must be numbers.")
			}
			vm.push(res)

		case OpNot:
			vm.push(VBool(VFalsy(vm.pop())))
		case OpNeg:
			res, ok := VNeg(vm.pop())
			if !ok {
				return InterpretRuntimeError, vm.runtimeErr("Operand must be a number.")
			}
			vm.push(res)

		case OpPrint:
			fmt.Printf("%s\n", vm.pop())

		case OpJump:
			vm.ip += vm.readShort()
		case OpJumpIfFalse:
			offset := vm.readShort()
			if VFalsy(vm.peek(0)) {
				vm.ip += offset
			}
		case OpLoop:
			vm.ip -= vm.readShort()

		case OpReturn:
			// Testable invariant: a well-formed program leaves nothing on
			// the value stack once it halts.
			debug.Assertf(!utils.IntToBool(len(vm.stack)), "value stack not empty at return (%d left)", len(vm.stack))
			return InterpretOK, nil

		default:
			return InterpretRuntimeError, vm.runtimeErr("unknown instruction '%d'", inst)
		}
	}
}

func (vm *VM) stackTrace() string {
	res := "          "
	for _, slot := range vm.stack {
		res += fmt.Sprintf("[ %s ]", slot)
	}
	return res
}

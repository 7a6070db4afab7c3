package vm

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// disasmLine is one row of a Chunk's disassembly, broken out field-by-field
// so a diff points at the byte offset or operand that actually changed
// instead of dumping two long strings at each other.
type disasmLine struct {
	offset, line, op string
	rest             string
}

func parseDisasm(t *testing.T, dump string) []disasmLine {
	t.Helper()
	var lines []disasmLine
	for _, raw := range strings.Split(strings.TrimRight(dump, "\n"), "\n") {
		if strings.HasPrefix(raw, "==") {
			continue
		}
		fields := strings.Fields(raw)
		if len(fields) < 3 {
			t.Fatalf("malformed disassembly line: %q", raw)
		}
		lines = append(lines, disasmLine{
			offset: fields[0],
			line:   fields[1],
			op:     fields[2],
			rest:   strings.Join(fields[3:], " "),
		})
	}
	return lines
}

// TestDisassembleRoundTrip writes a chunk by hand covering each operand
// shape (a constant, a local slot, a forward jump, and a loop never emitted
// by the grammar but still disassembler-reachable) and checks that disassembling
// twice in a row is stable: DisassembleInst must be a pure read, advancing
// the offset without mutating the Chunk it reads from.
func TestDisassembleRoundTrip(t *testing.T) {
	c := NewChunk()
	constIdx := c.AddConst(VNum(1))
	c.Write(byte(OpConst), 1)
	c.Write(byte(constIdx), 1)
	c.Write(byte(OpGetLocal), 2)
	c.Write(0, 2)
	c.Write(byte(OpJumpIfFalse), 3)
	c.Write(0, 3)
	c.Write(0, 3)
	c.Write(byte(OpLoop), 3)
	c.Write(0, 3)
	c.Write(5, 3)
	c.Write(byte(OpReturn), 4)

	first := parseDisasm(t, c.Disassemble("round-trip"))
	second := parseDisasm(t, c.Disassemble("round-trip"))

	if diff := cmp.Diff(first, second, cmp.AllowUnexported(disasmLine{})); diff != "" {
		t.Fatalf("disassembling the same chunk twice produced different output (-first +second):\n%s", diff)
	}
	if len(first) != 5 {
		t.Fatalf("expected 5 disassembled instructions, got %d", len(first))
	}
	if first[0].op != "OpConst" || first[4].op != "OpReturn" {
		t.Fatalf("unexpected opcode sequence: %+v", first)
	}
}

// TestDisassembleJumpTargets checks that OpJumpIfFalse and OpLoop render
// their target as a forward vs. backward offset from the instruction after
// the jump, matching the sign convention patchJump and the VM's OpLoop
// handler both rely on.
func TestDisassembleJumpTargets(t *testing.T) {
	c := NewChunk()
	c.Write(byte(OpJumpIfFalse), 1)
	c.Write(0, 1)
	c.Write(3, 1) // jump forward 3 bytes from offset 3, to offset 6.
	c.Write(byte(OpPop), 1)
	c.Write(byte(OpLoop), 1)
	c.Write(0, 1)
	c.Write(6, 1) // loop back 6 bytes from offset 7, to offset 1.

	want := []disasmLine{
		{offset: "0000", line: "1", op: "OpJumpIfFalse", rest: "0 -> 6"},
		{offset: "0003", line: "|", op: "OpPop"},
		{offset: "0004", line: "|", op: "OpLoop", rest: "4 -> 1"},
	}
	got := parseDisasm(t, c.Disassemble("jumps"))
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(disasmLine{})); diff != "" {
		t.Fatalf("jump disassembly mismatch (-want +got):\n%s", diff)
	}
}

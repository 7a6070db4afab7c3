package vm_test

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/loxvm/golox/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, f func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	f()

	require.NoError(t, w.Close())
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func run(t *testing.T, src string) (string, vm.InterpretResult, error) {
	t.Helper()
	var res vm.InterpretResult
	var err error
	out := captureStdout(t, func() {
		res, err = vm.NewVM().Interpret(src)
	})
	return out, res, err
}

func TestArithmetic(t *testing.T) {
	cases := []struct{ src, want string }{
		{"print 1 + 2 * 3;", "7\n"},
		{"print (1 + 2) * 3;", "9\n"},
		{"print !(5 - 4 > 3 * 2 == !nil);", "true\n"},
		{"print 10 / 4;", "2.5\n"},
		{"print -3;", "-3\n"},
		{"print 2 == 2.0;", "true\n"},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			out, res, err := run(t, c.src)
			assert.NoError(t, err)
			assert.Equal(t, vm.InterpretOK, res)
			assert.Equal(t, c.want, out)
		})
	}
}

func TestStringConcat(t *testing.T) {
	out, res, err := run(t, `var a = "st"; var b = "r"; print a + b + "ing";`)
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "string\n", out)
}

func TestGlobalsAndBlockScoping(t *testing.T) {
	out, res, err := run(t, `var a = 1; { var a = 2; print a; } print a;`)
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "2\n1\n", out)
}

func TestAssignmentIsAnExpression(t *testing.T) {
	out, res, err := run(t, `var a = 1; var b; print b = a = 9;`)
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "9\n", out)
}

func TestIfElse(t *testing.T) {
	out, res, err := run(t, `if (true and false) print "x"; else print "y";`)
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "y\n", out)
}

func TestIfWithoutElse(t *testing.T) {
	out, res, err := run(t, `var a = 0; if (a == 0) a = 1; print a;`)
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "1\n", out)
}

func TestOrShortCircuit(t *testing.T) {
	out, res, err := run(t, `print "trick" or nonexistent;`)
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "trick\n", out)
}

func TestAndShortCircuit(t *testing.T) {
	out, res, err := run(t, `print nil and nonexistent;`)
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "nil\n", out)
}

func TestNestedBlocksAndShadowing(t *testing.T) {
	out, res, err := run(t, heredoc.Doc(`
		var a = "global";
		{
			var a = "outer";
			{
				var a = "inner";
				print a;
			}
			print a;
		}
		print a;
	`))
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "inner\nouter\nglobal\n", out)
}

func TestRuntimeErrorTypeMismatch(t *testing.T) {
	_, res, err := run(t, `print 1 + "x";`)
	assert.Equal(t, vm.InterpretRuntimeError, res)
	assert.ErrorContains(t, err, "Operands must be two numbers or two strings.")
	assert.ErrorContains(t, err, "[line 1] in script")
}

func TestRuntimeErrorUndefinedGlobal(t *testing.T) {
	_, res, err := run(t, `print undefined;`)
	assert.Equal(t, vm.InterpretRuntimeError, res)
	assert.ErrorContains(t, err, "Undefined variable 'undefined'.")
}

func TestRuntimeErrorUndefinedAssignment(t *testing.T) {
	_, res, err := run(t, `undefined = 1;`)
	assert.Equal(t, vm.InterpretRuntimeError, res)
	assert.ErrorContains(t, err, "Undefined variable 'undefined'.")
}

func TestCompileErrorReadOwnInitializer(t *testing.T) {
	_, res, err := run(t, `{ var a = a; }`)
	assert.Equal(t, vm.InterpretCompileError, res)
	assert.ErrorContains(t, err, "Can't read local variable in its own initializer.")
}

func TestGlobalSelfReferenceIsAllowed(t *testing.T) {
	// Unlike a local, "var a = a;" at global scope is not a compile error:
	// globals resolve by name at runtime, so there's no local slot marked
	// "declared but uninitialized" to catch the self-reference against.
	// It surfaces as a runtime "undefined variable" instead.
	_, res, err := run(t, `var a = a;`)
	assert.Equal(t, vm.InterpretRuntimeError, res)
	assert.ErrorContains(t, err, "Undefined variable 'a'.")
}

func TestCompileErrorDuplicateLocal(t *testing.T) {
	_, res, err := run(t, `{ var a; var a; }`)
	assert.Equal(t, vm.InterpretCompileError, res)
	assert.ErrorContains(t, err, "Already a variable with this name in this scope.")
}

func TestCompileErrorInvalidAssignmentTarget(t *testing.T) {
	_, res, err := run(t, `1 + 2 = 3;`)
	assert.Equal(t, vm.InterpretCompileError, res)
	assert.ErrorContains(t, err, "Invalid assignment target.")
}

func TestCompileErrorUnterminatedString(t *testing.T) {
	_, res, err := run(t, "\"unterminated")
	assert.Equal(t, vm.InterpretCompileError, res)
	assert.ErrorContains(t, err, "Unterminated string.")
}

func TestCompileErrorReportsMultiple(t *testing.T) {
	// Compilation always runs to EOF so multiple independent errors are
	// surfaced in a single pass instead of stopping at the first one.
	_, res, err := run(t, "var ;\n)\n")
	assert.Equal(t, vm.InterpretCompileError, res)
	assert.ErrorContains(t, err, "[line 1]")
	assert.ErrorContains(t, err, "[line 2]")
}

func TestLocalShadowingGlobalByName(t *testing.T) {
	out, res, err := run(t, heredoc.Doc(`
		var out = "x";
		{
			var b = out;
			var out = b + b;
			print out;
		}
	`))
	assert.NoError(t, err)
	assert.Equal(t, vm.InterpretOK, res)
	assert.Equal(t, "xx\n", out)
}

func TestEachInterpretCallIsIndependent(t *testing.T) {
	vm_ := vm.NewVM()
	_, err := vm_.Interpret(`var a = 1;`)
	assert.NoError(t, err)

	out, res, err := func() (string, vm.InterpretResult, error) {
		var r vm.InterpretResult
		var e error
		s := captureStdout(t, func() { r, e = vm_.Interpret(`print a;`) })
		return s, r, e
	}()
	assert.Empty(t, out)
	assert.Equal(t, vm.InterpretRuntimeError, res)
	assert.ErrorContains(t, err, "Undefined variable 'a'.")
}

package debug

import (
	"fmt"
	"os"
)

// DEBUG gates the VM's verbose tracing: stack dumps before each instruction,
// disassembly on compile, and the internal assertions below. It's read once
// from GOLOX_DEBUG so a release build stays quiet by default.
var DEBUG = os.Getenv("GOLOX_DEBUG") != ""

func Assertf(b bool, format string, a ...any) {
	if DEBUG && !b {
		panic(fmt.Sprintf(format, a...))
	}
}

func AssertEq[T comparable](expected, got T) { Assertf(expected == got, "%v != %v", expected, got) }

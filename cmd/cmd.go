package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/loxvm/golox/vm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	easy "github.com/t-tomalak/logrus-easy-formatter"
)

// Exit codes follow the sysexits.h split this corpus's other CLI tools use:
// a usage error, an unreadable input, and golox's own two failure modes.
const (
	exitUsage        = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

func App() (app *cobra.Command) {
	app = &cobra.Command{
		Use:                "golox [script]",
		Short:              "Launch the golox interpreter",
		DisableFlagParsing: false,
		Args:               cobra.ArbitraryArgs,
	}

	app.Flags().SortFlags = true
	defaultVerbosityStr := "INFO"
	verbosity := app.Flags().StringP("verbosity", "v", defaultVerbosityStr, "Logging verbosity")

	app.Run = func(_ *cobra.Command, args []string) {
		verbosityLvl, err := logrus.ParseLevel(*verbosity)
		if err != nil {
			verbosityLvl, _ = logrus.ParseLevel(defaultVerbosityStr)
		}
		logrus.SetLevel(verbosityLvl)
		logrus.SetFormatter(&easy.Formatter{LogFormat: "//DBG// %msg%\n"})

		os.Exit(appMain(args))
	}
	return
}

func appMain(args []string) int {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: golox [path]")
		return exitUsage
	}

	vm_ := vm.NewVM()
	if len(args) == 0 {
		if err := vm_.REPL(); err != nil {
			logrus.Fatal(err)
		}
		return 0
	}
	return runFile(vm_, args[0])
}

func runFile(vm_ *vm.VM, path string) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't open file %q: %s\n", path, err)
		return exitIOError
	}
	defer f.Close()

	src, err := io.ReadAll(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't read file %q: %s\n", path, err)
		return exitIOError
	}

	res, err := vm_.Interpret(string(src))
	logrus.Debugf("%s finished with %s", path, res)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	switch res {
	case vm.InterpretCompileError:
		return exitCompileError
	case vm.InterpretRuntimeError:
		return exitRuntimeError
	default:
		return 0
	}
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/embedded"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0-dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code. A fatal
// installation failure is reported like any other error.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := execute(root.Execute); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func execute(f func() error) (err error) {
	defer embedded.RecoverFatal(&err)
	return f()
}

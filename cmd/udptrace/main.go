// Command udptrace is a thin CLI wrapper over the tracer package.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

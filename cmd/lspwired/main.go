// Command lspwired is a demo JSON-RPC/LSP server: it wires the
// Lifecycle Gate, Dispatcher, and Connection from the internal core
// packages onto a chosen transport, replacing teacher's hand-rolled
// parseArgs/printHelp main.go with a cobra command tree.
package main

import (
	"fmt"
	"os"

	"github.com/firi/lspwire/cmd/lspwired/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

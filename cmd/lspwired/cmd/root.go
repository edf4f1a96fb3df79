package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lspwired",
	Short: "A minimal JSON-RPC/LSP server built on the lspwire core",
	Long: `lspwired is a demo server exercising the lspwire core: frame codec,
dispatcher, bidirectional Connection, lifecycle gate, and typed handler
adapters. It answers initialize/shutdown/exit and textDocument/hover
with a canned result, so the core's wire behavior can be driven
end-to-end over stdio or a Unix socket. serve has no websocket
listen mode.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "lspwired.yaml", "path to the server config file")
}

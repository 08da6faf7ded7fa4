package main

import (
	"fmt"
	"os"

	"github.com/danmuck/atrpc/internal/logging"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags.
var (
	commit = "none"
	date   = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "atrpc: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "atrpc",
		Short: "AT protocol RPC server and client",
		Long: `atrpc serves and calls functions over the AT binary protocol:
a 16-byte big-endian header, a CRC-32 checked body and JSON payloads over TCP.

Examples:
  atrpc serve --addr 127.0.0.1:6006 --admin 127.0.0.1:6007
  atrpc call --addr 127.0.0.1:6006 add 10 20
  atrpc config init --kind server --output server.toml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}
	root.AddCommand(
		serveCmd(),
		callCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

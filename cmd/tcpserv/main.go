package main

import (
	"fmt"
	"os"

	"github.com/danmuck/tcpserv/internal/logging"
	"github.com/spf13/cobra"
)

// Version information set at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tcpserv: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tcpserv",
		Short: "Length-prefixed request/response over TCP",
		Long: `tcpserv answers exactly one length-prefixed request per TCP connection.

Each frame is a 4-byte big-endian length followed by that many bytes.
The server handles every connection on its own goroutine, runs the
configured handler, writes one response frame, and closes.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		requestCmd(),
		benchCmd(),
		configCmd(),
	)
	return rootCmd
}

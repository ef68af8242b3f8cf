package main

import (
	"fmt"
	"os"

	"github.com/danmuck/framechan/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logging.ConfigureRuntime()
	gin.SetMode(gin.ReleaseMode)

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "framechan: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "framechan",
		Short: "Origin-checked message channels between two peers",
		Long: `framechan establishes a channel between two peers with a three-way
handshake over websocket and relays JSON messages across it.

One side listens (responder), the other dials (initiator).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		listenCmd(),
		dialCmd(),
		configCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "framechan %s (%s)\n", version, commit)
		},
	}
}

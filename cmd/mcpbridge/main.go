package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/mcpbridge/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcpbridge",
	Short: "MCP tool bridge",
	Long:  "mcpbridge exposes a catalog of HTTP-backed tools to MCP clients over JSON-RPC and Server-Sent Events.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().Bool("quiet", false, "Suppress all log output except errors")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text | json")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("mcpbridge version %s\n", version))

	rootCmd.AddCommand(cli.NewServeCmd())
	rootCmd.AddCommand(cli.NewStdioCmd())
	rootCmd.AddCommand(cli.NewToolsCmd())
	rootCmd.AddCommand(cli.NewCallCmd())
}

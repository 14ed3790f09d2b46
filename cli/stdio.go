package cli

import (
	"github.com/spf13/cobra"

	"github.com/petal-labs/mcpbridge/mcp"
)

// NewStdioCmd creates the "stdio" subcommand.
func NewStdioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stdio",
		Short: "Serve JSON-RPC over stdin/stdout",
		Long: "Read newline-delimited JSON-RPC requests from stdin and write one response\n" +
			"line per request to stdout. Logs go to stderr.",
		Args: cobra.NoArgs,
		RunE: runStdio,
	}
	cmd.Flags().String("config", "", "Path to bridge config (env MCPBRIDGE_CONFIG)")
	cmd.Flags().String("conflict-policy", "", "Duplicate tool handling: fail | skip")
	cmd.Flags().Duration("call-timeout", 0, "Bound on one tool invocation (0 = none)")
	return cmd
}

func runStdio(cmd *cobra.Command, _ []string) error {
	callTimeout, _ := cmd.Flags().GetDuration("call-timeout")

	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}

	bc, err := loadBridgeConfig(cmd)
	if err != nil {
		return err
	}
	reg, _, err := bc.discover(logger)
	if err != nil {
		return err
	}

	dispatcher, err := mcp.NewDispatcher(mcp.DispatcherConfig{
		Registry:    reg,
		ServerInfo:  bc.serverInfo(cmd),
		CallTimeout: callTimeout,
		Logger:      logger,
	})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	if err := dispatcher.ServeStream(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	return nil
}

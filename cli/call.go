package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/mcpbridge/mcp"
)

const defaultBridgeURL = "http://127.0.0.1:8080"

// NewCallCmd creates the "call" subcommand.
func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool on a running bridge",
		Args:  cobra.ExactArgs(1),
		RunE:  runCall,
	}
	cmd.Flags().String("args", "{}", "Tool arguments as a JSON object")
	cmd.Flags().String("url", "", "Bridge base URL (default: "+defaultBridgeURL+"; env MCPBRIDGE_URL)")
	cmd.Flags().String("token", "", "Bearer token (env MCPBRIDGE_TOKEN)")
	cmd.Flags().Duration("timeout", 60*time.Second, "Request timeout")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	name := strings.TrimSpace(args[0])
	rawArgs, _ := cmd.Flags().GetString("args")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var arguments map[string]any
	if strings.TrimSpace(rawArgs) != "" {
		if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
			return exitError(exitConfig, "invalid --args: %v", err)
		}
	}

	baseURL := flagOrEnv(cmd, "url", envURL)
	if baseURL == "" {
		baseURL = defaultBridgeURL
	}
	transport, err := mcp.NewHTTPTransport(mcp.HTTPTransportConfig{
		Endpoint: strings.TrimRight(baseURL, "/") + "/message",
		Token:    flagOrEnv(cmd, "token", envToken),
		Client:   &http.Client{Timeout: timeout},
	})
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	client := mcp.NewClient(transport)
	defer func() { _ = client.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	result, err := client.CallTool(ctx, name, arguments)
	if err != nil {
		var rpcErr *mcp.RPCError
		if errors.As(err, &rpcErr) {
			return exitError(exitRemote, "%s", rpcErr.Message)
		}
		return exitError(exitRemote, "calling %s: %v", name, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Text())
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/mcpbridge/mcp"
	"github.com/petal-labs/mcpbridge/tool"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Run tool discovery and print the catalog",
		Long: "Run tool discovery from the bridge config and print the resulting catalog in\n" +
			"registration order. Exits with code 2 when discovery fails.\n\n" +
			"With --remote, list the catalog served by a running bridge instead.",
		Args: cobra.NoArgs,
		RunE: runTools,
	}
	cmd.Flags().String("config", "", "Path to bridge config (env MCPBRIDGE_CONFIG)")
	cmd.Flags().String("conflict-policy", "", "Duplicate tool handling: fail | skip")
	cmd.Flags().Bool("json", false, "Print the catalog as JSON")
	cmd.Flags().String("remote", "", "Base URL of a running bridge to list from")
	cmd.Flags().String("token", "", "Bearer token for --remote (env MCPBRIDGE_TOKEN)")
	return cmd
}

// catalogEntry is one row of the tools output.
type catalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Endpoint    string         `json:"endpoint,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

func runTools(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	if remote, _ := cmd.Flags().GetString("remote"); strings.TrimSpace(remote) != "" {
		entries, err := remoteCatalog(cmd, remote)
		if err != nil {
			return err
		}
		return printCatalog(cmd, entries, asJSON)
	}

	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	bc, err := loadBridgeConfig(cmd)
	if err != nil {
		return err
	}
	reg, report, err := bc.discover(logger)
	if err != nil {
		return err
	}

	for _, rejected := range report.Rejected {
		fmt.Fprintf(cmd.ErrOrStderr(), "rejected %s: %v\n", rejected.Name, rejected.Err)
	}

	entries := make([]catalogEntry, 0, reg.Len())
	for d := range reg.List() {
		entry := catalogEntry{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
		if ep, ok := d.Handler.(tool.Endpointer); ok {
			entry.Endpoint = ep.Endpoint()
		}
		entries = append(entries, entry)
	}

	return printCatalog(cmd, entries, asJSON)
}

// remoteCatalog lists the tools of a running bridge through tools/list.
func remoteCatalog(cmd *cobra.Command, baseURL string) ([]catalogEntry, error) {
	transport, err := mcp.NewHTTPTransport(mcp.HTTPTransportConfig{
		Endpoint: strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/message",
		Token:    flagOrEnv(cmd, "token", envToken),
		Client:   &http.Client{Timeout: 30 * time.Second},
	})
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	client := mcp.NewClient(transport)
	defer func() { _ = client.Close(context.Background()) }()

	result, err := client.ListTools(cmd.Context())
	if err != nil {
		return nil, exitError(exitRemote, "listing tools: %v", err)
	}
	entries := make([]catalogEntry, 0, len(result.Tools))
	for _, t := range result.Tools {
		entries = append(entries, catalogEntry{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return entries, nil
}

func printCatalog(cmd *cobra.Command, entries []catalogEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"tools": entries})
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tENDPOINT\tDESCRIPTION")
	for _, entry := range entries {
		endpoint := entry.Endpoint
		if endpoint == "" {
			endpoint = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", entry.Name, endpoint, oneLine(entry.Description))
	}
	return writer.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/mcpbridge/config"
	"github.com/petal-labs/mcpbridge/mcp"
	"github.com/petal-labs/mcpbridge/tool"
)

const (
	envConfigPath = "MCPBRIDGE_CONFIG"
	envToken      = "MCPBRIDGE_TOKEN"
	envURL        = "MCPBRIDGE_URL"
)

// newLogger builds the process logger from the root logging flags.
func newLogger(cmd *cobra.Command, w io.Writer) (*slog.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	format, _ := cmd.Flags().GetString("log-format")

	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

// bridgeConfig is the resolved startup config of one command.
type bridgeConfig struct {
	file   *config.File
	path   string
	policy tool.ConflictPolicy
}

// loadBridgeConfig discovers and loads the config file. A missing file is
// not an error; the bridge then serves only the built-in tools.
func loadBridgeConfig(cmd *cobra.Command) (bridgeConfig, error) {
	explicit, _ := cmd.Flags().GetString("config")
	if strings.TrimSpace(explicit) == "" {
		explicit = os.Getenv(envConfigPath)
	}

	path, found, err := config.DiscoverPath(explicit)
	if err != nil {
		return bridgeConfig{}, exitError(exitConfig, "%v", err)
	}
	file := &config.File{}
	if found {
		file, err = config.Load(path)
		if err != nil {
			return bridgeConfig{}, exitError(exitConfig, "%v", err)
		}
	}

	rawPolicy := file.ConflictPolicy
	if flag := cmd.Flags().Lookup("conflict-policy"); flag != nil && flag.Changed {
		rawPolicy = flag.Value.String()
	}
	policy, err := tool.ParseConflictPolicy(rawPolicy)
	if err != nil {
		return bridgeConfig{}, exitError(exitConfig, "%v", err)
	}
	return bridgeConfig{file: file, path: path, policy: policy}, nil
}

// providers returns the discovery providers for reg.
func (b bridgeConfig) providers(reg *tool.Registry, logger *slog.Logger) ([]tool.Provider, error) {
	providers, err := b.file.Providers(reg, logger)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	return providers, nil
}

// serverInfo returns the identity announced by initialize.
func (b bridgeConfig) serverInfo(cmd *cobra.Command) mcp.ServerInfo {
	info := mcp.ServerInfo{
		Name:    strings.TrimSpace(b.file.Server.Name),
		Version: strings.TrimSpace(b.file.Server.Version),
	}
	if info.Name == "" {
		info.Name = "mcpbridge"
	}
	if info.Version == "" {
		info.Version = cmd.Root().Version
	}
	return info
}

// discover scans the configured providers into a fresh sealed registry.
func (b bridgeConfig) discover(logger *slog.Logger) (*tool.Registry, tool.Report, error) {
	reg := tool.NewRegistry()
	providers, err := b.providers(reg, logger)
	if err != nil {
		return nil, tool.Report{}, err
	}
	report, err := tool.Scanner{Policy: b.policy, Logger: logger}.Scan(reg, providers...)
	if err != nil {
		return nil, report, exitError(exitConfig, "%v", err)
	}
	reg.Seal()
	return reg, report, nil
}

func flagOrEnv(cmd *cobra.Command, name, env string) string {
	value, _ := cmd.Flags().GetString(name)
	if strings.TrimSpace(value) == "" {
		value = os.Getenv(env)
	}
	return strings.TrimSpace(value)
}

// Package config loads the bridge's declarative startup file.
//
// The file is YAML (gopkg.in/yaml.v3) or, for .json and .jsonc paths, JSON
// with comments and trailing commas. Tool order in the file is discovery
// order.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/mcpbridge/tool"
)

const (
	projectConfigName = "mcpbridge.yaml"
	homeConfigDir     = ".mcpbridge"
	homeConfigName    = "config.yaml"
)

// Format is the encoding of a config file.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSONC Format = "jsonc"
)

// File is the declarative startup config shape.
type File struct {
	Server Server `yaml:"server" json:"server"`
	// Inspector enables the built-in McpInspector tool (default: true).
	Inspector *bool `yaml:"inspector,omitempty" json:"inspector,omitempty"`
	// ConflictPolicy is "fail" (default) or "skip".
	ConflictPolicy string `yaml:"conflictPolicy,omitempty" json:"conflictPolicy,omitempty"`
	// BaseURL resolves relative tool endpoints.
	BaseURL string            `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`
	Tools   []ToolDeclaration `yaml:"tools" json:"tools"`
}

// Server holds the identity announced by initialize.
type Server struct {
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Version  string `yaml:"version,omitempty" json:"version,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

// ToolDeclaration defines one HTTP-backed tool.
type ToolDeclaration struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Method      string `yaml:"method,omitempty" json:"method,omitempty"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	// InputSchema is a JSON Schema document (draft 2020-12 or draft-07).
	InputSchema map[string]any    `yaml:"inputSchema,omitempty" json:"inputSchema,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	// Timeout is a Go duration string such as "5s".
	Timeout string           `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry   RetryDeclaration `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// RetryDeclaration is the retry policy of one tool.
type RetryDeclaration struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	Backoff     string `yaml:"backoff,omitempty" json:"backoff,omitempty"`
}

// DiscoverPath resolves the config location with first-match semantics:
// the explicit path, then ./mcpbridge.yaml, then ~/.mcpbridge/config.yaml.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("config: resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	explicit := strings.TrimSpace(explicitPath)
	candidates := make([]string, 0, 2)
	if explicit != "" {
		candidates = append(candidates, filepath.Clean(explicit))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit != "" {
				return "", false, fmt.Errorf("config: file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("config: checking path %q: %w", candidate, err)
		}
		if explicit != "" {
			return "", false, fmt.Errorf("config: %q is a directory", candidate)
		}
	}
	return "", false, nil
}

// FormatFor picks the format from a file extension.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// Load reads and validates the file at path.
func Load(path string) (*File, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a config document.
func Parse(data []byte, format Format) (*File, error) {
	var cfg File
	switch format {
	case FormatJSONC:
		decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parsing json: %w", err)
		}
	case FormatYAML, "":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		// An empty document decodes to the zero config.
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the declarations without contacting any endpoint.
// Duplicate names are left for discovery to report.
func (f *File) Validate() error {
	var errs []error
	if _, err := tool.ParseConflictPolicy(f.ConflictPolicy); err != nil {
		errs = append(errs, err)
	}
	if base := strings.TrimSpace(expandEnv(f.BaseURL)); base != "" {
		if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("baseURL %q must be an absolute URL", f.BaseURL))
		}
	}
	for i, decl := range f.Tools {
		label := fmt.Sprintf("tools[%d]", i)
		if name := strings.TrimSpace(decl.Name); name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else {
			label = fmt.Sprintf("tool %q", name)
		}
		if strings.TrimSpace(decl.Endpoint) == "" {
			errs = append(errs, fmt.Errorf("%s: endpoint is required", label))
		}
		if _, err := parseDuration(decl.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s: timeout: %w", label, err))
		}
		if _, err := parseDuration(decl.Retry.Backoff); err != nil {
			errs = append(errs, fmt.Errorf("%s: retry.backoff: %w", label, err))
		}
		if decl.Retry.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("%s: retry.maxAttempts must not be negative", label))
		}
	}
	return errors.Join(errs...)
}

// InspectorEnabled reports whether the McpInspector tool should be served.
func (f *File) InspectorEnabled() bool {
	return f == nil || f.Inspector == nil || *f.Inspector
}

// HTTPToolSpecs converts the declarations into tool specs, in file order.
// Environment references ($VAR, ${VAR}) in endpoints and headers are
// expanded, and relative endpoints are resolved against BaseURL.
func (f *File) HTTPToolSpecs() ([]tool.HTTPToolSpec, error) {
	if f == nil {
		return nil, nil
	}
	var base *url.URL
	if raw := strings.TrimSpace(expandEnv(f.BaseURL)); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("config: baseURL: %w", err)
		}
		base = parsed
	}

	specs := make([]tool.HTTPToolSpec, 0, len(f.Tools))
	for _, decl := range f.Tools {
		endpoint, err := resolveEndpoint(base, expandEnv(decl.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("config: tool %q: %w", decl.Name, err)
		}
		timeout, _ := parseDuration(decl.Timeout)
		backoff, _ := parseDuration(decl.Retry.Backoff)
		specs = append(specs, tool.HTTPToolSpec{
			Name:        strings.TrimSpace(decl.Name),
			Description: decl.Description,
			Method:      decl.Method,
			Endpoint:    endpoint,
			InputSchema: decl.InputSchema,
			Headers:     expandStringMap(decl.Headers),
			Timeout:     timeout,
			Retry: tool.RetryPolicy{
				MaxAttempts: decl.Retry.MaxAttempts,
				Backoff:     backoff,
			},
		})
	}
	return specs, nil
}

// Providers returns the discovery providers for this file: the declared
// HTTP tools followed, when enabled, by the inspector tool over reg.
func (f *File) Providers(reg *tool.Registry, logger *slog.Logger) ([]tool.Provider, error) {
	specs, err := f.HTTPToolSpecs()
	if err != nil {
		return nil, err
	}
	providers := []tool.Provider{tool.HTTPProvider{Specs: specs, Logger: logger}}
	if f.InspectorEnabled() {
		providers = append(providers, tool.InspectorProvider(reg))
	}
	return providers, nil
}

func resolveEndpoint(base *url.URL, endpoint string) (string, error) {
	clean := strings.TrimSpace(endpoint)
	ref, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("endpoint: %w", err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == nil {
		return "", fmt.Errorf("endpoint %q is relative and no baseURL is set", clean)
	}
	return base.ResolveReference(ref).String(), nil
}

func parseDuration(raw string) (time.Duration, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(clean)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", raw)
	}
	return d, nil
}

func expandStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = expandEnv(value)
	}
	return out
}

func expandEnv(value string) string {
	return os.ExpandEnv(value)
}

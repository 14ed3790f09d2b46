package tool

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Provider is implemented by collaborators that expose tools. The returned
// definitions are registered in order; the core never inspects the
// provider beyond this call.
type Provider interface {
	Tools() []Definition
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func() []Definition

// Tools calls f().
func (f ProviderFunc) Tools() []Definition {
	return f()
}

// StaticProvider is a fixed list of definitions.
type StaticProvider []Definition

// Tools returns the list unchanged.
func (p StaticProvider) Tools() []Definition {
	return p
}

// ConflictPolicy decides what discovery does when a registration fails.
type ConflictPolicy string

const (
	// ConflictFail aborts discovery on the first rejected registration.
	ConflictFail ConflictPolicy = "fail"
	// ConflictSkip logs the rejected registration and keeps scanning.
	ConflictSkip ConflictPolicy = "skip"
)

// ParseConflictPolicy maps a flag value onto a ConflictPolicy.
func ParseConflictPolicy(raw string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ConflictFail:
		return ConflictFail, nil
	case ConflictSkip:
		return ConflictSkip, nil
	default:
		return "", fmt.Errorf("tool: unknown conflict policy %q (want fail or skip)", raw)
	}
}

// Rejection records one definition that discovery could not register.
type Rejection struct {
	Name string
	Err  error
}

// Report summarizes a discovery pass.
type Report struct {
	Registered []string
	Rejected   []Rejection
}

// Scanner populates a registry from collaborator providers.
type Scanner struct {
	Policy ConflictPolicy
	Logger *slog.Logger
}

// Scan registers every definition of every provider in order. With
// ConflictFail the first failure is returned and scanning stops; entries
// registered before it stay in the registry.
func (s Scanner) Scan(reg *Registry, providers ...Provider) (Report, error) {
	var report Report
	if reg == nil {
		return report, errors.New("tool: scan requires a registry")
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := s.Policy
	if policy == "" {
		policy = ConflictFail
	}

	for _, provider := range providers {
		if provider == nil {
			continue
		}
		for _, def := range provider.Tools() {
			err := reg.Register(Descriptor{
				Name:        def.Name,
				Description: def.Description,
				InputSchema: def.InputSchema,
				Handler:     def.Handler,
			})
			if err != nil {
				report.Rejected = append(report.Rejected, Rejection{Name: def.Name, Err: err})
				if policy == ConflictFail {
					logger.Error("tool discovery aborted", "tool", def.Name, "error", err)
					return report, fmt.Errorf("tool: discovery: %w", err)
				}
				logger.Warn("tool registration rejected", "tool", def.Name, "error", err)
				continue
			}
			report.Registered = append(report.Registered, strings.TrimSpace(def.Name))
			logger.Info("discovered tool", "tool", strings.TrimSpace(def.Name), "description", def.Description)
		}
	}

	logger.Info("tool discovery complete",
		"registered", len(report.Registered),
		"rejected", len(report.Rejected),
	)
	return report, nil
}

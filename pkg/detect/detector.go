// Package detect implements the five pattern-detector families the engine
// dispatches on every tool call: purchase, website, destructive, secrets,
// and exfiltration.
//
// Detectors are stateless and pure: a detector reads (toolName, toolInput,
// optional URL/output) plus its compiled configuration, and either returns a
// Detection or nil. All pattern tables are compiled once at construction;
// invalid user-supplied regexes are skipped with a warning and never abort
// detection.
package detect

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

// Detector is one threat family. Detect must be non-blocking and must not
// perform I/O; returning nil means "no finding".
type Detector interface {
	Category() contracts.ThreatCategory
	Detect(ctx context.Context, call *contracts.ToolCall) *contracts.Detection
}

// Registry holds the constructed detector set for one engine instance.
// Configuration is baked in at construction; live reconfiguration happens by
// building a new registry.
type Registry struct {
	detectors []Detector
	logger    *slog.Logger
}

// NewRegistry builds the five detectors from configuration, skipping
// disabled categories.
func NewRegistry(cfg *config.Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "detect")

	all := []Detector{
		NewPurchaseDetector(cfg, logger),
		NewWebsiteDetector(cfg, logger),
		NewDestructiveDetector(cfg, logger),
		NewSecretsDetector(cfg, logger),
		NewExfiltrationDetector(cfg, logger),
	}

	enabled := make([]Detector, 0, len(all))
	for _, d := range all {
		if cfg.RuleFor(d.Category()).IsEnabled() {
			enabled = append(enabled, d)
		}
	}
	return &Registry{detectors: enabled, logger: logger}
}

// Detectors returns the enabled detector set.
func (r *Registry) Detectors() []Detector {
	return r.detectors
}

// Run invokes one detector with a panic boundary. A panicking detector is
// logged and treated as "no detection" for its category; the other families
// still run.
func (r *Registry) Run(ctx context.Context, d Detector, call *contracts.ToolCall) (det *contracts.Detection) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "detector panicked",
				"category", string(d.Category()),
				"tool", call.Tool,
				"panic", rec,
			)
			det = nil
		}
	}()
	return d.Detect(ctx, call)
}

// applyRuleSeverity overrides the detection severity when the operator
// pinned one on the category. The pattern's own grading is the default.
func applyRuleSeverity(det *contracts.Detection, rule config.RuleConfig) *contracts.Detection {
	if det == nil {
		return nil
	}
	if rule.Severity != "" {
		if s, err := contracts.ParseSeverity(rule.Severity); err == nil {
			det.Severity = s
		}
	}
	return det
}

// compilePatterns compiles a regex list, dropping invalid entries with a
// warning. Used for both built-in tables (which must all compile) and user
// extensions (which may not).
func compilePatterns(patterns []string, logger *slog.Logger, source string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("skipping invalid pattern",
				"source", source,
				"pattern", p,
				"error", err,
			)
			continue
		}
		out = append(out, re)
	}
	return out
}

// Package sanitize implements the output-side pipeline: every tool result
// passes through the injection scanner and the secret filter before it is
// persisted or returned to the model.
package sanitize

import (
	"log/slog"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
	"github.com/clawsec/core/pkg/detect"
)

// BlockedPlaceholder replaces a string whose injection scan hit a
// block-configured category.
const BlockedPlaceholder = "[BLOCKED: potential prompt injection removed]"

// Result is the outcome of one Sanitize invocation.
type Result struct {
	FilteredValue any
	Redactions    []contracts.Redaction
	WasRedacted   bool
}

// Sanitizer walks a value tree, blocks or redacts prompt-injection
// content, and redacts credential material. It is synchronous and does no
// I/O; the persist hook calls it inline.
type Sanitizer struct {
	scanner *Scanner
	action  string
	actions map[string]string
	logger  *slog.Logger
}

// New builds a sanitizer from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	sc := cfg.Rules.Sanitization
	actions := make(map[string]string, len(sc.Categories))
	for cat, c := range sc.Categories {
		if c.Action != "" {
			actions[cat] = c.Action
		}
	}
	return &Sanitizer{
		scanner: NewScanner(cfg),
		action:  sc.Action,
		actions: actions,
		logger:  logger.With("component", "sanitize"),
	}
}

// Scanner exposes the injection scanner for callers that only need the
// scan verdict.
func (s *Sanitizer) Scanner() *Scanner { return s.scanner }

// Sanitize rebuilds value with every string leaf filtered. Mappings and
// sequences are rebuilt top-down; primitives pass through unchanged. Each
// distinct redaction type yields exactly one record per invocation no
// matter how many leaves it hit.
func (s *Sanitizer) Sanitize(value any) Result {
	seen := map[string]bool{}
	var redactions []contracts.Redaction
	record := func(typ, description string) {
		if seen[typ] {
			return
		}
		seen[typ] = true
		redactions = append(redactions, contracts.Redaction{Type: typ, Description: description})
	}

	filtered := s.walk(value, record)
	return Result{
		FilteredValue: filtered,
		Redactions:    redactions,
		WasRedacted:   len(redactions) > 0,
	}
}

func (s *Sanitizer) walk(value any, record func(typ, description string)) any {
	switch v := value.(type) {
	case string:
		return s.filterString(v, record)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = s.walk(child, record)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = s.walk(child, record)
		}
		return out
	default:
		return value
	}
}

func (s *Sanitizer) filterString(text string, record func(typ, description string)) string {
	scan := s.scanner.Scan(text)
	if scan.HasInjection {
		for _, m := range scan.Matches {
			if s.categoryAction(m.Category) == "block" {
				record("injection:"+m.Category, m.Description)
				return BlockedPlaceholder
			}
		}
		if s.scanner.redact {
			for _, m := range scan.Matches {
				record("injection:"+m.Category, m.Description)
			}
			text = scan.SanitizedOutput
		}
	}
	return s.filterSecrets(text, record)
}

// filterSecrets replaces credential matches right-to-left. Emails are
// redacted domain-preserving; everything else becomes [REDACTED:<type>].
func (s *Sanitizer) filterSecrets(text string, record func(typ, description string)) string {
	matches := detect.ScanSecrets(text)
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		replacement := "[REDACTED:" + m.Type + "]"
		if m.Type == "email" {
			replacement = m.Redacted
		}
		text = text[:m.Start] + replacement + text[m.End:]
		record(m.Type, "redacted "+m.Type)
	}
	return text
}

// categoryAction resolves the per-category override, falling back to the
// global sanitization action.
func (s *Sanitizer) categoryAction(category string) string {
	if a, ok := s.actions[category]; ok {
		return a
	}
	return s.action
}

// Package hooks is the host-facing adapter: three lifecycle hooks an
// agent runtime wires into its loop. Every hook fails open: a panic in
// the underlying pipeline is recovered, logged, and the no-op result is
// returned.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/clawsec/core/pkg/audit"
	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
	"github.com/clawsec/core/pkg/engine"
	"github.com/clawsec/core/pkg/sanitize"
)

// StartContext identifies the agent session being started.
type StartContext struct {
	SessionID string
}

// StartResult optionally extends the agent's system prompt.
type StartResult struct {
	SystemPromptAddition string `json:"systemPromptAddition,omitempty"`
}

// CallResult is the verdict handed back to the host before a tool runs.
// Params, when non-nil, replaces the tool input.
type CallResult struct {
	Block       bool           `json:"block"`
	BlockReason string         `json:"blockReason,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PersistResult carries the sanitized tool output. A zero value means
// pass through unchanged.
type PersistResult struct {
	Content    any                   `json:"content,omitempty"`
	Redactions []contracts.Redaction `json:"redactions,omitempty"`
	Changed    bool                  `json:"-"`
}

// Host binds the engine and sanitizer to the three hooks. Safe for
// concurrent use.
type Host struct {
	cfg       *config.Config
	engine    *engine.Engine
	sanitizer *sanitize.Sanitizer
	auditor   audit.Sink
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// Option customizes host construction.
type Option func(*Host)

// WithAudit records sanitizer hits on sink.
func WithAudit(sink audit.Sink) Option {
	return func(h *Host) { h.auditor = sink }
}

// New builds a hook host around an existing engine.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hooks")
	h := &Host{
		cfg:       cfg,
		engine:    eng,
		sanitizer: sanitize.New(cfg, logger),
		auditor:   audit.Nop{},
		logger:    logger,
		seen:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// BeforeAgentStart returns a natural-language summary of the active
// rules for the agent's system prompt, at most once per session id.
func (h *Host) BeforeAgentStart(_ context.Context, sc StartContext) (result StartResult) {
	defer h.failOpen("beforeAgentStart", func() { result = StartResult{} })

	h.mu.Lock()
	repeat := h.seen[sc.SessionID]
	h.seen[sc.SessionID] = true
	h.mu.Unlock()
	if repeat {
		return StartResult{}
	}
	return StartResult{SystemPromptAddition: h.promptSummary()}
}

// BeforeToolCall analyzes the pending tool call. Confirm is surfaced to
// the agent as a block whose reason carries the ticket instructions.
func (h *Host) BeforeToolCall(ctx context.Context, call *contracts.ToolCall) (result CallResult) {
	defer h.failOpen("beforeToolCall", func() { result = CallResult{} })

	res, err := h.engine.Analyze(ctx, call)
	if err != nil {
		h.logger.Error("analyze failed", "tool", call.Tool, "error", err)
		return CallResult{}
	}

	out := CallResult{Metadata: callMetadata(res)}
	switch res.Action {
	case contracts.ActionBlock:
		out.Block = true
		out.BlockReason = res.Reason
	case contracts.ActionConfirm:
		out.Block = true
		out.BlockReason = confirmMessage(h.cfg, res)
	case contracts.ActionWarn:
		h.logger.Warn("tool call flagged", "tool", call.Tool, "reason", res.Reason)
	}
	if res.Params != nil {
		out.Params = res.Params
	}
	return out
}

// ToolResultPersist sanitizes a tool result before it enters the agent's
// context window. An unchanged result returns the zero value.
func (h *Host) ToolResultPersist(ctx context.Context, tool string, content any) (result PersistResult) {
	defer h.failOpen("toolResultPersist", func() { result = PersistResult{} })

	out := h.sanitizer.Sanitize(content)
	if !out.WasRedacted {
		return PersistResult{}
	}
	h.logger.Info("tool result sanitized", "tool", tool, "redactions", len(out.Redactions))

	types := make([]string, 0, len(out.Redactions))
	for _, r := range out.Redactions {
		types = append(types, r.Type)
	}
	if err := h.auditor.Record(ctx, audit.Event{
		Kind:     audit.KindSanitize,
		Tool:     tool,
		Reason:   fmt.Sprintf("%d redaction(s)", len(out.Redactions)),
		Metadata: map[string]any{"types": types},
	}); err != nil {
		h.logger.Warn("audit record failed", "error", err)
	}
	return PersistResult{
		Content:    out.FilteredValue,
		Redactions: out.Redactions,
		Changed:    true,
	}
}

// failOpen recovers a hook panic and substitutes the no-op result.
func (h *Host) failOpen(hook string, reset func()) {
	if r := recover(); r != nil {
		h.logger.Error("hook panicked", "hook", hook, "panic", fmt.Sprint(r))
		reset()
	}
}

func callMetadata(res *contracts.AnalysisResult) map[string]any {
	primary := res.Primary()
	if primary == nil {
		return nil
	}
	return map[string]any{
		"category": string(primary.Category),
		"severity": string(primary.Severity),
		"reason":   primary.Reason,
	}
}

func confirmMessage(cfg *config.Config, res *contracts.AnalysisResult) string {
	if res.Approval == nil {
		return res.Reason
	}
	return fmt.Sprintf(
		"%s. To proceed, re-issue the call with %s=%q.",
		res.Reason, cfg.ConfirmParameter(), res.Approval.ID,
	)
}

// promptSummary renders the enabled categories and the confirm parameter
// for the system prompt.
func (h *Host) promptSummary() string {
	rules := h.cfg.CategoryRules()
	names := make([]string, 0, len(rules))
	for cat, rule := range rules {
		if rule.IsEnabled() {
			names = append(names, string(cat))
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Tool calls are screened by a security policy. Monitored categories: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(". Blocked calls that allow confirmation include an approval ticket; ")
	b.WriteString("re-issue the identical call with the ")
	b.WriteString(h.cfg.ConfirmParameter())
	b.WriteString(" parameter set to the ticket id to proceed.")
	return b.String()
}

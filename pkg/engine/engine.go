// Package engine is the decision core: one Analyze entrypoint that runs
// the detector families in parallel, resolves an action, escalates
// ambiguous calls to the oracle, and manages the decision cache and
// approval tickets.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawsec/core/pkg/approval"
	"github.com/clawsec/core/pkg/audit"
	"github.com/clawsec/core/pkg/cache"
	"github.com/clawsec/core/pkg/canonicalize"
	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
	"github.com/clawsec/core/pkg/detect"
	"github.com/clawsec/core/pkg/oracle"
)

// Metrics receives engine measurements. The zero implementation drops
// them; pkg/observability provides an OTLP-backed one.
type Metrics interface {
	ObserveAnalyze(d time.Duration, action contracts.Action, cached bool)
	CacheHit()
	Detection(category contracts.ThreatCategory)
	Escalation()
}

type nopMetrics struct{}

func (nopMetrics) ObserveAnalyze(time.Duration, contracts.Action, bool) {}
func (nopMetrics) CacheHit()                                           {}
func (nopMetrics) Detection(contracts.ThreatCategory)                  {}
func (nopMetrics) Escalation()                                         {}

// Engine owns the detectors, the decision cache, and the approval store.
// Analyze is safe for concurrent use.
type Engine struct {
	cfg      *config.Config
	registry *detect.Registry
	cache    *cache.Cache
	store    *approval.Store
	oracle   oracle.Client
	guard    *whenGuard
	ledger   *spendLedger
	auditor  audit.Sink
	metrics  Metrics
	logger   *slog.Logger
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithOracle replaces the configured oracle client.
func WithOracle(client oracle.Client) Option {
	return func(e *Engine) { e.oracle = client }
}

// WithAudit sets the audit sink.
func WithAudit(sink audit.Sink) Option {
	return func(e *Engine) { e.auditor = sink }
}

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithApprovalStore replaces the ticket store, e.g. to share one between
// the engine and an approval CLI.
func WithApprovalStore(store *approval.Store) Option {
	return func(e *Engine) { e.store = store }
}

// New builds an engine from configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	guard, err := newWhenGuard()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		cache:   cache.New(cache.DefaultTTL),
		guard:   guard,
		ledger:  newSpendLedger(),
		auditor: audit.Nop{},
		metrics: nopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	if e.store == nil {
		e.store = approval.NewStore(e.logger)
	}
	if e.oracle == nil {
		e.oracle = oracle.NewFromConfig(cfg, e.logger)
	}
	e.registry = detect.NewRegistry(cfg, e.logger)
	return e, nil
}

// Store exposes the approval store for approve/deny surfaces.
func (e *Engine) Store() *approval.Store { return e.store }

// Analyze classifies one tool call and returns the enforcement verdict.
func (e *Engine) Analyze(ctx context.Context, call *contracts.ToolCall) (*contracts.AnalysisResult, error) {
	start := time.Now()

	if !e.cfg.Enabled() {
		return e.finish(ctx, start, call.Tool, "", &contracts.AnalysisResult{
			Action:     contracts.ActionAllow,
			Detections: []contracts.Detection{},
		}), nil
	}

	if e.cfg.AgentConfirmEnabled() {
		if result := e.fastPath(ctx, call); result != nil {
			return e.finish(ctx, start, call.Tool, "", result), nil
		}
	}

	fingerprint, err := canonicalize.Fingerprint(call.Tool, call.Input)
	if err != nil {
		return nil, fmt.Errorf("engine: fingerprint: %w", err)
	}

	if hit := e.cache.Get(fingerprint); hit != nil {
		e.metrics.CacheHit()
		if hit.Action == contracts.ActionConfirm {
			if err := e.attachTicket(hit, call); err != nil {
				return nil, err
			}
		}
		return e.finish(ctx, start, call.Tool, fingerprint, hit), nil
	}

	detections := e.dispatch(ctx, call)
	contracts.SortDetections(detections)

	result := &contracts.AnalysisResult{Detections: detections}
	primary := result.Primary()

	var rule config.RuleConfig
	if primary != nil {
		rule = e.cfg.RuleFor(primary.Category)
	}

	oracleReady := e.cfg.OracleEnabled() && e.oracle.Available()
	res := resolveAction(primary, e.explicitAction(rule, call), oracleReady)
	result.Action = res.action

	if res.requiresOracle {
		result.RequiresOracle = true
		result.Action = e.escalate(ctx, primary, call, res.action)
	}

	e.enforceDailyLimit(primary, rule, result)

	if result.Action == contracts.ActionConfirm {
		if err := e.attachTicket(result, call); err != nil {
			return nil, err
		}
	} else if primary != nil {
		result.Reason = primary.Reason
	}

	cached := result.Clone()
	cached.RequiresOracle = false
	cached.Approval = nil
	e.cache.Put(fingerprint, cached)

	return e.finish(ctx, start, call.Tool, fingerprint, result), nil
}

// fastPath handles the reserved confirm parameter. A nil return means the
// parameter was absent and the normal pipeline runs.
func (e *Engine) fastPath(ctx context.Context, call *contracts.ToolCall) *contracts.AnalysisResult {
	out := approval.CheckConfirm(e.store, e.cfg.ConfirmParameter(), call)
	if !out.Handled {
		return nil
	}

	event := audit.Event{Kind: audit.KindTicket, Tool: call.Tool, Reason: out.Reason}
	if out.Ticket != nil {
		event.Metadata = map[string]any{"ticket": out.Ticket.ID, "status": string(out.Ticket.Status)}
	}
	if err := e.auditor.Record(ctx, event); err != nil {
		e.logger.Warn("audit record failed", "error", err)
	}

	if !out.Allowed {
		return &contracts.AnalysisResult{
			Action:     contracts.ActionBlock,
			Detections: []contracts.Detection{},
			Reason:     out.Reason,
		}
	}
	return &contracts.AnalysisResult{
		Action:     contracts.ActionAllow,
		Detections: []contracts.Detection{},
		Reason:     out.Reason,
		Params:     out.Input,
	}
}

// dispatch runs the enabled detectors concurrently and joins their
// findings. All detectors complete before resolution; there is no
// short-circuit.
func (e *Engine) dispatch(ctx context.Context, call *contracts.ToolCall) []contracts.Detection {
	var (
		mu         sync.Mutex
		detections = make([]contracts.Detection, 0, 2)
		wg         sync.WaitGroup
	)
	for _, d := range e.registry.Detectors() {
		wg.Add(1)
		go func(d detect.Detector) {
			defer wg.Done()
			det := e.registry.Run(ctx, d, call)
			if det == nil {
				return
			}
			e.metrics.Detection(det.Category)
			mu.Lock()
			detections = append(detections, *det)
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	return detections
}

// explicitAction returns the category's configured action when it applies
// to this call. A failing or erroring `when` guard withholds the
// override; the severity table still runs.
func (e *Engine) explicitAction(rule config.RuleConfig, call *contracts.ToolCall) contracts.Action {
	if rule.Action == "" {
		return ""
	}
	action, err := contracts.ParseAction(rule.Action)
	if err != nil {
		return ""
	}
	if rule.When != "" {
		ok, err := e.guard.Eval(rule.When, call.Tool, call.Input)
		if err != nil {
			e.logger.Warn("when guard failed", "expr", rule.When, "error", err)
			return ""
		}
		if !ok {
			return ""
		}
	}
	return action
}

// escalate consults the oracle once and applies the override mapping. Any
// client error keeps the pattern action.
func (e *Engine) escalate(ctx context.Context, primary *contracts.Detection, call *contracts.ToolCall, patternAction contracts.Action) contracts.Action {
	e.metrics.Escalation()

	resp, err := e.oracle.Analyze(ctx, &contracts.OracleRequest{
		Detection: *primary,
		Tool:      call.Tool,
		Input:     call.Input,
	})
	if err != nil {
		e.logger.Warn("oracle escalation failed", "error", err, "tool", call.Tool)
		if auditErr := e.auditor.Record(ctx, audit.Event{
			Kind:   audit.KindEscalation,
			Tool:   call.Tool,
			Reason: "oracle error: " + err.Error(),
		}); auditErr != nil {
			e.logger.Warn("audit record failed", "error", auditErr)
		}
		return patternAction
	}

	if auditErr := e.auditor.Record(ctx, audit.Event{
		Kind:   audit.KindEscalation,
		Tool:   call.Tool,
		Reason: resp.Reasoning,
		Metadata: map[string]any{
			"determination": string(resp.Determination),
			"confidence":    resp.Confidence,
		},
	}); auditErr != nil {
		e.logger.Warn("audit record failed", "error", auditErr)
	}
	return applyOracleOverride(patternAction, resp)
}

// enforceDailyLimit escalates purchases past the daily cap to confirm.
// Block stays block.
func (e *Engine) enforceDailyLimit(primary *contracts.Detection, rule config.RuleConfig, result *contracts.AnalysisResult) {
	if primary == nil || primary.Category != contracts.CategoryPurchase {
		return
	}
	limits := rule.SpendLimits
	if limits == nil || limits.Daily <= 0 {
		return
	}
	amount, ok := primary.Metadata["amount"].(float64)
	if !ok {
		return
	}

	total := e.ledger.add(amount)
	if total > limits.Daily && result.Action != contracts.ActionBlock && result.Action != contracts.ActionConfirm {
		result.Action = contracts.ActionConfirm
		primary.Reason = fmt.Sprintf("daily spend %.2f exceeds limit %.2f", total, limits.Daily)
	}
}

// attachTicket creates a fresh approval ticket for a confirm result. A
// cache-served confirm entry goes through here too: the decision is
// cached, the ticket never is.
func (e *Engine) attachTicket(result *contracts.AnalysisResult, call *contracts.ToolCall) error {
	var detection contracts.Detection
	if p := result.Primary(); p != nil {
		detection = *p
	}

	ticket, err := e.store.Create(detection, *call, e.cfg.TicketTTL())
	if err != nil {
		return fmt.Errorf("engine: create ticket: %w", err)
	}

	result.Approval = &contracts.PendingApproval{
		ID:               ticket.ID,
		ExpiresInSeconds: int(e.cfg.TicketTTL().Seconds()),
		Methods:          e.cfg.ApprovalMethods(),
	}
	if detection.Reason != "" {
		result.Reason = fmt.Sprintf("%s; approval required (ticket %s)", detection.Reason, ticket.ID)
	} else {
		result.Reason = fmt.Sprintf("approval required (ticket %s)", ticket.ID)
	}
	return nil
}

// finish stamps duration, records metrics and the audit event, and
// returns the result.
func (e *Engine) finish(ctx context.Context, start time.Time, tool, fingerprint string, result *contracts.AnalysisResult) *contracts.AnalysisResult {
	elapsed := time.Since(start)
	result.DurationMs = elapsed.Milliseconds()
	e.metrics.ObserveAnalyze(elapsed, result.Action, result.Cached)

	if err := e.auditor.Record(ctx, audit.Event{
		Kind:        audit.KindDecision,
		Tool:        tool,
		Action:      string(result.Action),
		Fingerprint: fingerprint,
		Cached:      result.Cached,
		Reason:      result.Reason,
	}); err != nil {
		e.logger.Warn("audit record failed", "error", err)
	}
	return result
}

package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
	"github.com/clawsec/core/pkg/oracle"
)

func newEngine(t *testing.T, yaml string, opts ...Option) *Engine {
	t.Helper()
	cfg := config.Default()
	if yaml != "" {
		var err error
		cfg, err = config.Parse([]byte(yaml))
		require.NoError(t, err)
	}
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	return e
}

func bash(command string) *contracts.ToolCall {
	return &contracts.ToolCall{Tool: "bash", Input: map[string]any{"command": command}}
}

func TestAnalyzeBlocksProtectedRootRemoval(t *testing.T) {
	e := newEngine(t, "")
	res, err := e.Analyze(context.Background(), bash("rm -rf /"))
	require.NoError(t, err)

	assert.Equal(t, contracts.ActionBlock, res.Action)
	assert.False(t, res.Cached)
	primary := res.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, contracts.CategoryDestructive, primary.Category)
	assert.Equal(t, contracts.SeverityCritical, primary.Severity)
	assert.GreaterOrEqual(t, primary.Confidence, 0.95)
	assert.False(t, res.RequiresOracle, "unambiguous calls never escalate")
}

func TestAnalyzeRepeatServedFromCache(t *testing.T) {
	e := newEngine(t, "")
	first, err := e.Analyze(context.Background(), bash("rm -rf /"))
	require.NoError(t, err)
	second, err := e.Analyze(context.Background(), bash("rm -rf /"))
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Action, second.Action)
}

func TestAnalyzeConfirmThenAgentConfirm(t *testing.T) {
	e := newEngine(t, "")
	res, err := e.Analyze(context.Background(), bash("rm -rf /tmp/x"))
	require.NoError(t, err)

	require.Equal(t, contracts.ActionConfirm, res.Action)
	require.NotNil(t, res.Approval)
	assert.Contains(t, res.Reason, res.Approval.ID)
	assert.Contains(t, res.Approval.Methods, contracts.MethodAgentConfirm)

	retry := &contracts.ToolCall{Tool: "bash", Input: map[string]any{
		"command":          "rm -rf /tmp/x",
		"_clawsec_confirm": res.Approval.ID,
	}}
	allowed, err := e.Analyze(context.Background(), retry)
	require.NoError(t, err)

	assert.Equal(t, contracts.ActionAllow, allowed.Action)
	assert.Equal(t, map[string]any{"command": "rm -rf /tmp/x"}, allowed.Params)

	ticket, ok := e.Store().Get(res.Approval.ID)
	require.True(t, ok)
	assert.Equal(t, contracts.TicketApproved, ticket.Status)
}

func TestAnalyzeCachedConfirmRegeneratesTicket(t *testing.T) {
	e := newEngine(t, "")
	first, err := e.Analyze(context.Background(), bash("rm -rf /tmp/x"))
	require.NoError(t, err)
	second, err := e.Analyze(context.Background(), bash("rm -rf /tmp/x"))
	require.NoError(t, err)

	assert.True(t, second.Cached)
	require.NotNil(t, second.Approval)
	assert.NotEqual(t, first.Approval.ID, second.Approval.ID, "ticket is never cached")
	assert.Contains(t, second.Reason, second.Approval.ID)

	// Both tickets are live and independently consumable.
	_, err = e.Store().Approve(first.Approval.ID, "operator")
	assert.NoError(t, err)
	_, err = e.Store().Approve(second.Approval.ID, "operator")
	assert.NoError(t, err)
}

func TestAnalyzePurchaseExplicitBlock(t *testing.T) {
	e := newEngine(t, "")
	res, err := e.Analyze(context.Background(), &contracts.ToolCall{
		Tool:  "http",
		Input: map[string]any{"url": "https://checkout.stripe.com/pay"},
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.ActionBlock, res.Action)
	primary := res.Primary()
	require.NotNil(t, primary)
	assert.Equal(t, contracts.CategoryPurchase, primary.Category)
	assert.Equal(t, "checkout.stripe.com", primary.Metadata["domain"])
}

func TestAnalyzeCleanCallAllows(t *testing.T) {
	e := newEngine(t, "")
	res, err := e.Analyze(context.Background(), bash("ls -la"))
	require.NoError(t, err)

	assert.Equal(t, contracts.ActionAllow, res.Action)
	assert.Empty(t, res.Detections)
	assert.Nil(t, res.Approval)
}

func TestAnalyzeGlobalSwitchOff(t *testing.T) {
	e := newEngine(t, `
global:
  enabled: false
`)
	res, err := e.Analyze(context.Background(), bash("rm -rf /"))
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionAllow, res.Action)
	assert.Empty(t, res.Detections)
}

// scriptedOracle returns a fixed response and counts invocations.
type scriptedOracle struct {
	calls atomic.Int64
	resp  *contracts.OracleResponse
	err   error
}

func (o *scriptedOracle) Analyze(context.Context, *contracts.OracleRequest) (*contracts.OracleResponse, error) {
	o.calls.Add(1)
	return o.resp, o.err
}

func (o *scriptedOracle) Available() bool { return true }

const ambiguousYAML = `
llm:
  enabled: true
`

func TestAnalyzeOracleDowngradesConfirmToAllow(t *testing.T) {
	o := &scriptedOracle{resp: &contracts.OracleResponse{
		Determination:   contracts.DeterminationSafe,
		Confidence:      0.9,
		Reasoning:       "temp table in scratch schema",
		SuggestedAction: contracts.ActionAllow,
	}}
	e := newEngine(t, ambiguousYAML, WithOracle(o))

	// Forced branch deletion is medium severity at 0.8: warn with escalation.
	res, err := e.Analyze(context.Background(), bash("git branch -D feature/stale"))
	require.NoError(t, err)

	assert.True(t, res.RequiresOracle)
	assert.Equal(t, int64(1), o.calls.Load())
	assert.Equal(t, contracts.ActionAllow, res.Action)
}

func TestAnalyzeOracleSuggestsBlock(t *testing.T) {
	o := &scriptedOracle{resp: &contracts.OracleResponse{
		Determination:   contracts.DeterminationThreat,
		Confidence:      0.95,
		SuggestedAction: contracts.ActionBlock,
	}}
	e := newEngine(t, ambiguousYAML, WithOracle(o))

	res, err := e.Analyze(context.Background(), bash("git branch -D feature/stale"))
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionBlock, res.Action)
}

func TestAnalyzeOracleUncertainKeepsPatternAction(t *testing.T) {
	o := &scriptedOracle{resp: oracle.Uncertain("timed out")}
	e := newEngine(t, ambiguousYAML, WithOracle(o))

	res, err := e.Analyze(context.Background(), bash("git branch -D feature/stale"))
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionWarn, res.Action)
}

func TestAnalyzeOracleErrorKeepsPatternAction(t *testing.T) {
	o := &scriptedOracle{err: assert.AnError}
	e := newEngine(t, ambiguousYAML, WithOracle(o))

	res, err := e.Analyze(context.Background(), bash("git branch -D feature/stale"))
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionWarn, res.Action)
	assert.True(t, res.RequiresOracle)
}

func TestAnalyzeOracleDisabledNeverCalled(t *testing.T) {
	o := &scriptedOracle{resp: oracle.Uncertain("unused")}
	e := newEngine(t, "", WithOracle(o))

	res, err := e.Analyze(context.Background(), bash("git branch -D feature/stale"))
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionWarn, res.Action)
	assert.False(t, res.RequiresOracle)
	assert.Equal(t, int64(0), o.calls.Load())
}

func TestAnalyzeExplicitActionSkipsOracle(t *testing.T) {
	o := &scriptedOracle{resp: &contracts.OracleResponse{
		Determination:   contracts.DeterminationSafe,
		Confidence:      0.99,
		SuggestedAction: contracts.ActionAllow,
	}}
	e := newEngine(t, `
llm:
  enabled: true
rules:
  destructive:
    action: block
`, WithOracle(o))

	res, err := e.Analyze(context.Background(), bash("git branch -D feature/stale"))
	require.NoError(t, err)

	assert.Equal(t, contracts.ActionBlock, res.Action, "configured block is never downgraded")
	assert.Equal(t, int64(0), o.calls.Load())
}

func TestAnalyzeWhenGuardScopesExplicitAction(t *testing.T) {
	e := newEngine(t, `
rules:
  destructive:
    action: block
    when: 'tool == "bash"'
`)

	res, err := e.Analyze(context.Background(), bash("git branch -D feature/stale"))
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionBlock, res.Action)

	// Other tools fall back to the severity table: medium -> warn.
	other := &contracts.ToolCall{Tool: "python", Input: map[string]any{
		"code": "import subprocess; subprocess.run('git branch -D feature/stale', shell=True)",
	}}
	res, err = e.Analyze(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionWarn, res.Action)
}

func TestAnalyzeDailySpendLimitEscalates(t *testing.T) {
	e := newEngine(t, `
rules:
  purchase:
    spendLimits:
      perTransaction: 1000
      daily: 100
`)

	buy := func(amount float64) *contracts.AnalysisResult {
		res, err := e.Analyze(context.Background(), &contracts.ToolCall{
			Tool:  "http_post",
			Input: map[string]any{"amount": amount},
		})
		require.NoError(t, err)
		return res
	}

	// A lone amount field is a 0.7-confidence purchase finding: warn.
	first := buy(60)
	assert.Equal(t, contracts.ActionWarn, first.Action)

	// The second purchase pushes the daily total past the cap.
	second := buy(70)
	assert.Equal(t, contracts.ActionConfirm, second.Action)
	assert.Contains(t, second.Reason, "daily spend")
}

func TestAnalyzeAgentConfirmRejectsGarbageTicket(t *testing.T) {
	e := newEngine(t, "")
	res, err := e.Analyze(context.Background(), &contracts.ToolCall{
		Tool:  "bash",
		Input: map[string]any{"command": "ls", "_clawsec_confirm": "bogus"},
	})
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionBlock, res.Action)
	assert.Contains(t, res.Reason, "bogus")
}

func TestResolveActionTable(t *testing.T) {
	det := func(sev contracts.Severity, conf float64) *contracts.Detection {
		return &contracts.Detection{Category: contracts.CategoryDestructive, Severity: sev, Confidence: conf}
	}
	cases := []struct {
		sev      contracts.Severity
		conf     float64
		action   contracts.Action
		escalate bool
	}{
		{contracts.SeverityCritical, 0.9, contracts.ActionBlock, false},
		{contracts.SeverityCritical, 0.7, contracts.ActionConfirm, true},
		{contracts.SeverityCritical, 0.4, contracts.ActionConfirm, false},
		{contracts.SeverityHigh, 0.8, contracts.ActionConfirm, false},
		{contracts.SeverityHigh, 0.6, contracts.ActionWarn, true},
		{contracts.SeverityHigh, 0.4, contracts.ActionWarn, false},
		{contracts.SeverityMedium, 0.6, contracts.ActionWarn, true},
		{contracts.SeverityMedium, 0.9, contracts.ActionWarn, false},
		{contracts.SeverityLow, 0.99, contracts.ActionAllow, false},
	}
	for _, c := range cases {
		r := resolveAction(det(c.sev, c.conf), "", true)
		assert.Equal(t, c.action, r.action, "%s/%v", c.sev, c.conf)
		assert.Equal(t, c.escalate, r.requiresOracle, "%s/%v escalation", c.sev, c.conf)

		// With the oracle unavailable the action stays, escalation collapses.
		collapsed := resolveAction(det(c.sev, c.conf), "", false)
		assert.Equal(t, c.action, collapsed.action)
		assert.False(t, collapsed.requiresOracle)
	}

	assert.Equal(t, contracts.ActionAllow, resolveAction(nil, "", true).action)

	explicit := resolveAction(det(contracts.SeverityCritical, 0.99), contracts.ActionWarn, true)
	assert.Equal(t, contracts.ActionWarn, explicit.action)
	assert.True(t, explicit.explicit)
	assert.False(t, explicit.requiresOracle)
}

// Package config loads and validates the enforcement core configuration.
//
// Configuration is YAML. Loading goes through four stages: parse to a raw
// map, resolve the `extends` template chain (templates merge under user
// values), validate the merged document against the embedded JSON Schema
// (unknown fields are rejected), and decode into the typed model.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/clawsec/core/pkg/contracts"
)

// DefaultConfirmParameter is the reserved tool-input parameter carrying an
// approval ticket id.
const DefaultConfirmParameter = "_clawsec_confirm"

// Config is the full recognized configuration surface.
type Config struct {
	Version  string         `yaml:"version,omitempty" json:"version,omitempty"`
	Global   GlobalConfig   `yaml:"global,omitempty" json:"global,omitempty"`
	Extends  []string       `yaml:"extends,omitempty" json:"extends,omitempty"`
	Rules    RulesConfig    `yaml:"rules,omitempty" json:"rules,omitempty"`
	Approval ApprovalConfig `yaml:"approval,omitempty" json:"approval,omitempty"`
	LLM      LLMConfig      `yaml:"llm,omitempty" json:"llm,omitempty"`
}

// GlobalConfig carries the master switch and log level.
type GlobalConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty" json:"logLevel,omitempty"`
}

// RulesConfig holds per-category rules, the pattern extension hooks, and
// sanitizer tuning.
type RulesConfig struct {
	Purchase     RuleConfig         `yaml:"purchase,omitempty" json:"purchase,omitempty"`
	Website      RuleConfig         `yaml:"website,omitempty" json:"website,omitempty"`
	Destructive  RuleConfig         `yaml:"destructive,omitempty" json:"destructive,omitempty"`
	Secrets      RuleConfig         `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	Exfiltration RuleConfig         `yaml:"exfiltration,omitempty" json:"exfiltration,omitempty"`
	Shell        PatternExtension   `yaml:"shell,omitempty" json:"shell,omitempty"`
	Cloud        PatternExtension   `yaml:"cloud,omitempty" json:"cloud,omitempty"`
	Code         PatternExtension   `yaml:"code,omitempty" json:"code,omitempty"`
	Sanitization SanitizationConfig `yaml:"sanitization,omitempty" json:"sanitization,omitempty"`
}

// RuleConfig configures one threat category.
//
// Action, when set, overrides the severity/confidence table verbatim
// (`agent-confirm` is accepted as an alias for `confirm`). When, when set,
// is a CEL expression over `tool` and `input`; the explicit action override
// applies only while the expression evaluates true.
type RuleConfig struct {
	Enabled     *bool        `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Severity    string       `yaml:"severity,omitempty" json:"severity,omitempty"`
	Action      string       `yaml:"action,omitempty" json:"action,omitempty"`
	When        string       `yaml:"when,omitempty" json:"when,omitempty"`
	Mode        string       `yaml:"mode,omitempty" json:"mode,omitempty"`
	Allowlist   []string     `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Blocklist   []string     `yaml:"blocklist,omitempty" json:"blocklist,omitempty"`
	Patterns    []string     `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	SpendLimits *SpendLimits `yaml:"spendLimits,omitempty" json:"spendLimits,omitempty"`
}

// IsEnabled treats a missing flag as enabled.
func (r RuleConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// PatternExtension adds user regexes to one of the destructive
// sub-detectors.
type PatternExtension struct {
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// SpendLimits caps purchase amounts, in the account currency's major unit.
type SpendLimits struct {
	PerTransaction float64 `yaml:"perTransaction,omitempty" json:"perTransaction,omitempty"`
	Daily          float64 `yaml:"daily,omitempty" json:"daily,omitempty"`
}

// SanitizationConfig tunes the output-side injection scanner.
type SanitizationConfig struct {
	MinConfidence float64                      `yaml:"minConfidence,omitempty" json:"minConfidence,omitempty"`
	RedactMatches *bool                        `yaml:"redactMatches,omitempty" json:"redactMatches,omitempty"`
	Action        string                       `yaml:"action,omitempty" json:"action,omitempty"`
	Categories    map[string]InjectionCategory `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// InjectionCategory toggles one injection pattern family.
type InjectionCategory struct {
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Action  string `yaml:"action,omitempty" json:"action,omitempty"`
}

// ApprovalConfig selects which approval channels are offered.
type ApprovalConfig struct {
	Native       NativeApproval       `yaml:"native,omitempty" json:"native,omitempty"`
	AgentConfirm AgentConfirmApproval `yaml:"agentConfirm,omitempty" json:"agentConfirm,omitempty"`
	Webhook      WebhookApproval      `yaml:"webhook,omitempty" json:"webhook,omitempty"`
}

// NativeApproval is the interactive CLI flow. Timeout is in seconds and
// bounds ticket lifetime.
type NativeApproval struct {
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Timeout int   `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// AgentConfirmApproval is the reserved-parameter fast path.
type AgentConfirmApproval struct {
	Enabled       *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	ParameterName string `yaml:"parameterName,omitempty" json:"parameterName,omitempty"`
}

// WebhookApproval posts pending approvals to an external URL.
type WebhookApproval struct {
	Enabled *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Timeout int               `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// LLMConfig toggles the oracle and names the model.
type LLMConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	BaseURL   string `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	TimeoutMs int    `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
}

// Default returns the configuration used when no file is supplied. It
// matches the `balanced` template.
func Default() *Config {
	cfg, err := Parse([]byte("extends: [balanced]\n"))
	if err != nil {
		// The built-in templates are fixed at compile time; a failure here
		// is a programming error.
		panic(fmt.Sprintf("config: default template invalid: %v", err))
	}
	return cfg
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes YAML configuration, resolving the extends
// chain.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	merged, err := resolveExtends(raw)
	if err != nil {
		return nil, err
	}

	if err := validateSchema(merged); err != nil {
		return nil, err
	}

	cfg, err := decode(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(raw map[string]any) (*Config, error) {
	// Round-trip through YAML so the merged raw map decodes with the same
	// tag handling as a direct unmarshal.
	text, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode merged config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(text, &cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}
	return &cfg, nil
}

// validate performs the semantic checks the schema cannot express.
func (c *Config) validate() error {
	if c.Version != "" {
		if _, err := semver.NewVersion(c.Version); err != nil {
			return fmt.Errorf("version %q is not semantic: %w", c.Version, err)
		}
	}

	switch c.Global.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("global.logLevel %q: must be debug, info, warn, or error", c.Global.LogLevel)
	}

	for name, rule := range c.CategoryRules() {
		if rule.Action != "" {
			if _, err := contracts.ParseAction(rule.Action); err != nil {
				return fmt.Errorf("rules.%s.action: %w", name, err)
			}
		}
		if rule.Severity != "" {
			if _, err := contracts.ParseSeverity(rule.Severity); err != nil {
				return fmt.Errorf("rules.%s.severity: %w", name, err)
			}
		}
		if rule.Mode != "" && rule.Mode != "allowlist" && rule.Mode != "blocklist" {
			return fmt.Errorf("rules.%s.mode %q: must be allowlist or blocklist", name, rule.Mode)
		}
	}

	if c.Approval.Webhook.URL == "" && c.WebhookEnabled() {
		return fmt.Errorf("approval.webhook.enabled requires approval.webhook.url")
	}
	return nil
}

// Enabled reports the master switch; absence means on.
func (c *Config) Enabled() bool {
	return c.Global.Enabled == nil || *c.Global.Enabled
}

// CategoryRules maps category names to their rule configs.
func (c *Config) CategoryRules() map[contracts.ThreatCategory]RuleConfig {
	return map[contracts.ThreatCategory]RuleConfig{
		contracts.CategoryPurchase:     c.Rules.Purchase,
		contracts.CategoryWebsite:      c.Rules.Website,
		contracts.CategoryDestructive:  c.Rules.Destructive,
		contracts.CategorySecrets:      c.Rules.Secrets,
		contracts.CategoryExfiltration: c.Rules.Exfiltration,
	}
}

// RuleFor returns the rule config for a category. The unknown category has
// no config key and always returns a zero rule.
func (c *Config) RuleFor(cat contracts.ThreatCategory) RuleConfig {
	return c.CategoryRules()[cat]
}

// ConfirmParameter returns the reserved agent-confirm parameter name.
func (c *Config) ConfirmParameter() string {
	if name := c.Approval.AgentConfirm.ParameterName; name != "" {
		return name
	}
	return DefaultConfirmParameter
}

// AgentConfirmEnabled reports whether the fast path is on; absence means on.
func (c *Config) AgentConfirmEnabled() bool {
	return c.Approval.AgentConfirm.Enabled == nil || *c.Approval.AgentConfirm.Enabled
}

// NativeEnabled reports whether the interactive approval flow is offered.
func (c *Config) NativeEnabled() bool {
	return c.Approval.Native.Enabled == nil || *c.Approval.Native.Enabled
}

// WebhookEnabled reports whether webhook approval is on. Unlike the other
// channels it defaults off.
func (c *Config) WebhookEnabled() bool {
	return c.Approval.Webhook.Enabled != nil && *c.Approval.Webhook.Enabled
}

// ApprovalMethods returns the channels currently offered to clients.
// Webhook is included only when enabled and a URL is configured.
func (c *Config) ApprovalMethods() []string {
	methods := make([]string, 0, 3)
	if c.NativeEnabled() {
		methods = append(methods, contracts.MethodNative)
	}
	if c.AgentConfirmEnabled() {
		methods = append(methods, contracts.MethodAgentConfirm)
	}
	if c.WebhookEnabled() && c.Approval.Webhook.URL != "" {
		methods = append(methods, contracts.MethodWebhook)
	}
	return methods
}

// TicketTTL derives ticket lifetime from the native approval timeout.
func (c *Config) TicketTTL() time.Duration {
	if c.Approval.Native.Timeout > 0 {
		return time.Duration(c.Approval.Native.Timeout) * time.Second
	}
	return 5 * time.Minute
}

// OracleEnabled reports whether escalation to the language model is
// configured. It defaults off: the oracle is an opt-in dependency.
func (c *Config) OracleEnabled() bool {
	return c.LLM.Enabled != nil && *c.LLM.Enabled
}

// OracleTimeout bounds a single oracle invocation.
func (c *Config) OracleTimeout() time.Duration {
	if c.LLM.TimeoutMs > 0 {
		return time.Duration(c.LLM.TimeoutMs) * time.Millisecond
	}
	return 500 * time.Millisecond
}

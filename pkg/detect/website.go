package detect

import (
	"context"
	"log/slog"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

// Built-in host classification. Malware and phishing hosts are always
// critical regardless of list mode; gambling and adult hosts produce a
// medium warning in blocklist mode only.
var hostCategories = map[string][]string{
	"malware": {
		"*.malware-traffic-analysis.net", "malwarebazaar.abuse.ch",
		"*.cobaltstrike.com", "urlhaus.abuse.ch",
	},
	"phishing": {
		"*.phishtank.org", "phishing.site", "*.credential-harvest.net",
	},
	"gambling": {
		"*.bet365.com", "*.pokerstars.com", "*.draftkings.com",
		"*.stake.com", "*.fanduel.com",
	},
	"adult": {
		"*.onlyfans.com", "*.chaturbate.com",
	},
}

// WebsiteDetector gates any URL reachable from the tool context against the
// configured allowlist or blocklist and the built-in host categories.
type WebsiteDetector struct {
	rule   config.RuleConfig
	logger *slog.Logger
}

// NewWebsiteDetector builds the detector. Website patterns are globs, not
// regexes, so no compilation step is needed.
func NewWebsiteDetector(cfg *config.Config, logger *slog.Logger) *WebsiteDetector {
	return &WebsiteDetector{rule: cfg.RuleFor(contracts.CategoryWebsite), logger: logger}
}

// Category implements Detector.
func (d *WebsiteDetector) Category() contracts.ThreatCategory {
	return contracts.CategoryWebsite
}

// Detect implements Detector.
func (d *WebsiteDetector) Detect(_ context.Context, call *contracts.ToolCall) *contracts.Detection {
	for _, raw := range extractURLs(call) {
		host := hostOf(raw)
		if host == "" {
			continue
		}
		if det := d.classify(host); det != nil {
			return applyRuleSeverity(det, d.rule)
		}
	}
	return nil
}

func (d *WebsiteDetector) classify(host string) *contracts.Detection {
	// Category hits first: malware/phishing dominate list mode.
	for _, cat := range []string{"malware", "phishing"} {
		if matchesAny(hostCategories[cat], host) {
			return d.finding(contracts.SeverityCritical, 0.95,
				"host "+host+" is categorized as "+cat, host, cat)
		}
	}

	switch d.rule.Mode {
	case "allowlist":
		if !matchesAny(d.rule.Allowlist, host) {
			return d.finding(contracts.SeverityHigh, 0.9,
				"host "+host+" is not on the allowlist", host, "")
		}
	default: // blocklist
		if matchesAny(d.rule.Blocklist, host) {
			return d.finding(contracts.SeverityHigh, 0.9,
				"host "+host+" matches the blocklist", host, "")
		}
		for _, cat := range []string{"gambling", "adult"} {
			if matchesAny(hostCategories[cat], host) {
				return d.finding(contracts.SeverityMedium, 0.8,
					"host "+host+" is categorized as "+cat, host, cat)
			}
		}
	}
	return nil
}

func (d *WebsiteDetector) finding(sev contracts.Severity, conf float64, reason, host, category string) *contracts.Detection {
	meta := map[string]any{"host": host}
	if category != "" {
		meta["hostCategory"] = category
	}
	return &contracts.Detection{
		Category:   contracts.CategoryWebsite,
		Severity:   sev,
		Confidence: conf,
		Reason:     reason,
		Metadata:   meta,
	}
}

func matchesAny(patterns []string, host string) bool {
	for _, p := range patterns {
		if globMatchHost(p, host) {
			return true
		}
	}
	return false
}

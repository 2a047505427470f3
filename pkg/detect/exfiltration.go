package detect

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

var httpEgressPatterns = []destructivePattern{
	{regexp.MustCompile(`(?i)\bcurl\b[^|;&\n]*\s(-d|--data|--data-binary|--data-raw|-F|--form|-T|--upload-file)\b`), contracts.SeverityHigh, 0.9, "curl upload of local data"},
	{regexp.MustCompile(`(?i)\bwget\b[^|;&\n]*\s(--post-data|--post-file|--body-file)\b`), contracts.SeverityHigh, 0.9, "wget POST of local data"},
	{regexp.MustCompile(`(?i)\bhttp(ie)?\s+(--form\s+)?post\s+https?://`), contracts.SeverityHigh, 0.85, "httpie POST to external host"},
	{regexp.MustCompile(`(?i)requests\.(post|put)\s*\(|fetch\s*\([^)]*method\s*:\s*["'](post|put)`), contracts.SeverityMedium, 0.75, "code-level HTTP upload"},
	{regexp.MustCompile(`(?i)\bbase64\b[^|;&\n]*\|\s*curl\b|\bcurl\b[^|;&\n]*\$\(\s*base64\b`), contracts.SeverityHigh, 0.9, "encoded payload piped to curl"},
}

var cloudUploadPatterns = []destructivePattern{
	{regexp.MustCompile(`(?i)\baws\s+s3\s+(cp|sync|mv)\s+[^\s]+\s+s3://`), contracts.SeverityHigh, 0.9, "upload to S3 bucket"},
	{regexp.MustCompile(`(?i)\bgsutil\s+(-m\s+)?(cp|rsync|mv)\s+[^\s]+\s+gs://`), contracts.SeverityHigh, 0.9, "upload to GCS bucket"},
	{regexp.MustCompile(`(?i)\baz\s+storage\s+blob\s+upload\b`), contracts.SeverityHigh, 0.9, "upload to Azure blob storage"},
	{regexp.MustCompile(`(?i)\brclone\s+(copy|sync|move|copyto)\b`), contracts.SeverityHigh, 0.85, "rclone transfer to remote"},
}

var rawNetworkPatterns = []destructivePattern{
	{regexp.MustCompile(`(?i)\b(nc|ncat|netcat)\s+[^\s]+\s+\d{1,5}\b`), contracts.SeverityHigh, 0.9, "netcat connection to remote port"},
	{regexp.MustCompile(`/dev/tcp/[^\s/]+/\d{1,5}`), contracts.SeverityCritical, 0.95, "bash /dev/tcp redirect"},
	{regexp.MustCompile(`(?i)\bsocat\s+[^\s]*\s*tcp:`), contracts.SeverityHigh, 0.9, "socat TCP relay"},
	{regexp.MustCompile(`(?i)\b(scp|sftp)\s+[^\s]+\s+\S+@\S+:|\bssh\s+\S+\s+["']?(cat|dd|tar)\b`), contracts.SeverityHigh, 0.85, "data push over SSH"},
	{regexp.MustCompile(`(?i)\b(dig|nslookup)\s+[^\s]*\$\(|\bxxd\s+-p[^|;&\n]*\|\s*(dig|nslookup)\b`), contracts.SeverityHigh, 0.9, "DNS tunnelling of encoded data"},
	{regexp.MustCompile(`(?i)\b(for|while)\b[^\n]*\b(dig|nslookup)\s+\S*\.\S+\.(com|net|io|xyz)\b`), contracts.SeverityMedium, 0.75, "looped DNS queries with variable labels"},
}

// ExfiltrationDetector recognizes attempts to move data out of the
// environment over HTTP, cloud storage, or raw sockets. Sub-results merge
// the same way as DestructiveDetector's.
type ExfiltrationDetector struct {
	rule  config.RuleConfig
	extra []*regexp.Regexp
}

// NewExfiltrationDetector builds the detector from the exfiltration rule
// config, compiling the user pattern extensions.
func NewExfiltrationDetector(cfg *config.Config, logger *slog.Logger) *ExfiltrationDetector {
	return &ExfiltrationDetector{
		rule:  cfg.RuleFor(contracts.CategoryExfiltration),
		extra: compilePatterns(cfg.Rules.Exfiltration.Patterns, logger, "rules.exfiltration.patterns"),
	}
}

// Category implements Detector.
func (d *ExfiltrationDetector) Category() contracts.ThreatCategory {
	return contracts.CategoryExfiltration
}

// Detect implements Detector.
func (d *ExfiltrationDetector) Detect(_ context.Context, call *contracts.ToolCall) *contracts.Detection {
	text := inputText(call)
	if text == "" {
		return nil
	}

	subs := []*contracts.Detection{
		d.scanTable(text, httpEgressPatterns, "http"),
		d.scanTable(text, cloudUploadPatterns, "cloud"),
		d.scanTable(text, rawNetworkPatterns, "network"),
		d.scanExtra(text),
	}
	return applyRuleSeverity(mergeSubResults(subs), d.rule)
}

func (d *ExfiltrationDetector) scanExtra(text string) *contracts.Detection {
	for _, re := range d.extra {
		if re.MatchString(text) {
			return &contracts.Detection{
				Category:   contracts.CategoryExfiltration,
				Severity:   contracts.SeverityHigh,
				Confidence: 0.8,
				Reason:     "matched user exfiltration pattern " + re.String(),
				Metadata:   map[string]any{"sub": "custom", "pattern": re.String()},
			}
		}
	}
	return nil
}

func (d *ExfiltrationDetector) scanTable(text string, table []destructivePattern, sub string) *contracts.Detection {
	for _, p := range table {
		if p.re.MatchString(text) {
			return &contracts.Detection{
				Category:   contracts.CategoryExfiltration,
				Severity:   p.severity,
				Confidence: p.confidence,
				Reason:     p.reason,
				Metadata:   map[string]any{"sub": sub},
			}
		}
	}
	return nil
}

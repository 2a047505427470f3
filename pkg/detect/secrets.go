package detect

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

// SecretMatch is one credential or PII hit inside a string. The same
// catalogue backs the secrets detector on the input path and the output
// sanitizer's redaction filter.
type SecretMatch struct {
	Type       string
	Start, End int
	Value      string
	Redacted   string
	Severity   contracts.Severity
	Confidence float64
}

type secretPattern struct {
	typ        string
	re         *regexp.Regexp
	severity   contracts.Severity
	confidence float64
	// validate rejects structural false positives; nil means any regex
	// match counts.
	validate func(string) bool
	redact   func(string) string
}

// Catalogue order is priority order: when two patterns claim overlapping
// spans, the earlier entry wins.
var secretCatalogue = []secretPattern{
	{"private-key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP |ENCRYPTED )?PRIVATE KEY-----`), contracts.SeverityCritical, 0.98, nil, nil},
	{"aws-access-key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), contracts.SeverityCritical, 0.95, nil, nil},
	{"aws-secret-key", regexp.MustCompile(`(?i)\baws_?secret_?(access_?)?key\b["']?\s*[:=]\s*["']?[A-Za-z0-9/+=]{40}`), contracts.SeverityCritical, 0.95, nil, nil},
	{"github-token", regexp.MustCompile(`\b(ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,255}\b|\bgithub_pat_[A-Za-z0-9_]{22,255}\b`), contracts.SeverityCritical, 0.95, nil, nil},
	{"gitlab-token", regexp.MustCompile(`\bglpat-[A-Za-z0-9_-]{20,}\b`), contracts.SeverityCritical, 0.95, nil, nil},
	{"stripe-key", regexp.MustCompile(`\b[sr]k_live_[A-Za-z0-9]{20,}\b`), contracts.SeverityCritical, 0.95, nil, nil},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`), contracts.SeverityCritical, 0.9, nil, nil},
	{"google-api-key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`), contracts.SeverityCritical, 0.9, nil, nil},
	{"anthropic-key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`), contracts.SeverityCritical, 0.95, nil, nil},
	{"openai-key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{32,}\b`), contracts.SeverityCritical, 0.9, nil, nil},
	{"sendgrid-key", regexp.MustCompile(`\bSG\.[A-Za-z0-9_-]{20,}\.[A-Za-z0-9_-]{20,}\b`), contracts.SeverityCritical, 0.9, nil, nil},
	{"twilio-key", regexp.MustCompile(`\bSK[0-9a-f]{32}\b`), contracts.SeverityCritical, 0.9, nil, nil},
	{"npm-token", regexp.MustCompile(`\bnpm_[A-Za-z0-9]{36}\b`), contracts.SeverityCritical, 0.9, nil, nil},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]*`), contracts.SeverityHigh, 0.85, validJWT, nil},
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{20,}`), contracts.SeverityHigh, 0.8, nil, nil},
	{"session-token", regexp.MustCompile(`(?i)\b(session|refresh)_?token\b["']?\s*[:=]\s*["']?[A-Za-z0-9._-]{16,}`), contracts.SeverityHigh, 0.8, nil, nil},
	{"credential-assignment", regexp.MustCompile(`(?i)\b(password|passwd|api_key|apikey)\b["']?\s*[:=]\s*["']?[^\s"']{6,}`), contracts.SeverityMedium, 0.7, nil, nil},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), contracts.SeverityCritical, 0.9, validSSN, nil},
	{"credit-card", regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), contracts.SeverityCritical, 0.9, validCard, redactCard},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), contracts.SeverityLow, 0.6, nil, redactEmail},
}

// ScanSecrets returns every non-overlapping secret hit in s, sorted by
// start offset.
func ScanSecrets(s string) []SecretMatch {
	var all []SecretMatch
	for _, p := range secretCatalogue {
		for _, loc := range p.re.FindAllStringIndex(s, -1) {
			value := s[loc[0]:loc[1]]
			if p.validate != nil && !p.validate(value) {
				continue
			}
			redact := redactEcho
			if p.redact != nil {
				redact = p.redact
			}
			all = append(all, SecretMatch{
				Type:       p.typ,
				Start:      loc[0],
				End:        loc[1],
				Value:      value,
				Redacted:   redact(value),
				Severity:   p.severity,
				Confidence: p.confidence,
			})
		}
	}
	return resolveOverlaps(all)
}

// resolveOverlaps drops lower-priority matches whose span intersects an
// already accepted one. Priority is catalogue order, tracked by scanning
// the catalogue in order above, so earlier appends win on ties.
func resolveOverlaps(all []SecretMatch) []SecretMatch {
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		return all[i].End > all[j].End
	})
	var out []SecretMatch
	lastEnd := -1
	for _, m := range all {
		if m.Start < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.End
	}
	return out
}

func validJWT(candidate string) bool {
	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(candidate, jwt.MapClaims{})
	return err == nil
}

// validSSN enforces area, group, and serial validity.
func validSSN(candidate string) bool {
	parts := strings.SplitN(candidate, "-", 3)
	if len(parts) != 3 {
		return false
	}
	area, group, serial := parts[0], parts[1], parts[2]
	if area == "000" || area == "666" || area >= "900" {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// validCard requires 13-19 digits, a passing Luhn checksum, and rejects
// all-same-digit and monotonically ascending runs.
func validCard(candidate string) bool {
	digits := make([]int, 0, 19)
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	allSame, ascending := true, true
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			allSame = false
		}
		if digits[i] != (digits[i-1]+1)%10 {
			ascending = false
		}
	}
	if allSame || ascending {
		return false
	}
	return luhnValid(digits)
}

func luhnValid(digits []int) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// redactEcho keeps the first and last four characters so a reviewer can
// recognize the credential without seeing it.
func redactEcho(v string) string {
	if len(v) <= 12 {
		return "****"
	}
	return v[:4] + "****" + v[len(v)-4:]
}

func redactCard(v string) string {
	var digits []byte
	for i := 0; i < len(v); i++ {
		if v[i] >= '0' && v[i] <= '9' {
			digits = append(digits, v[i])
		}
	}
	if len(digits) < 4 {
		return "****"
	}
	return "**** **** **** " + string(digits[len(digits)-4:])
}

// redactEmail masks the local part and preserves the domain.
func redactEmail(v string) string {
	at := strings.LastIndex(v, "@")
	if at < 0 {
		return "****"
	}
	return "***" + v[at:]
}

// SecretsDetector scans the whole input subtree for credentials and PII.
type SecretsDetector struct {
	rule  config.RuleConfig
	extra []*regexp.Regexp
}

// NewSecretsDetector compiles the user pattern extensions from
// rules.secrets.patterns.
func NewSecretsDetector(cfg *config.Config, logger *slog.Logger) *SecretsDetector {
	return &SecretsDetector{
		rule:  cfg.RuleFor(contracts.CategorySecrets),
		extra: compilePatterns(cfg.Rules.Secrets.Patterns, logger, "rules.secrets.patterns"),
	}
}

// Category implements Detector.
func (d *SecretsDetector) Category() contracts.ThreatCategory {
	return contracts.CategorySecrets
}

// Detect implements Detector.
func (d *SecretsDetector) Detect(_ context.Context, call *contracts.ToolCall) *contracts.Detection {
	text := inputText(call)
	if text == "" {
		return nil
	}

	matches := ScanSecrets(text)
	for _, re := range d.extra {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			matches = append(matches, SecretMatch{
				Type:       "custom",
				Start:      loc[0],
				End:        loc[1],
				Value:      text[loc[0]:loc[1]],
				Redacted:   redactEcho(text[loc[0]:loc[1]]),
				Severity:   contracts.SeverityHigh,
				Confidence: 0.8,
			})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	primary := matches[0]
	types := make([]string, 0, len(matches))
	echoes := make([]string, 0, len(matches))
	seen := map[string]bool{}
	for _, m := range matches {
		if m.Severity.Rank() > primary.Severity.Rank() ||
			(m.Severity == primary.Severity && m.Confidence > primary.Confidence) {
			primary = m
		}
		if !seen[m.Type] {
			seen[m.Type] = true
			types = append(types, m.Type)
			echoes = append(echoes, m.Type+":"+m.Redacted)
		}
	}

	det := &contracts.Detection{
		Category:   contracts.CategorySecrets,
		Severity:   primary.Severity,
		Confidence: primary.Confidence,
		Reason:     "credential material in input: " + strings.Join(echoes, ", "),
		Metadata:   map[string]any{"types": types, "primary": primary.Type},
	}
	return applyRuleSeverity(det, d.rule)
}

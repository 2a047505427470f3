package sanitize

import (
	"encoding/base64"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/clawsec/core/pkg/config"
)

// Injection pattern family names. They double as the category keys under
// rules.sanitization.categories.
const (
	CategoryInstructionOverride = "instruction-override"
	CategorySystemPromptLeak    = "system-prompt-leak"
	CategoryJailbreak           = "jailbreak"
	CategoryEncodedPayload      = "encoded-payload"
)

const maxDecodeDepth = 3

// InjectionMatch is one scanner hit. Matches found inside decoded content
// carry positions (-1, -1): they have no span in the original text and
// cannot be redacted in place.
type InjectionMatch struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
}

// ScanResult is the outcome of scanning one string.
type ScanResult struct {
	HasInjection      bool
	Matches           []InjectionMatch
	HighestConfidence float64
	SanitizedOutput   string
}

type injectionPattern struct {
	re          *regexp.Regexp
	confidence  float64
	description string
}

var instructionOverridePatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)\bignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|prompts|rules|directions|messages)`), 0.95, "ignore previous instructions"},
	{regexp.MustCompile(`(?i)\bdisregard\s+(all\s+|your\s+)?(previous\s+|prior\s+)?(instructions|rules|guidelines|prompts)`), 0.9, "disregard instructions"},
	{regexp.MustCompile(`(?i)\bforget\s+(everything|all\s+previous|your\s+(instructions|training|rules))`), 0.85, "forget instructions"},
	{regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`), 0.8, "inline instruction replacement"},
	{regexp.MustCompile(`(?i)\boverride\s+(the\s+)?(system|safety|previous)\b`), 0.85, "override directive"},
	{regexp.MustCompile(`(?i)\byou\s+must\s+now\s+(only\s+)?(obey|follow|respond)`), 0.8, "imperative redirection"},
}

var systemPromptLeakPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|display)\b[^.\n]{0,40}\b(system\s+prompt|initial\s+instructions|hidden\s+instructions)`), 0.9, "system prompt extraction"},
	{regexp.MustCompile(`(?i)\bwhat\s+(is|are)\s+your\s+(system\s+prompt|initial\s+)?instructions`), 0.85, "instruction interrogation"},
	{regexp.MustCompile(`(?i)\brepeat\b[^.\n]{0,30}\bverbatim\b|\bverbatim\b[^.\n]{0,30}\b(prompt|instructions)`), 0.8, "verbatim prompt echo"},
	{regexp.MustCompile(`(?i)\beverything\s+(above|before)\s+this\s+(line|message|point)`), 0.8, "context dump request"},
}

var jailbreakPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b|\bDAN\s+mode\b`), 0.9, "DAN jailbreak"},
	{regexp.MustCompile(`(?i)\bdeveloper\s+mode\b`), 0.8, "developer mode"},
	{regexp.MustCompile(`(?i)\bpretend\s+(you\s+are|to\s+be)\b[^.\n]{0,60}\b(unrestricted|unfiltered|without\s+(any\s+)?(restrictions|rules|limits))`), 0.85, "unrestricted persona"},
	{regexp.MustCompile(`(?i)\bno\s+longer\s+(bound|restricted|limited)\s+by\b`), 0.85, "restriction removal"},
	{regexp.MustCompile(`(?i)\byou\s+have\s+no\s+(restrictions|guidelines|filters)\b`), 0.85, "restriction denial"},
}

var encodedPayloadPatterns = []injectionPattern{
	{regexp.MustCompile(`(?i)\beval\s*\(\s*atob\s*\(`), 0.85, "eval of base64 payload"},
	{regexp.MustCompile(`(?i)\bbase64\s+(-d|--decode)\b[^|;&\n]*\|\s*(sh|bash|zsh)\b`), 0.85, "decoded payload piped to shell"},
	{regexp.MustCompile(`(?i)\bfromCharCode\s*\(`), 0.7, "character code obfuscation"},
}

var familyTables = map[string][]injectionPattern{
	CategoryInstructionOverride: instructionOverridePatterns,
	CategorySystemPromptLeak:    systemPromptLeakPatterns,
	CategoryJailbreak:           jailbreakPatterns,
	CategoryEncodedPayload:      encodedPayloadPatterns,
}

// Candidate encoding runs extracted before recursive decoding.
var (
	base64Run  = regexp.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`)
	hexRun     = regexp.MustCompile(`(?:\\x[0-9a-fA-F]{2}){4,}`)
	unicodeRun = regexp.MustCompile(`(?:\\u[0-9a-fA-F]{4}){4,}`)
	percentRun = regexp.MustCompile(`(?:%[0-9a-fA-F]{2}){4,}`)
)

// Scanner matches one string against the four injection families, with
// recursive decoding of embedded base64/hex/unicode/percent payloads.
//
// Input is NFKC-normalized before matching so homoglyph and fullwidth
// spellings collapse onto the ASCII patterns; positions and the sanitized
// output refer to the normalized text.
type Scanner struct {
	minConfidence float64
	redact        bool
	enabled       map[string]bool
}

// NewScanner builds a scanner from the sanitization config.
func NewScanner(cfg *config.Config) *Scanner {
	sc := cfg.Rules.Sanitization
	enabled := make(map[string]bool, len(familyTables))
	for cat := range familyTables {
		enabled[cat] = true
		if c, ok := sc.Categories[cat]; ok && c.Enabled != nil {
			enabled[cat] = *c.Enabled
		}
	}
	min := sc.MinConfidence
	if min == 0 {
		min = 0.7
	}
	return &Scanner{
		minConfidence: min,
		redact:        sc.RedactMatches == nil || *sc.RedactMatches,
		enabled:       enabled,
	}
}

// MinConfidence returns the configured reporting threshold.
func (s *Scanner) MinConfidence() float64 { return s.minConfidence }

// Scan runs the four families over text and, when enabled, the recursive
// decode pass. Matches below the configured minimum confidence are
// dropped.
func (s *Scanner) Scan(text string) ScanResult {
	text = norm.NFKC.String(text)

	var matches []InjectionMatch
	for cat, table := range familyTables {
		if !s.enabled[cat] {
			continue
		}
		for _, p := range table {
			for _, loc := range p.re.FindAllStringIndex(text, -1) {
				matches = append(matches, InjectionMatch{
					Category:    cat,
					Description: p.description,
					Confidence:  p.confidence,
					Start:       loc[0],
					End:         loc[1],
				})
			}
		}
	}

	if s.enabled[CategoryEncodedPayload] {
		matches = append(matches, s.scanEncoded(text, 1)...)
	}

	matches = dedupe(matches)

	result := ScanResult{Matches: nil}
	for _, m := range matches {
		if m.Confidence < s.minConfidence {
			continue
		}
		result.Matches = append(result.Matches, m)
		if m.Confidence > result.HighestConfidence {
			result.HighestConfidence = m.Confidence
		}
	}
	result.HasInjection = len(result.Matches) > 0

	if s.redact && result.HasInjection {
		result.SanitizedOutput = redactSpans(text, result.Matches)
	} else {
		result.SanitizedOutput = text
	}
	return result
}

// scanEncoded extracts encoded runs, decodes them, and scans the decoded
// text against the non-encoded families. Recursion stops at maxDecodeDepth
// so triple-wrapped payloads terminate.
func (s *Scanner) scanEncoded(text string, depth int) []InjectionMatch {
	if depth > maxDecodeDepth {
		return nil
	}

	var out []InjectionMatch
	for _, decoded := range decodeCandidates(text) {
		for cat, table := range familyTables {
			if cat == CategoryEncodedPayload || !s.enabled[cat] {
				continue
			}
			for _, p := range table {
				if p.re.MatchString(decoded) {
					out = append(out, InjectionMatch{
						Category:    CategoryEncodedPayload,
						Description: p.description + " (decoded)",
						Confidence:  clamp1(p.confidence + 0.1*float64(depth)),
						Start:       -1,
						End:         -1,
					})
				}
			}
		}
		out = append(out, s.scanEncoded(decoded, depth+1)...)
	}
	return out
}

func decodeCandidates(text string) []string {
	var out []string
	for _, run := range base64Run.FindAllString(text, -1) {
		if decoded, ok := decodeBase64(run); ok {
			out = append(out, decoded)
		}
	}
	for _, run := range hexRun.FindAllString(text, -1) {
		out = append(out, decodeEscapeRun(run, `\x`, 2))
	}
	for _, run := range unicodeRun.FindAllString(text, -1) {
		out = append(out, decodeEscapeRun(run, `\u`, 4))
	}
	for _, run := range percentRun.FindAllString(text, -1) {
		out = append(out, decodeEscapeRun(run, `%`, 2))
	}
	return out
}

func decodeBase64(run string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(run)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(run)
	}
	if err != nil {
		return "", false
	}
	for _, b := range raw {
		if b != '\t' && b != '\n' && b != '\r' && (b < 0x20 || b > 0x7e) {
			return "", false
		}
	}
	return string(raw), true
}

func decodeEscapeRun(run, prefix string, digits int) string {
	var sb strings.Builder
	step := len(prefix) + digits
	for i := 0; i+step <= len(run); i += step {
		n, err := strconv.ParseUint(run[i+len(prefix):i+step], 16, 32)
		if err != nil {
			continue
		}
		sb.WriteRune(rune(n))
	}
	return sb.String()
}

// dedupe removes duplicate spans. Positionless decoded matches dedupe on
// (category, description) instead. Output is sorted by start offset.
func dedupe(matches []InjectionMatch) []InjectionMatch {
	seen := map[string]bool{}
	out := matches[:0]
	for _, m := range matches {
		var key string
		if m.Start < 0 {
			key = m.Category + "|" + m.Description
		} else {
			key = strconv.Itoa(m.Start) + ":" + strconv.Itoa(m.End)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// redactSpans replaces each positioned match right-to-left so earlier
// offsets stay valid. Overlapping spans from different families are merged
// first.
func redactSpans(text string, matches []InjectionMatch) string {
	type span struct{ start, end int }
	var spans []span
	for _, m := range matches {
		if m.Start >= 0 {
			spans = append(spans, span{m.Start, m.End})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var merged []span
	for _, s := range spans {
		if n := len(merged); n > 0 && s.start <= merged[n-1].end {
			if s.end > merged[n-1].end {
				merged[n-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	for i := len(merged) - 1; i >= 0; i-- {
		text = text[:merged[i].start] + "[REDACTED]" + text[merged[i].end:]
	}
	return text
}

func clamp1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

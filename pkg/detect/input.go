package detect

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/clawsec/core/pkg/contracts"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>\\]+`)

// walkStrings visits every string leaf in a value tree, passing the
// dotted key path that reached it. Map iteration order is not fixed;
// detectors must not depend on visit order.
func walkStrings(path string, v any, visit func(path, s string)) {
	switch t := v.(type) {
	case string:
		visit(path, t)
	case map[string]any:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			walkStrings(childPath, child, visit)
		}
	case []any:
		for i, child := range t {
			walkStrings(fmt.Sprintf("%s[%d]", path, i), child, visit)
		}
	}
}

// inputText flattens all string leaves of the call input into one scan
// buffer, newline separated.
func inputText(call *contracts.ToolCall) string {
	var sb strings.Builder
	walkStrings("", call.Input, func(_, s string) {
		sb.WriteString(s)
		sb.WriteByte('\n')
	})
	return sb.String()
}

// extractURLs collects the call's explicit URL plus every URL embedded in
// string leaves of the input.
func extractURLs(call *contracts.ToolCall) []string {
	seen := map[string]bool{}
	var urls []string
	add := func(raw string) {
		raw = strings.TrimRight(raw, ".,;)")
		if raw == "" || seen[raw] {
			return
		}
		seen[raw] = true
		urls = append(urls, raw)
	}

	if call.URL != "" {
		add(call.URL)
	}
	walkStrings("", call.Input, func(_, s string) {
		for _, m := range urlPattern.FindAllString(s, -1) {
			add(m)
		}
	})
	return urls
}

// hostOf returns the lower-cased hostname of a URL, or "" if unparseable.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// globMatchHost matches a hostname against a domain glob. `*.example.com`
// matches any subdomain but not the apex; a bare `example.com` matches
// exactly.
func globMatchHost(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if base, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+base) && len(host) > len(base)+1
	}
	return pattern == host
}

// numericValue coerces a field value into a float when it looks like an
// amount. Strings with currency prefixes ("$12.50") are accepted.
func numericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(strings.TrimLeft(t, "$€£"))
		s = strings.ReplaceAll(s, ",", "")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

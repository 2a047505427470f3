package config

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Built-in templates. Each is ordinary configuration YAML and may itself
// extend another template; resolution rejects cycles.
var templates = map[string]string{
	"balanced": `
global:
  enabled: true
  logLevel: info
rules:
  purchase:
    enabled: true
    action: block
  website:
    enabled: true
    mode: blocklist
  destructive:
    enabled: true
  secrets:
    enabled: true
  exfiltration:
    enabled: true
  sanitization:
    minConfidence: 0.7
    redactMatches: true
    action: redact
approval:
  native:
    enabled: true
    timeout: 300
  agentConfirm:
    enabled: true
    parameterName: _clawsec_confirm
  webhook:
    enabled: false
llm:
  enabled: false
  timeoutMs: 500
`,
	"strict": `
extends: [balanced]
rules:
  website:
    mode: allowlist
  secrets:
    action: block
  exfiltration:
    action: block
  sanitization:
    minConfidence: 0.5
    action: block
approval:
  native:
    timeout: 120
`,
	"permissive": `
extends: [balanced]
rules:
  purchase:
    action: warn
  exfiltration:
    enabled: true
  sanitization:
    minConfidence: 0.9
    action: warn
`,
}

// TemplateNames lists the built-in templates in stable order.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveExtends merges the user document over its template chain. The
// user document is the final writer; templates named earlier in extends
// merge under templates named later.
func resolveExtends(user map[string]any) (map[string]any, error) {
	return resolveWithVisited(user, map[string]bool{})
}

func resolveWithVisited(doc map[string]any, visiting map[string]bool) (map[string]any, error) {
	names, err := extendsList(doc)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	for _, name := range names {
		if visiting[name] {
			return nil, fmt.Errorf("template cycle detected at %q", name)
		}
		text, ok := templates[name]
		if !ok {
			return nil, fmt.Errorf("unknown template %q (have %v)", name, TemplateNames())
		}

		var tmpl map[string]any
		if err := yaml.Unmarshal([]byte(text), &tmpl); err != nil {
			return nil, fmt.Errorf("template %q: %w", name, err)
		}

		visiting[name] = true
		resolved, err := resolveWithVisited(tmpl, visiting)
		delete(visiting, name)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", name, err)
		}

		merged = mergeMaps(merged, resolved)
	}

	out := mergeMaps(merged, doc)
	delete(out, "extends")
	return out, nil
}

func extendsList(doc map[string]any) ([]string, error) {
	raw, ok := doc["extends"]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("extends must be a list of template names")
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		name, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("extends entries must be strings, got %T", item)
		}
		names = append(names, name)
	}
	return names, nil
}

// mergeMaps deep-merges overlay onto base without mutating either.
// Mappings recurse, sequences concatenate and deduplicate, scalars are
// last-writer-wins (overlay wins).
func mergeMaps(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, ov := range overlay {
		bv, exists := out[k]
		if !exists {
			out[k] = ov
			continue
		}
		bm, bIsMap := bv.(map[string]any)
		om, oIsMap := ov.(map[string]any)
		if bIsMap && oIsMap {
			out[k] = mergeMaps(bm, om)
			continue
		}
		bs, bIsSeq := bv.([]any)
		os, oIsSeq := ov.([]any)
		if bIsSeq && oIsSeq {
			out[k] = mergeSequences(bs, os)
			continue
		}
		out[k] = ov
	}
	return out
}

func mergeSequences(base, overlay []any) []any {
	out := make([]any, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(base)+len(overlay))
	for _, v := range append(append([]any{}, base...), overlay...) {
		key := fmt.Sprintf("%v", v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

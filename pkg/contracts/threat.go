// Package contracts defines the shared value types of the enforcement core:
// severities, actions, threat categories, detections, analysis results, and
// approval tickets. Every other package consumes these types; none of them
// carries behavior beyond ordering and parsing helpers.
package contracts

import (
	"fmt"
	"sort"
)

// Severity grades a detection. The set is totally ordered:
// low < medium < high < critical.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the position of s in the severity order. Unknown values rank
// below low so a malformed severity can never escalate a decision.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is ordered at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity validates a severity string.
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(raw)
	if _, ok := severityRank[s]; !ok {
		return "", fmt.Errorf("unknown severity %q", raw)
	}
	return s, nil
}

// Action is the engine's decision about a tool call.
type Action string

// Actions, from most to least permissive.
const (
	ActionAllow   Action = "allow"
	ActionLog     Action = "log"
	ActionWarn    Action = "warn"
	ActionConfirm Action = "confirm"
	ActionBlock   Action = "block"
)

// AgentConfirmAlias is accepted at the configuration boundary as a synonym
// for ActionConfirm.
const AgentConfirmAlias = "agent-confirm"

// ParseAction validates an action string, mapping the agent-confirm alias
// onto confirm.
func ParseAction(raw string) (Action, error) {
	if raw == AgentConfirmAlias {
		return ActionConfirm, nil
	}
	switch a := Action(raw); a {
	case ActionAllow, ActionLog, ActionWarn, ActionConfirm, ActionBlock:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", raw)
}

// ThreatCategory names one of the five detector families, plus unknown for
// findings that cannot be attributed.
type ThreatCategory string

// Threat categories.
const (
	CategoryPurchase     ThreatCategory = "purchase"
	CategoryWebsite      ThreatCategory = "website"
	CategoryDestructive  ThreatCategory = "destructive"
	CategorySecrets      ThreatCategory = "secrets"
	CategoryExfiltration ThreatCategory = "exfiltration"
	CategoryUnknown      ThreatCategory = "unknown"
)

// Categories returns the closed detector-family set in lexical order.
// CategoryUnknown is excluded: it has no detector and no config key.
func Categories() []ThreatCategory {
	return []ThreatCategory{
		CategoryDestructive,
		CategoryExfiltration,
		CategoryPurchase,
		CategorySecrets,
		CategoryWebsite,
	}
}

// Detection is one detector's positive finding.
type Detection struct {
	Category   ThreatCategory `json:"category"`
	Severity   Severity       `json:"severity"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SortDetections orders detections by severity descending, then confidence
// descending, then category name ascending so equal findings always land in
// the same order.
func SortDetections(ds []Detection) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Severity.Rank() != ds[j].Severity.Rank() {
			return ds[i].Severity.Rank() > ds[j].Severity.Rank()
		}
		if ds[i].Confidence != ds[j].Confidence {
			return ds[i].Confidence > ds[j].Confidence
		}
		return ds[i].Category < ds[j].Category
	})
}

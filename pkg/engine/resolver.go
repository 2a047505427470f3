package engine

import (
	"github.com/clawsec/core/pkg/contracts"
)

// resolution is the action resolver's output.
type resolution struct {
	action contracts.Action
	// requiresOracle is set only in the ambiguous severity/confidence
	// bands, and only when the oracle is enabled and available.
	requiresOracle bool
	// explicit marks a verbatim config action; the oracle never overrides
	// those.
	explicit bool
}

// resolveAction maps the primary detection onto an action. explicitAction
// is the category's configured override (empty when none, or when its
// `when` guard did not hold); oracleReady collapses the escalating rows
// when false.
func resolveAction(primary *contracts.Detection, explicitAction contracts.Action, oracleReady bool) resolution {
	if primary == nil {
		return resolution{action: contracts.ActionAllow}
	}
	if explicitAction != "" {
		return resolution{action: explicitAction, explicit: true}
	}

	var r resolution
	switch primary.Severity {
	case contracts.SeverityCritical:
		switch {
		case primary.Confidence > 0.8:
			r = resolution{action: contracts.ActionBlock}
		case primary.Confidence >= 0.5:
			r = resolution{action: contracts.ActionConfirm, requiresOracle: true}
		default:
			r = resolution{action: contracts.ActionConfirm}
		}
	case contracts.SeverityHigh:
		switch {
		case primary.Confidence > 0.7:
			r = resolution{action: contracts.ActionConfirm}
		case primary.Confidence >= 0.5:
			r = resolution{action: contracts.ActionWarn, requiresOracle: true}
		default:
			r = resolution{action: contracts.ActionWarn}
		}
	case contracts.SeverityMedium:
		r = resolution{action: contracts.ActionWarn}
		if primary.Confidence >= 0.5 && primary.Confidence <= 0.8 {
			r.requiresOracle = true
		}
	default: // low and anything unranked
		r = resolution{action: contracts.ActionAllow}
	}

	if !oracleReady {
		r.requiresOracle = false
	}
	return r
}

// applyOracleOverride maps the oracle verdict onto the pattern action.
// Uncertain verdicts, including the degraded timeout response, leave the
// pattern action in place.
func applyOracleOverride(patternAction contracts.Action, resp *contracts.OracleResponse) contracts.Action {
	if resp == nil || resp.Determination == contracts.DeterminationUncertain {
		return patternAction
	}
	switch resp.SuggestedAction {
	case contracts.ActionBlock:
		return contracts.ActionBlock
	case contracts.ActionConfirm:
		return contracts.ActionConfirm
	case contracts.ActionAllow:
		if resp.Confidence >= 0.7 {
			return contracts.ActionAllow
		}
		return contracts.ActionWarn
	}
	return patternAction
}

package detect

import (
	"strings"

	"github.com/clawsec/core/pkg/contracts"
)

// mergeSubResults combines the findings of a detector's sub-detectors into
// one detection, shared by the destructive and exfiltration families.
//
// The highest-confidence sub-result becomes the primary; auxiliary reasons
// are appended to its message; when n sub-detectors fire, confidence is
// boosted by 0.05*(n-1) capped at 0.99. The primary's severity and metadata
// are preserved.
func mergeSubResults(subs []*contracts.Detection) *contracts.Detection {
	fired := make([]*contracts.Detection, 0, len(subs))
	for _, s := range subs {
		if s != nil {
			fired = append(fired, s)
		}
	}
	if len(fired) == 0 {
		return nil
	}

	primary := fired[0]
	for _, s := range fired[1:] {
		if s.Confidence > primary.Confidence {
			primary = s
		}
	}

	merged := *primary
	if len(fired) > 1 {
		reasons := make([]string, 0, len(fired)-1)
		for _, s := range fired {
			if s != primary {
				reasons = append(reasons, s.Reason)
			}
		}
		merged.Reason = primary.Reason + " (also: " + strings.Join(reasons, "; ") + ")"
		merged.Confidence = boost(primary.Confidence, len(fired))
	}
	return &merged
}

func boost(confidence float64, fired int) float64 {
	boosted := confidence + 0.05*float64(fired-1)
	if boosted > 0.99 {
		return 0.99
	}
	return boosted
}

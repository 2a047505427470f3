package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityLow.AtLeast(SeverityMedium))
	assert.Equal(t, -1, Severity("bogus").Rank())
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("agent-confirm")
	require.NoError(t, err)
	assert.Equal(t, ActionConfirm, a)

	a, err = ParseAction("block")
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, a)

	_, err = ParseAction("deny")
	assert.Error(t, err)
}

func TestSortDetections(t *testing.T) {
	ds := []Detection{
		{Category: CategoryWebsite, Severity: SeverityHigh, Confidence: 0.9},
		{Category: CategoryDestructive, Severity: SeverityCritical, Confidence: 0.6},
		{Category: CategorySecrets, Severity: SeverityHigh, Confidence: 0.9},
		{Category: CategoryPurchase, Severity: SeverityHigh, Confidence: 0.95},
	}
	SortDetections(ds)

	require.Len(t, ds, 4)
	assert.Equal(t, CategoryDestructive, ds[0].Category, "severity dominates confidence")
	assert.Equal(t, CategoryPurchase, ds[1].Category)
	// Equal severity and confidence: category name breaks the tie.
	assert.Equal(t, CategorySecrets, ds[2].Category)
	assert.Equal(t, CategoryWebsite, ds[3].Category)
}

func TestAnalysisResultClone(t *testing.T) {
	r := &AnalysisResult{
		Action: ActionConfirm,
		Detections: []Detection{
			{Category: CategoryDestructive, Severity: SeverityHigh, Metadata: map[string]any{"path": "/tmp/x"}},
		},
		Approval: &PendingApproval{ID: "t1", Methods: []string{MethodNative}},
		Params:   map[string]any{"command": "rm -rf /tmp/x"},
	}

	c := r.Clone()
	c.Detections[0].Metadata["path"] = "/etc"
	c.Approval.ID = "t2"
	c.Params["command"] = "ls"

	assert.Equal(t, "/tmp/x", r.Detections[0].Metadata["path"])
	assert.Equal(t, "t1", r.Approval.ID)
	assert.Equal(t, "rm -rf /tmp/x", r.Params["command"])
}

func TestTicketStatusTerminal(t *testing.T) {
	assert.False(t, TicketPending.Terminal())
	for _, s := range []TicketStatus{TicketApproved, TicketDenied, TicketExpired} {
		assert.True(t, s.Terminal(), string(s))
	}
}

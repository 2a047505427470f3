package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec/core/pkg/contracts"
)

func result(action contracts.Action) *contracts.AnalysisResult {
	return &contracts.AnalysisResult{
		Action: action,
		Reason: "test",
		Detections: []contracts.Detection{{
			Category:   contracts.CategoryDestructive,
			Severity:   contracts.SeverityHigh,
			Confidence: 0.85,
			Metadata:   map[string]any{"sub": "shell"},
		}},
	}
}

func TestGetMarksResultCached(t *testing.T) {
	c := New(time.Minute)
	c.Put("fp1", result(contracts.ActionBlock))

	got := c.Get("fp1")
	require.NotNil(t, got)
	assert.True(t, got.Cached)
	assert.Equal(t, contracts.ActionBlock, got.Action)

	assert.Nil(t, c.Get("other"))
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	c := New(time.Minute)
	orig := result(contracts.ActionWarn)
	c.Put("fp1", orig)

	// Mutating either the original or a returned copy must not change what
	// the next probe sees.
	orig.Detections[0].Metadata["sub"] = "mutated"
	first := c.Get("fp1")
	first.Detections[0].Metadata["sub"] = "also mutated"

	second := c.Get("fp1")
	assert.Equal(t, "shell", second.Detections[0].Metadata["sub"])
}

func TestExpiryOnProbe(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(time.Minute).WithClock(func() time.Time { return now })
	c.Put("fp1", result(contracts.ActionAllow))

	now = now.Add(59 * time.Second)
	assert.NotNil(t, c.Get("fp1"))

	now = now.Add(2 * time.Second)
	assert.Nil(t, c.Get("fp1"))
	assert.Equal(t, 0, c.Len())
}

func TestEvictionPrefersExpiredThenOldest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(time.Hour).WithClock(func() time.Time { return now })

	for i := 0; i < maxEntries; i++ {
		c.Put(fmt.Sprintf("fp%d", i), result(contracts.ActionAllow))
		now = now.Add(time.Millisecond)
	}
	require.Equal(t, maxEntries, c.Len())

	// Nothing has expired, so the insert drops the oldest 10%.
	c.Put("overflow", result(contracts.ActionAllow))
	assert.Equal(t, maxEntries-maxEntries/10+1, c.Len())
	assert.Nil(t, c.Get("fp0"))
	assert.NotNil(t, c.Get("overflow"))
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	c := New(time.Minute)
	c.Put("fp1", result(contracts.ActionAllow))
	c.Put("fp1", result(contracts.ActionBlock))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, contracts.ActionBlock, c.Get("fp1").Action)
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute)
	c.Put("fp1", result(contracts.ActionAllow))
	c.Invalidate("fp1")
	assert.Nil(t, c.Get("fp1"))
}

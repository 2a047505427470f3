package approval

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec/core/pkg/contracts"
)

func testDetection() contracts.Detection {
	return contracts.Detection{
		Category:   contracts.CategoryDestructive,
		Severity:   contracts.SeverityHigh,
		Confidence: 0.85,
		Reason:     "recursive force-remove of /tmp/x",
	}
}

func testCall() contracts.ToolCall {
	return contracts.ToolCall{Tool: "bash", Input: map[string]any{"command": "rm -rf /tmp/x"}}
}

func TestTicketLifecycle(t *testing.T) {
	store := NewStore(slog.Default())
	ticket, err := store.Create(testDetection(), testCall(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, contracts.TicketPending, ticket.Status)
	assert.Len(t, ticket.ID, 22, "128-bit url-safe id")

	approved, err := store.Approve(ticket.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, contracts.TicketApproved, approved.Status)
	assert.Equal(t, "operator", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	// Terminal tickets admit no further transitions.
	_, err = store.Approve(ticket.ID, "operator")
	assert.ErrorContains(t, err, "already approved")
	_, err = store.Deny(ticket.ID, "operator")
	assert.ErrorContains(t, err, "already approved")
}

func TestTicketDeny(t *testing.T) {
	store := NewStore(slog.Default())
	ticket, err := store.Create(testDetection(), testCall(), time.Minute)
	require.NoError(t, err)

	denied, err := store.Deny(ticket.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, contracts.TicketDenied, denied.Status)

	_, err = store.Approve(ticket.ID, "operator")
	assert.ErrorContains(t, err, "already denied")
}

func TestTicketLazyExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(slog.Default()).WithClock(func() time.Time { return now })

	ticket, err := store.Create(testDetection(), testCall(), 30*time.Second)
	require.NoError(t, err)

	now = now.Add(31 * time.Second)
	got, ok := store.Get(ticket.ID)
	require.True(t, ok)
	assert.Equal(t, contracts.TicketExpired, got.Status)

	_, err = store.Approve(ticket.ID, "operator")
	assert.ErrorContains(t, err, "already expired")
}

func TestSweepRemovesTerminal(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(slog.Default()).WithClock(func() time.Time { return now })

	expiring, err := store.Create(testDetection(), testCall(), 10*time.Second)
	require.NoError(t, err)
	_, err = store.Create(testDetection(), testCall(), time.Hour)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	store.Sweep(true)

	assert.Equal(t, 1, store.Len())
	_, ok := store.Get(expiring.ID)
	assert.False(t, ok)
}

func TestBackgroundSweepLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	store := NewStore(slog.Default()).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	_, err := store.Create(testDetection(), testCall(), 10*time.Second)
	require.NoError(t, err)
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	store.StartSweep(5*time.Millisecond, true)
	// A second start while running is a no-op, not a second sweeper.
	store.StartSweep(5*time.Millisecond, true)

	assert.Eventually(t, func() bool { return store.Len() == 0 },
		time.Second, 5*time.Millisecond)

	store.StopSweep()
	store.StopSweep()

	// The store restarts cleanly after a stop.
	_, err = store.Create(testDetection(), testCall(), 10*time.Second)
	require.NoError(t, err)
	mu.Lock()
	now = now.Add(time.Minute)
	mu.Unlock()

	store.StartSweep(5*time.Millisecond, true)
	assert.Eventually(t, func() bool { return store.Len() == 0 },
		time.Second, 5*time.Millisecond)
	store.StopSweep()
}

func TestApproveRaceFirstTransitionWins(t *testing.T) {
	store := NewStore(slog.Default())
	ticket, err := store.Create(testDetection(), testCall(), time.Minute)
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := store.Approve(ticket.ID, "a"); err == nil {
					wins <- "approve"
				}
			} else {
				if _, err := store.Deny(ticket.ID, "b"); err == nil {
					wins <- "deny"
				}
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one transition may succeed")
}

func TestConfirmParameterAbsent(t *testing.T) {
	store := NewStore(slog.Default())
	call := testCall()
	out := CheckConfirm(store, "_clawsec_confirm", &call)
	assert.False(t, out.Handled)
}

func TestConfirmRejectsNonStringParameter(t *testing.T) {
	store := NewStore(slog.Default())
	for _, bad := range []any{42, true, "", []any{"x"}} {
		call := contracts.ToolCall{Tool: "bash", Input: map[string]any{
			"command":          "ls",
			"_clawsec_confirm": bad,
		}}
		out := CheckConfirm(store, "_clawsec_confirm", &call)
		assert.True(t, out.Handled)
		assert.False(t, out.Allowed)
		assert.Contains(t, out.Reason, "non-empty ticket id")
	}
}

func TestConfirmUnknownTicket(t *testing.T) {
	store := NewStore(slog.Default())
	call := contracts.ToolCall{Tool: "bash", Input: map[string]any{
		"_clawsec_confirm": "nope",
	}}
	out := CheckConfirm(store, "_clawsec_confirm", &call)
	assert.True(t, out.Handled)
	assert.False(t, out.Allowed)
	assert.Contains(t, out.Reason, `no approval ticket "nope"`)
}

func TestConfirmValidTicketApprovesAndStrips(t *testing.T) {
	store := NewStore(slog.Default())
	ticket, err := store.Create(testDetection(), testCall(), time.Minute)
	require.NoError(t, err)

	call := contracts.ToolCall{Tool: "bash", Input: map[string]any{
		"command":          "rm -rf /tmp/x",
		"_clawsec_confirm": ticket.ID,
	}}
	out := CheckConfirm(store, "_clawsec_confirm", &call)

	require.True(t, out.Handled)
	assert.True(t, out.Allowed)
	assert.Equal(t, map[string]any{"command": "rm -rf /tmp/x"}, out.Input)
	require.NotNil(t, out.Ticket)
	assert.Equal(t, contracts.TicketApproved, out.Ticket.Status)
	assert.Equal(t, "agent", out.Ticket.ApprovedBy)

	// One-time token: replaying the same id blocks.
	replay := CheckConfirm(store, "_clawsec_confirm", &call)
	assert.True(t, replay.Handled)
	assert.False(t, replay.Allowed)
	assert.Contains(t, replay.Reason, "already approved")
}

func TestConfirmExpiredTicketBlocks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(slog.Default()).WithClock(func() time.Time { return now })
	ticket, err := store.Create(testDetection(), testCall(), 10*time.Second)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	call := contracts.ToolCall{Tool: "bash", Input: map[string]any{
		"_clawsec_confirm": ticket.ID,
	}}
	out := CheckConfirm(store, "_clawsec_confirm", &call)
	assert.True(t, out.Handled)
	assert.False(t, out.Allowed)
	assert.Contains(t, out.Reason, "expired")
}

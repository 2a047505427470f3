package engine

import (
	"sync"
	"time"
)

// spendLedger accumulates purchase amounts per calendar day (UTC) so the
// daily spend limit can be enforced across calls. Single-process state,
// like the decision cache.
type spendLedger struct {
	mu    sync.Mutex
	day   string
	total float64
	clock func() time.Time
}

func newSpendLedger() *spendLedger {
	return &spendLedger{clock: time.Now}
}

// add records amount and returns the running total for today, rolling the
// ledger over at midnight UTC.
func (l *spendLedger) add(amount float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.clock().UTC().Format("2006-01-02")
	if today != l.day {
		l.day = today
		l.total = 0
	}
	l.total += amount
	return l.total
}

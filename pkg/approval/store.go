// Package approval holds the ticket store and the agent-confirm fast
// path. A ticket is a one-time token: created when the engine answers
// confirm, consumed by exactly one approve or deny, expired by the clock.
package approval

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawsec/core/pkg/contracts"
)

// DefaultSweepInterval is how often the background sweep promotes expired
// tickets when no interval is configured.
const DefaultSweepInterval = 60 * time.Second

// Store is the in-memory ticket store. All methods are safe for
// concurrent use; transitions are first-wins under one mutex.
type Store struct {
	mu      sync.Mutex
	tickets map[string]*contracts.ApprovalTicket
	clock   func() time.Time
	logger  *slog.Logger

	sweepStop chan struct{}
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		tickets: make(map[string]*contracts.ApprovalTicket),
		clock:   time.Now,
		logger:  logger.With("component", "approval"),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

// newTicketID returns a 128-bit URL-safe random id.
func newTicketID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("ticket id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create opens a pending ticket for a refused call.
func (s *Store) Create(detection contracts.Detection, call contracts.ToolCall, ttl time.Duration) (*contracts.ApprovalTicket, error) {
	id, err := newTicketID()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	ticket := &contracts.ApprovalTicket{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Detection: detection,
		Call:      call,
		Status:    contracts.TicketPending,
	}

	s.mu.Lock()
	s.tickets[id] = ticket
	s.mu.Unlock()

	s.logger.Debug("ticket created", "id", id, "tool", call.Tool, "expires_at", ticket.ExpiresAt)
	copied := *ticket
	return &copied, nil
}

// Get returns a copy of the ticket, lazily promoting pending to expired
// when the deadline has passed. ok is false for unknown ids.
func (s *Store) Get(id string) (contracts.ApprovalTicket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return contracts.ApprovalTicket{}, false
	}
	s.expireLocked(ticket)
	return *ticket, true
}

// Approve transitions pending to approved. It fails without mutation on
// unknown ids, expired tickets, and tickets already terminal; the first
// caller to transition wins.
func (s *Store) Approve(id, by string) (contracts.ApprovalTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return contracts.ApprovalTicket{}, fmt.Errorf("ticket %q not found", id)
	}
	s.expireLocked(ticket)
	if ticket.Status != contracts.TicketPending {
		return *ticket, fmt.Errorf("ticket %q already %s", id, ticket.Status)
	}

	now := s.clock()
	ticket.Status = contracts.TicketApproved
	ticket.ApprovedBy = by
	ticket.ApprovedAt = &now
	s.logger.Info("ticket approved", "id", id, "by", by)
	return *ticket, nil
}

// Deny transitions pending to denied under the same rules as Approve.
func (s *Store) Deny(id, by string) (contracts.ApprovalTicket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return contracts.ApprovalTicket{}, fmt.Errorf("ticket %q not found", id)
	}
	s.expireLocked(ticket)
	if ticket.Status != contracts.TicketPending {
		return *ticket, fmt.Errorf("ticket %q already %s", id, ticket.Status)
	}

	ticket.Status = contracts.TicketDenied
	ticket.ApprovedBy = by
	s.logger.Info("ticket denied", "id", id, "by", by)
	return *ticket, nil
}

// expireLocked is the lazy pending-to-expired promotion. Caller holds mu.
func (s *Store) expireLocked(ticket *contracts.ApprovalTicket) {
	if ticket.Status == contracts.TicketPending && s.clock().After(ticket.ExpiresAt) {
		ticket.Status = contracts.TicketExpired
	}
}

// Sweep promotes expired tickets across the store and, when remove is
// true, deletes terminal ones. It returns the number of tickets touched.
func (s *Store) Sweep(remove bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := 0
	for id, ticket := range s.tickets {
		before := ticket.Status
		s.expireLocked(ticket)
		if ticket.Status != before {
			touched++
		}
		if remove && ticket.Status.Terminal() {
			delete(s.tickets, id)
			touched++
		}
	}
	return touched
}

// StartSweep runs Sweep on an interval until StopSweep is called. A zero
// interval uses DefaultSweepInterval. Calling StartSweep while a sweeper
// is already running is a no-op.
func (s *Store) StartSweep(interval time.Duration, remove bool) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s.mu.Lock()
	if s.sweepStop != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.sweepStop = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(remove)
			case <-stop:
				return
			}
		}
	}()
}

// StopSweep stops the background sweep. Safe to call more than once; the
// store can be restarted with StartSweep afterwards.
func (s *Store) StopSweep() {
	s.mu.Lock()
	stop := s.sweepStop
	s.sweepStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

// Len reports the number of stored tickets, for diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

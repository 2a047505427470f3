package approval

import (
	"fmt"

	"github.com/clawsec/core/pkg/contracts"
)

// ConfirmOutcome is the fast-path verdict for a reserved confirm
// parameter found in tool input.
type ConfirmOutcome struct {
	// Handled is false when the parameter is absent and the normal
	// detection path should run.
	Handled bool
	Allowed bool
	Reason  string
	// Input is the tool input with the confirm parameter stripped; set
	// only when Allowed.
	Input  map[string]any
	Ticket *contracts.ApprovalTicket
}

// CheckConfirm implements the agent-confirm fast path. A valid pending
// ticket id authorizes the call without running detection; everything
// else that carries the parameter blocks. Approval goes through the
// store's first-transition-wins path, so a concurrent native approve or
// deny on the same id cannot double-spend the ticket.
func CheckConfirm(store *Store, paramName string, call *contracts.ToolCall) ConfirmOutcome {
	raw, present := call.Input[paramName]
	if !present {
		return ConfirmOutcome{}
	}

	id, ok := raw.(string)
	if !ok || id == "" {
		return ConfirmOutcome{
			Handled: true,
			Reason:  fmt.Sprintf("%s must be a non-empty ticket id string", paramName),
		}
	}

	ticket, found := store.Get(id)
	if !found {
		return ConfirmOutcome{
			Handled: true,
			Reason:  fmt.Sprintf("no approval ticket %q", id),
		}
	}

	switch ticket.Status {
	case contracts.TicketExpired:
		return ConfirmOutcome{
			Handled: true,
			Reason:  fmt.Sprintf("approval ticket %q has expired", id),
			Ticket:  &ticket,
		}
	case contracts.TicketApproved, contracts.TicketDenied:
		return ConfirmOutcome{
			Handled: true,
			Reason:  fmt.Sprintf("approval ticket %q already %s", id, ticket.Status),
			Ticket:  &ticket,
		}
	}

	approved, err := store.Approve(id, "agent")
	if err != nil {
		// Lost the race against a concurrent approve/deny/expiry.
		return ConfirmOutcome{
			Handled: true,
			Reason:  err.Error(),
			Ticket:  &approved,
		}
	}

	stripped := make(map[string]any, len(call.Input)-1)
	for k, v := range call.Input {
		if k == paramName {
			continue
		}
		stripped[k] = v
	}
	return ConfirmOutcome{
		Handled: true,
		Allowed: true,
		Reason:  fmt.Sprintf("approved by ticket %q", id),
		Input:   stripped,
		Ticket:  &approved,
	}
}

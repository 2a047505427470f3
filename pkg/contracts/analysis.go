package contracts

import "time"

// ToolCall is the unit the engine analyzes: a named tool plus its input
// parameters. URL and Output are optional side channels some detectors read
// (Website inspects any reachable URL; Secrets may scan tool output on the
// sanitizer path).
type ToolCall struct {
	Tool   string         `json:"tool"`
	Input  map[string]any `json:"input"`
	URL    string         `json:"url,omitempty"`
	Output any            `json:"output,omitempty"`
}

// PendingApproval is the client view of a freshly created approval ticket.
type PendingApproval struct {
	ID               string   `json:"id"`
	ExpiresInSeconds int      `json:"expires_in_seconds"`
	Methods          []string `json:"methods"`
}

// Approval methods surfaced in PendingApproval.Methods.
const (
	MethodNative       = "native"
	MethodAgentConfirm = "agent-confirm"
	MethodWebhook      = "webhook"
)

// AnalysisResult is the engine's verdict for one tool call.
//
// Detections is sorted descending by (severity, confidence); the first entry
// is the primary detection. RequiresOracle is transient: it is set by the
// action resolver and cleared once escalation completes or falls back, so a
// cached result never carries it.
type AnalysisResult struct {
	Action         Action           `json:"action"`
	Detections     []Detection      `json:"detections"`
	Reason         string           `json:"reason,omitempty"`
	RequiresOracle bool             `json:"requires_oracle,omitempty"`
	Cached         bool             `json:"cached"`
	DurationMs     int64            `json:"duration_ms"`
	Approval       *PendingApproval `json:"approval,omitempty"`

	// Params, when non-nil, replaces the tool input before execution.
	// The agent-confirm fast path uses it to strip the confirm parameter.
	Params map[string]any `json:"params,omitempty"`
}

// Primary returns the highest-ranked detection, or nil when the call is
// clean.
func (r *AnalysisResult) Primary() *Detection {
	if len(r.Detections) == 0 {
		return nil
	}
	return &r.Detections[0]
}

// Clone returns a deep enough copy for cache handout: the slices and maps a
// caller might mutate are duplicated.
func (r *AnalysisResult) Clone() *AnalysisResult {
	out := *r
	if r.Detections != nil {
		out.Detections = make([]Detection, len(r.Detections))
		copy(out.Detections, r.Detections)
		for i := range out.Detections {
			out.Detections[i].Metadata = cloneMap(r.Detections[i].Metadata)
		}
	}
	if r.Approval != nil {
		ap := *r.Approval
		ap.Methods = append([]string(nil), r.Approval.Methods...)
		out.Approval = &ap
	}
	out.Params = cloneMap(r.Params)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// TicketStatus is the approval ticket state machine. pending is the only
// non-terminal state.
type TicketStatus string

// Ticket states.
const (
	TicketPending  TicketStatus = "pending"
	TicketApproved TicketStatus = "approved"
	TicketDenied   TicketStatus = "denied"
	TicketExpired  TicketStatus = "expired"
)

// Terminal reports whether the status admits no further transition.
func (s TicketStatus) Terminal() bool {
	return s == TicketApproved || s == TicketDenied || s == TicketExpired
}

// ApprovalTicket is the short-lived record that, when presented by id,
// authorizes a previously refused call.
type ApprovalTicket struct {
	ID         string       `json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Detection  Detection    `json:"detection"`
	Call       ToolCall     `json:"call"`
	Status     TicketStatus `json:"status"`
	ApprovedBy string       `json:"approved_by,omitempty"`
	ApprovedAt *time.Time   `json:"approved_at,omitempty"`
}

// Redaction records one class of content removed by the sanitizer.
type Redaction struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

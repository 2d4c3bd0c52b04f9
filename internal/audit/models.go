package audit

import "time"

// Event is an immutable, append-only record of an operator action.
//
// Invariants:
// - Events are never updated or deleted.
// - actor_id is required; anonymous actions are not audited.
// - ip capture is best-effort; do not block ops flows on audit failures.
type Event struct {
	ID   string    `json:"id"`
	Type EventType `json:"type"`

	// ActorID is the operator id from the bearer token.
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role,omitempty"`

	// IPAddress is the client IP as resolved by the router.
	IPAddress string `json:"ip_address,omitempty"`

	// Subject is the target of the action: an operator id for token
	// issuance, a sweep name for sweeps.
	Subject string `json:"subject,omitempty"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	EventTypeTokenIssued    EventType = "token_issued"
	EventTypeSweepTriggered EventType = "sweep_triggered"
)

// Table and column names of the audit trail.
const (
	Table = "OpsAudit"

	ColID        = "audit_id"
	ColType      = "type"
	ColActorID   = "actor_id"
	ColActorRole = "actor_role"
	ColIP        = "ip_address"
	ColSubject   = "subject"
	ColMessage   = "message"
	ColMetadata  = "metadata"
	ColCreatedAt = "created_at"
)

var Columns = []string{ColID, ColType, ColActorID, ColActorRole, ColIP, ColSubject, ColMessage, ColMetadata, ColCreatedAt}

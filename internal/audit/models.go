package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for workspace-scoped event types.
// - actor and ip capture are best-effort; do not block critical flows on audit failures.
type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id,omitempty" db:"workspace_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event (if applicable).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	// SubjectUserID is the user the event is about, when different from the actor.
	SubjectUserID string `json:"subject_user_id,omitempty" db:"subject_user_id"`
	// OrganizationID is the identity authority organization involved, if any.
	OrganizationID string `json:"organization_id,omitempty" db:"organization_id"`

	// IPAddress is the resolved client IP when available.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeLoginSucceeded EventType = "login_succeeded"
	EventTypeLoginFailed    EventType = "login_failed"
	EventTypeRoleOverride   EventType = "role_override"
	EventTypeSyncItemFailed EventType = "sync_item_failed"
)

func (t EventType) workspaceScoped() bool {
	return t == EventTypeRoleOverride
}

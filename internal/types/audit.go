package types

import "time"

// Audit action kinds. The column is free-form text so new kinds can be added
// without a migration.
const (
	AuditActionUpdateRole    = "UPDATE_ROLE"
	AuditActionDeleteUser    = "DELETE_USER"
	AuditActionCreateUser    = "CREATE_USER"
	AuditActionResetPassword = "RESET_PASSWORD"
)

// AuditActorRef is the display projection of an entry's actor or target,
// resolved lazily at read time. Nil when the referenced user no longer exists.
type AuditActorRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuditLog is one immutable record of a privileged action.
type AuditLog struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      string         `json:"actorId"`
	TargetUserID string         `json:"targetUserId"`
	Action       string         `json:"action"`
	Details      map[string]any `json:"details"`
	Actor        *AuditActorRef `json:"actor,omitempty"`
	Target       *AuditActorRef `json:"target,omitempty"`
}

// Pagination mirrors the admin console's paging envelope.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
	TotalCount int `json:"totalCount"`
}

// AuditLogPage is one page of the audit viewer.
type AuditLogPage struct {
	Logs       []*AuditLog `json:"logs"`
	Pagination Pagination  `json:"pagination"`
}

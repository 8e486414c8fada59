package models

import "time"

type AuditAction string

const (
	AuditContactRevealed AuditAction = "CONTACT_REVEALED"
	AuditContactCopied   AuditAction = "CONTACT_COPIED"
)

// ContactRevealEvent is one row of the append-only audit trail. The backend is
// the only writer; rows are never updated or deleted.
type ContactRevealEvent struct {
	ID             string      `json:"id" db:"id"`
	ActorID        string      `json:"actor_id" db:"actor_id"`
	OrganizationID string      `json:"organization_id" db:"organization_id"`
	ContactType    string      `json:"contact_type" db:"contact_type"`
	Action         AuditAction `json:"action" db:"action"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// AuditFilter narrows audit listings; zero values mean no constraint
type AuditFilter struct {
	ActorID        string
	OrganizationID string
	Action         AuditAction
	Since          time.Time
	Until          time.Time
	Limit          int
	Offset         int
}

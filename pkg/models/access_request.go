package models

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
	RequestExpired  RequestStatus = "expired"
	RequestRevoked  RequestStatus = "revoked"
)

// Minimum lengths enforced before any store call
const (
	MinPurposeLength       = 10
	MinJustificationLength = 20
)

// Expiry presets offered to admins; any positive hour count is accepted
const (
	ExpiryPresetShortHours = 24
	ExpiryPresetLongHours  = 72
)

// AccessRequest is a partner's request to see an organization's full contact info.
// One request per (requester, organization) pair may be active (pending or approved)
// at a time; that uniqueness is enforced by the store, not here.
type AccessRequest struct {
	ID             string        `json:"id" db:"id"`
	RequesterID    string        `json:"requester_id" db:"requester_id"`
	OrganizationID string        `json:"organization_id" db:"organization_id"`
	Purpose        string        `json:"purpose" db:"purpose"`
	Justification  string        `json:"justification" db:"justification"`
	Status         RequestStatus `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	ApprovedAt     *time.Time    `json:"approved_at,omitempty" db:"approved_at"`
	ApprovedBy     *string       `json:"approved_by,omitempty" db:"approved_by"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	DenialReason   string        `json:"denial_reason,omitempty" db:"denial_reason"`
}

// EffectiveStatus is the display status at time now. The stored status field is
// never flipped to expired by any process; readers must apply this correction
// uniformly instead of re-checking expires_at ad hoc.
func (r *AccessRequest) EffectiveStatus(now time.Time) RequestStatus {
	if r.Status == RequestApproved && r.ExpiresAt != nil && now.After(*r.ExpiresAt) {
		return RequestExpired
	}
	return r.Status
}

// IsActive reports whether the request blocks a new submission for the same pair:
// pending, or approved and not yet past its expiry.
func (r *AccessRequest) IsActive(now time.Time) bool {
	switch r.EffectiveStatus(now) {
	case RequestPending, RequestApproved:
		return true
	}
	return false
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// SubmitAccessRequest is the request payload for filing a new access request
type SubmitAccessRequest struct {
	OrganizationID string `json:"organization_id" validate:"required"`
	Purpose        string `json:"purpose" validate:"required,min=10"`
	Justification  string `json:"justification" validate:"required,min=20"`
}

// DecisionRequest is the approval-console payload for deciding a pending request
type DecisionRequest struct {
	Decision     Decision `json:"decision"`
	HoursValid   int      `json:"hours_valid,omitempty"`
	DenialReason string   `json:"denial_reason,omitempty"`
}

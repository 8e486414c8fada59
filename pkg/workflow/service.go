package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"forward-focus-backend/pkg/database"
	"forward-focus-backend/pkg/models"
	"forward-focus-backend/pkg/ratelimit"
)

// Service implements the contact-access workflow: submit -> pending ->
// approve/deny -> reveal, with expiry derived at read time. All durable state
// lives in the store; the service owns validation, the transition rules, and
// the audit writes (no second writer anywhere).
type Service struct {
	store         database.Store
	revealLimiter ratelimit.Limiter

	submitLimit        int
	submitWindow       time.Duration
	defaultExpiryHours int

	now func() time.Time
}

// Options tune the service; zero values fall back to the documented defaults
// (5 submissions per hour, 24 hour expiry preset, wall clock).
type Options struct {
	SubmitLimit        int
	SubmitWindow       time.Duration
	DefaultExpiryHours int
	Now                func() time.Time
}

func NewService(store database.Store, revealLimiter ratelimit.Limiter, opts Options) *Service {
	if opts.SubmitLimit <= 0 {
		opts.SubmitLimit = 5
	}
	if opts.SubmitWindow <= 0 {
		opts.SubmitWindow = time.Hour
	}
	if opts.DefaultExpiryHours <= 0 {
		opts.DefaultExpiryHours = models.ExpiryPresetShortHours
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:              store,
		revealLimiter:      revealLimiter,
		submitLimit:        opts.SubmitLimit,
		submitWindow:       opts.SubmitWindow,
		defaultExpiryHours: opts.DefaultExpiryHours,
		now:                opts.Now,
	}
}

// Submit validates and files a new access request for the requester.
// Validation failures happen before any store call.
func (s *Service) Submit(ctx context.Context, requester *models.User, orgID, purpose, justification string) (*models.AccessRequest, error) {
	purpose = strings.TrimSpace(purpose)
	justification = strings.TrimSpace(justification)
	if utf8.RuneCountInString(purpose) < models.MinPurposeLength {
		return nil, newError(KindValidation, "purpose must be at least %d characters", models.MinPurposeLength)
	}
	if utf8.RuneCountInString(justification) < models.MinJustificationLength {
		return nil, newError(KindValidation, "justification must be at least %d characters", models.MinJustificationLength)
	}
	if !requester.IsVerifiedPartner {
		return nil, newError(KindNotVerifiedPartner, "only verified partners can request contact access")
	}

	now := s.now()

	count, err := s.store.CountRecentAccessRequests(ctx, requester.ID, now.Add(-s.submitWindow))
	if err != nil {
		return nil, wrapError(KindInternal, err, "failed to check submission window")
	}
	if count >= s.submitLimit {
		return nil, newError(KindRateLimited, "submission limit of %d per hour reached, try again later", s.submitLimit)
	}

	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(KindNotFound, "organization not found")
		}
		return nil, wrapError(KindInternal, err, "failed to load organization")
	}

	// One active request per pair. The store's partial unique index backs this
	// up; the check here gives the caller a precise error instead of a
	// constraint violation.
	latest, err := s.store.GetLatestAccessRequest(ctx, requester.ID, orgID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, wrapError(KindInternal, err, "failed to check existing requests")
	}
	if latest != nil && latest.IsActive(now) {
		return nil, newError(KindAlreadyActive, "an active request already exists for this organization")
	}

	req := &models.AccessRequest{
		RequesterID:    requester.ID,
		OrganizationID: orgID,
		Purpose:        purpose,
		Justification:  justification,
		Status:         models.RequestPending,
	}
	if err := s.store.CreateAccessRequest(ctx, req); err != nil {
		return nil, wrapError(KindInternal, err, "failed to create access request")
	}
	return req, nil
}

// Latest returns the newest request for the pair, or nil when none exists.
// The caller renders nil as the "not yet requested" state.
func (s *Service) Latest(ctx context.Context, requesterID, orgID string) (*models.AccessRequest, error) {
	req, err := s.store.GetLatestAccessRequest(ctx, requesterID, orgID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, wrapError(KindInternal, err, "failed to load latest request")
	}
	return req, nil
}

// List returns requests for the approval console, optionally filtered by
// stored status. Admin only: the list carries every requester's purpose and
// justification. Counts per partition are derived by the caller from the full
// list; there is no separate count query.
func (s *Service) List(ctx context.Context, caller *models.User, status models.RequestStatus) ([]models.AccessRequest, error) {
	if !caller.IsAdmin {
		return nil, newError(KindForbidden, "admin privileges required")
	}
	switch status {
	case "", models.RequestPending, models.RequestApproved, models.RequestDenied,
		models.RequestExpired, models.RequestRevoked:
	default:
		return nil, newError(KindValidation, "unknown status filter %q", status)
	}
	reqs, err := s.store.ListAccessRequests(ctx, status)
	if err != nil {
		return nil, wrapError(KindInternal, err, "failed to list access requests")
	}
	return reqs, nil
}

// Decide approves or denies a pending request. Self-approval is rejected and
// leaves the request untouched. On approval, expires_at is exactly
// approved_at plus the requested hours.
func (s *Service) Decide(ctx context.Context, admin *models.User, requestID string, d models.DecisionRequest) (*models.AccessRequest, error) {
	if !admin.IsAdmin {
		return nil, newError(KindForbidden, "admin privileges required")
	}
	if d.Decision != models.DecisionApproved && d.Decision != models.DecisionDenied {
		return nil, newError(KindValidation, "decision must be %q or %q", models.DecisionApproved, models.DecisionDenied)
	}

	req, err := s.store.GetAccessRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(KindNotFound, "access request not found")
		}
		return nil, wrapError(KindInternal, err, "failed to load access request")
	}
	if req.RequesterID == admin.ID {
		return nil, newError(KindSelfApproval, "requests cannot be decided by their own requester")
	}
	if req.Status != models.RequestPending {
		return nil, newError(KindAlreadyDecided, "request has already been decided (%s)", req.Status)
	}

	params := database.TransitionParams{
		ID:   requestID,
		From: models.RequestPending,
	}
	if d.Decision == models.DecisionApproved {
		hours := d.HoursValid
		if hours == 0 {
			hours = s.defaultExpiryHours
		}
		if hours < 0 {
			return nil, newError(KindValidation, "hours_valid must be a positive integer")
		}
		approvedAt := s.now()
		expiresAt := approvedAt.Add(time.Duration(hours) * time.Hour)
		params.To = models.RequestApproved
		params.ApprovedBy = &admin.ID
		params.ApprovedAt = &approvedAt
		params.ExpiresAt = &expiresAt
	} else {
		params.To = models.RequestDenied
		params.DenialReason = strings.TrimSpace(d.DenialReason)
	}

	updated, err := s.store.TransitionAccessRequest(ctx, params)
	if err != nil {
		return nil, wrapError(KindInternal, err, "failed to apply decision")
	}
	if !updated {
		// Another admin decided between our read and the conditional update
		return nil, newError(KindAlreadyDecided, "request was decided concurrently")
	}

	req.Status = params.To
	req.ApprovedBy = params.ApprovedBy
	req.ApprovedAt = params.ApprovedAt
	req.ExpiresAt = params.ExpiresAt
	req.DenialReason = params.DenialReason
	return req, nil
}

// Revoke withdraws an approved request before its expiry
func (s *Service) Revoke(ctx context.Context, admin *models.User, requestID string) (*models.AccessRequest, error) {
	if !admin.IsAdmin {
		return nil, newError(KindForbidden, "admin privileges required")
	}
	req, err := s.store.GetAccessRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(KindNotFound, "access request not found")
		}
		return nil, wrapError(KindInternal, err, "failed to load access request")
	}
	if req.Status != models.RequestApproved {
		return nil, newError(KindNotApproved, "only approved requests can be revoked")
	}

	updated, err := s.store.TransitionAccessRequest(ctx, database.TransitionParams{
		ID:   requestID,
		From: models.RequestApproved,
		To:   models.RequestRevoked,
	})
	if err != nil {
		return nil, wrapError(KindInternal, err, "failed to revoke request")
	}
	if !updated {
		return nil, newError(KindAlreadyDecided, "request status changed concurrently")
	}
	req.Status = models.RequestRevoked
	return req, nil
}

// Reveal returns the unmasked contact data for an organization the admin holds
// an effectively-active approval for, and appends the audit event. The reveal
// succeeds even if the audit append fails; the failure is logged, never
// surfaced, and never retried client-side.
func (s *Service) Reveal(ctx context.Context, admin *models.User, orgID string) (*models.ContactData, error) {
	if !admin.IsAdmin {
		return nil, newError(KindForbidden, "admin privileges required")
	}

	if s.revealLimiter != nil {
		allowed, err := s.revealLimiter.Allow(ctx, "reveal:"+admin.ID)
		if err != nil {
			return nil, wrapError(KindInternal, err, "failed to check reveal throttle")
		}
		if !allowed {
			return nil, newError(KindRateLimited, "too many reveal calls, try again later")
		}
	}

	req, err := s.store.GetLatestAccessRequest(ctx, admin.ID, orgID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, wrapError(KindInternal, err, "failed to check approval")
	}
	if req == nil || req.EffectiveStatus(s.now()) != models.RequestApproved {
		return nil, newError(KindNotApproved, "no active approved request for this organization")
	}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, newError(KindNotFound, "organization not found")
		}
		return nil, wrapError(KindInternal, err, "failed to load organization")
	}

	ev := &models.ContactRevealEvent{
		ActorID:        admin.ID,
		OrganizationID: orgID,
		ContactType:    "full",
		Action:         models.AuditContactRevealed,
	}
	if err := s.store.AppendRevealEvent(ctx, ev); err != nil {
		fmt.Printf("[warn] failed to append reveal audit event for actor=%s org=%s: %v\n", admin.ID, orgID, err)
	}

	contact := org.Contact()
	return &contact, nil
}

// RecordCopy logs a copy-to-clipboard action through the same audit writer the
// reveal uses, replacing the old client-side duplicate write.
func (s *Service) RecordCopy(ctx context.Context, actor *models.User, orgID, contactType string) error {
	if !actor.IsAdmin {
		return newError(KindForbidden, "admin privileges required")
	}
	switch contactType {
	case "email", "phone", "address":
	default:
		return newError(KindValidation, "contact_type must be email, phone or address")
	}
	ev := &models.ContactRevealEvent{
		ActorID:        actor.ID,
		OrganizationID: orgID,
		ContactType:    contactType,
		Action:         models.AuditContactCopied,
	}
	if err := s.store.AppendRevealEvent(ctx, ev); err != nil {
		return wrapError(KindInternal, err, "failed to record copy event")
	}
	return nil
}

// AuditTrail lists reveal events, newest first, capped at 100 by default
func (s *Service) AuditTrail(ctx context.Context, filter models.AuditFilter) ([]models.ContactRevealEvent, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	events, err := s.store.ListRevealEvents(ctx, filter)
	if err != nil {
		return nil, wrapError(KindInternal, err, "failed to list audit events")
	}
	return events, nil
}

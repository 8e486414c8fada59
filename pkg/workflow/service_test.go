package workflow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forward-focus-backend/pkg/database"
	"forward-focus-backend/pkg/models"
)

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (l *stubLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.calls++
	return l.allow, l.err
}

type fixture struct {
	store   *database.MemoryStore
	service *Service
	now     time.Time

	partner *models.User
	admin   *models.User
	org     *models.Organization
}

func newFixture(t *testing.T, limiter *stubLimiter) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	now := time.Now().UTC().Truncate(time.Second)

	f := &fixture{
		store: store,
		now:   now,
		partner: &models.User{
			ID:                "partner-1",
			Email:             "partner@example.org",
			IsVerifiedPartner: true,
		},
		admin: &models.User{
			ID:      "admin-1",
			Email:   "admin@example.org",
			IsAdmin: true,
		},
		org: &models.Organization{
			ID:           "org-1",
			Name:         "Northside Shelter",
			ContactEmail: "outreach@northside.org",
			ContactPhone: "+1 555 010 7788",
			Address:      "12 Hill Road",
		},
	}

	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, f.partner))
	require.NoError(t, store.CreateUser(ctx, f.admin))
	require.NoError(t, store.CreateOrganization(ctx, f.org))

	opts := Options{Now: func() time.Time { return f.now }}
	if limiter != nil {
		f.service = NewService(store, limiter, opts)
	} else {
		f.service = NewService(store, nil, opts)
	}
	return f
}

const validPurpose = "Coordinate winter outreach"

func validJust() string {
	return "We are planning a joint food drive for December"
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name          string
		purpose       string
		justification string
	}{
		{"empty purpose", "", validJust()},
		{"purpose 9 chars", "123456789", validJust()},
		{"whitespace padded purpose", "   short    ", validJust()},
		{"justification 19 chars", validPurpose, "1234567890123456789"},
		{"empty justification", validPurpose, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Submit(ctx, f.partner, f.org.ID, tt.purpose, tt.justification)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}

	// no request should have been stored
	reqs, err := f.store.ListAccessRequests(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestSubmitBoundaryLengths(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// exactly 10 and exactly 20 characters pass
	purpose := strings.Repeat("p", 10)
	justification := strings.Repeat("j", 20)
	req, err := f.service.Submit(ctx, f.partner, f.org.ID, purpose, justification)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, req.Status)
	assert.NotEmpty(t, req.ID)
}

func TestSubmitUnverifiedPartner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	unverified := &models.User{ID: "partner-2", Email: "new@example.org"}
	require.NoError(t, f.store.CreateUser(ctx, unverified))

	_, err := f.service.Submit(ctx, unverified, f.org.ID, validPurpose, validJust())
	require.Error(t, err)
	assert.Equal(t, KindNotVerifiedPartner, KindOf(err))
}

func TestSubmitUnknownOrganization(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, f.partner, "nope", validPurpose, validJust())
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestSubmitRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// seed 5 recent requests against other orgs; the limit is per requester
	for i := 0; i < 5; i++ {
		org := &models.Organization{Name: "Org"}
		require.NoError(t, f.store.CreateOrganization(ctx, org))
		require.NoError(t, f.store.CreateAccessRequest(ctx, &models.AccessRequest{
			RequesterID:    f.partner.ID,
			OrganizationID: org.ID,
			Purpose:        validPurpose,
			Justification:  validJust(),
			Status:         models.RequestDenied,
			CreatedAt:      f.now.Add(-10 * time.Minute),
		}))
	}

	_, err := f.service.Submit(ctx, f.partner, f.org.ID, validPurpose, validJust())
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestSubmitRateLimitWindowSlides(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// all prior requests older than an hour do not count
	for i := 0; i < 5; i++ {
		org := &models.Organization{Name: "Org"}
		require.NoError(t, f.store.CreateOrganization(ctx, org))
		require.NoError(t, f.store.CreateAccessRequest(ctx, &models.AccessRequest{
			RequesterID:    f.partner.ID,
			OrganizationID: org.ID,
			Purpose:        validPurpose,
			Justification:  validJust(),
			Status:         models.RequestDenied,
			CreatedAt:      f.now.Add(-2 * time.Hour),
		}))
	}

	_, err := f.service.Submit(ctx, f.partner, f.org.ID, validPurpose, validJust())
	require.NoError(t, err)
}

func TestSubmitDuplicateActiveRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.service.Submit(ctx, f.partner, f.org.ID, validPurpose, validJust())
	require.NoError(t, err)

	_, err = f.service.Submit(ctx, f.partner, f.org.ID, validPurpose, validJust())
	require.Error(t, err)
	assert.Equal(t, KindAlreadyActive, KindOf(err))
}

func TestSubmitAfterDenialAllowed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.CreateAccessRequest(ctx, &models.AccessRequest{
		RequesterID:    f.partner.ID,
		OrganizationID: f.org.ID,
		Purpose:        validPurpose,
		Justification:  validJust(),
		Status:         models.RequestDenied,
		CreatedAt:      f.now.Add(-10 * time.Minute),
	}))

	_, err := f.service.Submit(ctx, f.partner, f.org.ID, validPurpose, validJust())
	require.NoError(t, err)
}

func TestSubmitAfterExpiredApprovalAllowed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	approvedAt := f.now.Add(-48 * time.Hour)
	expiresAt := approvedAt.Add(24 * time.Hour)
	require.NoError(t, f.store.CreateAccessRequest(ctx, &models.AccessRequest{
		RequesterID:    f.partner.ID,
		OrganizationID: f.org.ID,
		Purpose:        validPurpose,
		Justification:  validJust(),
		Status:         models.RequestApproved,
		CreatedAt:      approvedAt,
		ApprovedAt:     &approvedAt,
		ExpiresAt:      &expiresAt,
	}))

	// the stored status is still "approved" but it lapsed a day ago
	_, err := f.service.Submit(ctx, f.partner, f.org.ID, validPurpose, validJust())
	require.NoError(t, err)
}

func TestLatestReturnsNilWhenNone(t *testing.T) {
	f := newFixture(t, nil)

	req, err := f.service.Latest(context.Background(), f.partner.ID, f.org.ID)
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestLatestIsReadOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	submitPending(t, f)

	first, err := f.service.Latest(ctx, f.partner.ID, f.org.ID)
	require.NoError(t, err)
	second, err := f.service.Latest(ctx, f.partner.ID, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	reqs, err := f.store.ListAccessRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.service.List(context.Background(), f.admin, "bogus")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestListNonAdminForbidden(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	submitPending(t, f)

	_, err := f.service.List(ctx, f.partner, "")
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))

	reqs, err := f.service.List(ctx, f.admin, "")
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}

func submitPending(t *testing.T, f *fixture) *models.AccessRequest {
	t.Helper()
	req, err := f.service.Submit(context.Background(), f.partner, f.org.ID, validPurpose, validJust())
	require.NoError(t, err)
	return req
}

func TestDecideApproveSetsExactExpiry(t *testing.T) {
	for _, hours := range []int{24, 72, 5} {
		f := newFixture(t, nil)
		req := submitPending(t, f)

		decided, err := f.service.Decide(context.Background(), f.admin, req.ID, models.DecisionRequest{
			Decision:   models.DecisionApproved,
			HoursValid: hours,
		})
		require.NoError(t, err)

		assert.Equal(t, models.RequestApproved, decided.Status)
		require.NotNil(t, decided.ApprovedAt)
		require.NotNil(t, decided.ExpiresAt)
		assert.Equal(t, f.now, *decided.ApprovedAt)
		assert.Equal(t, f.now.Add(time.Duration(hours)*time.Hour), *decided.ExpiresAt)
		require.NotNil(t, decided.ApprovedBy)
		assert.Equal(t, f.admin.ID, *decided.ApprovedBy)
	}
}

func TestDecideApproveDefaultExpiry(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)

	decided, err := f.service.Decide(context.Background(), f.admin, req.ID, models.DecisionRequest{
		Decision: models.DecisionApproved,
	})
	require.NoError(t, err)
	require.NotNil(t, decided.ExpiresAt)
	assert.Equal(t, f.now.Add(models.ExpiryPresetShortHours*time.Hour), *decided.ExpiresAt)
}

func TestDecideDeny(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)

	decided, err := f.service.Decide(context.Background(), f.admin, req.ID, models.DecisionRequest{
		Decision:     models.DecisionDenied,
		DenialReason: "insufficient detail",
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestDenied, decided.Status)
	assert.Equal(t, "insufficient detail", decided.DenialReason)
	assert.Nil(t, decided.ApprovedAt)
	assert.Nil(t, decided.ExpiresAt)
}

func TestDecideSelfApprovalBlocked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// the admin is also a verified partner and filed their own request
	f.admin.IsVerifiedPartner = true
	req, err := f.service.Submit(ctx, f.admin, f.org.ID, validPurpose, validJust())
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, f.admin, req.ID, models.DecisionRequest{
		Decision: models.DecisionApproved,
	})
	require.Error(t, err)
	assert.Equal(t, KindSelfApproval, KindOf(err))

	// the request must remain pending and decidable by someone else
	stored, err := f.store.GetAccessRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, stored.Status)

	other := &models.User{ID: "admin-2", Email: "admin2@example.org", IsAdmin: true}
	require.NoError(t, f.store.CreateUser(ctx, other))
	decided, err := f.service.Decide(ctx, other, req.ID, models.DecisionRequest{Decision: models.DecisionApproved})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, decided.Status)
}

func TestDecideNonAdmin(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)

	_, err := f.service.Decide(context.Background(), f.partner, req.ID, models.DecisionRequest{
		Decision: models.DecisionApproved,
	})
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestDecideInvalidInputs(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)
	ctx := context.Background()

	_, err := f.service.Decide(ctx, f.admin, req.ID, models.DecisionRequest{Decision: "maybe"})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.service.Decide(ctx, f.admin, req.ID, models.DecisionRequest{
		Decision:   models.DecisionApproved,
		HoursValid: -3,
	})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.service.Decide(ctx, f.admin, "missing", models.DecisionRequest{Decision: models.DecisionApproved})
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestDecideAlreadyDecided(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)
	ctx := context.Background()

	_, err := f.service.Decide(ctx, f.admin, req.ID, models.DecisionRequest{Decision: models.DecisionDenied})
	require.NoError(t, err)

	_, err = f.service.Decide(ctx, f.admin, req.ID, models.DecisionRequest{Decision: models.DecisionApproved})
	require.Error(t, err)
	assert.Equal(t, KindAlreadyDecided, KindOf(err))
}

func TestDecideConcurrentLoss(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)
	ctx := context.Background()

	// flip the stored row between the service's read and its conditional update
	// by transitioning directly through the store first
	updated, err := f.store.TransitionAccessRequest(ctx, database.TransitionParams{
		ID:   req.ID,
		From: models.RequestPending,
		To:   models.RequestDenied,
	})
	require.NoError(t, err)
	require.True(t, updated)

	_, err = f.service.Decide(ctx, f.admin, req.ID, models.DecisionRequest{Decision: models.DecisionApproved})
	require.Error(t, err)
	assert.Equal(t, KindAlreadyDecided, KindOf(err))
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)
	ctx := context.Background()

	_, err := f.service.Decide(ctx, f.admin, req.ID, models.DecisionRequest{Decision: models.DecisionApproved})
	require.NoError(t, err)

	revoked, err := f.service.Revoke(ctx, f.admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRevoked, revoked.Status)

	// revoking again fails: the request is no longer approved
	_, err = f.service.Revoke(ctx, f.admin, req.ID)
	require.Error(t, err)
	assert.Equal(t, KindNotApproved, KindOf(err))
}

func TestRevokePendingRejected(t *testing.T) {
	f := newFixture(t, nil)
	req := submitPending(t, f)

	_, err := f.service.Revoke(context.Background(), f.admin, req.ID)
	require.Error(t, err)
	assert.Equal(t, KindNotApproved, KindOf(err))
}

func approvedRequestFor(t *testing.T, f *fixture, actor *models.User) {
	t.Helper()
	approvedAt := f.now.Add(-time.Hour)
	expiresAt := approvedAt.Add(24 * time.Hour)
	require.NoError(t, f.store.CreateAccessRequest(context.Background(), &models.AccessRequest{
		RequesterID:    actor.ID,
		OrganizationID: f.org.ID,
		Purpose:        validPurpose,
		Justification:  validJust(),
		Status:         models.RequestApproved,
		CreatedAt:      approvedAt,
		ApprovedAt:     &approvedAt,
		ExpiresAt:      &expiresAt,
	}))
}

func TestRevealHappyPath(t *testing.T) {
	limiter := &stubLimiter{allow: true}
	f := newFixture(t, limiter)
	ctx := context.Background()
	approvedRequestFor(t, f, f.admin)

	contact, err := f.service.Reveal(ctx, f.admin, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, "outreach@northside.org", contact.Email)
	assert.Equal(t, "+1 555 010 7788", contact.Phone)
	assert.Equal(t, "12 Hill Road", contact.Address)
	assert.Equal(t, 1, limiter.calls)

	events, err := f.store.ListRevealEvents(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuditContactRevealed, events[0].Action)
	assert.Equal(t, f.admin.ID, events[0].ActorID)
	assert.Equal(t, f.org.ID, events[0].OrganizationID)
}

func TestRevealWithoutApproval(t *testing.T) {
	f := newFixture(t, &stubLimiter{allow: true})

	_, err := f.service.Reveal(context.Background(), f.admin, f.org.ID)
	require.Error(t, err)
	assert.Equal(t, KindNotApproved, KindOf(err))
}

func TestRevealExpiredApproval(t *testing.T) {
	f := newFixture(t, &stubLimiter{allow: true})
	ctx := context.Background()

	approvedAt := f.now.Add(-48 * time.Hour)
	expiresAt := approvedAt.Add(24 * time.Hour)
	require.NoError(t, f.store.CreateAccessRequest(ctx, &models.AccessRequest{
		RequesterID:    f.admin.ID,
		OrganizationID: f.org.ID,
		Purpose:        validPurpose,
		Justification:  validJust(),
		Status:         models.RequestApproved,
		CreatedAt:      approvedAt,
		ApprovedAt:     &approvedAt,
		ExpiresAt:      &expiresAt,
	}))

	_, err := f.service.Reveal(ctx, f.admin, f.org.ID)
	require.Error(t, err)
	assert.Equal(t, KindNotApproved, KindOf(err))
}

func TestRevealThrottled(t *testing.T) {
	f := newFixture(t, &stubLimiter{allow: false})
	approvedRequestFor(t, f, f.admin)

	_, err := f.service.Reveal(context.Background(), f.admin, f.org.ID)
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestRevealNonAdmin(t *testing.T) {
	f := newFixture(t, &stubLimiter{allow: true})

	_, err := f.service.Reveal(context.Background(), f.partner, f.org.ID)
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestRecordCopy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.service.RecordCopy(ctx, f.admin, f.org.ID, "email"))

	err := f.service.RecordCopy(ctx, f.admin, f.org.ID, "fax")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	err = f.service.RecordCopy(ctx, f.partner, f.org.ID, "email")
	require.Error(t, err)
	assert.Equal(t, KindForbidden, KindOf(err))

	events, err := f.store.ListRevealEvents(ctx, models.AuditFilter{Action: models.AuditContactCopied})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "email", events[0].ContactType)
}

func TestAuditTrailFiltering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, f.service.RecordCopy(ctx, f.admin, f.org.ID, "phone"))
	}

	events, err := f.service.AuditTrail(ctx, models.AuditFilter{ActorID: f.admin.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = f.service.AuditTrail(ctx, models.AuditFilter{ActorID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, events)
}

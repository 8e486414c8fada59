package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chiRoute "github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forward-focus-backend/pkg/config"
	"forward-focus-backend/pkg/database"
	"forward-focus-backend/pkg/metrics"
	"forward-focus-backend/pkg/middleware"
	"forward-focus-backend/pkg/models"
	"forward-focus-backend/pkg/utils"
	"forward-focus-backend/pkg/workflow"
)

// spyStore records how often the workflow reached the store
type spyStore struct {
	database.Store
	calls int
}

func (s *spyStore) CountRecentAccessRequests(ctx context.Context, requesterID string, since time.Time) (int, error) {
	s.calls++
	return s.Store.CountRecentAccessRequests(ctx, requesterID, since)
}

func (s *spyStore) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	s.calls++
	return s.Store.GetOrganization(ctx, orgID)
}

func (s *spyStore) GetLatestAccessRequest(ctx context.Context, requesterID, orgID string) (*models.AccessRequest, error) {
	s.calls++
	return s.Store.GetLatestAccessRequest(ctx, requesterID, orgID)
}

func (s *spyStore) CreateAccessRequest(ctx context.Context, req *models.AccessRequest) error {
	s.calls++
	return s.Store.CreateAccessRequest(ctx, req)
}

type handlerEnv struct {
	store   *database.MemoryStore
	spy     *spyStore
	partner *models.User
	admin   *models.User
	org     *models.Organization

	access    *AccessHandler
	approvals *ApprovalsHandler
	reveal    *RevealHandler
}

type alwaysAllow struct{}

func (alwaysAllow) Allow(ctx context.Context, key string) (bool, error) { return true, nil }

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	store := database.NewMemoryStore()
	spy := &spyStore{Store: store}
	cfg := &config.Config{Environment: "test", JWTSecret: "test-secret"}
	m := metrics.New()

	wf := workflow.NewService(spy, alwaysAllow{}, workflow.Options{})

	env := &handlerEnv{
		store:     store,
		spy:       spy,
		access:    NewAccessHandler(cfg, wf, m),
		approvals: NewApprovalsHandler(cfg, wf, m),
		reveal:    NewRevealHandler(cfg, wf, m),
		partner: &models.User{
			ID:                "partner-1",
			Email:             "partner@example.org",
			IsVerifiedPartner: true,
		},
		admin: &models.User{ID: "admin-1", Email: "admin@example.org", IsAdmin: true},
		org: &models.Organization{
			ID:           "org-1",
			Name:         "Northside Shelter",
			ContactEmail: "outreach@northside.org",
		},
	}

	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, env.partner))
	require.NoError(t, store.CreateUser(ctx, env.admin))
	require.NoError(t, store.CreateOrganization(ctx, env.org))
	return env
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, user *models.User, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, user))
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSubmitRequestValidationSkipsStore(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doJSON(t, env.access.SubmitRequest, http.MethodPost, "/api/access/requests", env.partner, map[string]string{
		"organization_id": env.org.ID,
		"purpose":         "short",
		"justification":   "also way too short",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Zero(t, env.spy.calls)
}

func TestSubmitRequestCreated(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doJSON(t, env.access.SubmitRequest, http.MethodPost, "/api/access/requests", env.partner, map[string]string{
		"organization_id": env.org.ID,
		"purpose":         "Coordinate winter outreach",
		"justification":   "We are planning a joint food drive for December",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "pending", data["effective_status"])
}

func TestSubmitRequestUnauthenticated(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doJSON(t, env.access.SubmitRequest, http.MethodPost, "/api/access/requests", nil, map[string]string{
		"organization_id": env.org.ID,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitRequestNotVerified(t *testing.T) {
	env := newHandlerEnv(t)
	unverified := &models.User{ID: "partner-2", Email: "p2@example.org"}
	require.NoError(t, env.store.CreateUser(context.Background(), unverified))

	rec := doJSON(t, env.access.SubmitRequest, http.MethodPost, "/api/access/requests", unverified, map[string]string{
		"organization_id": env.org.ID,
		"purpose":         "Coordinate winter outreach",
		"justification":   "We are planning a joint food drive for December",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_VERIFIED_PARTNER", resp.Error.Code)
}

func TestLatestRequestEmpty(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doJSON(t, env.access.LatestRequest, http.MethodGet, "/api/access/requests/latest?org_id=org-1", env.partner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Data)
}

func TestLatestRequestMissingOrgID(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doJSON(t, env.access.LatestRequest, http.MethodGet, "/api/access/requests/latest", env.partner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestRequestReportsExpired(t *testing.T) {
	env := newHandlerEnv(t)
	ctx := context.Background()

	approvedAt := time.Now().UTC().Add(-48 * time.Hour)
	expiresAt := approvedAt.Add(24 * time.Hour)
	require.NoError(t, env.store.CreateAccessRequest(ctx, &models.AccessRequest{
		RequesterID:    env.partner.ID,
		OrganizationID: env.org.ID,
		Purpose:        "Coordinate winter outreach",
		Justification:  "We are planning a joint food drive for December",
		Status:         models.RequestApproved,
		CreatedAt:      approvedAt,
		ApprovedAt:     &approvedAt,
		ExpiresAt:      &expiresAt,
	}))

	rec := doJSON(t, env.access.LatestRequest, http.MethodGet, "/api/access/requests/latest?org_id=org-1", env.partner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "approved", data["status"])
	assert.Equal(t, "expired", data["effective_status"])
}

// routeRequest dispatches through a chi router so URL params resolve
func routeRequest(t *testing.T, pattern string, handler http.HandlerFunc, method, target string, user *models.User, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	router := chiRoute.NewRouter()
	router.MethodFunc(method, pattern, handler)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.UserContextKey, user))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDecideEndpoint(t *testing.T) {
	env := newHandlerEnv(t)

	created := doJSON(t, env.access.SubmitRequest, http.MethodPost, "/api/access/requests", env.partner, map[string]string{
		"organization_id": env.org.ID,
		"purpose":         "Coordinate winter outreach",
		"justification":   "We are planning a joint food drive for December",
	})
	require.Equal(t, http.StatusCreated, created.Code)
	data := decodeEnvelope(t, created).Data.(map[string]interface{})
	requestID := data["id"].(string)

	rec := routeRequest(t, "/api/access/requests/{id}/decision", env.approvals.Decide,
		http.MethodPost, fmt.Sprintf("/api/access/requests/%s/decision", requestID), env.admin,
		map[string]interface{}{"decision": "approved", "hours_valid": 72})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	decided := resp.Data.(map[string]interface{})
	assert.Equal(t, "approved", decided["status"])
	assert.NotEmpty(t, decided["expires_at"])
}

func TestListRequestsNonAdmin(t *testing.T) {
	env := newHandlerEnv(t)

	// another partner's request is on file; its justification must not leak
	created := doJSON(t, env.access.SubmitRequest, http.MethodPost, "/api/access/requests", env.partner, map[string]string{
		"organization_id": env.org.ID,
		"purpose":         "Coordinate winter outreach",
		"justification":   "We are planning a joint food drive for December",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	outsider := &models.User{ID: "user-9", Email: "outsider@example.org"}
	require.NoError(t, env.store.CreateUser(context.Background(), outsider))

	rec := doJSON(t, env.approvals.ListRequests, http.MethodGet, "/api/access/requests", outsider, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	assert.NotContains(t, rec.Body.String(), "food drive")
}

func TestListRequestsAdmin(t *testing.T) {
	env := newHandlerEnv(t)

	created := doJSON(t, env.access.SubmitRequest, http.MethodPost, "/api/access/requests", env.partner, map[string]string{
		"organization_id": env.org.ID,
		"purpose":         "Coordinate winter outreach",
		"justification":   "We are planning a joint food drive for December",
	})
	require.Equal(t, http.StatusCreated, created.Code)

	rec := doJSON(t, env.approvals.ListRequests, http.MethodGet, "/api/access/requests", env.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeEnvelope(t, rec)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)
}

func TestDecideEndpointNonAdmin(t *testing.T) {
	env := newHandlerEnv(t)

	rec := routeRequest(t, "/api/access/requests/{id}/decision", env.approvals.Decide,
		http.MethodPost, "/api/access/requests/some-id/decision", env.partner,
		map[string]interface{}{"decision": "approved"})

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRevealEndpointWithoutApproval(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doJSON(t, env.reveal.Reveal, http.MethodPost, "/api/access/reveal", env.admin, map[string]string{
		"organization_id": env.org.ID,
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_APPROVED", resp.Error.Code)
}

func TestAuditEndpointNonAdmin(t *testing.T) {
	env := newHandlerEnv(t)

	rec := doJSON(t, env.reveal.AuditTrail, http.MethodGet, "/api/access/audit", env.partner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

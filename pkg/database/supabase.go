package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"forward-focus-backend/pkg/models"
)

// SupabaseStore implements Store against the Supabase PostgREST API.
// The production deployment is Supabase-hosted, so this is the default
// implementation on serverless.
type SupabaseStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSupabaseStore creates a Supabase-backed store
func NewSupabaseStore(rawURL, key string) *SupabaseStore {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "https://" + rawURL
	}
	return &SupabaseStore{
		baseURL: rawURL,
		apiKey:  key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// makeRequest sends one PostgREST call. The context flows through so an
// abandoned HTTP request cancels the upstream call too.
func (s *SupabaseStore) makeRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/rest/v1"+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// ==== Users ====

func (s *SupabaseStore) CreateUser(ctx context.Context, user *models.User) error {
	payload := map[string]interface{}{
		"email":               user.Email,
		"password_hash":       user.Password,
		"name":                user.Name,
		"is_admin":            user.IsAdmin,
		"is_verified_partner": user.IsVerifiedPartner,
	}
	data, err := s.makeRequest(ctx, "POST", "/users", payload)
	if err != nil {
		return err
	}
	var rows []supabaseUser
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		user.ID = rows[0].ID
		user.CreatedAt = rows[0].CreatedAt
		user.UpdatedAt = rows[0].UpdatedAt
	}
	return nil
}

func (s *SupabaseStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	data, err := s.makeRequest(ctx, "GET", "/users?email=eq."+url.QueryEscape(email)+"&select=*", nil)
	if err != nil {
		return nil, err
	}
	row, err := singleRow[supabaseUser](data, "user")
	if err != nil {
		return nil, err
	}
	u := row.toModel()
	return &u, nil
}

func (s *SupabaseStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	data, err := s.makeRequest(ctx, "GET", "/users?id=eq."+url.QueryEscape(id)+"&select=*", nil)
	if err != nil {
		return nil, err
	}
	row, err := singleRow[supabaseUser](data, "user")
	if err != nil {
		return nil, err
	}
	u := row.toModel()
	return &u, nil
}

func (s *SupabaseStore) SetPartnerVerified(ctx context.Context, userID string, verified bool) error {
	data, err := s.makeRequest(ctx, "PATCH", "/users?id=eq."+url.QueryEscape(userID),
		map[string]interface{}{"is_verified_partner": verified})
	if err != nil {
		return err
	}
	var rows []supabaseUser
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// supabaseUser mirrors the table row; the model hides password_hash from JSON,
// so REST decoding needs its own shape.
type supabaseUser struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	PasswordHash      string    `json:"password_hash"`
	Name              string    `json:"name"`
	IsAdmin           bool      `json:"is_admin"`
	IsVerifiedPartner bool      `json:"is_verified_partner"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r supabaseUser) toModel() models.User {
	return models.User{
		ID:                r.ID,
		Email:             r.Email,
		Password:          r.PasswordHash,
		Name:              r.Name,
		IsAdmin:           r.IsAdmin,
		IsVerifiedPartner: r.IsVerifiedPartner,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// ==== Organizations ====

func (s *SupabaseStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	payload := map[string]interface{}{
		"name":          org.Name,
		"category":      org.Category,
		"description":   org.Description,
		"website":       org.Website,
		"contact_email": org.ContactEmail,
		"contact_phone": org.ContactPhone,
		"address":       org.Address,
	}
	data, err := s.makeRequest(ctx, "POST", "/organizations", payload)
	if err != nil {
		return err
	}
	var rows []supabaseOrganization
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		*org = rows[0].toModel()
	}
	return nil
}

func (s *SupabaseStore) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	data, err := s.makeRequest(ctx, "GET", "/organizations?id=eq."+url.QueryEscape(orgID)+"&select=*", nil)
	if err != nil {
		return nil, err
	}
	var rows []supabaseOrganization
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return nil, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
	}
	org := rows[0].toModel()
	return &org, nil
}

func (s *SupabaseStore) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	data, err := s.makeRequest(ctx, "GET", "/organizations?select=*&order=name.asc", nil)
	if err != nil {
		return nil, err
	}
	var rows []supabaseOrganization
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode organizations: %w", err)
	}
	orgs := make([]models.Organization, 0, len(rows))
	for _, r := range rows {
		orgs = append(orgs, r.toModel())
	}
	return orgs, nil
}

// supabaseOrganization mirrors the table row; the model hides contact fields
// from JSON, so REST decoding needs its own shape.
type supabaseOrganization struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Description  string    `json:"description"`
	Website      string    `json:"website"`
	ContactEmail string    `json:"contact_email"`
	ContactPhone string    `json:"contact_phone"`
	Address      string    `json:"address"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r supabaseOrganization) toModel() models.Organization {
	return models.Organization{
		ID:           r.ID,
		Name:         r.Name,
		Category:     r.Category,
		Description:  r.Description,
		Website:      r.Website,
		ContactEmail: r.ContactEmail,
		ContactPhone: r.ContactPhone,
		Address:      r.Address,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// ==== Access requests ====

func (s *SupabaseStore) CreateAccessRequest(ctx context.Context, req *models.AccessRequest) error {
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	payload := map[string]interface{}{
		"requester_id":    req.RequesterID,
		"organization_id": req.OrganizationID,
		"purpose":         req.Purpose,
		"justification":   req.Justification,
		"status":          string(req.Status),
	}
	data, err := s.makeRequest(ctx, "POST", "/access_requests", payload)
	if err != nil {
		return err
	}
	var rows []models.AccessRequest
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		req.ID = rows[0].ID
		req.CreatedAt = rows[0].CreatedAt
	}
	return nil
}

func (s *SupabaseStore) GetAccessRequest(ctx context.Context, id string) (*models.AccessRequest, error) {
	data, err := s.makeRequest(ctx, "GET", "/access_requests?id=eq."+url.QueryEscape(id)+"&select=*", nil)
	if err != nil {
		return nil, err
	}
	return singleRow[models.AccessRequest](data, "access request")
}

func (s *SupabaseStore) GetLatestAccessRequest(ctx context.Context, requesterID, orgID string) (*models.AccessRequest, error) {
	endpoint := "/access_requests?requester_id=eq." + url.QueryEscape(requesterID) +
		"&organization_id=eq." + url.QueryEscape(orgID) +
		"&select=*&order=created_at.desc&limit=1"
	data, err := s.makeRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	return singleRow[models.AccessRequest](data, "access request")
}

func (s *SupabaseStore) ListAccessRequests(ctx context.Context, status models.RequestStatus) ([]models.AccessRequest, error) {
	endpoint := "/access_requests?select=*&order=created_at.desc"
	if status != "" {
		endpoint += "&status=eq." + url.QueryEscape(string(status))
	}
	data, err := s.makeRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	var rows []models.AccessRequest
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode access requests: %w", err)
	}
	return rows, nil
}

func (s *SupabaseStore) CountRecentAccessRequests(ctx context.Context, requesterID string, since time.Time) (int, error) {
	endpoint := "/access_requests?requester_id=eq." + url.QueryEscape(requesterID) +
		"&created_at=gte." + url.QueryEscape(since.UTC().Format(time.RFC3339)) +
		"&select=id"
	data, err := s.makeRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return 0, err
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode count rows: %w", err)
	}
	return len(rows), nil
}

func (s *SupabaseStore) TransitionAccessRequest(ctx context.Context, params TransitionParams) (bool, error) {
	patch := map[string]interface{}{
		"status": string(params.To),
	}
	if params.ApprovedBy != nil {
		patch["approved_by"] = *params.ApprovedBy
	}
	if params.ApprovedAt != nil {
		patch["approved_at"] = params.ApprovedAt.UTC().Format(time.RFC3339)
	}
	if params.ExpiresAt != nil {
		patch["expires_at"] = params.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if params.DenialReason != "" {
		patch["denial_reason"] = params.DenialReason
	}
	// Filtering on the current status makes this a compare-and-set: a stale
	// transition matches zero rows and returns false.
	endpoint := "/access_requests?id=eq." + url.QueryEscape(params.ID) +
		"&status=eq." + url.QueryEscape(string(params.From))
	data, err := s.makeRequest(ctx, "PATCH", endpoint, patch)
	if err != nil {
		return false, err
	}
	var rows []models.AccessRequest
	if err := json.Unmarshal(data, &rows); err != nil {
		return false, fmt.Errorf("failed to decode transition result: %w", err)
	}
	return len(rows) > 0, nil
}

// ==== Audit trail ====

func (s *SupabaseStore) AppendRevealEvent(ctx context.Context, ev *models.ContactRevealEvent) error {
	payload := map[string]interface{}{
		"actor_id":        ev.ActorID,
		"organization_id": ev.OrganizationID,
		"contact_type":    ev.ContactType,
		"action":          string(ev.Action),
	}
	data, err := s.makeRequest(ctx, "POST", "/contact_reveal_events", payload)
	if err != nil {
		return err
	}
	var rows []models.ContactRevealEvent
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		ev.ID = rows[0].ID
		ev.CreatedAt = rows[0].CreatedAt
	}
	return nil
}

func (s *SupabaseStore) ListRevealEvents(ctx context.Context, filter models.AuditFilter) ([]models.ContactRevealEvent, error) {
	endpoint := "/contact_reveal_events?select=*&order=created_at.desc"
	if filter.ActorID != "" {
		endpoint += "&actor_id=eq." + url.QueryEscape(filter.ActorID)
	}
	if filter.OrganizationID != "" {
		endpoint += "&organization_id=eq." + url.QueryEscape(filter.OrganizationID)
	}
	if filter.Action != "" {
		endpoint += "&action=eq." + url.QueryEscape(string(filter.Action))
	}
	if !filter.Since.IsZero() {
		endpoint += "&created_at=gte." + url.QueryEscape(filter.Since.UTC().Format(time.RFC3339))
	}
	if !filter.Until.IsZero() {
		endpoint += "&created_at=lte." + url.QueryEscape(filter.Until.UTC().Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		endpoint += "&limit=" + strconv.Itoa(filter.Limit)
	}
	if filter.Offset > 0 {
		endpoint += "&offset=" + strconv.Itoa(filter.Offset)
	}
	data, err := s.makeRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	var rows []models.ContactRevealEvent
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode reveal events: %w", err)
	}
	return rows, nil
}

func (s *SupabaseStore) HealthCheck(ctx context.Context) error {
	_, err := s.makeRequest(ctx, "GET", "/organizations?select=id&limit=1", nil)
	return err
}

func (s *SupabaseStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// singleRow decodes a PostgREST array response expected to hold one row
func singleRow[T any](data []byte, what string) (*T, error) {
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return &rows[0], nil
}

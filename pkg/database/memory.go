package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"forward-focus-backend/pkg/models"
)

// MemoryStore is an in-memory Store for local development and tests.
// All data is lost on restart.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	orgs         map[string]*models.Organization
	requests     map[string]*models.AccessRequest
	revealEvents []models.ContactRevealEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		orgs:     make(map[string]*models.Organization),
		requests: make(map[string]*models.AccessRequest),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return errDuplicate("user email")
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
		user.UpdatedAt = now
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) SetPartnerVerified(ctx context.Context, userID string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsVerifiedPartner = verified
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
		org.UpdatedAt = now
	}
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateAccessRequest(ctx context.Context, req *models.AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccessRequest(ctx context.Context, id string) (*models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetLatestAccessRequest(ctx context.Context, requesterID, orgID string) (*models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.AccessRequest
	for _, r := range s.requests {
		if r.RequesterID != requesterID || r.OrganizationID != orgID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) ListAccessRequests(ctx context.Context, status models.RequestStatus) ([]models.AccessRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AccessRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountRecentAccessRequests(ctx context.Context, requesterID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.requests {
		if r.RequesterID == requesterID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) TransitionAccessRequest(ctx context.Context, params TransitionParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[params.ID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != params.From {
		return false, nil
	}
	r.Status = params.To
	if params.ApprovedBy != nil {
		r.ApprovedBy = params.ApprovedBy
	}
	if params.ApprovedAt != nil {
		r.ApprovedAt = params.ApprovedAt
	}
	if params.ExpiresAt != nil {
		r.ExpiresAt = params.ExpiresAt
	}
	if params.DenialReason != "" {
		r.DenialReason = params.DenialReason
	}
	return true, nil
}

func (s *MemoryStore) AppendRevealEvent(ctx context.Context, ev *models.ContactRevealEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.revealEvents = append(s.revealEvents, *ev)
	return nil
}

func (s *MemoryStore) ListRevealEvents(ctx context.Context, filter models.AuditFilter) ([]models.ContactRevealEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]models.ContactRevealEvent, 0)
	for _, ev := range s.revealEvents {
		if filter.ActorID != "" && ev.ActorID != filter.ActorID {
			continue
		}
		if filter.OrganizationID != "" && ev.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.Action != "" && ev.Action != filter.Action {
			continue
		}
		if !filter.Since.IsZero() && ev.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && ev.CreatedAt.After(filter.Until) {
			continue
		}
		matched = append(matched, ev)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []models.ContactRevealEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

type errDuplicate string

func (e errDuplicate) Error() string {
	return "duplicate " + string(e)
}

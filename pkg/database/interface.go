package database

import (
	"context"
	"errors"
	"time"

	"forward-focus-backend/pkg/models"
)

// ErrNotFound is returned by lookups when no row matches. Callers switch on this
// with errors.Is instead of matching message text.
var ErrNotFound = errors.New("not found")

// TransitionParams is a conditional state change for an access request.
// The update applies only while the stored status still equals From, which is
// what serializes two admins deciding the same request at once.
type TransitionParams struct {
	ID           string
	From         models.RequestStatus
	To           models.RequestStatus
	ApprovedBy   *string
	ApprovedAt   *time.Time
	ExpiresAt    *time.Time
	DenialReason string
}

// Store defines data access for the contact-access workflow
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SetPartnerVerified(ctx context.Context, userID string, verified bool) error

	// Organizations (partner directory)
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	ListOrganizations(ctx context.Context) ([]models.Organization, error)

	// Access requests
	CreateAccessRequest(ctx context.Context, req *models.AccessRequest) error
	GetAccessRequest(ctx context.Context, id string) (*models.AccessRequest, error)
	// GetLatestAccessRequest returns the newest request for the pair by created_at,
	// or ErrNotFound when the pair has never submitted one.
	GetLatestAccessRequest(ctx context.Context, requesterID, orgID string) (*models.AccessRequest, error)
	// ListAccessRequests with status "" returns all requests, newest first.
	ListAccessRequests(ctx context.Context, status models.RequestStatus) ([]models.AccessRequest, error)
	// CountRecentAccessRequests counts submissions by the requester since the
	// given time; the submit rate limit is a sliding window over this count.
	CountRecentAccessRequests(ctx context.Context, requesterID string, since time.Time) (int, error)
	// TransitionAccessRequest applies a conditional status change. It returns
	// false with a nil error when the request exists but its status no longer
	// equals params.From (someone else decided first).
	TransitionAccessRequest(ctx context.Context, params TransitionParams) (bool, error)

	// Audit trail (append-only; this store is the only writer)
	AppendRevealEvent(ctx context.Context, ev *models.ContactRevealEvent) error
	ListRevealEvents(ctx context.Context, filter models.AuditFilter) ([]models.ContactRevealEvent, error)

	// Health
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection(s)
	Close() error
}

// StoreConfig selects and configures the backing store
type StoreConfig struct {
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	Debug       bool
}

// NewStore picks the store implementation from configuration:
// PostgreSQL when a DSN is present, otherwise the Supabase REST API.
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.PostgresDSN != "" {
		return NewPostgresStore(cfg.PostgresDSN)
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey), nil
	}
	return nil, errors.New("no database configured: set POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
}

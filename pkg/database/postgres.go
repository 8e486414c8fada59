package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"forward-focus-backend/pkg/models"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store on a plain database/sql connection
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the connection and verifies it with a ping.
// Pool limits are sized for serverless instances.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// ==== Users ====

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	query := `
		INSERT INTO public.users (id, email, password_hash, name, is_admin, is_verified_partner, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		user.ID, user.Email, user.Password, user.Name, user.IsAdmin, user.IsVerifiedPartner).
		Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, COALESCE(password_hash,''), COALESCE(name,''),
		       is_admin, is_verified_partner, created_at, updated_at
		FROM public.users
		WHERE email = $1
	`
	var u models.User
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.Password, &u.Name, &u.IsAdmin, &u.IsVerifiedPartner, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, email, COALESCE(name,''), is_admin, is_verified_partner, created_at, updated_at
		FROM public.users
		WHERE id = $1
	`
	var u models.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.IsVerifiedPartner, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) SetPartnerVerified(ctx context.Context, userID string, verified bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE public.users SET is_verified_partner = $1, updated_at = NOW() WHERE id = $2`,
		verified, userID)
	if err != nil {
		return fmt.Errorf("failed to update partner verification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// ==== Organizations ====

func (s *PostgresStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	query := `
		INSERT INTO public.organizations
			(id, name, category, description, website, contact_email, contact_phone, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query,
		org.ID, org.Name, org.Category, org.Description, org.Website,
		org.ContactEmail, org.ContactPhone, org.Address).
		Scan(&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	query := `
		SELECT id, name, COALESCE(category,''), COALESCE(description,''), COALESCE(website,''),
		       COALESCE(contact_email,''), COALESCE(contact_phone,''), COALESCE(address,''),
		       created_at, updated_at
		FROM public.organizations
		WHERE id = $1
	`
	var o models.Organization
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&o.ID, &o.Name, &o.Category, &o.Description, &o.Website,
		&o.ContactEmail, &o.ContactPhone, &o.Address, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("organization %s: %w", orgID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	query := `
		SELECT id, name, COALESCE(category,''), COALESCE(description,''), COALESCE(website,''),
		       COALESCE(contact_email,''), COALESCE(contact_phone,''), COALESCE(address,''),
		       created_at, updated_at
		FROM public.organizations
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Category, &o.Description, &o.Website,
			&o.ContactEmail, &o.ContactPhone, &o.Address, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// ==== Access requests ====

func (s *PostgresStore) CreateAccessRequest(ctx context.Context, req *models.AccessRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	query := `
		INSERT INTO public.access_requests
			(id, requester_id, organization_id, purpose, justification, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		req.ID, req.RequesterID, req.OrganizationID, req.Purpose, req.Justification, req.Status).
		Scan(&req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create access request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccessRequest(ctx context.Context, id string) (*models.AccessRequest, error) {
	req, err := s.scanRequestRow(s.db.QueryRowContext(ctx, accessRequestSelect+` WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("access request %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get access request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) GetLatestAccessRequest(ctx context.Context, requesterID, orgID string) (*models.AccessRequest, error) {
	query := accessRequestSelect + `
		WHERE requester_id = $1 AND organization_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	req, err := s.scanRequestRow(s.db.QueryRowContext(ctx, query, requesterID, orgID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest access request: %w", err)
	}
	return req, nil
}

func (s *PostgresStore) ListAccessRequests(ctx context.Context, status models.RequestStatus) ([]models.AccessRequest, error) {
	query := accessRequestSelect
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list access requests: %w", err)
	}
	defer rows.Close()

	var reqs []models.AccessRequest
	for rows.Next() {
		req, err := s.scanRequestRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func (s *PostgresStore) CountRecentAccessRequests(ctx context.Context, requesterID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM public.access_requests WHERE requester_id = $1 AND created_at >= $2`,
		requesterID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent access requests: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) TransitionAccessRequest(ctx context.Context, params TransitionParams) (bool, error) {
	// The status guard in WHERE is the whole concurrency story: the second of
	// two simultaneous decisions matches zero rows.
	query := `
		UPDATE public.access_requests
		SET status = $1,
		    approved_by = COALESCE($2, approved_by),
		    approved_at = COALESCE($3, approved_at),
		    expires_at = COALESCE($4, expires_at),
		    denial_reason = CASE WHEN $5 <> '' THEN $5 ELSE denial_reason END
		WHERE id = $6 AND status = $7
	`
	res, err := s.db.ExecContext(ctx, query,
		string(params.To), params.ApprovedBy, params.ApprovedAt, params.ExpiresAt,
		params.DenialReason, params.ID, string(params.From))
	if err != nil {
		return false, fmt.Errorf("failed to transition access request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

const accessRequestSelect = `
	SELECT id, requester_id, organization_id, purpose, justification, status,
	       created_at, approved_at, approved_by, expires_at, COALESCE(denial_reason,'')
	FROM public.access_requests`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanRequestRow(row rowScanner) (*models.AccessRequest, error) {
	var req models.AccessRequest
	var status string
	var approvedAt, expiresAt sql.NullTime
	var approvedBy sql.NullString
	err := row.Scan(
		&req.ID, &req.RequesterID, &req.OrganizationID, &req.Purpose, &req.Justification,
		&status, &req.CreatedAt, &approvedAt, &approvedBy, &expiresAt, &req.DenialReason,
	)
	if err != nil {
		return nil, err
	}
	req.Status = models.RequestStatus(status)
	if approvedAt.Valid {
		t := approvedAt.Time
		req.ApprovedAt = &t
	}
	if approvedBy.Valid {
		v := approvedBy.String
		req.ApprovedBy = &v
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		req.ExpiresAt = &t
	}
	return &req, nil
}

// ==== Audit trail ====

func (s *PostgresStore) AppendRevealEvent(ctx context.Context, ev *models.ContactRevealEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	query := `
		INSERT INTO public.contact_reveal_events (id, actor_id, organization_id, contact_type, action, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		ev.ID, ev.ActorID, ev.OrganizationID, ev.ContactType, string(ev.Action)).
		Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append reveal event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRevealEvents(ctx context.Context, filter models.AuditFilter) ([]models.ContactRevealEvent, error) {
	query := `
		SELECT id, actor_id, organization_id, contact_type, action, created_at
		FROM public.contact_reveal_events
	`
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("created_at <= $%d", filter.Until)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reveal events: %w", err)
	}
	defer rows.Close()

	var events []models.ContactRevealEvent
	for rows.Next() {
		var ev models.ContactRevealEvent
		var action string
		if err := rows.Scan(&ev.ID, &ev.ActorID, &ev.OrganizationID, &ev.ContactType, &action, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reveal event: %w", err)
		}
		ev.Action = models.AuditAction(action)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

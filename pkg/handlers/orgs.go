package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	chiRoute "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"forward-focus-backend/pkg/config"
	"forward-focus-backend/pkg/database"
	"forward-focus-backend/pkg/middleware"
	"forward-focus-backend/pkg/models"
	"forward-focus-backend/pkg/utils"
)

// OrgsHandler serves the partner directory and the admin endpoints that
// maintain it. Directory responses carry only masked contact info; the
// unmasked data goes through the reveal flow.
type OrgsHandler struct {
	config *config.Config
	db     database.Store
}

func NewOrgsHandler(cfg *config.Config, db database.Store) *OrgsHandler {
	return &OrgsHandler{config: cfg, db: db}
}

// directoryEntry is the public view of an organization
type directoryEntry struct {
	models.Organization
	Contact models.MaskedContact `json:"contact"`
}

// ListOrganizations handles GET /api/orgs
func (h *OrgsHandler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.db.ListOrganizations(r.Context())
	if err != nil {
		fmt.Printf("[error] list organizations: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to list organizations")
		return
	}

	entries := make([]directoryEntry, 0, len(orgs))
	for i := range orgs {
		entries = append(entries, directoryEntry{Organization: orgs[i], Contact: orgs[i].Masked()})
	}
	utils.WriteSuccessResponse(w, entries)
}

// GetOrganization handles GET /api/orgs/{id}
func (h *OrgsHandler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID := chiRoute.URLParam(r, "id")
	if orgID == "" {
		utils.WriteBadRequestResponse(w, "Organization ID is required")
		return
	}

	org, err := h.db.GetOrganization(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			utils.WriteNotFoundResponse(w, "Organization not found")
			return
		}
		fmt.Printf("[error] get organization: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to get organization")
		return
	}

	utils.WriteSuccessResponse(w, directoryEntry{Organization: *org, Contact: org.Masked()})
}

// CreateOrganization handles POST /api/orgs (admin only)
func (h *OrgsHandler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	if !user.IsAdmin {
		utils.WriteForbiddenResponse(w, "Admin privileges required")
		return
	}

	var req models.CreateOrganizationRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.ContactEmail = strings.TrimSpace(req.ContactEmail)
	if req.Name == "" {
		utils.WriteValidationErrorResponse(w, "name is required", "")
		return
	}
	if req.ContactEmail == "" || !strings.Contains(req.ContactEmail, "@") {
		utils.WriteValidationErrorResponse(w, "A valid contact_email is required", "")
		return
	}

	now := time.Now().UTC()
	org := &models.Organization{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Category:     strings.TrimSpace(req.Category),
		Description:  strings.TrimSpace(req.Description),
		Website:      strings.TrimSpace(req.Website),
		ContactEmail: req.ContactEmail,
		ContactPhone: strings.TrimSpace(req.ContactPhone),
		Address:      strings.TrimSpace(req.Address),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.db.CreateOrganization(r.Context(), org); err != nil {
		fmt.Printf("[error] create organization: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to create organization")
		return
	}

	utils.WriteCreatedResponse(w, directoryEntry{Organization: *org, Contact: org.Masked()})
}

// VerifyPartner handles POST /api/admin/partners/{id}/verify (admin only)
func (h *OrgsHandler) VerifyPartner(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	if !user.IsAdmin {
		utils.WriteForbiddenResponse(w, "Admin privileges required")
		return
	}

	partnerID := chiRoute.URLParam(r, "id")
	if partnerID == "" {
		utils.WriteBadRequestResponse(w, "Partner ID is required")
		return
	}

	var req struct {
		Verified *bool `json:"verified"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	verified := true
	if req.Verified != nil {
		verified = *req.Verified
	}

	if _, err := h.db.GetUserByID(r.Context(), partnerID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			utils.WriteNotFoundResponse(w, "Partner not found")
			return
		}
		fmt.Printf("[error] verify partner: lookup: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to update partner")
		return
	}

	if err := h.db.SetPartnerVerified(r.Context(), partnerID, verified); err != nil {
		fmt.Printf("[error] verify partner: update: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Failed to update partner")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"partner_id": partnerID,
		"verified":   verified,
	})
}

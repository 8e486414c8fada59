package handlers

import (
	"net/http"
	"strconv"
	"time"

	"forward-focus-backend/pkg/config"
	"forward-focus-backend/pkg/metrics"
	"forward-focus-backend/pkg/middleware"
	"forward-focus-backend/pkg/models"
	"forward-focus-backend/pkg/utils"
	"forward-focus-backend/pkg/workflow"
)

// RevealHandler exposes the contact reveal panel: fetching unmasked contact
// info under an active approval, recording copy actions and reading the
// audit trail.
type RevealHandler struct {
	config   *config.Config
	workflow *workflow.Service
	metrics  *metrics.Metrics
}

func NewRevealHandler(cfg *config.Config, wf *workflow.Service, m *metrics.Metrics) *RevealHandler {
	return &RevealHandler{config: cfg, workflow: wf, metrics: m}
}

type revealRequest struct {
	OrganizationID string `json:"organization_id"`
}

type copyRequest struct {
	OrganizationID string `json:"organization_id"`
	ContactType    string `json:"contact_type"`
}

// Reveal handles POST /api/access/reveal
func (h *RevealHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req revealRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if req.OrganizationID == "" {
		utils.WriteValidationErrorResponse(w, "organization_id is required", "")
		return
	}

	contact, err := h.workflow.Reveal(r.Context(), user, req.OrganizationID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	h.metrics.RevealsTotal.Inc()
	utils.WriteSuccessResponse(w, contact)
}

// RecordCopy handles POST /api/access/reveal/copied
func (h *RevealHandler) RecordCopy(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req copyRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if req.OrganizationID == "" {
		utils.WriteValidationErrorResponse(w, "organization_id is required", "")
		return
	}

	if err := h.workflow.RecordCopy(r.Context(), user, req.OrganizationID, req.ContactType); err != nil {
		writeWorkflowError(w, err)
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{"recorded": true})
}

// AuditTrail handles GET /api/access/audit
func (h *RevealHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}
	if !user.IsAdmin {
		utils.WriteForbiddenResponse(w, "Admin privileges required")
		return
	}

	filter := models.AuditFilter{
		ActorID:        utils.GetQueryParam(r, "actor_id", ""),
		OrganizationID: utils.GetQueryParam(r, "org_id", ""),
		Action:         models.AuditAction(utils.GetQueryParam(r, "action", "")),
	}
	if v := utils.GetQueryParam(r, "since", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.WriteValidationErrorResponse(w, "since must be an RFC 3339 timestamp", "")
			return
		}
		filter.Since = t
	}
	if v := utils.GetQueryParam(r, "until", ""); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			utils.WriteValidationErrorResponse(w, "until must be an RFC 3339 timestamp", "")
			return
		}
		filter.Until = t
	}
	if v := utils.GetQueryParam(r, "limit", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := utils.GetQueryParam(r, "offset", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	events, err := h.workflow.AuditTrail(r.Context(), filter)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	utils.WriteSuccessResponse(w, events)
}

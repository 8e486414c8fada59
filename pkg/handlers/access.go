package handlers

import (
	"net/http"
	"time"

	"forward-focus-backend/pkg/config"
	"forward-focus-backend/pkg/metrics"
	"forward-focus-backend/pkg/middleware"
	"forward-focus-backend/pkg/models"
	"forward-focus-backend/pkg/utils"
	"forward-focus-backend/pkg/workflow"
)

// AccessHandler exposes the submitter side of the workflow: filing a request
// and checking the status of the latest one for an organization.
type AccessHandler struct {
	config   *config.Config
	workflow *workflow.Service
	metrics  *metrics.Metrics
}

func NewAccessHandler(cfg *config.Config, wf *workflow.Service, m *metrics.Metrics) *AccessHandler {
	return &AccessHandler{config: cfg, workflow: wf, metrics: m}
}

// requestView is an AccessRequest plus its display status at response time
type requestView struct {
	models.AccessRequest
	EffectiveStatus models.RequestStatus `json:"effective_status"`
}

func newRequestView(req *models.AccessRequest, now time.Time) requestView {
	return requestView{AccessRequest: *req, EffectiveStatus: req.EffectiveStatus(now)}
}

// SubmitRequest handles POST /api/access/requests
func (h *AccessHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	var req models.SubmitAccessRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if req.OrganizationID == "" {
		utils.WriteValidationErrorResponse(w, "organization_id is required", "")
		return
	}

	created, err := h.workflow.Submit(r.Context(), user, req.OrganizationID, req.Purpose, req.Justification)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	h.metrics.SubmitsTotal.Inc()
	utils.WriteCreatedResponse(w, newRequestView(created, time.Now().UTC()))
}

// LatestRequest handles GET /api/access/requests/latest?org_id=...
func (h *AccessHandler) LatestRequest(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	orgID := utils.GetQueryParam(r, "org_id", "")
	if orgID == "" {
		utils.WriteValidationErrorResponse(w, "org_id query parameter is required", "")
		return
	}

	latest, err := h.workflow.Latest(r.Context(), user.ID, orgID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if latest == nil {
		// no request on file yet; the panel renders its empty state from null
		utils.WriteSuccessResponse(w, nil)
		return
	}

	utils.WriteSuccessResponse(w, newRequestView(latest, time.Now().UTC()))
}

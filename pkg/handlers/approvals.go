package handlers

import (
	"net/http"
	"time"

	chiRoute "github.com/go-chi/chi/v5"

	"forward-focus-backend/pkg/config"
	"forward-focus-backend/pkg/metrics"
	"forward-focus-backend/pkg/middleware"
	"forward-focus-backend/pkg/models"
	"forward-focus-backend/pkg/utils"
	"forward-focus-backend/pkg/workflow"
)

// ApprovalsHandler exposes the admin approval console: listing requests,
// deciding pending ones and revoking active approvals.
type ApprovalsHandler struct {
	config   *config.Config
	workflow *workflow.Service
	metrics  *metrics.Metrics
}

func NewApprovalsHandler(cfg *config.Config, wf *workflow.Service, m *metrics.Metrics) *ApprovalsHandler {
	return &ApprovalsHandler{config: cfg, workflow: wf, metrics: m}
}

// ListRequests handles GET /api/access/requests?status=... (admin only)
func (h *ApprovalsHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	status := models.RequestStatus(utils.GetQueryParam(r, "status", ""))
	requests, err := h.workflow.List(r.Context(), user, status)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	now := time.Now().UTC()
	views := make([]requestView, 0, len(requests))
	for i := range requests {
		views = append(views, newRequestView(&requests[i], now))
	}
	utils.WriteSuccessResponse(w, views)
}

// Decide handles POST /api/access/requests/{id}/decision
func (h *ApprovalsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	admin, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	requestID := chiRoute.URLParam(r, "id")
	if requestID == "" {
		utils.WriteBadRequestResponse(w, "Request ID is required")
		return
	}

	var req models.DecisionRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	decided, err := h.workflow.Decide(r.Context(), admin, requestID, req)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	h.metrics.DecisionsTotal.WithLabelValues(string(req.Decision)).Inc()
	utils.WriteSuccessResponse(w, newRequestView(decided, time.Now().UTC()))
}

// Revoke handles POST /api/access/requests/{id}/revoke
func (h *ApprovalsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	admin, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	requestID := chiRoute.URLParam(r, "id")
	if requestID == "" {
		utils.WriteBadRequestResponse(w, "Request ID is required")
		return
	}

	revoked, err := h.workflow.Revoke(r.Context(), admin, requestID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}

	utils.WriteSuccessResponse(w, newRequestView(revoked, time.Now().UTC()))
}

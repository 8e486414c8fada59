package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"forward-focus-backend/pkg/utils"
	"forward-focus-backend/pkg/workflow"
)

// writeWorkflowError maps a workflow failure to the API envelope. The mapping
// switches on the error kind only; message text is passed through untouched.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var we *workflow.Error
	message := err.Error()
	if errors.As(err, &we) {
		message = we.Message
	}

	switch workflow.KindOf(err) {
	case workflow.KindValidation:
		utils.WriteValidationErrorResponse(w, message, "")
	case workflow.KindRateLimited:
		utils.WriteTooManyRequestsResponse(w, message)
	case workflow.KindNotVerifiedPartner:
		utils.WriteErrorResponseWithCode(w, http.StatusForbidden, "NOT_VERIFIED_PARTNER", message, "")
	case workflow.KindSelfApproval:
		utils.WriteErrorResponseWithCode(w, http.StatusForbidden, "SELF_APPROVAL_BLOCKED", message, "")
	case workflow.KindAlreadyActive:
		utils.WriteErrorResponseWithCode(w, http.StatusConflict, "REQUEST_ALREADY_ACTIVE", message, "")
	case workflow.KindAlreadyDecided:
		utils.WriteErrorResponseWithCode(w, http.StatusConflict, "REQUEST_ALREADY_DECIDED", message, "")
	case workflow.KindNotApproved:
		utils.WriteErrorResponseWithCode(w, http.StatusForbidden, "NOT_APPROVED", message, "")
	case workflow.KindNotFound:
		utils.WriteNotFoundResponse(w, message)
	case workflow.KindForbidden:
		utils.WriteForbiddenResponse(w, message)
	default:
		fmt.Printf("[error] workflow: %v\n", err)
		utils.WriteInternalServerErrorResponse(w, "Internal server error")
	}
}

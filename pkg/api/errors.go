package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/citylight-dev/congregate/pkg/clients/orgstore"
	"github.com/citylight-dev/congregate/pkg/core/services"
)

// writeError maps registry and store failures to HTTP statuses. Error
// kinds stay distinguishable at the boundary; the UI decides wording.
func (h *Handler) writeError(w http.ResponseWriter, handlerName string, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	switch {
	case errors.Is(err, orgstore.ErrExists):
		status, code = http.StatusConflict, "already_exists"
	case errors.Is(err, orgstore.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	default:
		switch services.KindOf(err) {
		case services.KindValidation:
			status, code = http.StatusUnprocessableEntity, "validation_error"
		case services.KindNotFound:
			status, code = http.StatusNotFound, "not_found"
		case services.KindConfiguration:
			status, code = http.StatusInternalServerError, "configuration_error"
		case services.KindTransport:
			status, code = http.StatusBadGateway, "transport_error"
		case services.KindInconsistentState:
			status, code = http.StatusBadGateway, "inconsistent_state"
		}
	}

	h.logger.Error("handler error",
		zap.String("handler", handlerName),
		zap.String("code", code),
		zap.Int("status", status),
		zap.Error(err))

	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: err.Error()}})
}

// writeRequestError rejects a request before it reaches the registry,
// e.g. a malformed body or a failed DTO validation.
func (h *Handler) writeRequestError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

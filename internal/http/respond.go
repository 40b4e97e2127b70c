package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Hawyaa/alora-backend/internal/domain"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	// OrderID is set when the request created an order before failing.
	OrderID string `json:"orderId,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func handleServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, body := serviceErrorResponse(r, log, err)
	respondJSON(w, status, body)
}

// serviceErrorResponse maps the domain error taxonomy onto HTTP status codes.
// Anything unrecognised is logged and hidden behind a generic 500.
func serviceErrorResponse(r *http.Request, log *slog.Logger, err error) (int, ErrorResponse) {
	var validation *domain.ValidationError
	var transition *domain.TransitionError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrorResponse{Error: validation.Message, Code: validation.Code}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "access denied", Code: "forbidden"}
	case errors.As(err, &transition):
		return http.StatusConflict, ErrorResponse{
			Error:   "invalid status transition",
			Code:    "invalid_transition",
			Details: transition.Error(),
		}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "invalid_transition"}
	case errors.Is(err, domain.ErrGatewayUnavailable):
		log.WarnContext(r.Context(), "payment gateway unavailable", "error", err)
		return http.StatusBadGateway, ErrorResponse{Error: "payment provider is unavailable, try again later", Code: "gateway_unavailable"}
	default:
		log.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal"}
	}
}

// decodeJSON reads the request body into v, answering 400 itself when it cannot.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid JSON body",
			Code:    domain.CodeInvalidRequest,
			Details: err.Error(),
		})
		return false
	}
	return true
}

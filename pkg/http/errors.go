package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BradenHooton/medpassport/internal/models"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`             // Machine-readable error code
	Message string `json:"message"`           // Human-readable message
	Details string `json:"details,omitempty"` // Optional additional context
	Retry   bool   `json:"retry,omitempty"`   // The same request may succeed later
	Phase   string `json:"phase,omitempty"`   // Session phase after the failed request
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	WriteErrorResponse(w, statusCode, ErrorResponse{Error: errorCode, Message: message})
}

func WriteErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Retry {
		w.Header().Set("Retry-After", "1")
	}
	w.WriteHeader(statusCode)

	// Log encoding errors but don't expose them to client
	_ = json.NewEncoder(w).Encode(resp)
}

// FromError maps a domain error onto a status code and response body.
// Credential and code failures share one generic message.
func FromError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, models.ErrInvalidCredentials), errors.Is(err, models.ErrMFACodeRejected):
		return http.StatusUnauthorized, ErrorResponse{Error: "authentication_failed", Message: "Authentication failed"}
	case errors.Is(err, models.ErrSessionRevoked):
		return http.StatusUnauthorized, ErrorResponse{Error: "session_revoked", Message: "Your session has ended. Please sign in again."}
	case errors.Is(err, models.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "provider_unavailable", Message: "Sign-in service is temporarily unavailable", Retry: true}
	case errors.Is(err, models.ErrRecoveryCodeInvalid):
		return http.StatusGone, ErrorResponse{Error: "recovery_link_invalid", Message: "This reset link is invalid or has expired. Please request a new one."}
	case errors.Is(err, models.ErrPasswordPolicy):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "password_policy", Message: "Password does not meet requirements", Details: err.Error()}
	case errors.Is(err, models.ErrIllegalEvent):
		return http.StatusConflict, ErrorResponse{Error: "illegal_event", Message: "Action not available in the current session state"}
	case errors.Is(err, models.ErrAccountExists):
		return http.StatusConflict, ErrorResponse{Error: "account_exists", Message: "An account with this email already exists"}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Resource not found"}
	case errors.Is(err, models.ErrBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: "Invalid request"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Internal server error"}
	}
}

// WriteDomainError writes the mapped response for err
func WriteDomainError(w http.ResponseWriter, err error) {
	status, resp := FromError(err)
	WriteErrorResponse(w, status, resp)
}

// Common error writers for consistency
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", message)
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, http.StatusServiceUnavailable, ErrorResponse{Error: "service_unavailable", Message: message, Retry: true})
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_error", message)
}

// WriteJSON writes v with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Tyrowin/gochat-relay/internal/apperr"
)

// ErrorResponseBody is the uniform error payload of every API endpoint.
type ErrorResponseBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes an error payload.
func WriteErrorResponse(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponseBody{Code: code, Message: message})
}

// WriteInternalServerError writes a generic 500. Details belong in the log.
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// WriteError maps err onto the error taxonomy and writes the matching
// response. Unclassified errors are logged and reported as 500.
func WriteError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		WriteErrorResponse(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, apperr.ErrMissingCredential):
		WriteErrorResponse(w, http.StatusUnauthorized, "MISSING_CREDENTIAL", "authentication required")
	case errors.Is(err, apperr.ErrAuth):
		WriteErrorResponse(w, http.StatusUnauthorized, "INVALID_CREDENTIAL", "invalid or expired token")
	case errors.Is(err, apperr.ErrInvalidCredentials):
		WriteErrorResponse(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
	case errors.Is(err, apperr.ErrUsernameTaken):
		WriteErrorResponse(w, http.StatusConflict, "USERNAME_TAKEN", err.Error())
	default:
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
			slog.Bool("storage", errors.Is(err, apperr.ErrStorage)),
		)
		WriteInternalServerError(w)
	}
}

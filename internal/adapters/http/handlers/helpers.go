package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/mcphub/internal/adapters/http/dto"
	"github.com/longregen/mcphub/internal/adapters/http/encoding"
	"github.com/longregen/mcphub/internal/adapters/http/middleware"
	"github.com/longregen/mcphub/internal/domain"
)

const maxBodyBytes = 1024 * 1024

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", encoding.ContentTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respond writes data as MessagePack when the client asks for it, JSON otherwise
func respond(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	if encoding.NegotiateContentType(r) == encoding.ContentTypeMsgpack {
		if err := encoding.WriteMsgpack(w, status, data); err != nil {
			slog.Warn("write msgpack response", "path", r.URL.Path, "error", err)
		}
		return
	}
	respondJSON(w, data, status)
}

// respondError writes an error JSON response
func respondError(w http.ResponseWriter, errorType string, message string, status int) {
	respondJSON(w, dto.NewErrorResponse(errorType, message, status), status)
}

// respondDomainError maps domain errors onto HTTP status codes
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, errorType := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, errorType, "Internal server error", status)
		return
	}
	respondError(w, errorType, err.Error(), status)
}

func classifyError(err error) (int, string) {
	switch {
	case domain.IsValidationError(err):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrCredentialsInvalid):
		return http.StatusUnprocessableEntity, "credentials_invalid"
	case errors.Is(err, domain.ErrMCPServerNotFound),
		errors.Is(err, domain.ErrUserConfigNotFound),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNotManaged):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyManaged),
		errors.Is(err, domain.ErrAlreadyConnected),
		errors.Is(err, domain.ErrConnectionInProgress),
		errors.Is(err, domain.ErrServerDisabled):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrManagerClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// validateURLParam validates and returns a URL parameter
func validateURLParam(r *http.Request, w http.ResponseWriter, paramName, errorField string) (string, bool) {
	value := chi.URLParam(r, paramName)
	if value == "" {
		respondError(w, "invalid_request", errorField+" is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

// requireUser returns the authenticated caller
func requireUser(r *http.Request, w http.ResponseWriter) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, "unauthorized", "User ID is required", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

// decodeBody decodes a JSON or MessagePack request body with error handling
func decodeBody[T any](r *http.Request, w http.ResponseWriter) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req T
	var err error
	if encoding.IsMsgpackBody(r) {
		err = encoding.ReadMsgpack(r, &req)
	} else {
		err = json.NewDecoder(r.Body).Decode(&req)
	}
	if err != nil {
		respondError(w, "invalid_request", "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/api/googleapi"

	"github.com/teemow/sitekit/internal/auth"
	"github.com/teemow/sitekit/internal/logging"
	"github.com/teemow/sitekit/internal/modules"
	"github.com/teemow/sitekit/internal/storage"
)

// Error codes produced by the route layer itself.
const (
	CodeUnauthorized       = "unauthorized"
	CodeForbidden          = "forbidden"
	CodeInvalidRequest     = "invalid_request"
	CodeValidation         = "validation"
	CodeRateLimited        = "rate_limited"
	CodeStorageUnavailable = "storage_unavailable"
	CodeUpstreamError      = "upstream_error"
	CodeInternal           = "internal_error"
)

type response struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string                    `json:"code"`
	Message string                    `json:"message"`
	Fields  []modules.ValidationError `json:"fields,omitempty"`
	Details map[string]any            `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, response{Error: &errorResponse{Code: code, Message: message}})
}

// writeError maps err to a status code and error envelope. Unexpected
// errors are logged and their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, fallback *slog.Logger, err error) {
	status, body := errorFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), fallback).ErrorContext(r.Context(), "request failed",
			slog.Int("status", status),
			slog.String("code", body.Code),
			logging.Err(err))
	}
	writeJSON(w, status, response{Error: body})
}

func errorFor(err error) (int, *errorResponse) {
	var (
		verrs   modules.ValidationErrors
		authErr *auth.Error
		modErr  *modules.Error
		apiErr  *googleapi.Error
	)

	switch {
	case errors.As(err, &verrs):
		return http.StatusUnprocessableEntity, &errorResponse{
			Code:    CodeValidation,
			Message: "settings are invalid",
			Fields:  verrs,
		}
	case errors.As(err, &authErr):
		body := &errorResponse{Code: authErr.Code, Message: authErr.Error()}
		if len(authErr.MissingScopes) > 0 {
			body.Details = map[string]any{"missing_scopes": authErr.MissingScopes}
		}
		return authStatus(authErr.Code), body
	case errors.As(err, &modErr):
		body := &errorResponse{Code: modErr.Code, Message: modErr.Error()}
		details := map[string]any{}
		if len(modErr.Slugs) > 0 {
			details["modules"] = modErr.Slugs
		}
		if len(modErr.MissingScopes) > 0 {
			details["missing_scopes"] = modErr.MissingScopes
		}
		if len(details) > 0 {
			body.Details = details
		}
		return moduleStatus(modErr.Code), body
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, &errorResponse{Code: CodeStorageUnavailable, Message: "storage is temporarily unavailable"}
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, &errorResponse{Code: CodeUpstreamError, Message: apiErr.Message}
	default:
		return http.StatusInternalServerError, &errorResponse{Code: CodeInternal, Message: "an internal error occurred"}
	}
}

func authStatus(code string) int {
	switch code {
	case auth.CodeInvalidGrant:
		return http.StatusBadRequest
	case auth.CodeScopeMismatch:
		return http.StatusForbidden
	case auth.CodeTransientFailure:
		return http.StatusServiceUnavailable
	case auth.CodeReauthRequired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func moduleStatus(code string) int {
	switch code {
	case modules.CodeNotFound:
		return http.StatusNotFound
	case modules.CodeInsufficientScope, modules.CodeModuleInternal:
		return http.StatusForbidden
	case modules.CodeAlreadyActive, modules.CodeHasActiveDependants, modules.CodeDependencyInactive, modules.CodeInactive:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

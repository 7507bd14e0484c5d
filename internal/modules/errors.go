package modules

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Error codes returned by the Registry.
const (
	CodeDuplicateSlug       = "duplicate_slug"
	CodeUnknownDependency   = "unknown_dependency"
	CodeNotFound            = "not_found"
	CodeAlreadyActive       = "already_active"
	CodeDependencyInactive  = "dependency_inactive"
	CodeInsufficientScope   = "insufficient_scope"
	CodeHasActiveDependants = "has_active_dependants"
	CodeModuleInternal      = "module_internal"
	CodeInactive            = "inactive"
)

// Error is a registry failure. Slugs lists the modules the failure is
// about: unknown or inactive dependencies, or active dependants.
type Error struct {
	Code          string
	Slug          string
	Description   string
	Slugs         []string
	MissingScopes []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Slug != "" {
		fmt.Fprintf(&b, " (%s)", e.Slug)
	}
	if e.Description != "" {
		b.WriteString(": " + e.Description)
	}
	if len(e.Slugs) > 0 {
		b.WriteString(": " + strings.Join(e.Slugs, ", "))
	}
	if len(e.MissingScopes) > 0 {
		b.WriteString(": missing " + strings.Join(e.MissingScopes, ", "))
	}
	return b.String()
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrDuplicateSlug       = &Error{Code: CodeDuplicateSlug}
	ErrUnknownDependency   = &Error{Code: CodeUnknownDependency}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrAlreadyActive       = &Error{Code: CodeAlreadyActive}
	ErrDependencyInactive  = &Error{Code: CodeDependencyInactive}
	ErrInsufficientScope   = &Error{Code: CodeInsufficientScope}
	ErrHasActiveDependants = &Error{Code: CodeHasActiveDependants}
	ErrModuleInternal      = &Error{Code: CodeModuleInternal}
	ErrInactive            = &Error{Code: CodeInactive}
)

func notFound(slug string) *Error {
	return &Error{Code: CodeNotFound, Slug: slug, Description: "module is not registered"}
}

// ValidationError is a problem with one settings field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Reason
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Reason)
}

// ValidationErrors is the list of field problems of one settings update.
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, reason string) {
	*ve = append(*ve, ValidationError{Field: field, Reason: reason})
}

func reasonForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url", "http_url":
		return "must be a valid URL"
	case "numeric":
		return "must be numeric"
	case "json":
		return "must be valid JSON"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case tagAnalyticsProperty:
		return "must look like UA-XXXXX-Y or G-XXXXXXX"
	case tagContainerID:
		return "must look like GTM-XXXXXXX"
	case tagOptimizeID:
		return "must look like GTM-XXXXXXX or OPT-XXXXXXX"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}

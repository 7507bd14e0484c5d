package auth

import (
	"fmt"
	"strings"
)

// Error codes returned by the Manager.
const (
	CodeInvalidGrant     = "invalid_grant"
	CodeScopeMismatch    = "scope_mismatch"
	CodeTransientFailure = "transient_failure"
	CodeReauthRequired   = "reauth_required"
)

// Error is an authentication failure.
type Error struct {
	Code        string
	Description string

	// MissingScopes is set for scope_mismatch.
	MissingScopes []string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Code
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if len(e.MissingScopes) > 0 {
		msg += " (missing " + strings.Join(e.MissingScopes, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so callers can compare against
// the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrInvalidGrant     = &Error{Code: CodeInvalidGrant, Description: "authorization grant rejected"}
	ErrScopeMismatch    = &Error{Code: CodeScopeMismatch, Description: "granted scopes do not cover active modules"}
	ErrTransientFailure = &Error{Code: CodeTransientFailure, Description: "upstream temporarily unavailable"}
	ErrReauthRequired   = &Error{Code: CodeReauthRequired, Description: "re-authentication required"}
)

func invalidGrant(desc string, err error) *Error {
	return &Error{Code: CodeInvalidGrant, Description: desc, Err: err}
}

func transientFailure(desc string, err error) *Error {
	return &Error{Code: CodeTransientFailure, Description: desc, Err: err}
}

func reauthRequired(desc string) *Error {
	return &Error{Code: CodeReauthRequired, Description: desc}
}

func scopeMismatch(missing []string) *Error {
	return &Error{
		Code:          CodeScopeMismatch,
		Description:   fmt.Sprintf("%d required scope(s) not granted", len(missing)),
		MissingScopes: missing,
	}
}

// Package google talks to Google's OAuth 2.0 endpoints.
//
// Client builds authorization URLs, exchanges authorization codes, refreshes
// access tokens and revokes grants. Every upstream call runs under a bounded
// timeout and behind a circuit breaker; failures are classified into
// ErrInvalidGrant, ErrRejected and ErrUnavailable so callers can map them
// without inspecting oauth2 internals. Nothing is retried.
package google

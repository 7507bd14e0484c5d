// Package auth manages the Google OAuth credential of each site user.
//
// The Manager builds consent URLs with a signed state parameter, completes
// the authorization callback, refreshes access tokens shortly before they
// expire and revokes credentials on disconnect. Credential writes go through
// compare-and-swap so that a revocation always wins over a concurrent
// refresh; concurrent refreshes for the same user inside one process are
// collapsed into a single upstream call.
//
// No operation retries upstream calls. Timeouts, network errors and an open
// circuit breaker surface as ErrTransientFailure.
package auth

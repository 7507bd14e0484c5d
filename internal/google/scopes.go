package google

import "strings"

// Identity scopes requested on every connection, independent of modules.
const (
	ScopeOpenID      = "openid"
	ScopeUserEmail   = "https://www.googleapis.com/auth/userinfo.email"
	ScopeUserProfile = "https://www.googleapis.com/auth/userinfo.profile"
)

// BaseScopes are always part of an authorization request.
var BaseScopes = []string{
	ScopeOpenID,
	ScopeUserEmail,
	ScopeUserProfile,
}

// ParseScopes splits the space separated scope string Google returns in
// token responses.
func ParseScopes(s string) []string {
	return strings.Fields(s)
}

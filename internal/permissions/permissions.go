// Package permissions answers whether a site user may perform an action.
//
// The host application owns users and roles; sitekit only needs a yes or
// no per action. Static is the built-in checker driven by a list of
// administrator ids.
package permissions

import (
	"context"
	"slices"
	"strings"
)

// Action is a capability checked before an operation runs.
type Action string

// Actions checked by the REST and tool surfaces.
const (
	// ActionAuthenticate covers connecting and disconnecting one's own
	// Google account.
	ActionAuthenticate Action = "authenticate"
	// ActionViewDashboard covers reading module state and module data.
	ActionViewDashboard Action = "view_dashboard"
	// ActionManageOptions covers activation and settings changes.
	ActionManageOptions Action = "manage_options"
)

// Checker decides whether caller may perform action.
type Checker interface {
	Can(ctx context.Context, caller string, action Action) bool
}

// Static grants every signed-in user ActionAuthenticate and
// ActionViewDashboard, and everything to the configured administrators.
type Static struct {
	admins []string
}

// NewStatic creates a Static checker. Blank ids are ignored.
func NewStatic(admins []string) *Static {
	s := &Static{}
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" && !slices.Contains(s.admins, a) {
			s.admins = append(s.admins, a)
		}
	}
	return s
}

// Can implements Checker.
func (s *Static) Can(_ context.Context, caller string, action Action) bool {
	if caller == "" {
		return false
	}
	if slices.Contains(s.admins, caller) {
		return true
	}
	switch action {
	case ActionAuthenticate, ActionViewDashboard:
		return true
	default:
		return false
	}
}

// Admins returns the configured administrator ids.
func (s *Static) Admins() []string {
	return slices.Clone(s.admins)
}

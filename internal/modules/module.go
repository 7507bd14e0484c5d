package modules

import (
	"context"
	"net/http"
)

// Descriptor is the static description of a module. It does not change
// after registration.
type Descriptor struct {
	Slug           string
	Name           string
	Description    string
	Order          int
	Dependencies   []string
	RequiredScopes []string

	// Internal modules are always active and cannot be toggled.
	Internal bool
}

// Module is one Google service integration.
type Module interface {
	Descriptor() Descriptor

	// NewSettings returns a pointer to a zero settings struct. Its json and
	// validate tags define the accepted settings. Modules without settings
	// return nil.
	NewSettings() any

	// DefaultSettings is what Settings returns until settings are saved.
	DefaultSettings() map[string]any

	// Datapoints lists the names accepted by Data.
	Datapoints() []string

	// Data runs a read request against the module's Google API with an
	// HTTP client authorized as the requesting user.
	Data(ctx context.Context, client *http.Client, datapoint string) (any, error)
}

// View is a module as presented to one site user.
type View struct {
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Order          int      `json:"order"`
	Dependencies   []string `json:"dependencies"`
	Dependants     []string `json:"dependants"`
	RequiredScopes []string `json:"required_scopes"`
	Internal       bool     `json:"internal"`
	Active         bool     `json:"active"`

	// Connected reports whether the user granted every required scope.
	Connected     bool     `json:"connected"`
	MissingScopes []string `json:"missing_scopes"`
}

// Filter narrows List.
type Filter struct {
	ActiveOnly      bool
	ExcludeInternal bool

	// Owner is the user the views are computed for. Without an owner no
	// module reports as connected.
	Owner string
}

func unknownDatapoint(slug, datapoint string) *Error {
	return &Error{Code: CodeNotFound, Slug: slug, Description: "unknown datapoint " + datapoint}
}

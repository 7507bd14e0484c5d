package modules

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/option"
	searchconsole "google.golang.org/api/searchconsole/v1"
)

// SearchConsoleSettings are the settings of the search-console module.
type SearchConsoleSettings struct {
	PropertyID string `json:"propertyID" validate:"omitempty,url"`
}

// SearchConsoleSite is a Search Console property the user can access.
type SearchConsoleSite struct {
	SiteURL         string `json:"siteURL"`
	PermissionLevel string `json:"permissionLevel"`
}

// SearchConsole reports how the site performs in Google Search.
type SearchConsole struct {
	base
}

// NewSearchConsole creates the search-console module.
func NewSearchConsole(opts ...option.ClientOption) *SearchConsole {
	return &SearchConsole{base{
		desc: Descriptor{
			Slug:           SlugSearchConsole,
			Name:           "Search Console",
			Description:    "Google Search Console helps you understand how Google views your site and optimize its performance in search results.",
			Order:          1,
			Dependencies:   []string{SlugSiteVerification},
			RequiredScopes: []string{searchconsole.WebmastersReadonlyScope},
		},
		opts: opts,
	}}
}

func (m *SearchConsole) NewSettings() any { return &SearchConsoleSettings{} }

func (m *SearchConsole) DefaultSettings() map[string]any {
	return map[string]any{"propertyID": ""}
}

func (m *SearchConsole) Datapoints() []string { return []string{"sites"} }

func (m *SearchConsole) Data(ctx context.Context, client *http.Client, datapoint string) (any, error) {
	if datapoint != "sites" {
		return nil, unknownDatapoint(m.desc.Slug, datapoint)
	}

	svc, err := searchconsole.NewService(ctx, m.clientOptions(option.WithHTTPClient(client))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Search Console service: %w", err)
	}
	resp, err := svc.Sites.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list Search Console sites: %w", err)
	}

	sites := make([]SearchConsoleSite, 0, len(resp.SiteEntry))
	for _, s := range resp.SiteEntry {
		sites = append(sites, SearchConsoleSite{SiteURL: s.SiteUrl, PermissionLevel: s.PermissionLevel})
	}
	return sites, nil
}

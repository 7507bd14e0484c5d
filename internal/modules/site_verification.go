package modules

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/option"
	siteverification "google.golang.org/api/siteverification/v1"
)

// SiteVerificationSettings are the settings of the site-verification module.
type SiteVerificationSettings struct {
	Verified bool `json:"verified"`
}

// VerifiedSite is a site the user has verified ownership of.
type VerifiedSite struct {
	ID         string   `json:"id"`
	Identifier string   `json:"identifier"`
	Type       string   `json:"type"`
	Owners     []string `json:"owners"`
}

// SiteVerification proves site ownership to Google. Other modules depend
// on it; it is internal and always active.
type SiteVerification struct {
	base
}

// NewSiteVerification creates the site-verification module.
func NewSiteVerification(opts ...option.ClientOption) *SiteVerification {
	return &SiteVerification{base{
		desc: Descriptor{
			Slug:           SlugSiteVerification,
			Name:           "Site Verification",
			Description:    "Google Site Verification allows you to manage ownership of your site.",
			Order:          0,
			RequiredScopes: []string{siteverification.SiteverificationScope},
			Internal:       true,
		},
		opts: opts,
	}}
}

func (m *SiteVerification) NewSettings() any { return &SiteVerificationSettings{} }

func (m *SiteVerification) DefaultSettings() map[string]any {
	return map[string]any{"verified": false}
}

func (m *SiteVerification) Datapoints() []string { return []string{"verified-sites"} }

func (m *SiteVerification) Data(ctx context.Context, client *http.Client, datapoint string) (any, error) {
	if datapoint != "verified-sites" {
		return nil, unknownDatapoint(m.desc.Slug, datapoint)
	}

	svc, err := siteverification.NewService(ctx, m.clientOptions(option.WithHTTPClient(client))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Site Verification service: %w", err)
	}
	resp, err := svc.WebResource.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list verified sites: %w", err)
	}

	sites := make([]VerifiedSite, 0, len(resp.Items))
	for _, item := range resp.Items {
		sites = append(sites, toVerifiedSite(item))
	}
	return sites, nil
}

func toVerifiedSite(r *siteverification.SiteVerificationWebResourceResource) VerifiedSite {
	site := VerifiedSite{ID: r.Id, Owners: r.Owners}
	if r.Site != nil {
		site.Identifier = r.Site.Identifier
		site.Type = r.Site.Type
	}
	return site
}

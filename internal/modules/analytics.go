package modules

import (
	"context"
	"fmt"
	"net/http"

	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	"google.golang.org/api/option"
)

// AnalyticsSettings are the settings of the analytics module.
type AnalyticsSettings struct {
	AccountID  string `json:"accountID" validate:"omitempty,numeric"`
	PropertyID string `json:"propertyID" validate:"omitempty,analytics_property"`
	UseSnippet bool   `json:"useSnippet"`
}

// AnalyticsAccount is a Google Analytics account the user can access.
type AnalyticsAccount struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	RegionCode  string `json:"regionCode,omitempty"`
}

// Analytics connects the site to a Google Analytics property.
type Analytics struct {
	base
}

// NewAnalytics creates the analytics module.
func NewAnalytics(opts ...option.ClientOption) *Analytics {
	return &Analytics{base{
		desc: Descriptor{
			Slug:           SlugAnalytics,
			Name:           "Analytics",
			Description:    "Get a deeper understanding of your customers. Google Analytics gives you the free tools you need to analyze data for your business in one place.",
			Order:          3,
			RequiredScopes: []string{analyticsadmin.AnalyticsReadonlyScope},
		},
		opts: opts,
	}}
}

func (m *Analytics) NewSettings() any { return &AnalyticsSettings{} }

func (m *Analytics) DefaultSettings() map[string]any {
	return map[string]any{
		"accountID":  "",
		"propertyID": "",
		"useSnippet": true,
	}
}

func (m *Analytics) Datapoints() []string { return []string{"accounts"} }

func (m *Analytics) Data(ctx context.Context, client *http.Client, datapoint string) (any, error) {
	if datapoint != "accounts" {
		return nil, unknownDatapoint(m.desc.Slug, datapoint)
	}

	svc, err := analyticsadmin.NewService(ctx, m.clientOptions(option.WithHTTPClient(client))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Analytics Admin service: %w", err)
	}
	resp, err := svc.Accounts.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list Analytics accounts: %w", err)
	}

	accounts := make([]AnalyticsAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, AnalyticsAccount{Name: a.Name, DisplayName: a.DisplayName, RegionCode: a.RegionCode})
	}
	return accounts, nil
}

package modules

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/option"
	tagmanager "google.golang.org/api/tagmanager/v2"
)

// TagManagerSettings are the settings of the tagmanager module.
type TagManagerSettings struct {
	AccountID   string `json:"accountID" validate:"omitempty,numeric"`
	ContainerID string `json:"containerID" validate:"omitempty,gtm_container"`
	UseSnippet  bool   `json:"useSnippet"`
}

// TagManagerAccount is a Tag Manager account the user can access.
type TagManagerAccount struct {
	AccountID string `json:"accountID"`
	Name      string `json:"name"`
	Path      string `json:"path"`
}

// TagManager places a Google Tag Manager container on the site.
type TagManager struct {
	base
}

// NewTagManager creates the tagmanager module.
func NewTagManager(opts ...option.ClientOption) *TagManager {
	return &TagManager{base{
		desc: Descriptor{
			Slug:           SlugTagManager,
			Name:           "Tag Manager",
			Description:    "Tag Manager creates an easy to manage way to create tags on your site without updating code.",
			Order:          10,
			RequiredScopes: []string{tagmanager.TagmanagerReadonlyScope},
		},
		opts: opts,
	}}
}

func (m *TagManager) NewSettings() any { return &TagManagerSettings{} }

func (m *TagManager) DefaultSettings() map[string]any {
	return map[string]any{
		"accountID":   "",
		"containerID": "",
		"useSnippet":  true,
	}
}

func (m *TagManager) Datapoints() []string { return []string{"accounts"} }

func (m *TagManager) Data(ctx context.Context, client *http.Client, datapoint string) (any, error) {
	if datapoint != "accounts" {
		return nil, unknownDatapoint(m.desc.Slug, datapoint)
	}

	svc, err := tagmanager.NewService(ctx, m.clientOptions(option.WithHTTPClient(client))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tag Manager service: %w", err)
	}
	resp, err := svc.Accounts.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list Tag Manager accounts: %w", err)
	}

	accounts := make([]TagManagerAccount, 0, len(resp.Account))
	for _, a := range resp.Account {
		accounts = append(accounts, TagManagerAccount{AccountID: a.AccountId, Name: a.Name, Path: a.Path})
	}
	return accounts, nil
}

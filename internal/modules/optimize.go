package modules

import (
	"context"
	"net/http"
)

// OptimizeSettings are the settings of the optimize module.
type OptimizeSettings struct {
	OptimizeID        string `json:"optimizeID" validate:"omitempty,optimize_id"`
	AMPExperimentJSON string `json:"ampExperimentJSON" validate:"omitempty,json"`
}

// Optimize runs experiments on top of Analytics. It has no API of its own.
type Optimize struct {
	base
}

// NewOptimize creates the optimize module.
func NewOptimize() *Optimize {
	return &Optimize{base{
		desc: Descriptor{
			Slug:         SlugOptimize,
			Name:         "Optimize",
			Description:  "Create free A/B tests that help you drive metric-based design solutions to your site.",
			Order:        5,
			Dependencies: []string{SlugAnalytics},
		},
	}}
}

func (m *Optimize) NewSettings() any { return &OptimizeSettings{} }

func (m *Optimize) DefaultSettings() map[string]any {
	return map[string]any{
		"optimizeID":        "",
		"ampExperimentJSON": "",
	}
}

func (m *Optimize) Datapoints() []string { return nil }

func (m *Optimize) Data(_ context.Context, _ *http.Client, datapoint string) (any, error) {
	return nil, unknownDatapoint(m.desc.Slug, datapoint)
}

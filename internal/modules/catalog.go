package modules

import (
	"google.golang.org/api/option"
)

// Reference module slugs.
const (
	SlugSiteVerification = "site-verification"
	SlugSearchConsole    = "search-console"
	SlugAnalytics        = "analytics"
	SlugTagManager       = "tagmanager"
	SlugOptimize         = "optimize"
)

// Catalog returns the reference modules in dependency order, ready to be
// registered. opts are passed to every Google API client the modules create.
func Catalog(opts ...option.ClientOption) []Module {
	return []Module{
		NewSiteVerification(opts...),
		NewSearchConsole(opts...),
		NewAnalytics(opts...),
		NewTagManager(opts...),
		NewOptimize(),
	}
}

// RegisterAll registers mods in order.
func (r *Registry) RegisterAll(mods []Module) error {
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// base carries what every reference module shares.
type base struct {
	desc Descriptor
	opts []option.ClientOption
}

func (b *base) Descriptor() Descriptor {
	return b.desc
}

func (b *base) clientOptions(extra ...option.ClientOption) []option.ClientOption {
	out := make([]option.ClientOption, 0, len(b.opts)+len(extra))
	out = append(out, extra...)
	return append(out, b.opts...)
}

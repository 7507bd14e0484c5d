package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/sitekit/internal/credentials"
	"github.com/teemow/sitekit/internal/instrumentation"
	"github.com/teemow/sitekit/internal/logging"
	"github.com/teemow/sitekit/internal/options"
)

// maxActivationAttempts bounds how often an activation is re-evaluated
// after losing a compare-and-swap to a concurrent writer.
const maxActivationAttempts = 3

// Authenticator reports what a site user granted and issues authorized
// HTTP clients. It is satisfied by *auth.Manager.
type Authenticator interface {
	GrantedScopes(ctx context.Context, owner string) ([]string, error)
	HTTPClient(ctx context.Context, owner string) (*http.Client, error)
}

// Config holds the Registry's collaborators.
type Config struct {
	Options *options.Store
	Auth    Authenticator
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger

	// DataTTL keeps module data responses in the options store per owner
	// for this long. Zero disables the cache.
	DataTTL time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	module     Module
	desc       Descriptor
	dependants []string
}

// Registry holds the registered modules and their activation state.
// Activation flags and settings live in the options store; the Registry
// keeps no state in memory between calls.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	options  *options.Store
	auth     Authenticator
	validate *validator.Validate
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
	logger   *slog.Logger
	dataTTL  time.Duration
	now      func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(config Config) (*Registry, error) {
	if config.Options == nil || config.Auth == nil {
		return nil, errors.New("modules: options store and authenticator are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Registry{
		entries:  make(map[string]*entry),
		options:  config.Options,
		auth:     config.Auth,
		validate: newValidator(),
		metrics:  config.Metrics,
		audit:    config.Audit,
		logger:   config.Logger.With(slog.String("component", "modules")),
		dataTTL:  max(config.DataTTL, 0),
		now:      config.Now,
	}, nil
}

// Register adds m. Dependencies must already be registered, which keeps
// the dependency graph acyclic.
func (r *Registry) Register(m Module) error {
	desc := m.Descriptor()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[desc.Slug]; ok {
		return &Error{Code: CodeDuplicateSlug, Slug: desc.Slug, Description: "module already registered"}
	}
	var unknown []string
	for _, dep := range desc.Dependencies {
		if _, ok := r.entries[dep]; !ok {
			unknown = append(unknown, dep)
		}
	}
	if len(unknown) > 0 {
		return &Error{Code: CodeUnknownDependency, Slug: desc.Slug, Description: "dependencies must be registered first", Slugs: unknown}
	}

	desc.Dependencies = slices.Clone(desc.Dependencies)
	desc.RequiredScopes = slices.Clone(desc.RequiredScopes)
	r.entries[desc.Slug] = &entry{module: m, desc: desc}
	r.order = append(r.order, desc.Slug)
	for _, dep := range desc.Dependencies {
		r.entries[dep].dependants = append(r.entries[dep].dependants, desc.Slug)
	}

	r.logger.Debug("module registered", logging.Module(desc.Slug))
	return nil
}

func (r *Registry) lookup(slug string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[slug]
	if !ok {
		return nil, notFound(slug)
	}
	return e, nil
}

func (r *Registry) isActive(ctx context.Context, e *entry) (bool, []byte, error) {
	if e.desc.Internal {
		return true, nil, nil
	}
	return r.options.Bool(ctx, options.ModuleActiveKey(e.desc.Slug))
}

// transitiveDependants returns every module depending on slug directly or
// indirectly, in registration order.
func (r *Registry) transitiveDependants(slug string) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	queue := slices.Clone(r.entries[slug].dependants)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		queue = append(queue, r.entries[next].dependants...)
	}

	var out []*entry
	for _, s := range r.order {
		if seen[s] {
			out = append(out, r.entries[s])
		}
	}
	return out
}

func (r *Registry) view(ctx context.Context, e *entry, granted []string, hasOwner bool) (View, error) {
	active, _, err := r.isActive(ctx, e)
	if err != nil {
		return View{}, err
	}

	r.mu.RLock()
	dependants := slices.Clone(e.dependants)
	r.mu.RUnlock()

	v := View{
		Slug:           e.desc.Slug,
		Name:           e.desc.Name,
		Description:    e.desc.Description,
		Order:          e.desc.Order,
		Dependencies:   nonNil(slices.Clone(e.desc.Dependencies)),
		Dependants:     nonNil(dependants),
		RequiredScopes: nonNil(slices.Clone(e.desc.RequiredScopes)),
		Internal:       e.desc.Internal,
		Active:         active,
	}
	v.MissingScopes = nonNil(credentials.MissingScopes(granted, e.desc.RequiredScopes))
	v.Connected = hasOwner && len(v.MissingScopes) == 0
	return v, nil
}

func (r *Registry) granted(ctx context.Context, owner string) ([]string, error) {
	if owner == "" {
		return nil, nil
	}
	return r.auth.GrantedScopes(ctx, owner)
}

// Get returns the view of one module for owner.
func (r *Registry) Get(ctx context.Context, slug, owner string) (*View, error) {
	e, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	granted, err := r.granted(ctx, owner)
	if err != nil {
		return nil, err
	}
	v, err := r.view(ctx, e, granted, owner != "")
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// List yields module views in registration order. The sequence reads the
// store as it goes and stops at the first error.
func (r *Registry) List(ctx context.Context, filter Filter) iter.Seq2[View, error] {
	return func(yield func(View, error) bool) {
		r.mu.RLock()
		entries := make([]*entry, 0, len(r.order))
		for _, slug := range r.order {
			entries = append(entries, r.entries[slug])
		}
		r.mu.RUnlock()

		granted, err := r.granted(ctx, filter.Owner)
		if err != nil {
			yield(View{}, err)
			return
		}

		for _, e := range entries {
			if filter.ExcludeInternal && e.desc.Internal {
				continue
			}
			v, err := r.view(ctx, e, granted, filter.Owner != "")
			if err != nil {
				yield(View{}, err)
				return
			}
			if filter.ActiveOnly && !v.Active {
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Activate turns slug on for the site. All dependencies must be active and
// owner must have granted the module's scopes. Activating an active module
// returns its current view.
func (r *Registry) Activate(ctx context.Context, slug, owner string) (view *View, err error) {
	ctx, span := instrumentation.StartModuleSpan(ctx, "activate", slug)
	defer func() { instrumentation.EndSpan(span, err) }()

	e, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	if e.desc.Internal {
		return r.Get(ctx, slug, owner)
	}

	logger := logging.WithModule(logging.WithOperation(r.logger, "activate"), slug)
	key := options.ModuleActiveKey(slug)

	for range maxActivationAttempts {
		active, raw, err := r.options.Bool(ctx, key)
		if err != nil {
			return nil, err
		}
		if active {
			return r.Get(ctx, slug, owner)
		}

		if err := r.checkActivatable(ctx, e, owner); err != nil {
			r.metrics.RecordModuleStateChange(ctx, slug, instrumentation.ModuleActionActivate, instrumentation.StatusError)
			return nil, err
		}

		swapped, err := r.options.SwapBool(ctx, key, raw, true)
		if err != nil {
			return nil, err
		}
		if swapped {
			// A dependency may have been switched off between the check and
			// the write. Deactivate re-checks dependants after its own write,
			// so at least one side sees the other and backs out.
			if err := r.confirmDependencies(ctx, e); err != nil {
				if rerr := r.restoreFlag(ctx, slug, false); rerr != nil {
					err = errors.Join(err, rerr)
				}
				r.metrics.RecordModuleStateChange(ctx, slug, instrumentation.ModuleActionActivate, instrumentation.StatusError)
				logger.Warn("activation reverted, a dependency changed concurrently", logging.Err(err))
				return nil, err
			}
			r.metrics.RecordModuleStateChange(ctx, slug, instrumentation.ModuleActionActivate, instrumentation.StatusSuccess)
			r.audit.Log(ctx, instrumentation.AuditEvent{
				Name:    instrumentation.AuditModuleActivated,
				Owner:   owner,
				Module:  slug,
				Success: true,
			})
			logger.Info("module activated", logging.OwnerHash(owner))
			return r.Get(ctx, slug, owner)
		}
		logger.Debug("activation raced with another writer, re-reading")
	}
	return nil, fmt.Errorf("activate %s: flag changed concurrently %d times", slug, maxActivationAttempts)
}

func (r *Registry) checkActivatable(ctx context.Context, e *entry, owner string) error {
	granted, err := r.granted(ctx, owner)
	if err != nil {
		return err
	}
	if missing := credentials.MissingScopes(granted, e.desc.RequiredScopes); len(missing) > 0 {
		return &Error{Code: CodeInsufficientScope, Slug: e.desc.Slug, Description: "required scopes not granted", MissingScopes: missing}
	}

	return r.confirmDependencies(ctx, e)
}

// confirmDependencies fails with dependency_inactive unless every
// dependency of e is active.
func (r *Registry) confirmDependencies(ctx context.Context, e *entry) error {
	var inactive []string
	for _, dep := range e.desc.Dependencies {
		de, err := r.lookup(dep)
		if err != nil {
			return err
		}
		active, _, err := r.isActive(ctx, de)
		if err != nil {
			return err
		}
		if !active {
			inactive = append(inactive, dep)
		}
	}
	if len(inactive) > 0 {
		return &Error{Code: CodeDependencyInactive, Slug: e.desc.Slug, Description: "dependencies are not active", Slugs: inactive}
	}
	return nil
}

// activeDependants returns the transitive dependants of slug that are
// currently active, in registration order.
func (r *Registry) activeDependants(ctx context.Context, slug string) ([]*entry, error) {
	var active []*entry
	for _, d := range r.transitiveDependants(slug) {
		on, _, err := r.isActive(ctx, d)
		if err != nil {
			return nil, err
		}
		if on {
			active = append(active, d)
		}
	}
	return active, nil
}

func hasActiveDependants(slug string, active []*entry) *Error {
	slugs := make([]string, 0, len(active))
	for _, d := range active {
		slugs = append(slugs, d.desc.Slug)
	}
	return &Error{Code: CodeHasActiveDependants, Slug: slug, Description: "deactivate dependants first or cascade", Slugs: slugs}
}

// restoreFlag puts the activation flag of slug back to active after a
// write lost a race with a related module. A concurrent change to the
// flag itself wins.
func (r *Registry) restoreFlag(ctx context.Context, slug string, active bool) error {
	key := options.ModuleActiveKey(slug)
	cur, raw, err := r.options.Bool(ctx, key)
	if err != nil {
		return err
	}
	if cur == active {
		return nil
	}
	_, err = r.options.SwapBool(ctx, key, raw, active)
	return err
}

// Deactivate turns slug off. Active dependants make this fail unless
// cascade is set, in which case they are deactivated first, innermost
// dependant first, each persisted before the next. The slugs actually
// deactivated are returned in that order.
func (r *Registry) Deactivate(ctx context.Context, slug string, cascade bool) (deactivated []string, err error) {
	ctx, span := instrumentation.StartModuleSpan(ctx, "deactivate", slug, attribute.Bool(instrumentation.SpanAttrCascade, cascade))
	defer func() { instrumentation.EndSpan(span, err) }()

	e, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	if e.desc.Internal {
		return nil, &Error{Code: CodeModuleInternal, Slug: slug, Description: "internal modules cannot be deactivated"}
	}

	active, err := r.activeDependants(ctx, slug)
	if err != nil {
		return nil, err
	}
	if len(active) > 0 && !cascade {
		return nil, hasActiveDependants(slug, active)
	}

	// Registration order is a topological order, so walking it backwards
	// visits dependants before the modules they depend on.
	deactivated = []string{}
	for _, d := range slices.Backward(active) {
		if d.desc.Internal {
			return deactivated, &Error{Code: CodeModuleInternal, Slug: d.desc.Slug, Description: "internal dependant cannot be deactivated"}
		}
		changed, err := r.switchOff(ctx, d.desc.Slug)
		if err != nil {
			return deactivated, err
		}
		if changed {
			deactivated = append(deactivated, d.desc.Slug)
		}
	}

	changed, err := r.switchOff(ctx, slug)
	if err != nil {
		return deactivated, err
	}
	if !changed {
		return deactivated, nil
	}

	// A dependant may have been activated against the old flag. Activate
	// re-checks its dependencies after writing, so if it missed this write
	// it is still visible here and slug is switched back on.
	raced, err := r.activeDependants(ctx, slug)
	if err == nil && len(raced) > 0 {
		err = hasActiveDependants(slug, raced)
	}
	if err != nil {
		if rerr := r.restoreFlag(ctx, slug, true); rerr != nil {
			err = errors.Join(err, rerr)
		}
		r.metrics.RecordModuleStateChange(ctx, slug, instrumentation.ModuleActionDeactivate, instrumentation.StatusError)
		r.logger.Warn("deactivation reverted, a dependant changed concurrently", logging.Module(slug), logging.Err(err))
		return deactivated, err
	}
	return append(deactivated, slug), nil
}

// switchOff clears the activation flag of slug. It reports false when the
// module was already inactive.
func (r *Registry) switchOff(ctx context.Context, slug string) (bool, error) {
	key := options.ModuleActiveKey(slug)
	for range maxActivationAttempts {
		active, raw, err := r.options.Bool(ctx, key)
		if err != nil {
			return false, err
		}
		if !active {
			return false, nil
		}
		swapped, err := r.options.SwapBool(ctx, key, raw, false)
		if err != nil {
			return false, err
		}
		if swapped {
			r.metrics.RecordModuleStateChange(ctx, slug, instrumentation.ModuleActionDeactivate, instrumentation.StatusSuccess)
			r.audit.Log(ctx, instrumentation.AuditEvent{
				Name:    instrumentation.AuditModuleDeactivated,
				Module:  slug,
				Success: true,
			})
			r.logger.Info("module deactivated", logging.Module(slug))
			return true, nil
		}
	}
	return false, fmt.Errorf("deactivate %s: flag changed concurrently %d times", slug, maxActivationAttempts)
}

// RequiredScopes returns the sorted union of the scopes active modules need.
func (r *Registry) RequiredScopes(ctx context.Context) ([]string, error) {
	var scopes []string
	for v, err := range r.List(ctx, Filter{ActiveOnly: true}) {
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, v.RequiredScopes...)
	}
	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}

// ModuleScopes returns the scopes module slug needs.
func (r *Registry) ModuleScopes(slug string) ([]string, error) {
	e, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.desc.RequiredScopes), nil
}

// Settings returns the saved settings of slug, or its defaults when
// nothing was saved yet.
func (r *Registry) Settings(ctx context.Context, slug string) (map[string]any, error) {
	e, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	var saved map[string]any
	found, err := r.options.Get(ctx, options.ModuleSettingsKey(slug), &saved)
	if err != nil {
		return nil, err
	}
	if found && saved != nil {
		return saved, nil
	}
	defaults := maps.Clone(e.module.DefaultSettings())
	if defaults == nil {
		defaults = map[string]any{}
	}
	return defaults, nil
}

// SetSettings validates values and replaces the saved settings of slug.
// Invalid values are reported as ValidationErrors and nothing is written.
func (r *Registry) SetSettings(ctx context.Context, slug string, values map[string]any) (err error) {
	ctx, span := instrumentation.StartModuleSpan(ctx, "set_settings", slug)
	defer func() { instrumentation.EndSpan(span, err) }()

	e, err := r.lookup(slug)
	if err != nil {
		return err
	}
	if err := validateSettings(r.validate, e.module, values); err != nil {
		r.metrics.RecordModuleStateChange(ctx, slug, instrumentation.ModuleActionSettings, instrumentation.StatusError)
		return err
	}
	if values == nil {
		values = map[string]any{}
	}
	if err := r.options.Set(ctx, options.ModuleSettingsKey(slug), values); err != nil {
		return err
	}

	r.metrics.RecordModuleStateChange(ctx, slug, instrumentation.ModuleActionSettings, instrumentation.StatusSuccess)
	r.audit.Log(ctx, instrumentation.AuditEvent{Name: instrumentation.AuditModuleSettingsSave, Module: slug, Success: true})
	return nil
}

// Data runs datapoint of module slug on behalf of owner. The module must be
// active and owner must have granted its scopes. With a DataTTL the result
// is the JSON encoded response, served from the owner's cache entry until
// it expires.
func (r *Registry) Data(ctx context.Context, slug, owner, datapoint string) (any, error) {
	e, err := r.lookup(slug)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(e.module.Datapoints(), datapoint) {
		return nil, unknownDatapoint(slug, datapoint)
	}

	active, _, err := r.isActive(ctx, e)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, &Error{Code: CodeInactive, Slug: slug, Description: "module is not active"}
	}
	granted, err := r.granted(ctx, owner)
	if err != nil {
		return nil, err
	}
	if missing := credentials.MissingScopes(granted, e.desc.RequiredScopes); len(missing) > 0 {
		return nil, &Error{Code: CodeInsufficientScope, Slug: slug, Description: "required scopes not granted", MissingScopes: missing}
	}

	if r.dataTTL == 0 {
		return r.fetchData(ctx, e, owner, datapoint)
	}

	key := options.UserKey(owner, options.ModuleDataKey(slug, datapoint))
	var cached cachedData
	found, err := r.options.Get(ctx, key, &cached)
	if err != nil {
		r.logger.Warn("ignoring unreadable data cache entry",
			logging.Module(slug),
			slog.String("datapoint", datapoint),
			logging.Err(err))
	}
	if found && err == nil && r.now().Before(cached.Expires) {
		return cached.Data, nil
	}

	data, err := r.fetchData(ctx, e, owner, datapoint)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data %q: %w", slug, datapoint, err)
	}
	fresh := cachedData{Expires: r.now().Add(r.dataTTL), Data: raw}
	if err := r.options.Set(ctx, key, fresh); err != nil {
		r.logger.Warn("failed to cache module data",
			logging.Module(slug),
			slog.String("datapoint", datapoint),
			logging.Err(err))
	}
	return fresh.Data, nil
}

// cachedData is a module data response held in the options store.
type cachedData struct {
	Expires time.Time       `json:"expires"`
	Data    json.RawMessage `json:"data"`
}

func (r *Registry) fetchData(ctx context.Context, e *entry, owner, datapoint string) (_ any, err error) {
	slug := e.desc.Slug
	client, err := r.auth.HTTPClient(ctx, owner)
	if err != nil {
		return nil, err
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, slug, datapoint)
	defer func() { instrumentation.EndSpan(span, err) }()

	start := time.Now()
	data, err := e.module.Data(ctx, client, datapoint)
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		r.logger.Warn("module data request failed",
			logging.Module(slug),
			slog.String("datapoint", datapoint),
			logging.Err(err))
	}
	r.metrics.RecordGoogleAPIRequest(ctx, slug, datapoint, status, time.Since(start))
	return data, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

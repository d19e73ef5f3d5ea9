// Package registry manages plugin lifecycle: registration, dependency
// resolution, initialization, event wiring and shutdown of winstat plugins.
//
// Optional plugins that fail any lifecycle step are disabled together with
// everything that depends on them; the service keeps running without them.
// A failing required plugin aborts startup.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// State is the lifecycle position of a registered plugin.
type State string

const (
	StateRegistered  State = "registered"
	StateValidated   State = "validated"
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateStopped     State = "stopped"
	StateDisabled    State = "disabled"
)

var pluginState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "winstat",
	Subsystem: "registry",
	Name:      "plugin_state",
	Help:      "1 for the current lifecycle state of each plugin.",
}, []string{"plugin", "state"})

func init() {
	prometheus.MustRegister(pluginState)
}

// Status describes one plugin for operators.
type Status struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"` // why the plugin was disabled
}

type entry struct {
	plugin plugin.Plugin
	info   plugin.PluginInfo
	state  State
	reason error
}

func (e *entry) active() bool { return e.state != StateDisabled }

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // dependency order of active plugins, set by Validate
	unsubs  []func() // bus subscriptions made during InitAll
	logger  *zap.Logger
}

// New creates a new plugin registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Register adds a plugin. Must be called before Validate.
func (r *Registry) Register(p plugin.Plugin) error {
	info := p.Info()
	if info.Name == "" {
		return errors.New("plugin has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}
	e := &entry{plugin: p, info: info}
	r.entries[info.Name] = e
	r.setState(info.Name, e, StateRegistered)

	r.logger.Info("plugin registered",
		zap.String("name", info.Name),
		zap.String("version", info.Version),
		zap.Int("api_version", info.APIVersion),
	)
	return nil
}

// Validate checks API versions and dependencies and computes the start
// order. Plugins that depend on a missing or disabled plugin are disabled.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.namesLocked()
	for _, name := range names {
		if err := checkAPIVersion(name, r.entries[name].info.APIVersion); err != nil {
			if err := r.disable(name, err); err != nil {
				return err
			}
		}
	}

	// Propagate until stable so chains of dependents are all caught.
	for changed := true; changed; {
		changed = false
		for _, name := range names {
			e := r.entries[name]
			if !e.active() {
				continue
			}
			if err := r.unmetDependency(name, e); err != nil {
				if err := r.disable(name, err); err != nil {
					return err
				}
				changed = true
			}
		}
	}

	order, err := r.dependencyOrder()
	if err != nil {
		return err
	}
	r.order = order
	for _, name := range order {
		r.setState(name, r.entries[name], StateValidated)
	}

	r.logger.Info("plugin dependency resolution complete",
		zap.Strings("start_order", r.order),
		zap.Int("active", len(r.order)),
		zap.Int("disabled", len(r.entries)-len(r.order)),
	)
	return nil
}

// unmetDependency reports the first dependency of e that is missing or
// disabled. Callers hold r.mu.
func (r *Registry) unmetDependency(name string, e *entry) error {
	for _, dep := range e.info.Dependencies {
		d, ok := r.entries[dep]
		switch {
		case !ok:
			return fmt.Errorf("plugin %q depends on %q which is not registered", name, dep)
		case !d.active():
			return fmt.Errorf("plugin %q depends on %q which is disabled", name, dep)
		}
	}
	return nil
}

// disable marks an optional plugin disabled, or returns reason for a
// required one. Callers hold r.mu.
func (r *Registry) disable(name string, reason error) error {
	e := r.entries[name]
	if e.info.Required {
		return reason
	}
	r.logger.Warn("disabling plugin", zap.String("name", name), zap.Error(reason))
	e.reason = reason
	r.setState(name, e, StateDisabled)
	return nil
}

// setState moves e to s and updates the state gauge. Callers hold r.mu.
func (r *Registry) setState(name string, e *entry, s State) {
	if e.state != "" {
		pluginState.WithLabelValues(name, string(e.state)).Set(0)
	}
	e.state = s
	pluginState.WithLabelValues(name, string(s)).Set(1)
}

// InitAll initializes active plugins in dependency order, validates their
// configuration and subscribes their event handlers.
func (r *Registry) InitAll(ctx context.Context, depsFn func(name string) plugin.Dependencies) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		e := r.entries[name]
		if !e.active() {
			continue
		}

		r.logger.Info("initializing plugin", zap.String("name", name))
		deps := depsFn(name)
		if err := guard(name, "Init", func() error { return e.plugin.Init(ctx, deps) }); err != nil {
			if err := r.disable(name, fmt.Errorf("plugin %q failed to initialize: %w", name, err)); err != nil {
				return err
			}
			continue
		}

		if v, ok := e.plugin.(plugin.Validator); ok {
			if err := v.ValidateConfig(); err != nil {
				if err := r.disable(name, fmt.Errorf("plugin %q config validation failed: %w", name, err)); err != nil {
					return err
				}
				continue
			}
		}

		if es, ok := e.plugin.(plugin.EventSubscriber); ok && deps.Bus != nil {
			for _, sub := range es.Subscriptions() {
				r.unsubs = append(r.unsubs, deps.Bus.Subscribe(sub.Topic, sub.Handler))
				r.logger.Debug("plugin subscribed",
					zap.String("name", name),
					zap.String("topic", sub.Topic),
				)
			}
		}
		r.setState(name, e, StateInitialized)
	}
	return nil
}

// StartAll starts initialized plugins in dependency order.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		e := r.entries[name]
		if e.state != StateInitialized {
			continue
		}
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := guard(name, "Start", func() error { return e.plugin.Start(ctx) }); err != nil {
			if err := r.disable(name, fmt.Errorf("plugin %q failed to start: %w", name, err)); err != nil {
				return err
			}
			continue
		}
		r.setState(name, e, StateRunning)
	}
	return nil
}

// StopAll drops event subscriptions, then stops active plugins in reverse
// dependency order. Errors are logged; every plugin gets a Stop call.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	var stopping []*entry
	for _, name := range slices.Backward(r.order) {
		if e := r.entries[name]; e.active() {
			stopping = append(stopping, e)
		}
	}
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	// Plugins are stopped without the lock so Stop may still resolve peers.
	for _, e := range stopping {
		name := e.info.Name
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := guard(name, "Stop", func() error { return e.plugin.Stop(ctx) }); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
		r.mu.Lock()
		r.setState(name, e, StateStopped)
		r.mu.Unlock()
	}
}

// Get returns an active plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok || !e.active() {
		return nil, false
	}
	return e.plugin, true
}

// Resolve implements plugin.PluginResolver.
func (r *Registry) Resolve(name string) (plugin.Plugin, bool) {
	return r.Get(name)
}

// ResolveByRole returns active plugins declaring role, in dependency order.
func (r *Registry) ResolveByRole(role string) []plugin.Plugin {
	var out []plugin.Plugin
	r.eachActive(func(_ string, e *entry) {
		if slices.Contains(e.info.Roles, role) {
			out = append(out, e.plugin)
		}
	})
	return out
}

// All returns active plugins in dependency order.
func (r *Registry) All() []plugin.Plugin {
	var out []plugin.Plugin
	r.eachActive(func(_ string, e *entry) { out = append(out, e.plugin) })
	return out
}

// AllRoutes returns routes of active HTTPProvider plugins keyed by name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	routes := make(map[string][]plugin.Route)
	r.eachActive(func(name string, e *entry) {
		if hp, ok := e.plugin.(plugin.HTTPProvider); ok {
			if pr := hp.Routes(); len(pr) > 0 {
				routes[name] = pr
			}
		}
	})
	return routes
}

// HealthAll collects reports from active HealthChecker plugins.
func (r *Registry) HealthAll(ctx context.Context) map[string]plugin.HealthStatus {
	out := make(map[string]plugin.HealthStatus)
	r.eachActive(func(name string, e *entry) {
		if hc, ok := e.plugin.(plugin.HealthChecker); ok {
			out[name] = hc.Health(ctx)
		}
	})
	return out
}

// IsDisabled reports whether a plugin has been disabled.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && !e.active()
}

// Statuses returns the state of every registered plugin, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.entries))
	for _, name := range r.namesLocked() {
		e := r.entries[name]
		s := Status{Name: name, State: e.state}
		if e.reason != nil {
			s.Reason = e.reason.Error()
		}
		out = append(out, s)
	}
	return out
}

// eachActive calls fn for active plugins in dependency order under the
// read lock.
func (r *Registry) eachActive(fn func(name string, e *entry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if e := r.entries[name]; e.active() {
			fn(name, e)
		}
	}
}

// namesLocked returns registered names in lexical order so validation is
// deterministic. Callers hold r.mu.
func (r *Registry) namesLocked() []string {
	return slices.Sorted(maps.Keys(r.entries))
}

// guard runs a lifecycle call and converts a panic into an error.
func guard(name, phase string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %q panicked during %s: %v", name, phase, rec)
		}
	}()
	return fn()
}

// checkAPIVersion validates a plugin's API version against the supported range.
func checkAPIVersion(name string, apiVersion int) error {
	switch {
	case apiVersion < plugin.APIVersionMin:
		return fmt.Errorf("plugin %q targets Plugin API v%d, but v%d or newer is required (current: v%d)",
			name, apiVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
	case apiVersion > plugin.APIVersionCurrent:
		return fmt.Errorf("plugin %q targets Plugin API v%d, but only up to v%d is supported",
			name, apiVersion, plugin.APIVersionCurrent)
	}
	return nil
}

// dependencyOrder orders active plugins so every plugin follows its
// dependencies. Among plugins whose dependencies are all placed, the
// lexically smallest goes first. Callers hold r.mu.
func (r *Registry) dependencyOrder() ([]string, error) {
	pending := make(map[string][]string) // name -> unplaced dependencies
	for name, e := range r.entries {
		if e.active() {
			pending[name] = slices.Clone(e.info.Dependencies)
		}
	}

	order := make([]string, 0, len(pending))
	for len(pending) > 0 {
		var ready []string
		for name, deps := range pending {
			if len(deps) == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("dependency cycle detected among plugins: %v", slices.Sorted(maps.Keys(pending)))
		}

		next := slices.MinFunc(ready, cmp.Compare[string])
		order = append(order, next)
		delete(pending, next)
		for name, deps := range pending {
			pending[name] = slices.DeleteFunc(deps, func(d string) bool { return d == next })
		}
	}
	return order, nil
}

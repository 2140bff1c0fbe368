// Copyright (C) 2025 Xyngular, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package xcon resolves named configuration values across a priority chain
// of providers and a chain of namespace directories, with an in-process
// cache and an optional distributed cache in front of the providers.
package xcon

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/provider"
)

// Reserved lookup names. These resolve through a narrow path (overrides,
// one environment variable, defaults, a fixed fallback) and never reach
// the providers, because the providers need their values to run.
const (
	ReservedServiceName = "service_name"
	ReservedEnvironment = "app_env"
)

const (
	serviceEnvVar     = "SERVICE_NAME"
	environmentEnvVar = "APP_ENV"
	defaultService    = "global"

	overrideSource = "override"
	defaultSource  = "default"
	reservedSource = "reserved"
	argumentSource = "argument"
)

// setting is an explicitly-set marker around a value, so nil and "unset"
// stay distinguishable: a cacher set to nil means "no cacher", not
// "inherit one".
type setting[T any] struct {
	value T
	set   bool
}

func (s *setting[T]) setTo(v T) {
	s.value = v
	s.set = true
}

// Config is one node in the resolution hierarchy. Zero or more fields are
// set explicitly; everything unset is delegated to the parent chain and,
// past its end, to the Runtime defaults. A Config is safe for concurrent
// use.
type Config struct {
	mu   sync.RWMutex
	name string

	runtime *Runtime

	service     setting[string]
	environment setting[string]
	providerSet setting[[]provider.Provider]
	cacher      setting[provider.Cacher]
	directories setting[[]directory.Directory]
	exports     []string

	overrides map[string]*directory.Item
	defaults  map[string]*directory.Item

	useParent bool
	parent    *Config
	activated bool
}

// Option configures a new Config.
type Option func(*Config)

// WithName labels the config for logging.
func WithName(name string) Option {
	return func(c *Config) { c.name = name }
}

// WithService fixes the service name, bypassing the SERVICE_NAME lookup.
func WithService(service string) Option {
	return func(c *Config) { c.service.setTo(service) }
}

// WithEnvironment fixes the environment name, bypassing the APP_ENV lookup.
func WithEnvironment(env string) Option {
	return func(c *Config) { c.environment.setTo(env) }
}

// WithProviders fixes the provider chain in priority order.
func WithProviders(ps ...provider.Provider) Option {
	return func(c *Config) { c.providerSet.setTo(ps) }
}

// WithCacher fixes the distributed cacher.
func WithCacher(cacher provider.Cacher) Option {
	return func(c *Config) { c.cacher.setTo(cacher) }
}

// WithoutCacher disables the distributed cache for this config and its
// children.
func WithoutCacher() Option {
	return func(c *Config) { c.cacher.setTo(nil) }
}

// WithDirectories fixes the directory chain. Format directories (paths
// containing {service} or {environment}) are resolved per lookup.
func WithDirectories(dirs ...directory.Directory) Option {
	return func(c *Config) { c.directories.setTo(dirs) }
}

// WithExports appends the export directories of other services to the
// directory chain, lowest priority. Export entries accumulate across the
// parent chain rather than shadowing.
func WithExports(services ...string) Option {
	return func(c *Config) { c.exports = append(c.exports, services...) }
}

// WithoutParent isolates the config: nothing is inherited and the chain
// ends here.
func WithoutParent() Option {
	return func(c *Config) { c.useParent = false }
}

// WithRuntime replaces the shared runtime, giving the config its own
// caches and clients.
func WithRuntime(r *Runtime) Option {
	return func(c *Config) { c.runtime = r }
}

// New builds a config node. By default it delegates to the currently
// active config.
func New(opts ...Option) *Config {
	c := &Config{
		useParent: true,
		overrides: make(map[string]*directory.Item),
		defaults:  make(map[string]*directory.Item),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetOverride pins a value for name on this node. Overrides win over every
// provider, including the caches.
func (c *Config) SetOverride(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := directory.NewItem(directory.Directory{}, name, value, overrideSource)
	item.Cacheable = false
	c.overrides[item.Name] = item
}

// RemoveOverride drops the override for name on this node.
func (c *Config) RemoveOverride(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.overrides, strings.ToLower(name))
}

// SetDefault supplies a fallback used only when every provider misses.
func (c *Config) SetDefault(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := directory.NewItem(directory.Directory{}, name, value, defaultSource)
	item.Cacheable = false
	c.defaults[item.Name] = item
}

// RemoveDefault drops the default for name on this node.
func (c *Config) RemoveDefault(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.defaults, strings.ToLower(name))
}

// AddExport appends another service's export directory to the chain.
func (c *Config) AddExport(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exports = append(c.exports, service)
}

// Name returns the config's label, if any.
func (c *Config) Name() string { return c.name }

// chain returns this node followed by its ancestors, oldest last. The walk
// stops at the first node created with WithoutParent. A node that was
// never activated delegates to the currently active config.
func (c *Config) chain() []*Config {
	seen := make(map[*Config]bool)
	var out []*Config
	node := c
	for node != nil && !seen[node] {
		seen[node] = true
		out = append(out, node)
		if !node.useParent {
			break
		}
		node = node.parentNode()
	}
	return out
}

func (c *Config) parentNode() *Config {
	c.mu.RLock()
	parent := c.parent
	activated := c.activated
	c.mu.RUnlock()
	if parent != nil {
		return parent
	}
	if activated {
		return nil
	}
	if cur := Current(); cur != c {
		return cur
	}
	return nil
}

// ServiceName resolves the service this config belongs to: an explicit
// setting anywhere in the chain, then overrides, the SERVICE_NAME
// variable, defaults, and finally "global".
func (c *Config) ServiceName(ctx context.Context) string {
	chain := c.chain()
	for _, node := range chain {
		if node.service.set {
			return node.service.value
		}
	}
	return reservedValue(chain, ReservedServiceName, serviceEnvVar, defaultService)
}

// EnvironmentName resolves the deployment environment the same way, from
// APP_ENV, with no fallback.
func (c *Config) EnvironmentName(ctx context.Context) string {
	chain := c.chain()
	for _, node := range chain {
		if node.environment.set {
			return node.environment.value
		}
	}
	return reservedValue(chain, ReservedEnvironment, environmentEnvVar, "")
}

func reservedValue(chain []*Config, lower, envVar, fallback string) string {
	if item := findEntry(chain, lower, true); item != nil {
		return item.Value
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if item := findEntry(chain, lower, false); item != nil {
		return item.Value
	}
	return fallback
}

// findEntry searches overrides (or defaults) across the chain,
// closest node first.
func findEntry(chain []*Config, lower string, override bool) *directory.Item {
	for _, node := range chain {
		node.mu.RLock()
		m := node.defaults
		if override {
			m = node.overrides
		}
		item := m[lower]
		node.mu.RUnlock()
		if item != nil {
			return item
		}
	}
	return nil
}

func (c *Config) resolvedRuntime() *Runtime {
	for _, node := range c.chain() {
		if node.runtime != nil {
			return node.runtime
		}
	}
	return SharedRuntime()
}

func (c *Config) resolvedProviders(ctx context.Context, chain []*Config) []provider.Provider {
	for _, node := range chain {
		if node.providerSet.set {
			return node.providerSet.value
		}
	}
	return c.resolvedRuntime().Providers(ctx)
}

// resolvedCacher returns the effective cacher, which may be nil when
// disabled anywhere along the chain.
func (c *Config) resolvedCacher(ctx context.Context, chain []*Config) provider.Cacher {
	for _, node := range chain {
		if node.cacher.set {
			return node.cacher.value
		}
	}
	return c.resolvedRuntime().Cacher(ctx)
}

// resolvedDirectories builds the directory chain for a lookup: the first
// explicit chain in the hierarchy (or the standard one), with every
// exported service's directory appended lowest-priority. An explicit
// chain is used exactly as given; only the appended export entries are
// deduplicated against it.
func (c *Config) resolvedDirectories(chain []*Config, service, env string) directory.Chain {
	var dirs []directory.Directory
	explicit := false
	for _, node := range chain {
		if node.directories.set {
			for _, d := range node.directories.value {
				if d.IsZero() {
					continue
				}
				dirs = append(dirs, d.Resolve(service, env))
			}
			explicit = true
			break
		}
	}
	if !explicit {
		dirs = directory.Default(service, env).Directories()
	}

	seen := make(map[string]bool, len(dirs))
	for _, d := range dirs {
		seen[d.Path()] = true
	}
	for _, node := range chain {
		node.mu.RLock()
		exports := append([]string(nil), node.exports...)
		node.mu.RUnlock()
		for _, exported := range exports {
			d := directory.Export(exported, env)
			if seen[d.Path()] {
				continue
			}
			seen[d.Path()] = true
			dirs = append(dirs, d)
		}
	}
	return directory.NewChain(dirs...)
}

// lookupSettings collects per-call options.
type lookupSettings struct {
	def       *string
	skipCache bool
}

// LookupOption adjusts a single Get or Lookup call.
type LookupOption func(*lookupSettings)

// WithDefault supplies the value returned when the name resolves nowhere.
func WithDefault(value string) LookupOption {
	return func(s *lookupSettings) { s.def = &value }
}

// WithoutCache forces this call to ask the backends directly: the
// distributed cache is bypassed and the in-process provider cache is
// dropped before the lookup, so every consulted directory is refetched.
func WithoutCache() LookupOption {
	return func(s *lookupSettings) { s.skipCache = true }
}

// Get resolves name to a value. A name found nowhere yields the
// WithDefault value, or "". The error is non-nil only for provider
// failures that were not recoverable.
func (c *Config) Get(ctx context.Context, name string, opts ...LookupOption) (string, error) {
	item, err := c.Lookup(ctx, name, opts...)
	if err != nil || item == nil {
		return "", err
	}
	return item.Value, nil
}

// GetBool resolves name and interprets the value as a boolean. Unset and
// empty resolve to false; unrecognized values resolve to false as well.
func (c *Config) GetBool(ctx context.Context, name string, opts ...LookupOption) (bool, error) {
	value, err := c.Get(ctx, name, opts...)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	}
	return false, nil
}

// Lookup resolves name and returns the full item, including which
// directory and provider produced it. Returns nil when the name resolves
// nowhere and no default was given.
func (c *Config) Lookup(ctx context.Context, name string, opts ...LookupOption) (*directory.Item, error) {
	var settings lookupSettings
	for _, opt := range opts {
		opt(&settings)
	}

	lower := strings.ToLower(name)
	chain := c.chain()

	switch lower {
	case ReservedServiceName:
		return reservedItem(name, c.ServiceName(ctx)), nil
	case ReservedEnvironment:
		return reservedItem(name, c.EnvironmentName(ctx)), nil
	}

	if item := findEntry(chain, lower, true); item != nil {
		return item, nil
	}

	runtime := c.resolvedRuntime()
	if truthyEnv(EnvOnlyVar) {
		item, _ := runtime.Environmental().Lookup(ctx, directory.Directory{}, name)
		if item != nil {
			return item, nil
		}
	} else {
		service := c.ServiceName(ctx)
		env := c.EnvironmentName(ctx)

		provChain := provider.NewChain(c.resolvedProviders(ctx, chain)...)
		dirs := c.resolvedDirectories(chain, service, env)

		var cacher provider.Cacher
		partition := directory.Directory{}
		if settings.skipCache {
			// Stale bulk listings would otherwise keep answering; the
			// whole process cache goes so every backend is asked again.
			runtime.LocalCache().Reset()
		} else {
			cacher = c.resolvedCacher(ctx, chain)
			// Cache partitions are per service and environment; without
			// both there is no stable partition to key on.
			if cacher != nil && service != "" && service != defaultService && env != "" {
				partition = directory.New(service, env)
			}
		}

		item, err := provChain.Resolve(ctx, dirs, cacher, partition, name)
		if err != nil {
			return nil, err
		}
		if item != nil && !item.IsNonExistent() {
			return item, nil
		}
	}

	if item := findEntry(chain, lower, false); item != nil {
		return item, nil
	}
	if settings.def != nil {
		item := directory.NewItem(directory.Directory{}, name, *settings.def, argumentSource)
		item.Cacheable = false
		return item, nil
	}
	return nil, nil
}

func reservedItem(name, value string) *directory.Item {
	item := directory.NewItem(directory.Directory{}, name, value, reservedSource)
	item.Cacheable = false
	return item
}

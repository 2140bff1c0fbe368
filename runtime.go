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

package xcon

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/xyngular/xcon/internal/awsclient"
	"github.com/xyngular/xcon/internal/logctx"
	"github.com/xyngular/xcon/provider"
	"github.com/xyngular/xcon/providers"
)

const (
	// EnvOnlyVar, when set truthy, restricts every lookup to overrides,
	// the process environment, and defaults. No AWS calls are made.
	EnvOnlyVar = "XCON_ONLY_ENV"

	// DisableCacherVar, when set truthy, drops the default distributed
	// cache. Explicitly configured cachers are unaffected.
	DisableCacherVar = "XCON_DISABLE_DEFAULT_CACHER"
)

func truthyEnv(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}

// Runtime owns the process-wide lookup machinery shared by every Config in
// a hierarchy: the in-process cache, the AWS clients, and the default
// provider and cacher set. Tests construct their own Runtime; production
// code normally lets the root Config use the shared one.
type Runtime struct {
	mu         sync.Mutex
	localCache *provider.LocalCache
	env        *providers.Environmental

	manager      *awsclient.Manager
	providers    []provider.Provider
	providersSet bool
	cacher       provider.Cacher
	cacherSet    bool

	built bool
}

// RuntimeOption customizes a Runtime.
type RuntimeOption func(*Runtime)

// WithLocalCache replaces the in-process cache.
func WithLocalCache(cache *provider.LocalCache) RuntimeOption {
	return func(r *Runtime) { r.localCache = cache }
}

// WithAWSManager supplies a pre-built AWS client manager.
func WithAWSManager(mgr *awsclient.Manager) RuntimeOption {
	return func(r *Runtime) { r.manager = mgr }
}

// WithDefaultProviders fixes the provider set, replacing lazy AWS
// construction entirely.
func WithDefaultProviders(ps ...provider.Provider) RuntimeOption {
	return func(r *Runtime) {
		r.providers = ps
		r.providersSet = true
	}
}

// WithDefaultCacher fixes the distributed cacher. Passing nil disables it.
func WithDefaultCacher(c provider.Cacher) RuntimeOption {
	return func(r *Runtime) {
		r.cacher = c
		r.cacherSet = true
	}
}

// NewRuntime builds a runtime. AWS providers are not constructed until the
// first lookup that needs them.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{}
	for _, opt := range opts {
		opt(r)
	}
	if r.localCache == nil {
		r.localCache = provider.NewLocalCache()
	}
	r.env = providers.NewEnvironmental()
	return r
}

var (
	sharedRuntimeOnce sync.Once
	sharedRuntime     *Runtime
)

// SharedRuntime returns the process-wide runtime used by root configs that
// were not given one.
func SharedRuntime() *Runtime {
	sharedRuntimeOnce.Do(func() {
		sharedRuntime = NewRuntime()
	})
	return sharedRuntime
}

// LocalCache returns the runtime's in-process cache.
func (r *Runtime) LocalCache() *provider.LocalCache {
	return r.localCache
}

// Environmental returns the runtime's environment-snapshot provider.
func (r *Runtime) Environmental() *providers.Environmental {
	return r.env
}

// InvalidateCaches drops every in-process cached listing at once. The next
// lookup refetches from the providers and the distributed cache.
func (r *Runtime) InvalidateCaches() {
	r.localCache.Reset()
}

// Providers returns the default provider chain: the environment snapshot
// first, then SSM, Secrets Manager, and the DynamoDB config table. When
// AWS config cannot be loaded the chain degrades to environment-only, with
// a single warning for the process.
func (r *Runtime) Providers(ctx context.Context) []provider.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providersSet {
		return r.providers
	}
	r.build(ctx)
	return r.providers
}

// Cacher returns the default distributed cacher, or nil when disabled or
// unavailable.
func (r *Runtime) Cacher(ctx context.Context) provider.Cacher {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cacherSet {
		return r.cacher
	}
	if truthyEnv(DisableCacherVar) {
		return nil
	}
	r.build(ctx)
	return r.cacher
}

// build constructs the AWS-backed defaults once. Callers hold r.mu.
func (r *Runtime) build(ctx context.Context) {
	if r.built {
		return
	}
	r.built = true

	if truthyEnv(EnvOnlyVar) {
		r.providers = []provider.Provider{r.env}
		return
	}

	mgr := r.manager
	if mgr == nil {
		var err error
		mgr, err = awsclient.NewManager(ctx)
		if err != nil {
			r.providers = []provider.Provider{r.env}
			logctx.FromContext(ctx).Warn("AWS config unavailable; resolving from the environment only",
				"error", err.Error())
			return
		}
		r.manager = mgr
	}

	r.providers = []provider.Provider{
		r.env,
		providers.NewSSMParamStore(mgr.SSM(), r.localCache),
		providers.NewSecretsManager(mgr.SecretsManager(), r.localCache),
		providers.NewDynamo(mgr.DynamoDB(), r.localCache),
	}
	if !r.cacherSet {
		store := providers.NewDynamoCacheStore(mgr.DynamoDB())
		r.cacher = providers.NewDynamoCacher(store, r.localCache)
	}
}

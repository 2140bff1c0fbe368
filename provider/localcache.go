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

package provider

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultLocalExpiration is how long bulk-fetched provider results live in
// process memory before every provider re-synchronizes with its backend.
const DefaultLocalExpiration = 15 * time.Minute

// localExpirationEnvVar overrides DefaultLocalExpiration with a number of
// minutes.
const localExpirationEnvVar = "XCON_INTERNAL_CACHE_EXPIRATION_MINUTES"

type localKey struct {
	provider string
	key      string
}

// LocalCache is the process-wide store of bulk-retrieved provider results.
// All providers share one expiration clock: the first insertion after a
// reset arms a deadline, and when it passes the whole cache is invalidated
// in one operation. Expiring everything simultaneously keeps the providers
// from drifting apart: a deletion observed by the distributed cache must
// not be masked by a stale per-provider snapshot that expires later.
//
// Entries are whole per-directory listings stored in a single swap, so
// concurrent re-population after a reset is benign: readers see either the
// old complete listing or the new complete listing, never a partial fill.
type LocalCache struct {
	mu       sync.Mutex
	entries  *ttlcache.Cache[localKey, any]
	deadline time.Time
	interval time.Duration
	now      func() time.Time
}

// LocalCacheOption configures a LocalCache.
type LocalCacheOption func(*LocalCache)

// WithLocalExpiration overrides the shared expiration interval.
func WithLocalExpiration(d time.Duration) LocalCacheOption {
	return func(c *LocalCache) {
		c.interval = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) LocalCacheOption {
	return func(c *LocalCache) {
		c.now = now
	}
}

// NewLocalCache builds the shared provider cache. The expiration interval
// defaults to DefaultLocalExpiration and may be overridden by the
// XCON_INTERNAL_CACHE_EXPIRATION_MINUTES environment variable or by option.
func NewLocalCache(opts ...LocalCacheOption) *LocalCache {
	c := &LocalCache{
		entries: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[localKey, any](),
		),
		interval: DefaultLocalExpiration,
		now:      time.Now,
	}
	if raw := os.Getenv(localExpirationEnvVar); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			c.interval = time.Duration(minutes) * time.Minute
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value a provider previously stored under key, or ok=false
// when absent or the shared clock has expired.
func (c *LocalCache) Get(providerName, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireIfNeeded()
	item := c.entries.Get(localKey{provider: providerName, key: key})
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Set stores a value for a provider. The first insertion after a reset arms
// the shared deadline; every entry expires with it.
func (c *LocalCache) Set(providerName, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireIfNeeded()
	now := c.now()
	if c.deadline.IsZero() {
		c.deadline = now.Add(c.interval)
	}
	ttl := c.deadline.Sub(now)
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	c.entries.Set(localKey{provider: providerName, key: key}, value, ttl)
}

// Reset invalidates the entire cache immediately. Used by ignore-cache
// lookups to force a full refetch.
func (c *LocalCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Len reports the number of live entries.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireIfNeeded()
	return c.entries.Len()
}

func (c *LocalCache) expireIfNeeded() {
	if !c.deadline.IsZero() && c.now().After(c.deadline) {
		c.reset()
	}
}

func (c *LocalCache) reset() {
	c.entries.DeleteAll()
	c.deadline = time.Time{}
}

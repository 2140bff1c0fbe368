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

// Package provider defines the value-source capability consumed by the
// resolver, the prioritized provider chain that drives a lookup, and the
// process-wide local memory cache shared by all provider instances.
package provider

import (
	"context"

	"github.com/xyngular/xcon/directory"
)

// Provider is a pluggable source of configuration values. Implementations
// bulk-fetch a whole directory on first access and serve later lookups for
// that directory from the shared LocalCache.
//
// Providers are process-wide singletons shared by reference across resolver
// nodes and goroutines; implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider; it becomes part of item provenance and
	// of the distributed cache sort key.
	Name() string

	// Cacheable reports whether values from this provider may be written
	// to the distributed cache. False only for environment-sourced values.
	Cacheable() bool

	// NeedsDirectory reports whether Lookup requires a concrete directory.
	// The environment provider has no directory notion and returns false.
	NeedsDirectory() bool

	// Lookup returns the item for name at dir, or nil when the provider
	// does not know the name. Recoverable backend failures (missing
	// permissions, absent tables) are handled internally: logged once and
	// the (provider, directory) pair skipped for the process lifetime.
	// Any other error is returned and propagates to the caller.
	Lookup(ctx context.Context, dir directory.Directory, name string) (*directory.Item, error)

	// Retrieved returns the items already bulk-fetched for dir, or ok=false
	// when the provider has not fetched that directory yet. The distinction
	// matters: an empty fetch and no fetch must not be conflated, since the
	// cacher only persists directories every higher-priority provider has
	// actually retrieved.
	Retrieved(dir directory.Directory) (map[string]*directory.Item, bool)
}

// Fingerprint identifies one resolution configuration for distributed cache
// keys: the partition a service writes to plus the directory and provider
// chains that were searched.
type Fingerprint struct {
	// Partition is the service+environment directory used as the cache
	// partition key, e.g. "/myService/prod".
	Partition directory.Directory

	// Directories is the directory chain fingerprint (paths joined by "|").
	Directories string

	// Providers is the provider chain fingerprint (names joined by "|").
	Providers string
}

// Cacher is the distributed cache consulted ahead of the cacheable
// providers. Cache backend failures are recovered internally (logged once,
// cache treated as absent), so its methods never block resolution.
type Cacher interface {
	// Name identifies the cacher in logs and provenance.
	Name() string

	// CachedLookup returns the cached item for name under fp, or nil on a
	// miss. Entries past their jittered logical expiry read as misses.
	CachedLookup(ctx context.Context, fp Fingerprint, name string) *directory.Item

	// CacheItems writes freshly resolved items under fp with a new TTL.
	CacheItems(ctx context.Context, fp Fingerprint, items []*directory.Item)
}

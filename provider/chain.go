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
	"context"
	"strings"

	"github.com/xyngular/xcon/directory"

	"github.com/xyngular/xcon/internal/logctx"
)

// Chain is a prioritized sequence of providers. Resolution runs the
// directory chain as the outer loop and the providers as the inner loop:
// for each directory, every provider is tried before the next directory is
// considered, and the first hit wins.
type Chain struct {
	providers   []Provider
	fingerprint string

	// headLen counts the leading non-cacheable providers, consulted before
	// the distributed cache and outside the directory loop.
	headLen int

	haveCacheable bool
}

// NewChain builds a chain from providers, preserving order.
func NewChain(providers ...Provider) Chain {
	c := Chain{providers: append([]Provider(nil), providers...)}
	names := make([]string, 0, len(providers))
	headDone := false
	for _, p := range c.providers {
		if !headDone {
			if !p.Cacheable() {
				c.headLen++
				continue
			}
			headDone = true
		}
		names = append(names, p.Name())
	}
	c.haveCacheable = headDone
	c.fingerprint = strings.Join(names, "|")
	return c
}

// Providers returns the chain's providers in priority order. The returned
// slice must not be modified.
func (c Chain) Providers() []Provider { return c.providers }

// Fingerprint is the concatenation of provider names, used as part of the
// distributed cache sort key. Leading non-cacheable providers (normally just
// the environment provider) are excluded: a hit there never reaches the
// cache, so they cannot influence cached results. A non-cacheable provider
// sitting after a cacheable one CAN influence results and is included.
func (c Chain) Fingerprint() string { return c.fingerprint }

// HaveCacheable reports whether any provider in the chain may have its
// results written to the distributed cache.
func (c Chain) HaveCacheable() bool { return c.haveCacheable }

// Len returns the number of providers in the chain.
func (c Chain) Len() int { return len(c.providers) }

// Resolve looks up name across dirs using this chain, consulting cacher
// (when non-nil and a partition is known) between the leading non-cacheable
// providers and the rest. On a fresh hit, every cacheable item bulk-fetched
// along the way is handed to the cacher in one batch. A name found nowhere
// yields a non-existence item, which is cached too so later lookups skip
// the providers entirely.
//
// Provider errors that were not recoverable propagate unchanged.
func (c Chain) Resolve(
	ctx context.Context,
	dirs directory.Chain,
	cacher Cacher,
	partition directory.Directory,
	name string,
) (*directory.Item, error) {
	// Leading non-cacheable providers bypass both caches and the directory
	// chain: the environment provider answers from its process snapshot.
	for _, p := range c.providers[:c.headLen] {
		item, err := p.Lookup(ctx, directory.Directory{}, name)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}

	useCacher := cacher != nil && !partition.IsZero() && c.haveCacheable
	fp := Fingerprint{
		Partition:   partition,
		Directories: dirs.Fingerprint(),
		Providers:   c.fingerprint,
	}

	if useCacher {
		if item := cacher.CachedLookup(ctx, fp, name); item != nil {
			return item, nil
		}
	}

	// Everything bulk-fetched while searching gets cached in one batch, so
	// a cold start writes a directory's worth of values per round trip
	// instead of one entry per lookup.
	collected := make(map[string]*directory.Item)
	var found *directory.Item

	for _, dir := range dirs.Directories() {
		for _, p := range c.providers[c.headLen:] {
			lookupDir := dir
			if !p.NeedsDirectory() {
				lookupDir = directory.Directory{}
			}
			item, err := p.Lookup(ctx, lookupDir, name)
			if err != nil {
				return nil, err
			}
			if item != nil {
				found = item
				break
			}
		}

		if useCacher {
			// Earlier directories take priority; keep what we already
			// collected over entries from lower-priority directories.
			for itemName, item := range c.retrievedForDir(dir) {
				if _, exists := collected[itemName]; !exists {
					collected[itemName] = item
				}
			}
		}

		if found != nil {
			break
		}
	}

	if found == nil {
		found = directory.NewNonExistent(name)
	}

	if useCacher && found.Cacheable {
		collected[found.Name] = found
		batch := make([]*directory.Item, 0, len(collected))
		for _, item := range collected {
			batch = append(batch, item)
		}
		cacher.CacheItems(ctx, fp, batch)
		logctx.FromContext(ctx).Debug("cached resolved items",
			"name", name, "partition", partition.Path(), "count", len(batch))
	}

	return found, nil
}

// retrievedForDir merges the already-fetched items of every provider for
// dir, higher-priority providers winning. The merge stops at the first
// provider that has not fetched dir yet: providers are shared between
// chains, and caching values a higher-priority provider never confirmed
// could persist the wrong answer.
func (c Chain) retrievedForDir(dir directory.Directory) map[string]*directory.Item {
	merged := make(map[string]*directory.Item)
	for _, p := range c.providers[c.headLen:] {
		items, ok := p.Retrieved(dir)
		if !ok {
			break
		}
		for name, item := range items {
			if _, exists := merged[name]; !exists {
				merged[name] = item
			}
		}
	}
	return merged
}

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

package providers

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/xyngular/xcon/directory"
	"github.com/xyngular/xcon/internal/logctx"
	"github.com/xyngular/xcon/provider"
)

const (
	cacherName = "cacher"

	// DefaultCacheTTL is how long a freshly written cache row lives.
	DefaultCacheTTL = 12 * time.Hour

	// Adopted cohort expirations are clamped to this window so a
	// corrupted row cannot pin the cache forever.
	minAdoptedTTL = time.Minute
	maxAdoptedTTL = 48 * time.Hour

	cacherRecordsPrefix = "records:"
	cacherListingPrefix = "listing:"
)

// CacheRecord is one row of the distributed cache store.
type CacheRecord struct {
	// PartitionKey groups every row for one service/environment pair.
	PartitionKey string
	// SortKey is name + directory fingerprint + provider fingerprint.
	SortKey string

	Name                 string
	OriginalName         string
	Directory            string
	DirectoryFingerprint string
	ProviderFingerprint  string

	// Value is nil for a cached non-existence entry.
	Value  *string
	Source string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// CacheStore is the backing store for the distributed cache. Fetch returns
// every row under one partition key; Write upserts rows.
type CacheStore interface {
	Fetch(ctx context.Context, partitionKey string) ([]CacheRecord, error)
	Write(ctx context.Context, records []CacheRecord) error
}

// DynamoCacher is the distributed cache layer. Reads pull the whole
// partition once per local-cache window; each row is then accepted or
// rejected with a jittered TTL so concurrent processes refresh at
// different moments instead of stampeding the providers together.
type DynamoCacher struct {
	store  CacheStore
	cache  *provider.LocalCache
	ttl    time.Duration
	jitter func() float64
	now    func() time.Time
	errs   errorTracker
}

// CacherOption customizes a DynamoCacher.
type CacherOption func(*DynamoCacher)

// WithCacheTTL overrides the write TTL for new rows.
func WithCacheTTL(ttl time.Duration) CacherOption {
	return func(c *DynamoCacher) { c.ttl = ttl }
}

// WithJitterSource replaces the uniform [0,1) source used for the
// freshness draw.
func WithJitterSource(fn func() float64) CacherOption {
	return func(c *DynamoCacher) { c.jitter = fn }
}

// WithCacheClock replaces the wall clock.
func WithCacheClock(now func() time.Time) CacherOption {
	return func(c *DynamoCacher) { c.now = now }
}

// NewDynamoCacher returns a cacher over the given store, sharing the
// resolver's local cache.
func NewDynamoCacher(store CacheStore, cache *provider.LocalCache, opts ...CacherOption) *DynamoCacher {
	c := &DynamoCacher{
		store:  store,
		cache:  cache,
		ttl:    DefaultCacheTTL,
		jitter: rand.Float64,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *DynamoCacher) Name() string { return cacherName }

// CachedLookup returns the cached item for a name under the given
// fingerprint, or nil on a miss. Store failures degrade to a miss.
func (c *DynamoCacher) CachedLookup(ctx context.Context, fp provider.Fingerprint, name string) *directory.Item {
	if fp.Partition.IsZero() {
		return nil
	}
	listing := c.listing(ctx, fp)
	if listing == nil {
		return nil
	}
	return listing.Get(name)
}

// CacheItems writes the resolved items under the fingerprint, skipping
// rows whose cached value already matches.
func (c *DynamoCacher) CacheItems(ctx context.Context, fp provider.Fingerprint, items []*directory.Item) {
	if fp.Partition.IsZero() || len(items) == 0 {
		return
	}
	listing := c.listing(ctx, fp)
	if listing == nil {
		listing = directory.NewListing(fp.Partition)
		c.cache.Set(cacherName, cacherListingPrefix+c.listingKey(fp), listing)
	}
	changed := listing.ChangedValues(items)
	if len(changed) == 0 {
		return
	}
	if c.errs.hasError(fp.Partition.Path()) {
		return
	}

	now := c.now().UTC()
	expiry := c.cohortExpiry(ctx, fp.Partition, now)
	records := make([]CacheRecord, 0, len(changed))
	for _, item := range changed {
		rec := CacheRecord{
			PartitionKey:         fp.Partition.Path(),
			SortKey:              item.CacheSortKey(fp.Directories, fp.Providers),
			Name:                 item.Name,
			OriginalName:         item.OriginalName,
			Directory:            item.Directory.Path(),
			DirectoryFingerprint: fp.Directories,
			ProviderFingerprint:  fp.Providers,
			Source:               item.Source,
			CreatedAt:            now,
			ExpiresAt:            expiry,
		}
		if !item.IsNonExistent() {
			value := item.Value
			rec.Value = &value
		}
		records = append(records, rec)
		listing.Add(item)
	}
	if err := c.store.Write(ctx, records); err != nil {
		if !recoverAWSError(ctx, err, cacherName, &c.errs, fp.Partition) {
			logctx.FromContext(ctx).Warn("distributed cache write failed",
				"partition", fp.Partition.Path(), "error", err.Error())
		}
		return
	}
	logctx.FromContext(ctx).Debug("cached resolved values",
		"partition", fp.Partition.Path(), "count", len(records))
}

func (c *DynamoCacher) listingKey(fp provider.Fingerprint) string {
	return strings.Join([]string{fp.Partition.Path(), fp.Directories, fp.Providers}, "|+|")
}

// listing builds the accepted-item view for one fingerprint from the
// partition rows, applying the freshness draw per row.
func (c *DynamoCacher) listing(ctx context.Context, fp provider.Fingerprint) *directory.Listing {
	key := cacherListingPrefix + c.listingKey(fp)
	if cached, ok := c.cache.Get(cacherName, key); ok {
		listing, _ := cached.(*directory.Listing)
		return listing
	}

	records := c.partitionRecords(ctx, fp.Partition)
	listing := directory.NewListing(fp.Partition)
	now := c.now().UTC()
	for _, rec := range records {
		if rec.DirectoryFingerprint != fp.Directories || rec.ProviderFingerprint != fp.Providers {
			continue
		}
		if !c.fresh(rec, now) {
			continue
		}
		listing.Add(c.recordItem(rec))
	}
	c.cache.Set(cacherName, key, listing)
	return listing
}

// fresh applies the jittered TTL: a row is treated as present only when a
// uniform draw does not exceed the fraction of its lifetime remaining. A
// row near expiry is therefore refreshed early by some readers while
// others keep serving it.
func (c *DynamoCacher) fresh(rec CacheRecord, now time.Time) bool {
	total := rec.ExpiresAt.Sub(rec.CreatedAt)
	remaining := rec.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return false
	}
	if total <= 0 || remaining >= total {
		return true
	}
	return c.jitter() <= float64(remaining)/float64(total)
}

func (c *DynamoCacher) recordItem(rec CacheRecord) *directory.Item {
	item := &directory.Item{
		Name:         strings.ToLower(rec.Name),
		OriginalName: rec.OriginalName,
		Source:       rec.Source + " - via cacher",
		Cacheable:    true,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
		FromCacher:   true,
	}
	if item.OriginalName == "" {
		item.OriginalName = rec.Name
	}
	if rec.Value == nil || rec.Directory == directory.NonExistentPath {
		item.Directory = directory.NonExistent()
		return item
	}
	item.Directory = directory.MustPath(rec.Directory)
	item.Value = *rec.Value
	return item
}

// partitionRecords fetches every row under the partition, once per
// local-cache window. Store failures are absorbed into the skip-set.
func (c *DynamoCacher) partitionRecords(ctx context.Context, partition directory.Directory) []CacheRecord {
	key := cacherRecordsPrefix + partition.Path()
	if cached, ok := c.cache.Get(cacherName, key); ok {
		records, _ := cached.([]CacheRecord)
		return records
	}
	if c.errs.hasError(partition.Path()) {
		return nil
	}
	records, err := c.store.Fetch(ctx, partition.Path())
	if err != nil {
		if !recoverAWSError(ctx, err, cacherName, &c.errs, partition) {
			c.errs.mark(partition.Path())
			logctx.FromContext(ctx).Warn("distributed cache read failed; continuing without it",
				"partition", partition.Path(), "error", err.Error())
		}
		records = nil
	}
	c.cache.Set(cacherName, key, records)
	return records
}

// cohortExpiry picks the expiration for new rows. When the partition
// already has live rows their expiry is adopted, within bounds, so the
// whole partition turns over together.
func (c *DynamoCacher) cohortExpiry(ctx context.Context, partition directory.Directory, now time.Time) time.Time {
	fallback := now.Add(c.ttl)
	for _, rec := range c.partitionRecords(ctx, partition) {
		if rec.ExpiresAt.Before(now.Add(minAdoptedTTL)) {
			continue
		}
		if rec.ExpiresAt.After(now.Add(maxAdoptedTTL)) {
			continue
		}
		return rec.ExpiresAt
	}
	return fallback
}

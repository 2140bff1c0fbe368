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

package directory

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Item is a single name/value pair scoped to a directory. Names are stored
// lower-cased; the case originally used is kept in OriginalName. Items from
// the environment provider are marked non-cacheable so they never land in
// the distributed cache.
type Item struct {
	// Directory the value was found in. The NonExistent sentinel directory
	// marks a confirmed-absent value.
	Directory Directory

	// Name is the lower-cased lookup name.
	Name string

	// OriginalName preserves the caller's casing, needed by backends whose
	// key space is case-sensitive.
	OriginalName string

	// Value of the configuration entry. Empty for non-existence entries.
	Value string

	// Source names where the value came from: a provider name, "override",
	// "default", or a cacher-decorated provenance string.
	Source string

	// Cacheable is false only for environment-sourced values.
	Cacheable bool

	// CreatedAt is when the item was produced or, for cached items, when
	// the cache entry was written.
	CreatedAt time.Time

	// ExpiresAt is the cache expiration instant; zero means no TTL.
	ExpiresAt time.Time

	// FromCacher is true when the item was read back from the distributed
	// cache rather than an original source.
	FromCacher bool
}

// NewItem builds a cacheable item, lower-casing the name and stamping the
// creation time.
func NewItem(dir Directory, name, value, source string) *Item {
	return &Item{
		Directory:    dir,
		Name:         strings.ToLower(name),
		OriginalName: name,
		Value:        value,
		Source:       source,
		Cacheable:    true,
		CreatedAt:    time.Now().UTC(),
	}
}

// NewNonExistent builds the negative entry recorded when a name was found
// in no provider at any directory.
func NewNonExistent(name string) *Item {
	item := NewItem(NonExistent(), name, "", NonExistentPath)
	return item
}

// IsNonExistent reports whether this item records a confirmed-absent value.
func (i *Item) IsNonExistent() bool {
	return i.Directory.IsNonExistent()
}

// CacheSortKey builds the distributed-cache sort key for this item: the
// name combined with the directory-chain and provider-chain fingerprints
// that were in effect when the value was resolved.
func (i *Item) CacheSortKey(directoryFingerprint, providerFingerprint string) string {
	return fmt.Sprintf("%s|+|%s|+|%s", i.Name, directoryFingerprint, providerFingerprint)
}

// String renders the item without its value, appropriate for logging.
func (i *Item) String() string {
	return fmt.Sprintf("Item(name=%q, directory=%q, source=%q)", i.Name, i.Directory.Path(), i.Source)
}

// Listing is a mutable, concurrency-safe collection of the items known for
// one directory, keyed by lower-cased name.
type Listing struct {
	mu        sync.RWMutex
	directory Directory
	items     map[string]*Item
}

// NewListing builds a listing for a directory, seeded with items.
func NewListing(dir Directory, items ...*Item) *Listing {
	l := &Listing{
		directory: dir,
		items:     make(map[string]*Item, len(items)),
	}
	for _, item := range items {
		l.items[item.Name] = item
	}
	return l
}

// Directory returns the directory this listing describes.
func (l *Listing) Directory() Directory { return l.directory }

// Add inserts or replaces the item under its name.
func (l *Listing) Add(item *Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[item.Name] = item
}

// Remove deletes the item for name, if any. Case-insensitive.
func (l *Listing) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.items, strings.ToLower(name))
}

// Get returns the item for name, or nil. Case-insensitive.
func (l *Listing) Get(name string) *Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.items[strings.ToLower(name)]
}

// Len returns the number of items held.
func (l *Listing) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Items returns a snapshot of the listing's items.
func (l *Listing) Items() map[string]*Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*Item, len(l.items))
	for name, item := range l.items {
		out[name] = item
	}
	return out
}

// ChangedValues returns the subset of items that are either absent from the
// listing or carry a different value than stored. Used by the cacher to
// avoid rewriting unchanged entries.
func (l *Listing) ChangedValues(items []*Item) []*Item {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var changed []*Item
	for _, item := range items {
		existing := l.items[item.Name]
		if existing == nil || existing.Value != item.Value {
			changed = append(changed, item)
		}
	}
	return changed
}

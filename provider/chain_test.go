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
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyngular/xcon/directory"
)

// fakeProvider serves canned items keyed by directory path and records the
// order of lookups it receives.
type fakeProvider struct {
	name      string
	cacheable bool
	needsDir  bool
	items     map[string]map[string]*directory.Item
	err       error

	mu    sync.Mutex
	calls []string
}

func newFakeProvider(name string, cacheable bool) *fakeProvider {
	return &fakeProvider{
		name:      name,
		cacheable: cacheable,
		needsDir:  true,
		items:     make(map[string]map[string]*directory.Item),
	}
}

func (f *fakeProvider) add(dir directory.Directory, name, value string) {
	byName := f.items[dir.Path()]
	if byName == nil {
		byName = make(map[string]*directory.Item)
		f.items[dir.Path()] = byName
	}
	item := directory.NewItem(dir, name, value, f.name)
	item.Cacheable = f.cacheable
	byName[item.Name] = item
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) Cacheable() bool      { return f.cacheable }
func (f *fakeProvider) NeedsDirectory() bool { return f.needsDir }

func (f *fakeProvider) Lookup(_ context.Context, dir directory.Directory, name string) (*directory.Item, error) {
	f.mu.Lock()
	f.calls = append(f.calls, f.name+":"+dir.Path())
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.items[dir.Path()][strings.ToLower(name)], nil
}

func (f *fakeProvider) Retrieved(dir directory.Directory) (map[string]*directory.Item, bool) {
	f.mu.Lock()
	touched := false
	for _, call := range f.calls {
		if call == f.name+":"+dir.Path() {
			touched = true
			break
		}
	}
	f.mu.Unlock()
	if !touched {
		return nil, false
	}
	out := make(map[string]*directory.Item)
	for name, item := range f.items[dir.Path()] {
		out[name] = item
	}
	return out, true
}

// fakeCacher records lookups and batches handed to it.
type fakeCacher struct {
	mu      sync.Mutex
	items   map[string]*directory.Item
	lookups int
	batches [][]*directory.Item
}

func newFakeCacher() *fakeCacher {
	return &fakeCacher{items: make(map[string]*directory.Item)}
}

func (f *fakeCacher) Name() string { return "fake-cacher" }

func (f *fakeCacher) CachedLookup(_ context.Context, _ Fingerprint, name string) *directory.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.items[strings.ToLower(name)]
}

func (f *fakeCacher) CacheItems(_ context.Context, _ Fingerprint, items []*directory.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, items)
	for _, item := range items {
		f.items[item.Name] = item
	}
}

func testDirs() directory.Chain {
	return directory.Default("myService", "prod")
}

func TestChainResolveOrder(t *testing.T) {
	ctx := context.Background()
	p1 := newFakeProvider("first", true)
	p2 := newFakeProvider("second", true)
	chain := NewChain(p1, p2)

	// Value lives in the lowest-priority directory of the second provider;
	// every (directory, provider) pair before it must be consulted, with
	// the directory loop on the outside.
	p2.add(directory.New("global", ""), "answer", "42")

	item, err := chain.Resolve(ctx, testDirs(), nil, directory.Directory{}, "ANSWER")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "42", item.Value)

	assert.Equal(t, []string{
		"first:/myService/prod",
		"first:/myService",
		"first:/global/prod",
		"first:/global",
	}, p1.calls)
	assert.Equal(t, []string{
		"second:/myService/prod",
		"second:/myService",
		"second:/global/prod",
		"second:/global",
	}, p2.calls)
}

func TestChainResolveFirstHitWins(t *testing.T) {
	ctx := context.Background()
	p1 := newFakeProvider("first", true)
	p2 := newFakeProvider("second", true)

	// A later directory in the higher-priority provider must lose to an
	// earlier directory in the lower-priority provider.
	p1.add(directory.New("global", ""), "key", "low-priority-dir")
	p2.add(directory.New("myService", "prod"), "key", "high-priority-dir")

	chain := NewChain(p1, p2)
	item, err := chain.Resolve(ctx, testDirs(), nil, directory.Directory{}, "key")
	require.NoError(t, err)
	assert.Equal(t, "high-priority-dir", item.Value)

	// The search never reached the later directories.
	assert.Equal(t, []string{"first:/myService/prod"}, p1.calls)
	assert.Equal(t, []string{"second:/myService/prod"}, p2.calls)
}

func TestChainHeadProvidersBypassCache(t *testing.T) {
	ctx := context.Background()
	env := newFakeProvider("env", false)
	env.needsDir = false
	env.add(directory.Directory{}, "home", "/root")
	backend := newFakeProvider("ssm", true)

	cacher := newFakeCacher()
	chain := NewChain(env, backend)

	item, err := chain.Resolve(ctx, testDirs(), cacher, directory.New("myService", "prod"), "HOME")
	require.NoError(t, err)
	assert.Equal(t, "/root", item.Value)
	assert.Zero(t, cacher.lookups, "environment hits must not consult the distributed cache")
	assert.Empty(t, backend.calls)
}

func TestChainFingerprintExcludesHead(t *testing.T) {
	env := newFakeProvider("env", false)
	ssm := newFakeProvider("ssm", true)
	dynamo := newFakeProvider("dynamo", true)

	assert.Equal(t, "ssm|dynamo", NewChain(env, ssm, dynamo).Fingerprint())
	assert.Equal(t, "ssm|dynamo", NewChain(ssm, dynamo).Fingerprint())

	// A non-cacheable provider after a cacheable one still shapes results.
	late := newFakeProvider("late", false)
	assert.Equal(t, "ssm|late", NewChain(ssm, late).Fingerprint())
}

func TestChainCacherHitShortCircuits(t *testing.T) {
	ctx := context.Background()
	backend := newFakeProvider("ssm", true)
	cacher := newFakeCacher()
	cached := directory.NewItem(directory.New("myService", "prod"), "key", "from-cache", "ssm")
	cached.FromCacher = true
	cacher.items["key"] = cached

	chain := NewChain(backend)
	item, err := chain.Resolve(ctx, testDirs(), cacher, directory.New("myService", "prod"), "key")
	require.NoError(t, err)
	assert.Equal(t, "from-cache", item.Value)
	assert.True(t, item.FromCacher)
	assert.Empty(t, backend.calls)
}

func TestChainMissYieldsNonExistent(t *testing.T) {
	ctx := context.Background()
	backend := newFakeProvider("ssm", true)
	cacher := newFakeCacher()

	chain := NewChain(backend)
	item, err := chain.Resolve(ctx, testDirs(), cacher, directory.New("myService", "prod"), "absent")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.True(t, item.IsNonExistent())

	// The miss itself was handed to the cacher, so the next process skips
	// the full search.
	require.Len(t, cacher.batches, 1)
	found := false
	for _, cached := range cacher.batches[0] {
		if cached.Name == "absent" && cached.IsNonExistent() {
			found = true
		}
	}
	assert.True(t, found)
}

func TestChainBulkCachesRetrievedItems(t *testing.T) {
	ctx := context.Background()
	backend := newFakeProvider("ssm", true)
	dir := directory.New("myService", "prod")
	backend.add(dir, "wanted", "1")
	backend.add(dir, "neighbor", "2")

	cacher := newFakeCacher()
	chain := NewChain(backend)

	_, err := chain.Resolve(ctx, testDirs(), cacher, dir, "wanted")
	require.NoError(t, err)

	require.Len(t, cacher.batches, 1)
	var names []string
	for _, item := range cacher.batches[0] {
		names = append(names, item.Name)
	}
	assert.ElementsMatch(t, []string{"wanted", "neighbor"}, names,
		"everything fetched alongside the hit should be cached in the same batch")
}

func TestChainNonCacheableHitNotWritten(t *testing.T) {
	ctx := context.Background()
	backend := newFakeProvider("ssm", true)
	env := newFakeProvider("env", false)
	env.needsDir = false
	env.add(directory.Directory{}, "secret_token", "from-env")

	cacher := newFakeCacher()
	chain := NewChain(backend, env)

	item, err := chain.Resolve(ctx, testDirs(), cacher, directory.New("myService", "prod"), "SECRET_TOKEN")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "from-env", item.Value)
	assert.False(t, item.Cacheable)
	assert.Empty(t, cacher.batches, "environment values must never reach the distributed cache")
}

func TestChainNoPartitionSkipsCacher(t *testing.T) {
	ctx := context.Background()
	backend := newFakeProvider("ssm", true)
	cacher := newFakeCacher()

	chain := NewChain(backend)
	_, err := chain.Resolve(ctx, testDirs(), cacher, directory.Directory{}, "key")
	require.NoError(t, err)
	assert.Zero(t, cacher.lookups)
	assert.Empty(t, cacher.batches)
}

func TestChainProviderErrorPropagates(t *testing.T) {
	ctx := context.Background()
	backend := newFakeProvider("ssm", true)
	backend.err = errors.New("backend down")

	chain := NewChain(backend)
	_, err := chain.Resolve(ctx, testDirs(), nil, directory.Directory{}, "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

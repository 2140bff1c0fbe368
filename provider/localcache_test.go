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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCacheGetSet(t *testing.T) {
	cache := NewLocalCache()

	_, ok := cache.Get("ssm", "/svc/prod")
	assert.False(t, ok)

	cache.Set("ssm", "/svc/prod", "value")
	got, ok := cache.Get("ssm", "/svc/prod")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	// Keys are scoped per provider.
	_, ok = cache.Get("dynamo", "/svc/prod")
	assert.False(t, ok)
}

func TestLocalCacheSharedDeadline(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	cache := NewLocalCache(WithLocalExpiration(10*time.Minute), WithClock(clock))

	// First insertion arms the deadline; a later insertion does not extend it.
	cache.Set("ssm", "a", 1)
	now = now.Add(9 * time.Minute)
	cache.Set("dynamo", "b", 2)

	now = now.Add(90 * time.Second)
	_, ok := cache.Get("ssm", "a")
	assert.False(t, ok)
	_, ok = cache.Get("dynamo", "b")
	assert.False(t, ok, "late entries expire with the shared clock, not their own")
	assert.Equal(t, 0, cache.Len())

	// The next insertion starts a fresh window.
	cache.Set("ssm", "a", 3)
	got, ok := cache.Get("ssm", "a")
	require.True(t, ok)
	assert.Equal(t, 3, got)
}

func TestLocalCacheReset(t *testing.T) {
	cache := NewLocalCache()
	cache.Set("ssm", "a", 1)
	cache.Set("secrets", "b", 2)
	require.Equal(t, 2, cache.Len())

	cache.Reset()
	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get("ssm", "a")
	assert.False(t, ok)
}

func TestLocalCacheExpirationFromEnv(t *testing.T) {
	t.Setenv("XCON_INTERNAL_CACHE_EXPIRATION_MINUTES", "42")
	cache := NewLocalCache()
	assert.Equal(t, 42*time.Minute, cache.interval)

	t.Setenv("XCON_INTERNAL_CACHE_EXPIRATION_MINUTES", "not-a-number")
	cache = NewLocalCache()
	assert.Equal(t, DefaultLocalExpiration, cache.interval)
}

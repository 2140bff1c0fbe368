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
	"os"
	"strings"
	"sync"

	"github.com/xyngular/xcon/directory"
)

// environmentalPath is the synthetic directory recorded on items that came
// from the process environment.
const environmentalPath = "/_environmental"

// Environmental serves values from a snapshot of the process environment.
// The snapshot is taken on first lookup and never refreshed, so a value
// read twice is the same even if the environment mutates in between.
// It is not cacheable and needs no directory.
type Environmental struct {
	once     sync.Once
	source   func() []string
	snapshot *directory.Listing
}

// NewEnvironmental returns a provider over the real process environment.
func NewEnvironmental() *Environmental {
	return &Environmental{source: os.Environ}
}

// NewEnvironmentalFromMap returns a provider over a fixed set of variables
// instead of the process environment.
func NewEnvironmentalFromMap(vars map[string]string) *Environmental {
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	return &Environmental{source: func() []string { return env }}
}

func (e *Environmental) Name() string         { return "env" }
func (e *Environmental) Cacheable() bool      { return false }
func (e *Environmental) NeedsDirectory() bool { return false }

func (e *Environmental) load() *directory.Listing {
	e.once.Do(func() {
		dir := directory.MustPath(environmentalPath)
		listing := directory.NewListing(dir)
		for _, kv := range e.source() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			item := directory.NewItem(dir, k, v, "env")
			item.Cacheable = false
			listing.Add(item)
		}
		e.snapshot = listing
	})
	return e.snapshot
}

// Lookup ignores the directory argument entirely.
func (e *Environmental) Lookup(_ context.Context, _ directory.Directory, name string) (*directory.Item, error) {
	return e.load().Get(name), nil
}

// Retrieved reports success with no items: environment values are looked
// up individually and never bulk-cached.
func (e *Environmental) Retrieved(directory.Directory) (map[string]*directory.Item, bool) {
	return map[string]*directory.Item{}, true
}

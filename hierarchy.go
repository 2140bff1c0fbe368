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
	"sync"

	"github.com/xyngular/xcon/directory"
)

// The activation stack. The bottom entry is the process root config;
// Activate pushes a node whose parent is whatever was on top.
var (
	stackMu sync.Mutex
	stack   []*Config
)

func rootConfig() *Config {
	if len(stack) == 0 {
		root := New(WithName("root"))
		root.activated = true
		stack = append(stack, root)
	}
	return stack[0]
}

// Current returns the active config: the most recently activated node, or
// the process root when nothing has been activated.
func Current() *Config {
	stackMu.Lock()
	defer stackMu.Unlock()
	rootConfig()
	return stack[len(stack)-1]
}

// Activate makes c the active config until the returned release function
// runs. The previously active config becomes its parent, so unset
// attributes keep delegating upward. Releases must run in reverse
// activation order.
func Activate(c *Config) (release func()) {
	stackMu.Lock()
	defer stackMu.Unlock()
	rootConfig()
	top := stack[len(stack)-1]

	c.mu.Lock()
	c.activated = true
	if c.useParent && c.parent == nil && top != c {
		c.parent = top
	}
	c.mu.Unlock()

	stack = append(stack, c)
	return func() {
		stackMu.Lock()
		defer stackMu.Unlock()
		for i := len(stack) - 1; i > 0; i-- {
			if stack[i] == c {
				stack = append(stack[:i], stack[i+1:]...)
				return
			}
		}
	}
}

type contextKey struct{}

// IntoContext attaches c as the config for ctx and its descendants.
func IntoContext(ctx context.Context, c *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the config attached to ctx, or the active config.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(contextKey{}).(*Config); ok && c != nil {
		return c
	}
	return Current()
}

// Get resolves name against the config in ctx (or the active config).
func Get(ctx context.Context, name string, opts ...LookupOption) (string, error) {
	return FromContext(ctx).Get(ctx, name, opts...)
}

// GetBool resolves name as a boolean against the config in ctx.
func GetBool(ctx context.Context, name string, opts ...LookupOption) (bool, error) {
	return FromContext(ctx).GetBool(ctx, name, opts...)
}

// Lookup resolves name against the config in ctx, returning the full item.
func Lookup(ctx context.Context, name string, opts ...LookupOption) (*directory.Item, error) {
	return FromContext(ctx).Lookup(ctx, name, opts...)
}

// SetOverride pins a value on the active config.
func SetOverride(name, value string) {
	Current().SetOverride(name, value)
}

// SetDefault registers a fallback on the active config.
func SetDefault(name, value string) {
	Current().SetDefault(name, value)
}

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

import "strings"

// Chain is an ordered sequence of directories to search, highest priority
// first. Chains built by Default are deduplicated; explicitly supplied
// chains are used exactly as given.
type Chain struct {
	directories []Directory
	fingerprint string
}

// NewChain builds a chain from the given directories, preserving order.
func NewChain(dirs ...Directory) Chain {
	paths := make([]string, 0, len(dirs))
	for _, d := range dirs {
		paths = append(paths, d.Path())
	}
	return Chain{
		directories: append([]Directory(nil), dirs...),
		fingerprint: strings.Join(paths, "|"),
	}
}

// Default returns the standard search chain for a service and environment:
//
//	/{service}/{env}, /{service}, /global/{env}, /global
//
// The service pair is omitted when service is empty or "global"; the
// environment entries are omitted when env is empty.
func Default(service, env string) Chain {
	var dirs []Directory
	if service != "" && service != "global" {
		if env != "" {
			dirs = append(dirs, New(service, env))
		}
		dirs = append(dirs, New(service, ""))
	}
	if env != "" {
		dirs = append(dirs, New("global", env))
	}
	dirs = append(dirs, New("global", ""))
	return NewChain(dirs...)
}

// Directories returns the chain's directories in priority order. The
// returned slice must not be modified.
func (c Chain) Directories() []Directory { return c.directories }

// Fingerprint is the concatenation of all directory paths, used as part of
// the distributed cache sort key.
func (c Chain) Fingerprint() string { return c.fingerprint }

// Len returns the number of directories in the chain.
func (c Chain) Len() int { return len(c.directories) }

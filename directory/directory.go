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

// Package directory models the namespace paths that scope configuration
// lookups. A Directory is an immutable path such as "/myService/prod" or
// "/global"; directories are compared by their resolved path string.
package directory

import (
	"fmt"
	"regexp"
	"strings"
)

// NonExistentPath is the sentinel directory used for values that were
// searched for but found nowhere. Cached non-existence entries carry it.
const NonExistentPath = "/_nonExistent"

// placeholderPattern matches {name} tokens inside a directory path.
var placeholderPattern = regexp.MustCompile(`\{([^{}]*)\}`)

// Directory identifies a namespace path to search in the configuration
// providers. The zero value is the "no directory" marker used by providers
// that do not consult directories at all.
type Directory struct {
	path     string
	service  string
	env      string
	isFormat bool
}

// New builds a directory from a service and environment component.
// An empty service becomes "global"; an empty environment is left out of
// the path entirely.
func New(service, env string) Directory {
	return Directory{
		path:    pathFromComponents(service, env, false),
		service: serviceOrGlobal(service),
		env:     strings.TrimPrefix(env, "/"),
	}
}

// Export builds an export directory: the place a service publishes values
// intended for consumption by other services, e.g. "/hubspot/export/prod".
func Export(service, env string) Directory {
	env = strings.TrimPrefix(env, "/")
	if env == "" {
		env = "export"
	} else if !strings.HasPrefix(env, "export/") {
		env = "export/" + env
	}
	return Directory{
		path:    pathFromComponents(service, env, true),
		service: serviceOrGlobal(service),
		env:     env,
	}
}

// FromPath parses a literal path into a Directory. The path may contain
// {service} and {environment} placeholders which are resolved later via
// Resolve; any other placeholder is rejected.
func FromPath(path string) (Directory, error) {
	isFormat := false
	for _, m := range placeholderPattern.FindAllStringSubmatch(path, -1) {
		switch m[1] {
		case "service", "environment":
			isFormat = true
		default:
			return Directory{}, fmt.Errorf("unknown placeholder {%s} in directory path %q", m[1], path)
		}
	}
	service, env := componentsFromPath(path)
	return Directory{
		path:     path,
		service:  service,
		env:      env,
		isFormat: isFormat,
	}, nil
}

// MustPath is FromPath for known-good literal paths; it panics on a bad
// placeholder.
func MustPath(path string) Directory {
	d, err := FromPath(path)
	if err != nil {
		panic(err)
	}
	return d
}

// NonExistent returns the sentinel directory for values found nowhere.
func NonExistent() Directory {
	return MustPath(NonExistentPath)
}

// Path returns the directory path, the identity of the directory.
func (d Directory) Path() string { return d.path }

// Service returns the service component parsed from the path.
func (d Directory) Service() string { return d.service }

// Environment returns the environment component parsed from the path.
func (d Directory) Environment() string { return d.env }

// IsZero reports whether this is the "no directory" marker.
func (d Directory) IsZero() bool { return d.path == "" }

// IsNonExistent reports whether this is the sentinel for missing values.
func (d Directory) IsNonExistent() bool { return d.path == NonExistentPath }

// IsFormat reports whether the path still contains unresolved placeholders.
func (d Directory) IsFormat() bool { return d.isFormat }

// Resolve substitutes {service} and {environment} placeholders. Directories
// without placeholders are returned unchanged.
func (d Directory) Resolve(service, env string) Directory {
	if !d.isFormat {
		return d
	}
	resolved := strings.NewReplacer("{service}", service, "{environment}", env).Replace(d.path)
	resolved = strings.TrimRight(resolved, "/")
	out, err := FromPath(resolved)
	if err != nil {
		// Substitution can only remove placeholders, never add them.
		panic(err)
	}
	out.isFormat = false
	return out
}

func (d Directory) String() string { return d.path }

func serviceOrGlobal(service string) string {
	if service == "" {
		return "global"
	}
	return service
}

func pathFromComponents(service, env string, isExport bool) string {
	path := "/" + serviceOrGlobal(service)
	env = strings.TrimPrefix(env, "/")
	if isExport && !strings.HasPrefix(env, "export") {
		if env == "" {
			env = "export"
		} else {
			env = "export/" + env
		}
	}
	if env != "" {
		path += "/" + env
	}
	return path
}

func componentsFromPath(path string) (service, env string) {
	elements := strings.Split(path, "/")
	if len(elements) > 1 {
		service = elements[1]
	}
	if len(elements) > 2 {
		env = strings.Join(elements[2:], "/")
	}
	return service, env
}

package module

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrMissingDependency is returned by [ResolveLoadOrder] when a manifest
	// depends on a module that is not part of the set.
	ErrMissingDependency = errors.New("module: missing dependencies")

	// ErrDependencyCycle is returned by [ResolveLoadOrder] when manifests
	// depend on each other in a cycle.
	ErrDependencyCycle = errors.New("module: dependency cycle detected")

	// ErrDuplicateModule is returned by [ResolveLoadOrder] when two manifests
	// share a name.
	ErrDuplicateModule = errors.New("module: duplicate module name")
)

// Manifest declares one module instance: which factory builds it, under
// which name, and which other modules must be loaded before it.
type Manifest struct {
	// Name is the unique instance name. Required.
	Name string `yaml:"name" json:"name"`

	// Version is the module's release version. Required.
	Version string `yaml:"version" json:"version"`

	// Kind selects the registered factory that constructs the module. Required.
	Kind string `yaml:"kind" json:"kind"`

	Description string   `yaml:"description" json:"description,omitempty"`
	Authors     []string `yaml:"authors" json:"authors,omitempty"`

	// Dependencies lists module names that must be initialised first.
	Dependencies []string `yaml:"dependencies" json:"dependencies,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled" json:"enabled,omitempty"`

	// Options is passed verbatim to the module's factory.
	Options Options `yaml:"options" json:"options,omitempty"`
}

// IsEnabled reports whether the module should be loaded.
func (m Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Validate checks that the required fields are present.
func (m Manifest) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if m.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if m.Kind == "" {
		errs = append(errs, errors.New("kind is required"))
	}
	if slices.Contains(m.Dependencies, m.Name) && m.Name != "" {
		errs = append(errs, fmt.Errorf("module %q depends on itself", m.Name))
	}
	return errors.Join(errs...)
}

// ResolveLoadOrder orders manifests so that every module follows its
// dependencies. Among modules whose dependencies are satisfied, input order
// is kept.
func ResolveLoadOrder(manifests []Manifest) ([]Manifest, error) {
	byName := make(map[string]int, len(manifests))
	for i, m := range manifests {
		if _, dup := byName[m.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateModule, m.Name)
		}
		byName[m.Name] = i
	}

	var missing []string
	for _, m := range manifests {
		for _, dep := range m.Dependencies {
			if _, ok := byName[dep]; !ok && !slices.Contains(missing, dep) {
				missing = append(missing, dep)
			}
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}

	placed := make(map[string]bool, len(manifests))
	order := make([]Manifest, 0, len(manifests))
	for len(order) < len(manifests) {
		progressed := false
		for _, m := range manifests {
			if placed[m.Name] || !allPlaced(m.Dependencies, placed) {
				continue
			}
			placed[m.Name] = true
			order = append(order, m)
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, m := range manifests {
				if !placed[m.Name] {
					stuck = append(stuck, m.Name)
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

func allPlaced(deps []string, placed map[string]bool) bool {
	for _, d := range deps {
		if !placed[d] {
			return false
		}
	}
	return true
}

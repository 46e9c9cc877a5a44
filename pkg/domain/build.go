package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Component is one package component being assembled by the current
// build, for example "tmpwatch:runtime".
type Component struct {
	Name     string
	Provides *DependencySet
	Requires *DependencySet
	Paths    []string
}

// NewComponent creates an empty component.
func NewComponent(name string) *Component {
	return &Component{
		Name:     name,
		Provides: NewDependencySet(),
		Requires: NewDependencySet(),
	}
}

var macroRe = regexp.MustCompile(`%\(([a-zA-Z_][a-zA-Z0-9_]*)\)s`)

// BuildTree describes the state of a package build as the policies see
// it: the install image (destdir), the unpacked sources (builddir), the
// recipe macros, and the components packaged so far.
type BuildTree struct {
	// Destdir is the root of the install image being packaged.
	Destdir string
	// Builddir is the root of the unpacked, built sources.
	Builddir string
	// Macros holds the recipe macros (libdir, datadir, bindir, ...)
	// referenced by filter expressions as %(name)s.
	Macros map[string]string

	// Components maps component name to its assembled state.
	Components map[string]*Component
	// PathOwners maps a packaged destdir-relative path to the name of
	// the component that owns it.
	PathOwners map[string]string

	// BuildRequires is the transitive closure of trove names named by
	// the recipe's buildRequires list.
	BuildRequires []string

	// UseFlags maps each use flag consulted while computing the build
	// flavor to the file that defined it; an empty path means the flag
	// definition was not tracked to a file.
	UseFlags map[string]string

	// Bootstrap marks a bootstrap build; enforcement policies only warn.
	Bootstrap bool
	// BuildLabel is the label the package is being built on.
	BuildLabel string
	// BuildLogPath points at the captured build output, when available.
	BuildLogPath string

	// AutoCreated counts files added by policies themselves; such files
	// do not make an otherwise empty package non-empty.
	AutoCreated int
}

// Expand interpolates %(name)s macro references in s. Unknown macros
// are an error so that a typo in a filter expression cannot silently
// match nothing.
func (t *BuildTree) Expand(s string) (string, error) {
	var missing []string
	out := macroRe.ReplaceAllStringFunc(s, func(m string) string {
		name := macroRe.FindStringSubmatch(m)[1]
		if v, ok := t.Macros[name]; ok {
			return v
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: unknown macro %q in %q", ErrConfigInvalid, missing[0], s)
	}
	return out, nil
}

// Macro returns a macro value, or the empty string when unset.
func (t *BuildTree) Macro(name string) string {
	return t.Macros[name]
}

// ComponentNames returns the component names in sorted order.
func (t *BuildTree) ComponentNames() []string {
	names := make([]string, 0, len(t.Components))
	for name := range t.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Owner resolves the component that packages the given path.
func (t *BuildTree) Owner(path string) (*Component, bool) {
	name, ok := t.PathOwners[path]
	if !ok {
		return nil, false
	}
	comp, ok := t.Components[name]
	return comp, ok
}

// AddPath records a packaged path under the named component, creating
// the component on first use.
func (t *BuildTree) AddPath(component, path string) {
	if t.Components == nil {
		t.Components = make(map[string]*Component)
	}
	if t.PathOwners == nil {
		t.PathOwners = make(map[string]string)
	}
	comp, ok := t.Components[component]
	if !ok {
		comp = NewComponent(component)
		t.Components[component] = comp
	}
	comp.Paths = append(comp.Paths, path)
	t.PathOwners[path] = component
}

// MovePath rewrites ownership records after a policy relocates a
// packaged file inside the destdir.
func (t *BuildTree) MovePath(from, to string) {
	name, ok := t.PathOwners[from]
	if !ok {
		return
	}
	delete(t.PathOwners, from)
	t.PathOwners[to] = name
	comp := t.Components[name]
	for i, p := range comp.Paths {
		if p == from {
			comp.Paths[i] = to
		}
	}
}

// AllRequires unions the requirements of every component.
func (t *BuildTree) AllRequires() *DependencySet {
	out := NewDependencySet()
	for _, comp := range t.Components {
		out.Union(comp.Requires)
	}
	return out
}

// AllProvides unions the provisions of every component.
func (t *BuildTree) AllProvides() *DependencySet {
	out := NewDependencySet()
	for _, comp := range t.Components {
		out.Union(comp.Provides)
	}
	return out
}

// HasBuildRequires reports whether a trove name appears in the
// transitive buildRequires closure.
func (t *BuildTree) HasBuildRequires(name string) bool {
	for _, req := range t.BuildRequires {
		if req == name {
			return true
		}
	}
	return false
}

// LocalBuild reports whether the package is being built on a local
// (developer) label, where enforcement should not fail the build.
func (t *BuildTree) LocalBuild() bool {
	return strings.Contains(t.BuildLabel, "local@local")
}

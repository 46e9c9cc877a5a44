package domain

import "strings"

// Trove is an installed or buildable unit known to the trove database:
// a package, or a component such as "glibc:devel".
type Trove struct {
	Name     string
	Version  string
	Flavor   string
	Provides *DependencySet
	Requires *DependencySet
	Paths    []string
}

// HasPath reports whether the trove owns the given installed path.
func (t *Trove) HasPath(path string) bool {
	for _, p := range t.Paths {
		if p == path {
			return true
		}
	}
	return false
}

// SplitComponent splits "pkg:comp" into its package and component
// parts. The component part is empty for plain package names.
func SplitComponent(name string) (pkg, comp string) {
	pkg, comp, _ = strings.Cut(name, ":")
	return pkg, comp
}

// PreferredProviders expands a component name into the ordered list of
// candidates that should satisfy it. A requirement on :lib or :devellib
// is best answered by :devel (which carries headers), then :devellib
// (soname links), then :lib itself.
func PreferredProviders(name string) []string {
	if strings.HasSuffix(name, ":lib") || strings.HasSuffix(name, ":devellib") {
		pkg, _ := SplitComponent(name)
		return []string{pkg + ":devel", pkg + ":devellib", pkg + ":lib"}
	}
	return []string{name}
}

package domain

import (
	"fmt"
	"sort"
	"strings"
)

// DepClass identifies the namespace a dependency lives in. The classes
// mirror the dependency taxonomy used by the Conary build system.
type DepClass string

// Dependency classes understood by the policies in this repository.
const (
	DepFile   DepClass = "file"
	DepTrove  DepClass = "trove"
	DepSoname DepClass = "soname"
	DepPython DepClass = "python"
	DepJava   DepClass = "java"
	DepCIL    DepClass = "cil"
	DepPerl   DepClass = "perl"
	DepUse    DepClass = "use"
	DepABI    DepClass = "abi"
)

// Dependency is a single named requirement or provision within a class.
// Flags carry class-specific qualifiers (ELF ABI tags, use flags).
type Dependency struct {
	Class DepClass
	Name  string
	Flags []string
}

// NewDependency builds a dependency with optional flags.
func NewDependency(class DepClass, name string, flags ...string) Dependency {
	return Dependency{Class: class, Name: name, Flags: flags}
}

// ParseDependency parses the "class: name(flag flag)" form used in
// trovedb fixtures and CLI arguments.
func ParseDependency(s string) (Dependency, error) {
	class, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Dependency{}, fmt.Errorf("dependency %q: missing class separator", s)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return Dependency{}, fmt.Errorf("dependency %q: missing name", s)
	}

	var flags []string
	if open := strings.IndexByte(rest, '('); open >= 0 {
		if !strings.HasSuffix(rest, ")") {
			return Dependency{}, fmt.Errorf("dependency %q: unterminated flag list", s)
		}
		flags = strings.Fields(rest[open+1 : len(rest)-1])
		rest = strings.TrimSpace(rest[:open])
	}

	return Dependency{Class: DepClass(strings.TrimSpace(class)), Name: rest, Flags: flags}, nil
}

// String renders the canonical "class: name(flags)" form.
func (d Dependency) String() string {
	if len(d.Flags) == 0 {
		return fmt.Sprintf("%s: %s", d.Class, d.Name)
	}
	return fmt.Sprintf("%s: %s(%s)", d.Class, d.Name, strings.Join(d.Flags, " "))
}

// Key is the identity of a dependency within a set. Flags do not
// participate: a flagged and an unflagged soname are the same entry.
func (d Dependency) Key() string {
	return string(d.Class) + "\x00" + d.Name
}

// DependencySet is an unordered collection of dependencies keyed by
// class and name. The zero value is empty and ready to use.
type DependencySet struct {
	deps map[string]Dependency
}

// NewDependencySet builds a set from the given dependencies.
func NewDependencySet(deps ...Dependency) *DependencySet {
	s := &DependencySet{}
	for _, d := range deps {
		s.Add(d)
	}
	return s
}

// Add inserts or replaces a dependency.
func (s *DependencySet) Add(d Dependency) {
	if s.deps == nil {
		s.deps = make(map[string]Dependency)
	}
	s.deps[d.Key()] = d
}

// Remove drops a dependency if present.
func (s *DependencySet) Remove(d Dependency) {
	delete(s.deps, d.Key())
}

// Has reports whether an equivalent dependency is in the set.
func (s *DependencySet) Has(d Dependency) bool {
	if s == nil {
		return false
	}
	_, ok := s.deps[d.Key()]
	return ok
}

// Len returns the number of entries.
func (s *DependencySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.deps)
}

// Union merges other into the receiver.
func (s *DependencySet) Union(other *DependencySet) {
	if other == nil {
		return
	}
	for _, d := range other.deps {
		s.Add(d)
	}
}

// Difference returns the entries of s not present in other.
func (s *DependencySet) Difference(other *DependencySet) *DependencySet {
	out := NewDependencySet()
	if s == nil {
		return out
	}
	for key, d := range s.deps {
		if other == nil || other.deps == nil {
			out.Add(d)
			continue
		}
		if _, ok := other.deps[key]; !ok {
			out.Add(d)
		}
	}
	return out
}

// Intersection returns the entries present in both sets.
func (s *DependencySet) Intersection(other *DependencySet) *DependencySet {
	out := NewDependencySet()
	if s == nil || other == nil {
		return out
	}
	for key, d := range s.deps {
		if _, ok := other.deps[key]; ok {
			out.Add(d)
		}
	}
	return out
}

// Satisfies reports whether every entry of required is present in s.
func (s *DependencySet) Satisfies(required *DependencySet) bool {
	if required == nil || required.Len() == 0 {
		return true
	}
	if s == nil {
		return false
	}
	for key := range required.deps {
		if _, ok := s.deps[key]; !ok {
			return false
		}
	}
	return true
}

// ByClass returns the entries of one class sorted by name.
func (s *DependencySet) ByClass(class DepClass) []Dependency {
	if s == nil {
		return nil
	}
	var out []Dependency
	for _, d := range s.deps {
		if d.Class == class {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every entry sorted by class then name.
func (s *DependencySet) All() []Dependency {
	if s == nil {
		return nil
	}
	out := make([]Dependency, 0, len(s.deps))
	for _, d := range s.deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Class != out[j].Class {
			return out[i].Class < out[j].Class
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Clone returns an independent copy of the set.
func (s *DependencySet) Clone() *DependencySet {
	out := NewDependencySet()
	if s == nil {
		return out
	}
	for _, d := range s.deps {
		out.Add(d)
	}
	return out
}

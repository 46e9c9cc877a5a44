package policy

import (
	"fmt"
	"io/fs"
	"regexp"
)

// Filter decides which tree paths a file policy sees. Inclusion and
// exception expressions are regular expressions anchored at the start
// of the tree-relative path, interpolated with recipe macros before
// compilation.
type Filter struct {
	inclusions []*regexp.Regexp
	exceptions []*regexp.Regexp
	allowDirs  bool
}

// FilterSpec is the raw, uncompiled form of a filter.
type FilterSpec struct {
	Inclusions []string
	Exceptions []string
	// AllowDirs admits directories; by default only regular files match.
	AllowDirs bool
}

// NewFilter expands macros and compiles a filter for the given run.
// User-configured exceptions for the policy are appended to the
// invariant ones.
func NewFilter(run *Run, policyName string, spec FilterSpec) (*Filter, error) {
	f := &Filter{allowDirs: spec.AllowDirs}

	exceptions := append([]string{}, spec.Exceptions...)
	exceptions = append(exceptions, run.Exceptions(policyName)...)

	for _, raw := range spec.Inclusions {
		re, err := compileExpr(run, raw)
		if err != nil {
			return nil, fmt.Errorf("policy %s inclusion: %w", policyName, err)
		}
		f.inclusions = append(f.inclusions, re)
	}
	for _, raw := range exceptions {
		re, err := compileExpr(run, raw)
		if err != nil {
			return nil, fmt.Errorf("policy %s exception: %w", policyName, err)
		}
		f.exceptions = append(f.exceptions, re)
	}
	return f, nil
}

func compileExpr(run *Run, raw string) (*regexp.Regexp, error) {
	expanded, err := run.Tree.Expand(raw)
	if err != nil {
		return nil, err
	}
	return regexp.Compile("^(?:" + expanded + ")")
}

// Match reports whether a tree-relative path passes the filter.
func (f *Filter) Match(path string, info fs.FileInfo) bool {
	if info != nil && info.IsDir() && !f.allowDirs {
		return false
	}
	included := len(f.inclusions) == 0
	for _, re := range f.inclusions {
		if re.MatchString(path) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, re := range f.exceptions {
		if re.MatchString(path) {
			return false
		}
	}
	return true
}

package enforce

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/conarypm/conary-policy/internal/magic"
	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
)

// classEnforcer verifies that every runtime dependency of one class
// that the package itself does not provide is matched by an entry in
// the transitive buildRequires closure.
type classEnforcer struct {
	name     string
	class    domain.DepClass
	warnOnly bool

	// set by Test for use in Do
	deps []domain.Dependency
}

func newClassEnforcer(name string, class domain.DepClass, warnOnly bool) *classEnforcer {
	return &classEnforcer{name: name, class: class, warnOnly: warnOnly}
}

// Name implements policy.Policy.
func (e *classEnforcer) Name() string { return e.name }

// Tree implements policy.Policy.
func (e *classEnforcer) Tree() policy.Tree { return policy.TreeNone }

// Requires implements policy.Policy.
func (e *classEnforcer) Requires() []policy.Constraint {
	// Run after the requirement-rewriting policies so enforcement sees
	// the final dependency sets.
	return []policy.Constraint{
		{Policy: "ResolveFileDependencies", Kind: policy.ConditionalPrior},
		{Policy: "PkgConfigRequires", Kind: policy.ConditionalPrior},
	}
}

// Test implements policy.Testable: collect the unprovided dependencies
// of this class; nothing to do when the set is empty.
func (e *classEnforcer) Test(run *policy.Run) bool {
	if run.DB == nil {
		return false
	}
	unprovided := run.Tree.AllRequires().Difference(run.Tree.AllProvides())
	e.deps = unprovided.ByClass(e.class)
	return len(e.deps) > 0
}

func (e *classEnforcer) talk(run *policy.Run, path, format string, args ...any) {
	if e.warnOnly {
		run.Warnf(e.name, path, format, args...)
		return
	}
	run.Talkf(e.name, path, format, args...)
}

// Do implements policy.WholePolicy.
func (e *classEnforcer) Do(ctx context.Context, run *policy.Run) error {
	exceptions, err := newComponentExceptions(run, e.name)
	if err != nil {
		return err
	}

	missing := make(map[string]bool)
	var unprovided []domain.Dependency

	for _, dep := range e.deps {
		troves := run.DB.TrovesProviding(ctx, dep)
		if len(troves) == 0 {
			unprovided = append(unprovided, dep)
			continue
		}

		candidateSet := make(map[string]bool)
		for _, trove := range troves {
			if candidate, ok := bestProvider(ctx, run.DB, trove.Name); ok {
				candidateSet[candidate] = true
			}
		}
		candidates := exceptions.filter(sortedSet(candidateSet))
		if len(candidates) == 0 {
			continue
		}

		satisfied := false
		for _, candidate := range candidates {
			if run.Tree.HasBuildRequires(candidate) {
				satisfied = true
				break
			}
		}
		if satisfied {
			continue
		}

		if len(candidates) > 1 {
			candidates = reduceCandidates(ctx, run.DB, candidates)
		}
		if len(candidates) > 1 {
			e.talk(run, "", "add to buildRequires one of: %s", strings.Join(candidates, " "))
			continue
		}
		for _, candidate := range candidates {
			missing[candidate] = true
		}

		// Point the packager at the components that pull the
		// requirement in.
		for _, name := range run.Tree.ComponentNames() {
			comp := run.Tree.Components[name]
			if comp.Requires.Has(dep) {
				run.Warnf(e.name, "",
					"buildRequires %s needed to satisfy %q for component %s",
					strings.Join(candidates, " "), dep.String(), name)
			}
		}
	}

	// Interpreted languages also need their interpreter present at
	// cook time for dependency discovery.
	if e.class == domain.DepPython || e.class == domain.DepPerl {
		e.checkInterpreters(ctx, run, missing)
	}

	if len(missing) > 0 {
		names := sortedSet(missing)
		e.talk(run, "", "add to buildRequires: %s", strings.Join(names, " "))
		run.SuggestBuildRequires(e.name, names...)
	}

	if len(unprovided) > 0 {
		var depStrs []string
		for _, dep := range unprovided {
			depStrs = append(depStrs, dep.String())
		}
		e.talk(run, "", "The following dependencies are not resolved within the package or in the system database: %s",
			strings.Join(depStrs, ", "))
		e.talk(run, "", "The package may not function if installed, and the dependency solver may need to be overridden to install it.")
		for _, depStr := range depStrs {
			e.talk(run, "", "If the package really provides it internally, add an exceptDeps entry for %q", depStr)
		}
	}
	return nil
}

// checkInterpreters ensures the interpreter of every packaged script is
// covered by buildRequires; a missing interpreter at build time means
// its runtime dependencies could not be discovered.
func (e *classEnforcer) checkInterpreters(ctx context.Context, run *policy.Run, missing map[string]bool) {
	seen := make(map[string]bool)
	for path := range run.Tree.PathOwners {
		full := filepath.Join(run.Tree.Destdir, filepath.FromSlash(path))
		interpreter := magic.InterpreterForFile(full)
		if interpreter == "" || seen[interpreter] {
			continue
		}
		seen[interpreter] = true
		for _, trove := range run.DB.TrovesByPath(ctx, interpreter) {
			if run.Tree.HasBuildRequires(trove.Name) {
				continue
			}
			e.talk(run, path, "interpreter %s missing build requirement %s", interpreter, trove.Name)
			missing[trove.Name] = true
		}
	}
}

// cilEnforcer extends the CIL class check with the mono toolchain
// requirement: CIL dependencies cannot be discovered without mono:devel
// installed at cook time.
type cilEnforcer struct {
	*classEnforcer
}

func newCILEnforcer() *cilEnforcer {
	return &cilEnforcer{newClassEnforcer(CILName, domain.DepCIL, false)}
}

// Test implements policy.Testable.
func (e *cilEnforcer) Test(run *policy.Run) bool {
	if !e.classEnforcer.Test(run) {
		return false
	}
	if !run.Tree.HasBuildRequires("mono:devel") {
		e.talk(run, "", "add to buildRequires: mono:devel")
		run.SuggestBuildRequires(e.name, "mono:devel")
	}
	return true
}

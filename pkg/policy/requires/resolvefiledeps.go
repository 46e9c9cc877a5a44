package requires

import (
	"context"
	"regexp"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
)

// ResolveFileDependenciesName identifies the ResolveFileDependencies
// policy.
const ResolveFileDependenciesName = "ResolveFileDependencies"

// ResolveFileDependencies finds file: requirements that are not
// satisfied by file: provides and replaces them with trove:
// requirements, looking first in the local trove database and then on
// the install label path. Exceptions match file dependencies that must
// be left alone.
type ResolveFileDependencies struct{}

// Name implements policy.Policy.
func (*ResolveFileDependencies) Name() string { return ResolveFileDependenciesName }

// Tree implements policy.Policy.
func (*ResolveFileDependencies) Tree() policy.Tree { return policy.TreeNone }

// Requires implements policy.Policy: run after pkg-config extraction so
// freshly added requirements get resolved too.
func (*ResolveFileDependencies) Requires() []policy.Constraint {
	return []policy.Constraint{
		{Policy: PkgConfigRequiresName, Kind: policy.ConditionalPrior},
	}
}

// Test implements policy.Testable: bootstrap builds skip resolution
// because the database does not describe the target system yet.
func (*ResolveFileDependencies) Test(run *policy.Run) bool {
	return !run.Tree.Bootstrap && run.DB != nil
}

// Do implements policy.WholePolicy.
func (p *ResolveFileDependencies) Do(ctx context.Context, run *policy.Run) error {
	exceptions, err := compileExceptions(run, p.Name())
	if err != nil {
		return err
	}

	for _, name := range run.Tree.ComponentNames() {
		comp := run.Tree.Components[name]

		// Self-provided requirements never need resolution.
		fileDeps := make([]domain.Dependency, 0)
		for _, dep := range comp.Requires.ByClass(domain.DepFile) {
			if comp.Provides.Has(dep) || excepted(exceptions, dep.Name) {
				continue
			}
			fileDeps = append(fileDeps, dep)
		}
		if len(fileDeps) == 0 {
			continue
		}

		var added []domain.Dependency
		var removed []domain.Dependency

		fileDeps = p.resolveLocal(ctx, run, fileDeps, &added, &removed)
		p.resolveRepo(ctx, run, fileDeps, &added, &removed)

		for _, dep := range added {
			comp.Requires.Add(dep)
		}
		for _, dep := range removed {
			comp.Requires.Remove(dep)
		}
	}
	return nil
}

// resolveLocal swaps file requirements for trove requirements when the
// local database owns the path but no trove provides the file directly.
// It returns the still-unresolved deps.
func (p *ResolveFileDependencies) resolveLocal(ctx context.Context, run *policy.Run, fileDeps []domain.Dependency, added, removed *[]domain.Dependency) []domain.Dependency {
	var remaining []domain.Dependency
	for _, dep := range fileDeps {
		troves := run.DB.TrovesByPath(ctx, dep.Name)
		if len(troves) == 0 {
			remaining = append(remaining, dep)
			continue
		}
		provided := false
		for _, trove := range troves {
			if trove.Provides.Has(dep) {
				provided = true
				break
			}
		}
		if provided {
			// Directly provided; the file requirement stands.
			continue
		}
		troveName := troves[0].Name
		run.Infof(p.Name(), dep.Name,
			"Replacing requirement on file %s with a requirement on trove %s since that file is not directly provided",
			dep.Name, troveName)
		*added = append(*added, domain.NewDependency(domain.DepTrove, troveName))
		*removed = append(*removed, dep)
	}
	return remaining
}

// resolveRepo resolves the remaining file deps against the install
// label path, converting ones that only a trove (not a file provide)
// can satisfy.
func (p *ResolveFileDependencies) resolveRepo(ctx context.Context, run *policy.Run, fileDeps []domain.Dependency, added, removed *[]domain.Dependency) {
	if len(fileDeps) == 0 || run.Repo == nil {
		return
	}

	resolved := map[string]bool{}
	for _, label := range run.LabelPath {
		for key := range run.Repo.ResolveDependencies(ctx, label, fileDeps) {
			resolved[key] = true
		}
	}

	var paths []string
	unresolved := map[string]domain.Dependency{}
	for _, dep := range fileDeps {
		if !resolved[dep.Key()] {
			paths = append(paths, dep.Name)
			unresolved[dep.Name] = dep
		}
	}
	if len(paths) == 0 {
		return
	}

	for _, label := range run.LabelPath {
		byPath := run.Repo.LeavesByPath(ctx, label, paths)
		for path, troves := range byPath {
			dep, ok := unresolved[path]
			if !ok || len(troves) == 0 {
				continue
			}
			delete(unresolved, path)
			troveName := troves[0].Name
			run.Infof(p.Name(), path,
				"Replacing requirement on file %s with a requirement on trove %s since that file is not directly provided",
				path, troveName)
			*added = append(*added, domain.NewDependency(domain.DepTrove, troveName))
			*removed = append(*removed, dep)
		}
	}
}

func compileExceptions(run *policy.Run, policyName string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, raw := range run.Exceptions(policyName) {
		expanded, err := run.Tree.Expand(raw)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile("^(?:" + expanded + ")")
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func excepted(exceptions []*regexp.Regexp, s string) bool {
	for _, re := range exceptions {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

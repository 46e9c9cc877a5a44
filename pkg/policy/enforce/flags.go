package enforce

import (
	"context"
	"sort"
	"strings"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
)

// Flags verifies that the troves defining the use flags consulted
// while computing the build flavor are listed in buildRequires. A
// flavor derived from an absent flag definition is not reproducible,
// so the defining trove belongs in buildRequires like any other build
// input. This policy takes no exceptions.
type Flags struct{}

// Name implements policy.Policy.
func (*Flags) Name() string { return FlagName }

// Tree implements policy.Policy.
func (*Flags) Tree() policy.Tree { return policy.TreeNone }

// Requires implements policy.Policy.
func (*Flags) Requires() []policy.Constraint { return nil }

// Test implements policy.Testable: flag definitions can only be
// traced through the installed-trove database.
func (p *Flags) Test(run *policy.Run) bool {
	return run.DB != nil && len(run.Tree.UseFlags) > 0
}

// Do implements policy.WholePolicy.
func (p *Flags) Do(ctx context.Context, run *policy.Run) error {
	names := make([]string, 0, len(run.Tree.UseFlags))
	for name := range run.Tree.UseFlags {
		names = append(names, name)
	}
	sort.Strings(names)

	missing := make(map[string]bool)
	for _, name := range names {
		var troves []*domain.Trove
		if path := run.Tree.UseFlags[name]; path != "" {
			troves = run.DB.TrovesByPath(ctx, path)
		} else {
			// The manifest did not track the flag to a file; fall back
			// to whichever trove provides the use dependency.
			troves = run.DB.TrovesProviding(ctx, domain.NewDependency(domain.DepUse, name))
		}
		for _, trove := range troves {
			if run.Tree.HasBuildRequires(trove.Name) {
				continue
			}
			run.Talkf(FlagName, "", "flag %s missing build requirement %s", name, trove.Name)
			missing[trove.Name] = true
		}
	}

	if len(missing) > 0 {
		out := sortedSet(missing)
		run.Talkf(FlagName, "", "add to buildRequires: %s", strings.Join(out, " "))
		run.SuggestBuildRequires(FlagName, out...)
	}
	return nil
}

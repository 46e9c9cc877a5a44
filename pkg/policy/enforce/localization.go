package enforce

import (
	"context"
	"strings"

	"github.com/conarypm/conary-policy/pkg/policy"
)

// Localization checks that packages carrying translation templates have
// the gettext toolchain in buildRequires; without it the message
// catalogs silently fail to build.
type Localization struct {
	done bool
}

var intltools = []string{"gettext:runtime", "intltool:runtime"}

// Name implements policy.Policy.
func (*Localization) Name() string { return LocalizationName }

// Tree implements policy.Policy.
func (*Localization) Tree() policy.Tree { return policy.TreeBuilddir }

// Requires implements policy.Policy.
func (*Localization) Requires() []policy.Constraint { return nil }

// Test implements policy.Testable.
func (p *Localization) Test(run *policy.Run) bool {
	p.done = false
	return run.Tree.Builddir != ""
}

// Filter implements policy.FilePolicy.
func (p *Localization) Filter(run *policy.Run) (*policy.Filter, error) {
	return policy.NewFilter(run, LocalizationName, policy.FilterSpec{
		Inclusions: []string{`.*/POTFILES\.in$`},
	})
}

// DoFile implements policy.FilePolicy. One template file is enough
// evidence; further matches add nothing.
func (p *Localization) DoFile(_ context.Context, run *policy.Run, f policy.File) error {
	if p.done {
		return nil
	}
	p.done = true

	var missing []string
	for _, name := range intltools {
		if !run.Tree.HasBuildRequires(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	run.Warnf(LocalizationName, f.Path,
		"missing buildRequires %s for file %s", strings.Join(missing, " "), f.Path)
	run.SuggestBuildRequires(LocalizationName, missing...)
	return nil
}

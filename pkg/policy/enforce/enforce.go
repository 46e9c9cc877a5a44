// Package enforce holds the policies that verify the recipe's
// buildRequires list covers everything the built package actually
// depends on, and suggest the trove names to add when it does not.
package enforce

import (
	"context"
	"regexp"
	"sort"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
	"github.com/conarypm/conary-policy/pkg/trovedb"
)

func init() {
	policy.MustRegister(SonameName, func() policy.Policy { return newClassEnforcer(SonameName, domain.DepSoname, false) })
	policy.MustRegister(PythonName, func() policy.Policy { return newClassEnforcer(PythonName, domain.DepPython, false) })
	policy.MustRegister(JavaName, func() policy.Policy { return newClassEnforcer(JavaName, domain.DepJava, true) })
	policy.MustRegister(CILName, func() policy.Policy { return newCILEnforcer() })
	policy.MustRegister(PerlName, func() policy.Policy { return newClassEnforcer(PerlName, domain.DepPerl, false) })
	policy.MustRegister(ConfigLogName, func() policy.Policy { return newConfigLog() })
	policy.MustRegister(CMakeCacheName, func() policy.Policy { return newCMakeCache() })
	policy.MustRegister(StaticLibName, func() policy.Policy { return &StaticLib{} })
	policy.MustRegister(LocalizationName, func() policy.Policy { return &Localization{} })
	policy.MustRegister(FlagName, func() policy.Policy { return &Flags{} })
}

// Policy names for the enforcement family.
const (
	SonameName       = "EnforceSonameBuildRequirements"
	PythonName       = "EnforcePythonBuildRequirements"
	JavaName         = "EnforceJavaBuildRequirements"
	CILName          = "EnforceCILBuildRequirements"
	PerlName         = "EnforcePerlBuildRequirements"
	ConfigLogName    = "EnforceConfigLogBuildRequirements"
	CMakeCacheName   = "EnforceCMakeCacheBuildRequirements"
	StaticLibName    = "EnforceStaticLibBuildRequirements"
	LocalizationName = "EnforceLocalizationBuildRequirements"
	FlagName         = "EnforceFlagBuildRequirements"
)

var componentNameRe = regexp.MustCompile(`^[a-zA-Z0-9-]+:[a-zA-Z0-9]+$`)

// componentExceptions splits a policy's configured exceptions into
// exact component names and regular expressions.
type componentExceptions struct {
	exact map[string]bool
	res   []*regexp.Regexp
}

func newComponentExceptions(run *policy.Run, policyName string) (*componentExceptions, error) {
	ce := &componentExceptions{exact: make(map[string]bool)}
	for _, raw := range run.Exceptions(policyName) {
		expanded, err := run.Tree.Expand(raw)
		if err != nil {
			return nil, err
		}
		if componentNameRe.MatchString(expanded) {
			ce.exact[expanded] = true
			continue
		}
		re, err := regexp.Compile("^(?:" + expanded + ")")
		if err != nil {
			return nil, err
		}
		ce.res = append(ce.res, re)
	}
	return ce, nil
}

func (ce *componentExceptions) excluded(name string) bool {
	if ce.exact[name] {
		return true
	}
	for _, re := range ce.res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (ce *componentExceptions) filter(names []string) []string {
	out := names[:0]
	for _, n := range names {
		if !ce.excluded(n) {
			out = append(out, n)
		}
	}
	return out
}

// bestProvider maps a trove name to the single component that should
// appear in buildRequires for it, honoring the :devel > :devellib >
// :lib preference and the installed database.
func bestProvider(ctx context.Context, db trovedb.Store, name string) (string, bool) {
	for _, candidate := range domain.PreferredProviders(name) {
		if db.HasTrove(ctx, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// reduceCandidates drops candidates whose requirements another
// candidate already satisfies; almost every case is the :devel vs
// :devellib pair, so the quadratic scan does not matter.
func reduceCandidates(ctx context.Context, db trovedb.Store, names []string) []string {
	if len(names) < 2 {
		return names
	}

	troves := make(map[string]*domain.Trove, len(names))
	for _, name := range names {
		if t, err := db.TroveByName(ctx, name); err == nil {
			troves[name] = t
		}
	}
	satisfies := func(a, b string) bool {
		ta, tb := troves[a], troves[b]
		if ta == nil || tb == nil {
			return false
		}
		return ta.Provides.Intersection(tb.Requires).Len() > 0
	}

	kept := append([]string(nil), names...)
	for changed := true; changed; {
		changed = false
		for i := 0; i < len(kept) && !changed; i++ {
			for j := 0; j < len(kept); j++ {
				if i == j {
					continue
				}
				if satisfies(kept[i], kept[j]) {
					kept = append(kept[:j], kept[j+1:]...)
					changed = true
					break
				}
			}
		}
	}
	sort.Strings(kept)
	return kept
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

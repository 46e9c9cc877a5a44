package rego

import (
	"context"

	"github.com/conarypm/conary-policy/pkg/policy"
)

// SitePolicyName identifies the Rego-backed policy in reports.
const SitePolicyName = "SitePolicy"

// SitePolicy adapts the Engine to the file-policy contract: every file
// of the install image is offered to the site rules, and warn/error
// verdicts become findings.
type SitePolicy struct {
	engine *Engine
}

// NewSitePolicy wraps an engine; Register makes it available to runs.
func NewSitePolicy(engine *Engine) *SitePolicy {
	return &SitePolicy{engine: engine}
}

// Register adds the policy to a registry. Site rules are optional, so
// this happens at startup only when modules are configured.
func (p *SitePolicy) Register(reg *policy.Registry) error {
	return reg.Register(SitePolicyName, func() policy.Policy { return p })
}

// Name implements policy.Policy.
func (*SitePolicy) Name() string { return SitePolicyName }

// Tree implements policy.Policy.
func (*SitePolicy) Tree() policy.Tree { return policy.TreeDestdir }

// Requires implements policy.Policy.
func (*SitePolicy) Requires() []policy.Constraint {
	// Site rules judge final locations, so run after the destdir
	// normalization policies have moved files around.
	return []policy.Constraint{
		{Policy: "NormalizePkgConfig", Kind: policy.ConditionalPrior},
	}
}

// Test implements policy.Testable.
func (p *SitePolicy) Test(run *policy.Run) bool {
	return p.engine != nil && run.Tree.Destdir != ""
}

// Filter implements policy.FilePolicy: everything except what the site
// config excepts.
func (p *SitePolicy) Filter(run *policy.Run) (*policy.Filter, error) {
	return policy.NewFilter(run, SitePolicyName, policy.FilterSpec{
		Inclusions: []string{`.*`},
	})
}

// DoFile implements policy.FilePolicy.
func (p *SitePolicy) DoFile(ctx context.Context, run *policy.Run, f policy.File) error {
	input := Input{
		Path:   f.Path,
		Tree:   "destdir",
		Macros: run.Tree.Macros,
	}
	if comp, ok := run.Tree.Owner(f.Path); ok {
		input.Component = comp.Name
	}
	if f.Info != nil {
		input.Mode = uint32(f.Info.Mode())
		input.Size = f.Info.Size()
	}

	decision, err := p.engine.Evaluate(ctx, input)
	if err != nil {
		return err
	}

	switch decision.Action {
	case ActionWarn:
		run.Warnf(SitePolicyName, f.Path, "%s", reasonOrDefault(decision.Reason))
	case ActionError:
		run.Errorf(SitePolicyName, f.Path, "%s", reasonOrDefault(decision.Reason))
	}
	return nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "rejected by site policy"
	}
	return reason
}

package policy

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/telemetry"
)

// Runner orders a policy set by its constraints and executes it over a
// build tree.
type Runner struct {
	logger   *slog.Logger
	policies []Policy
}

// NewRunner creates a runner for the given policies.
func NewRunner(logger *slog.Logger, policies ...Policy) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, policies: policies}
}

// Execute runs every enabled policy in constraint order and returns the
// sorted report. Policy findings do not abort the run; framework
// failures (bad filters, conflicting constraints, cancellation) do.
func (r *Runner) Execute(ctx context.Context, run *Run) (*domain.Report, error) {
	ordered, err := orderPolicies(r.policies)
	if err != nil {
		return nil, err
	}

	for _, pol := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if run.Disabled(pol.Name()) {
			r.logger.Debug("policy disabled", "policy", pol.Name())
			continue
		}
		if t, ok := pol.(Testable); ok && !t.Test(run) {
			r.logger.Debug("policy not applicable", "policy", pol.Name())
			continue
		}

		if err := r.executeOne(ctx, run, pol); err != nil {
			return nil, err
		}
	}

	report := run.Report()
	r.logger.Info("policy run complete", "run_id", run.ID, "summary", report.Summary())
	return report, nil
}

func (r *Runner) executeOne(ctx context.Context, run *Run, pol Policy) error {
	ctx, span := telemetry.Tracer().Start(ctx, "policy."+pol.Name(),
		trace.WithAttributes(attribute.String("policy.name", pol.Name())))
	defer span.End()

	start := time.Now()
	before := len(run.Report().Findings)

	err := r.dispatch(ctx, run, pol)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
	}
	telemetry.RecordPolicyRun(ctx, telemetry.PolicyMetrics{
		Policy:   pol.Name(),
		Tree:     treeName(pol.Tree()),
		Outcome:  outcome,
		Findings: len(run.Report().Findings) - before,
		Duration: time.Since(start),
	})
	return err
}

func (r *Runner) dispatch(ctx context.Context, run *Run, pol Policy) error {
	if fp, ok := pol.(FilePolicy); ok {
		if err := r.walk(ctx, run, fp); err != nil {
			return fmt.Errorf("policy %s: %w", pol.Name(), err)
		}
	}
	if wp, ok := pol.(WholePolicy); ok {
		if err := wp.Do(ctx, run); err != nil {
			return fmt.Errorf("policy %s: %w", pol.Name(), err)
		}
	}
	if f, ok := pol.(Finisher); ok {
		if err := f.Finish(ctx, run); err != nil {
			return fmt.Errorf("policy %s: %w", pol.Name(), err)
		}
	}
	return nil
}

func (r *Runner) walk(ctx context.Context, run *Run, pol FilePolicy) error {
	filter, err := pol.Filter(run)
	if err != nil {
		return err
	}

	switch pol.Tree() {
	case TreeDestdir, TreeBuilddir:
		root := run.Tree.Destdir
		if pol.Tree() == TreeBuilddir {
			root = run.Tree.Builddir
		}
		if root == "" {
			r.logger.Debug("tree root not set", "policy", pol.Name())
			return nil
		}
		return walkRoot(ctx, root, filter, func(f File) error {
			return pol.DoFile(ctx, run, f)
		})
	case TreePackaged:
		paths := make([]string, 0, len(run.Tree.PathOwners))
		for p := range run.Tree.PathOwners {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			full := filepath.Join(run.Tree.Destdir, filepath.FromSlash(p))
			info, _ := os.Lstat(full)
			if !filter.Match(p, info) {
				continue
			}
			if err := pol.DoFile(ctx, run, File{Path: p, FullPath: full, Info: info}); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func walkRoot(ctx context.Context, root string, filter *Filter, fn func(File) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, matching filesystem
			// tolerant behaviour of the build system walkers.
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel := "/" + filepath.ToSlash(strings.TrimPrefix(strings.TrimPrefix(path, root), string(filepath.Separator)))
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !filter.Match(rel, info) {
			return nil
		}
		return fn(File{Path: rel, FullPath: path, Info: info})
	})
}

// orderPolicies resolves ordering constraints into a stable topological
// order. Required-prior constraints on absent policies and constraint
// cycles both fail with ErrPolicyConflict.
func orderPolicies(policies []Policy) ([]Policy, error) {
	index := make(map[string]int, len(policies))
	for i, p := range policies {
		index[strings.ToLower(p.Name())] = i
	}

	// edges[i] holds the policies that must run before policies[i].
	edges := make(map[int]map[int]bool)
	addEdge := func(before, after int) {
		if edges[after] == nil {
			edges[after] = make(map[int]bool)
		}
		edges[after][before] = true
	}

	for i, p := range policies {
		for _, c := range p.Requires() {
			j, present := index[strings.ToLower(c.Policy)]
			switch c.Kind {
			case RequiredPrior:
				if !present {
					return nil, fmt.Errorf("%w: %s requires %s", domain.ErrPolicyConflict, p.Name(), c.Policy)
				}
				addEdge(j, i)
			case ConditionalPrior:
				if present {
					addEdge(j, i)
				}
			case ConditionalSubsequent:
				if present {
					addEdge(i, j)
				}
			}
		}
	}

	// Kahn's algorithm, preferring registration order among ready nodes
	// so unconstrained policies keep a deterministic sequence.
	indegree := make([]int, len(policies))
	for after, befores := range edges {
		indegree[after] = len(befores)
	}

	var ordered []Policy
	done := make([]bool, len(policies))
	for len(ordered) < len(policies) {
		next := -1
		for i := range policies {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, fmt.Errorf("%w: ordering cycle detected", domain.ErrPolicyConflict)
		}
		done[next] = true
		ordered = append(ordered, policies[next])
		for after, befores := range edges {
			if befores[next] {
				delete(befores, next)
				indegree[after]--
			}
		}
	}
	return ordered, nil
}

func treeName(t Tree) string {
	switch t {
	case TreeDestdir:
		return "destdir"
	case TreeBuilddir:
		return "builddir"
	case TreePackaged:
		return "packaged"
	default:
		return "none"
	}
}

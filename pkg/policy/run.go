package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/trovedb"
)

// Settings carries the per-policy knobs a recipe or site config can set.
type Settings struct {
	// Disabled removes the policy from the run entirely.
	Disabled bool
	// Exceptions extends the policy's exception expressions. Enforcement
	// policies also accept exact "pkg:comp" names here.
	Exceptions []string
}

// Run is the shared state of one policy execution over a build tree.
type Run struct {
	ID   string
	Tree *domain.BuildTree
	DB   trovedb.Store
	// Repo and LabelPath feed repository resolution; both may be empty.
	Repo      trovedb.Repository
	LabelPath []string
	Logger    *slog.Logger
	// Strict upgrades enforcement findings from warnings to errors.
	Strict   bool
	Settings map[string]Settings

	mu     sync.Mutex
	report domain.Report
}

// NewRun assembles a run with a fresh identifier.
func NewRun(tree *domain.BuildTree, db trovedb.Store, logger *slog.Logger) *Run {
	if logger == nil {
		logger = slog.Default()
	}
	return &Run{
		ID:     uuid.NewString(),
		Tree:   tree,
		DB:     db,
		Logger: logger,
	}
}

// Exceptions returns the configured exception expressions for a policy.
func (r *Run) Exceptions(policy string) []string {
	return r.Settings[policy].Exceptions
}

// Disabled reports whether a policy is switched off for this run.
func (r *Run) Disabled(policy string) bool {
	return r.Settings[policy].Disabled
}

// Infof records an informational finding.
func (r *Run) Infof(policy, path, format string, args ...any) {
	r.add(domain.Finding{Policy: policy, Level: domain.LevelInfo, Path: path, Message: fmt.Sprintf(format, args...)})
}

// Warnf records a warning finding.
func (r *Run) Warnf(policy, path, format string, args ...any) {
	r.add(domain.Finding{Policy: policy, Level: domain.LevelWarning, Path: path, Message: fmt.Sprintf(format, args...)})
}

// Errorf records an error finding.
func (r *Run) Errorf(policy, path, format string, args ...any) {
	r.add(domain.Finding{Policy: policy, Level: domain.LevelError, Path: path, Message: fmt.Sprintf(format, args...)})
}

// Talkf records at enforcement severity: an error under strict mode,
// demoted to a warning on bootstrap or local-label builds.
func (r *Run) Talkf(policy, path, format string, args ...any) {
	level := domain.LevelError
	if !r.Strict || r.Tree.Bootstrap || r.Tree.LocalBuild() {
		level = domain.LevelWarning
	}
	r.add(domain.Finding{Policy: policy, Level: level, Path: path, Message: fmt.Sprintf(format, args...)})
}

// SuggestBuildRequires records trove names the recipe should add to its
// buildRequires list.
func (r *Run) SuggestBuildRequires(policy string, names ...string) {
	if len(names) == 0 {
		return
	}
	r.mu.Lock()
	r.report.MissingBuildRequires = append(r.report.MissingBuildRequires, names...)
	r.mu.Unlock()
	r.Logger.Debug("missing buildRequires", "policy", policy, "troves", names)
}

// RecordMove notes that a destdir policy relocated a file.
func (r *Run) RecordMove(policy, from, to string) {
	r.Infof(policy, from, "moved to %s", to)
}

func (r *Run) add(f domain.Finding) {
	r.mu.Lock()
	r.report.Add(f)
	r.mu.Unlock()

	attrs := []any{"policy", f.Policy}
	if f.Path != "" {
		attrs = append(attrs, "path", f.Path)
	}
	switch f.Level {
	case domain.LevelError:
		r.Logger.Error(f.Message, attrs...)
	case domain.LevelWarning:
		r.Logger.Warn(f.Message, attrs...)
	default:
		r.Logger.Info(f.Message, attrs...)
	}
}

// Report returns the findings recorded so far, sorted.
func (r *Run) Report() *domain.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := domain.Report{
		RunID:                r.ID,
		Findings:             append([]domain.Finding(nil), r.report.Findings...),
		MissingBuildRequires: append([]string(nil), r.report.MissingBuildRequires...),
	}
	out.Sort()
	return &out
}

package domain

import (
	"fmt"
	"sort"
)

// Level grades a finding.
type Level string

// Finding levels, in increasing severity.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Finding is one diagnostic emitted by a policy.
type Finding struct {
	Policy      string   `json:"policy"`
	Level       Level    `json:"level"`
	Path        string   `json:"path,omitempty"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Report collects the outcome of one policy run.
type Report struct {
	RunID    string    `json:"run_id"`
	Findings []Finding `json:"findings"`
	// MissingBuildRequires aggregates the trove names the enforcement
	// policies recommend adding to the recipe's buildRequires list.
	MissingBuildRequires []string `json:"missing_build_requires,omitempty"`
}

// Add appends a finding.
func (r *Report) Add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// Errors returns the error-level findings.
func (r *Report) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Level == LevelError {
			out = append(out, f)
		}
	}
	return out
}

// Sort orders findings by policy, then path, then message, making
// report output deterministic regardless of walk order.
func (r *Report) Sort() {
	sort.Slice(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.Policy != b.Policy {
			return a.Policy < b.Policy
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Message < b.Message
	})
	sort.Strings(r.MissingBuildRequires)
	r.MissingBuildRequires = dedupe(r.MissingBuildRequires)
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// Summary renders a single-line digest suitable for log output.
func (r *Report) Summary() string {
	var errs, warns, infos int
	for _, f := range r.Findings {
		switch f.Level {
		case LevelError:
			errs++
		case LevelWarning:
			warns++
		default:
			infos++
		}
	}
	return fmt.Sprintf("findings: error=%d warning=%d info=%d", errs, warns, infos)
}

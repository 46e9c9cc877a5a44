package enforce

import (
	"bufio"
	"context"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conarypm/conary-policy/pkg/policy"
)

// logScanner is the shared machinery for the policies that read build
// system logs out of the builddir and turn the paths those logs mention
// into buildRequires suggestions.
type logScanner struct {
	name       string
	inclusions []string
	// foundRe extracts a known-needed absolute path from single lines.
	foundRe *regexp.Regexp
	// greylist maps a found path to confirmation checks: the entry only
	// counts when a sibling file matches one of the regexes. An empty
	// check list blacklists the path unconditionally.
	greylist map[string][]greyCheck
	// scanStanzas enables the configure check/result stanza handling.
	scanStanzas bool

	foundPaths map[string]bool
}

type greyCheck struct {
	file string
	re   *regexp.Regexp
}

// Name implements policy.Policy.
func (s *logScanner) Name() string { return s.name }

// Tree implements policy.Policy.
func (s *logScanner) Tree() policy.Tree { return policy.TreeBuilddir }

// Requires implements policy.Policy.
func (s *logScanner) Requires() []policy.Constraint { return nil }

// Test implements policy.Testable.
func (s *logScanner) Test(run *policy.Run) bool {
	s.foundPaths = make(map[string]bool)
	return run.Tree.Builddir != "" && run.DB != nil
}

// Filter implements policy.FilePolicy.
func (s *logScanner) Filter(run *policy.Run) (*policy.Filter, error) {
	return policy.NewFilter(run, s.name, policy.FilterSpec{Inclusions: s.inclusions})
}

var (
	checkingRe = regexp.MustCompile(`^configure:[0-9]+: checking for\s+(.*)$`)
	resultRe   = regexp.MustCompile(`^configure:[0-9]+: result:\s*(.*)$`)
	headerRe   = regexp.MustCompile(`^[^/].*\.h$`)
)

// DoFile implements policy.FilePolicy.
func (s *logScanner) DoFile(_ context.Context, run *policy.Run, f policy.File) error {
	file, err := os.Open(f.FullPath)
	if err != nil {
		return nil
	}
	defer file.Close()

	var sought string
	var stanza []string
	collecting := false

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")

		if m := s.foundRe.FindStringSubmatch(line); m != nil {
			s.addFound(run, f.FullPath, m[1])
		}

		if !s.scanStanzas {
			continue
		}
		if collecting {
			stanza = append(stanza, line)
			if m := resultRe.FindStringSubmatch(line); m != nil {
				s.handleCheck(run, f.FullPath, sought, m[1], stanza)
				collecting = false
				stanza = nil
			}
		}
		if m := checkingRe.FindStringSubmatch(line); m != nil {
			// A new check before the previous one's result means the
			// stanza lost sync; drop it rather than guess.
			sought = m[1]
			stanza = []string{line}
			collecting = true
		}
	}
	return nil
}

// handleCheck interprets one configure "checking for ... result: ..."
// stanza.
func (s *logScanner) handleCheck(run *policy.Run, logPath, sought, result string, stanza []string) {
	success := parseSuccess(result)
	if success == "" {
		return
	}

	if headerRe.MatchString(sought) {
		includeDirs := []string{run.Tree.Macro("includedir")}
		for _, line := range stanza {
			for _, token := range strings.Fields(line) {
				if strings.HasPrefix(token, "-I/") && len(token) > 3 {
					includeDirs = append(includeDirs, token[2:])
				}
			}
		}
		for _, dir := range includeDirs {
			if dir == "" {
				continue
			}
			seek := path.Join(dir, sought)
			if fileExists(filepath.FromSlash(seek)) {
				s.foundPaths[seek] = true
				break
			}
		}
	}

	var candidate string
	switch {
	case strings.HasPrefix(sought, "/"):
		candidate = sought
	case strings.HasPrefix(success, "/"):
		// "checking for egrep" / "result: /bin/grep -E"
		candidate = success
	}
	if candidate != "" {
		seek := strings.Fields(candidate)[0]
		if fileExists(filepath.FromSlash(seek)) {
			s.addFound(run, logPath, seek)
		}
	}
}

// parseSuccess returns the meaningful part of a configure result, or
// the empty string for failures.
func parseSuccess(result string) string {
	if result == "" {
		return ""
	}
	switch strings.Fields(result)[0] {
	case "no", "not", "done", "failed", "none", "disabled":
		return ""
	}
	return result
}

func (s *logScanner) addFound(run *policy.Run, logPath, found string) {
	checks, greylisted := s.greylist[found]
	if !greylisted {
		s.foundPaths[found] = true
		return
	}
	// Greylisted entries need a confirming line in a sibling file.
	for _, check := range checks {
		other := filepath.Join(filepath.Dir(logPath), check.file)
		if fileMatchesLine(other, check.re) {
			s.foundPaths[found] = true
			return
		}
	}
	run.Logger.Debug("greylist dropped finding", "policy", s.name, "path", found)
}

func fileMatchesLine(path string, re *regexp.Regexp) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if re.MatchString(scanner.Text()) {
			return true
		}
	}
	return false
}

// Finish implements policy.Finisher: resolve every found path to the
// trove owning it and compare with the buildRequires closure.
func (s *logScanner) Finish(ctx context.Context, run *policy.Run) error {
	if len(s.foundPaths) == 0 {
		return nil
	}

	exceptions, err := newComponentExceptions(run, s.name)
	if err != nil {
		return err
	}
	// Never suggest a recursive buildRequires on the package itself.
	for name := range run.Tree.Components {
		exceptions.exact[name] = true
	}

	missing := make(map[string]bool)
	for _, found := range sortedSet(s.foundPaths) {
		for _, trove := range run.DB.TrovesByPath(ctx, found) {
			candidate, ok := bestProvider(ctx, run.DB, trove.Name)
			if !ok || exceptions.excluded(candidate) {
				continue
			}
			if !run.Tree.HasBuildRequires(candidate) {
				run.Warnf(s.name, found, "path %s suggests buildRequires: %s", found, candidate)
				missing[candidate] = true
			}
		}
	}

	if len(missing) > 0 {
		names := sortedSet(missing)
		run.Warnf(s.name, "", "Probably add to buildRequires: %s", strings.Join(names, " "))
		run.SuggestBuildRequires(s.name, names...)
	}
	return nil
}

func newConfigLog() *logScanner {
	return &logScanner{
		name:        ConfigLogName,
		inclusions:  []string{`.*/config\.log$`},
		foundRe:     regexp.MustCompile(`^[^ ]+: found (/([^ ]+)?bin/[^ ]+)$`),
		scanStanzas: true,
		greylist: map[string][]greyCheck{
			"/usr/X11R6/bin/makedepend": nil,
			"/usr/bin/g77": {
				{file: "configure.ac", re: regexp.MustCompile(`\s*AC_PROG_F77`)},
				{file: "configure.in", re: regexp.MustCompile(`\s*AC_PROG_F77`)},
			},
			"/usr/bin/gfortran": {
				{file: "configure.ac", re: regexp.MustCompile(`\s*AC_PROG_F77`)},
				{file: "configure.in", re: regexp.MustCompile(`\s*AC_PROG_F77`)},
			},
			"/usr/bin/bison": {
				{file: "configure.ac", re: regexp.MustCompile(`\s*AC_PROC_YACC`)},
				{file: "configure.in", re: regexp.MustCompile(`\s*(AC_PROG_YACC|YACC=)`)},
			},
		},
	}
}

func newCMakeCache() *logScanner {
	return &logScanner{
		name:       CMakeCacheName,
		inclusions: []string{`.*/CMakeCache\.txt$`},
		foundRe:    regexp.MustCompile(`^[^ ]+:FILEPATH=(/[^ ]+)$`),
	}
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

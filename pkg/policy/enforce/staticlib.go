package enforce

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
)

// StaticLib scans the captured build log for compiler or linker
// invocations that pull in -lfoo where no shared library requirement
// was discovered from the packaged files, which is the signature of
// static linking against a library outside the package.
type StaticLib struct {
	warnedSoNames map[string]bool
}

// Name implements policy.Policy.
func (*StaticLib) Name() string { return StaticLibName }

// Tree implements policy.Policy.
func (*StaticLib) Tree() policy.Tree { return policy.TreeNone }

// Requires implements policy.Policy: the soname policy must get the
// first word so this one only covers what it could not see.
func (*StaticLib) Requires() []policy.Constraint {
	return []policy.Constraint{
		{Policy: SonameName, Kind: policy.ConditionalPrior},
	}
}

// Test implements policy.Testable.
func (p *StaticLib) Test(run *policy.Run) bool {
	if run.Tree.BuildLogPath == "" || run.DB == nil {
		return false
	}
	// Suggestions already made for shared libraries count as satisfied.
	p.warnedSoNames = make(map[string]bool)
	for _, name := range run.Report().MissingBuildRequires {
		p.warnedSoNames[name] = true
	}
	return true
}

var (
	libTokenRe    = regexp.MustCompile(`^-l[a-zA-Z]+$`)
	libDirTokenRe = regexp.MustCompile(`^-L/..*$`)
)

// linkLineRe builds the line matcher from the recipe's compiler macros.
func linkLineRe(tree *domain.BuildTree) *regexp.Regexp {
	cc := tree.Macro("cc")
	if cc == "" {
		cc = "gcc"
	}
	cxx := tree.Macro("cxx")
	if cxx == "" {
		cxx = "g++"
	}
	pattern := fmt.Sprintf(`^(\+ )?(%s|%s|ld)( | .* )-l[a-zA-Z]+($| )`,
		regexp.QuoteMeta(cc), regexp.QuoteMeta(cxx))
	return regexp.MustCompile(pattern)
}

// Do implements policy.WholePolicy.
func (p *StaticLib) Do(ctx context.Context, run *policy.Run) error {
	f, err := os.Open(run.Tree.BuildLogPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	exceptions, err := newComponentExceptions(run, StaticLibName)
	if err != nil {
		return err
	}

	lineRe := linkLineRe(run.Tree)
	sharedLibs := p.sharedLibraryRequires(run)
	troveLibs := p.packagedLibraries(run)
	buildDirLibs := p.buildDirLibraries(run.Tree.Builddir)
	libdir := run.Tree.Macro("libdir")
	if libdir == "" {
		libdir = "/usr/lib"
	}

	foundLibNames := make(map[string]bool)
	missing := make(map[string]bool)
	tooManyChoices := make(map[string][]string)
	noTroveFound := make(map[string]string)
	noLibraryFound := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !lineRe.MatchString(line) {
			continue
		}
		tokens := strings.Fields(line)

		libDirs := []string{libdir, "/lib"}
		for _, token := range tokens {
			if !libDirTokenRe.MatchString(token) {
				continue
			}
			dir := strings.TrimRight(token[2:], "/")
			if strings.HasPrefix(dir, run.Tree.Destdir) || strings.HasPrefix(dir, run.Tree.Builddir) {
				continue
			}
			libDirs = append(libDirs, dir)
		}

		for _, token := range tokens {
			if !libTokenRe.MatchString(token) {
				continue
			}
			libName := token[2:]
			if foundLibNames[libName] {
				continue
			}
			if sharedLibs[libName] || troveLibs[libName] || buildDirLibs[libName] {
				foundLibNames[libName] = true
				continue
			}

			foundLibs := p.findLibraries(run.Tree.Destdir, libDirs, libName)
			troveSet := p.trovesForPaths(ctx, run, exceptions, foundLibs)

			switch {
			case len(troveSet) == 1:
				recommended := sortedSet(troveSet)[0]
				if !run.Tree.HasBuildRequires(recommended) && !p.warnedSoNames[recommended] {
					run.Infof(StaticLibName, "", "Add '%s' to buildRequires for -l%s (%s)",
						recommended, libName, strings.Join(foundLibs, ", "))
					missing[recommended] = true
				}
				foundLibNames[libName] = true
			case len(troveSet) > 1:
				tooManyChoices[libName] = sortedSet(troveSet)
			case len(foundLibs) > 0:
				noTroveFound[libName] = strings.Join(foundLibs, " ")
			default:
				// A later line may carry a useful -L, so keep looking.
				noLibraryFound[libName] = true
			}
		}
	}

	for _, libName := range sortedSet(boolKeys(tooManyChoices)) {
		if !foundLibNames[libName] {
			foundLibNames[libName] = true
			run.Warnf(StaticLibName, "",
				"Multiple troves provide -l%s: choose one of the following entries for buildRequires: %s",
				libName, strings.Join(tooManyChoices[libName], " "))
		}
	}
	for _, libName := range sortedSet(stringKeys(noTroveFound)) {
		if !foundLibNames[libName] {
			foundLibNames[libName] = true
			run.Infof(StaticLibName, "",
				"No trove found matching any of files %s for -l%s: possible missing buildRequires",
				noTroveFound[libName], libName)
		}
	}
	for _, libName := range sortedSet(noLibraryFound) {
		if !foundLibNames[libName] {
			run.Infof(StaticLibName, "",
				"No files found matching -l%s: possible missing buildRequires", libName)
		}
	}

	if len(missing) > 0 {
		names := sortedSet(missing)
		run.Talkf(StaticLibName, "", "add to buildRequires: %s", strings.Join(names, " "))
		run.SuggestBuildRequires(StaticLibName, names...)
	}
	return nil
}

// sharedLibraryRequires collects the library basenames already covered
// by soname requirements, in both lib-prefixed and bare forms.
func (p *StaticLib) sharedLibraryRequires(run *policy.Run) map[string]bool {
	out := make(map[string]bool)
	for _, dep := range run.Tree.AllRequires().ByClass(domain.DepSoname) {
		soname := strings.Split(path.Base(dep.Name), ".")[0]
		out[soname] = true
		if strings.HasPrefix(soname, "lib") {
			out[soname[3:]] = true
		} else {
			out["lib"+soname] = true
		}
	}
	return out
}

// packagedLibraries collects library names shipped inside the package.
func (p *StaticLib) packagedLibraries(run *policy.Run) map[string]bool {
	out := make(map[string]bool)
	for packaged := range run.Tree.PathOwners {
		base := path.Base(packaged)
		if strings.HasPrefix(base, "lib") && strings.Contains(base, ".") {
			out[strings.Split(base[3:], ".")[0]] = true
		}
	}
	return out
}

// buildDirLibraries walks the builddir once; a library built inside the
// package is what the link line refers to in any case.
func (p *StaticLib) buildDirLibraries(builddir string) map[string]bool {
	out := make(map[string]bool)
	if builddir == "" {
		return out
	}
	_ = filepath.WalkDir(builddir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, "lib") && strings.Contains(name, ".") {
			out[strings.Split(name[3:], ".")[0]] = true
		}
		return nil
	})
	return out
}

// findLibraries looks for lib<name>.a or lib<name>.so in the candidate
// directories, preferring the destdir copy.
func (p *StaticLib) findLibraries(destdir string, libDirs []string, libName string) []string {
	var out []string
	for _, dir := range libDirs {
		for _, ext := range []string{".a", ".so"} {
			rel := path.Join(dir, "lib"+libName+ext)
			if fileExists(filepath.Join(destdir, filepath.FromSlash(rel))) || fileExists(filepath.FromSlash(rel)) {
				out = append(out, rel)
				break
			}
		}
	}
	return out
}

func (p *StaticLib) trovesForPaths(ctx context.Context, run *policy.Run, exceptions *componentExceptions, paths []string) map[string]bool {
	out := make(map[string]bool)
	for _, libPath := range paths {
		for _, trove := range run.DB.TrovesByPath(ctx, libPath) {
			candidate, ok := bestProvider(ctx, run.DB, trove.Name)
			if ok && !exceptions.excluded(candidate) {
				out[candidate] = true
			}
		}
	}
	return out
}

func boolKeys(m map[string][]string) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func stringKeys(m map[string]string) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

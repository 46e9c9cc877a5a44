package requires

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
	"github.com/conarypm/conary-policy/pkg/trovedb"
)

func newRun(t *testing.T, db *trovedb.MemoryStore) *policy.Run {
	t.Helper()
	tree := &domain.BuildTree{
		Destdir: t.TempDir(),
		Macros: map[string]string{
			"prefix":  "/usr",
			"libdir":  "/usr/lib64",
			"datadir": "/usr/share",
		},
	}
	var store trovedb.Store
	if db != nil {
		store = db
	}
	run := policy.NewRun(tree, store, nil)
	if db != nil {
		run.Repo = db
	}
	return run
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func execute(t *testing.T, run *policy.Run, pols ...policy.Policy) *domain.Report {
	t.Helper()
	report, err := policy.NewRunner(nil, pols...).Execute(context.Background(), run)
	require.NoError(t, err)
	return report
}

func TestPkgConfigRequiresInternalModule(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())

	// foo.pc requires bar, and bar.pc is packaged by this build.
	writeFile(t, filepath.Join(run.Tree.Destdir, "usr/lib64/pkgconfig/foo.pc"),
		"Name: foo\nRequires: bar\n")
	writeFile(t, filepath.Join(run.Tree.Destdir, "usr/lib64/pkgconfig/bar.pc"),
		"Name: bar\n")
	run.Tree.AddPath("foo:devellib", "/usr/lib64/pkgconfig/foo.pc")
	run.Tree.AddPath("bar:devellib", "/usr/lib64/pkgconfig/bar.pc")

	execute(t, run, &PkgConfigRequires{})

	owner := run.Tree.Components["foo:devellib"]
	assert.True(t, owner.Requires.Has(domain.NewDependency(domain.DepTrove, "bar:devellib")))
}

func TestPkgConfigRequiresPrefersDevel(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())

	writeFile(t, filepath.Join(run.Tree.Destdir, "usr/lib64/pkgconfig/foo.pc"),
		"Name: foo\nLibs: -lbar\n")
	writeFile(t, filepath.Join(run.Tree.Destdir, "usr/lib64/libbar.so"), "")
	run.Tree.AddPath("foo:devellib", "/usr/lib64/pkgconfig/foo.pc")
	run.Tree.AddPath("bar:lib", "/usr/lib64/libbar.so")
	run.Tree.AddPath("bar:devel", "/usr/include/bar.h")

	execute(t, run, &PkgConfigRequires{})

	owner := run.Tree.Components["foo:devellib"]
	assert.True(t, owner.Requires.Has(domain.NewDependency(domain.DepTrove, "bar:devel")))
	assert.False(t, owner.Requires.Has(domain.NewDependency(domain.DepTrove, "bar:lib")))
}

func TestPkgConfigRequiresMissingModuleWarns(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())

	writeFile(t, filepath.Join(run.Tree.Destdir, "usr/lib64/pkgconfig/foo.pc"),
		"Name: foo\nRequires: nonexistent-module-xyzzy\n")
	run.Tree.AddPath("foo:devellib", "/usr/lib64/pkgconfig/foo.pc")

	report := execute(t, run, &PkgConfigRequires{})

	require.NotEmpty(t, report.Findings)
	assert.Contains(t, report.Findings[0].Message, "nonexistent-module-xyzzy.pc not found")
}

func installedTrove(name string, paths ...string) *domain.Trove {
	t := &domain.Trove{
		Name:     name,
		Provides: domain.NewDependencySet(domain.NewDependency(domain.DepTrove, name)),
		Requires: domain.NewDependencySet(),
		Paths:    paths,
	}
	return t
}

func TestResolveFileDepsSwapsLocalTrove(t *testing.T) {
	db := trovedb.NewMemoryStore()
	// bash owns /bin/sh but does not provide it as a file dependency.
	db.AddTrove(installedTrove("bash:runtime", "/bin/sh"))

	run := newRun(t, db)
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	comp := run.Tree.Components["foo:runtime"]
	comp.Requires.Add(domain.NewDependency(domain.DepFile, "/bin/sh"))

	execute(t, run, &ResolveFileDependencies{})

	assert.False(t, comp.Requires.Has(domain.NewDependency(domain.DepFile, "/bin/sh")))
	assert.True(t, comp.Requires.Has(domain.NewDependency(domain.DepTrove, "bash:runtime")))
}

func TestResolveFileDepsKeepsDirectlyProvidedFiles(t *testing.T) {
	db := trovedb.NewMemoryStore()
	perl := installedTrove("perl:runtime", "/usr/bin/perl")
	perl.Provides.Add(domain.NewDependency(domain.DepFile, "/usr/bin/perl"))
	db.AddTrove(perl)

	run := newRun(t, db)
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	comp := run.Tree.Components["foo:runtime"]
	comp.Requires.Add(domain.NewDependency(domain.DepFile, "/usr/bin/perl"))

	execute(t, run, &ResolveFileDependencies{})

	assert.True(t, comp.Requires.Has(domain.NewDependency(domain.DepFile, "/usr/bin/perl")))
}

func TestResolveFileDepsSelfProvidedSkipped(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	comp := run.Tree.Components["foo:runtime"]
	comp.Provides.Add(domain.NewDependency(domain.DepFile, "/usr/libexec/foo-helper"))
	comp.Requires.Add(domain.NewDependency(domain.DepFile, "/usr/libexec/foo-helper"))

	execute(t, run, &ResolveFileDependencies{})

	assert.True(t, comp.Requires.Has(domain.NewDependency(domain.DepFile, "/usr/libexec/foo-helper")))
}

func TestResolveFileDepsRepoFallback(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddLabelTrove("conary.example.com@rpl:1", installedTrove("vim:runtime", "/usr/bin/vim"))

	run := newRun(t, db)
	run.LabelPath = []string{"conary.example.com@rpl:1"}
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	comp := run.Tree.Components["foo:runtime"]
	comp.Requires.Add(domain.NewDependency(domain.DepFile, "/usr/bin/vim"))

	execute(t, run, &ResolveFileDependencies{})

	assert.False(t, comp.Requires.Has(domain.NewDependency(domain.DepFile, "/usr/bin/vim")))
	assert.True(t, comp.Requires.Has(domain.NewDependency(domain.DepTrove, "vim:runtime")))
}

func TestResolveFileDepsExceptionsLeftAlone(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(installedTrove("bash:runtime", "/bin/sh"))

	run := newRun(t, db)
	run.Settings = map[string]policy.Settings{
		ResolveFileDependenciesName: {Exceptions: []string{`/bin/.*`}},
	}
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	comp := run.Tree.Components["foo:runtime"]
	comp.Requires.Add(domain.NewDependency(domain.DepFile, "/bin/sh"))

	execute(t, run, &ResolveFileDependencies{})

	assert.True(t, comp.Requires.Has(domain.NewDependency(domain.DepFile, "/bin/sh")))
}

func TestResolveFileDepsBootstrapSkipped(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())
	run.Tree.Bootstrap = true
	assert.False(t, (&ResolveFileDependencies{}).Test(run))
}

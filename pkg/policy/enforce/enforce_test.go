package enforce

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
		Destdir:  t.TempDir(),
		Builddir: t.TempDir(),
		Macros: map[string]string{
			"prefix":     "/usr",
			"bindir":     "/usr/bin",
			"libdir":     "/usr/lib64",
			"datadir":    "/usr/share",
			"includedir": "/usr/include",
			"cc":         "gcc",
			"cxx":        "g++",
		},
	}
	var store trovedb.Store
	if db != nil {
		store = db
	}
	return policy.NewRun(tree, store, nil)
}

func libraryTrove(name, soname string, paths ...string) *domain.Trove {
	t := &domain.Trove{
		Name:     name,
		Provides: domain.NewDependencySet(domain.NewDependency(domain.DepTrove, name)),
		Requires: domain.NewDependencySet(),
		Paths:    paths,
	}
	if soname != "" {
		t.Provides.Add(domain.NewDependency(domain.DepSoname, soname))
	}
	return t
}

func execute(t *testing.T, run *policy.Run, pols ...policy.Policy) *domain.Report {
	t.Helper()
	report, err := policy.NewRunner(nil, pols...).Execute(context.Background(), run)
	require.NoError(t, err)
	return report
}

func TestSonameEnforcerSuggestsProvider(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("zlib:lib", "ELF64/libz.so.1"))
	db.AddTrove(libraryTrove("zlib:devel", ""))

	run := newRun(t, db)
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	run.Tree.Components["foo:runtime"].Requires.Add(
		domain.NewDependency(domain.DepSoname, "ELF64/libz.so.1"))

	report := execute(t, run, newClassEnforcer(SonameName, domain.DepSoname, false))

	assert.Equal(t, []string{"zlib:devel"}, report.MissingBuildRequires)
}

func TestSonameEnforcerSatisfiedByBuildRequires(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("zlib:lib", "ELF64/libz.so.1"))
	db.AddTrove(libraryTrove("zlib:devel", ""))

	run := newRun(t, db)
	run.Tree.BuildRequires = []string{"zlib:devel"}
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	run.Tree.Components["foo:runtime"].Requires.Add(
		domain.NewDependency(domain.DepSoname, "ELF64/libz.so.1"))

	report := execute(t, run, newClassEnforcer(SonameName, domain.DepSoname, false))

	assert.Empty(t, report.MissingBuildRequires)
}

func TestSonameEnforcerSelfProvidedSkipped(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())
	run.Tree.AddPath("foo:lib", "/usr/lib64/libfoo.so.1")
	comp := run.Tree.Components["foo:lib"]
	comp.Provides.Add(domain.NewDependency(domain.DepSoname, "ELF64/libfoo.so.1"))
	comp.Requires.Add(domain.NewDependency(domain.DepSoname, "ELF64/libfoo.so.1"))

	enforcer := newClassEnforcer(SonameName, domain.DepSoname, false)
	assert.False(t, enforcer.Test(run))
}

func TestUnprovidedDependencyGuidance(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())
	run.Strict = true
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	run.Tree.Components["foo:runtime"].Requires.Add(
		domain.NewDependency(domain.DepSoname, "ELF64/libnowhere.so.9"))

	report := execute(t, run, newClassEnforcer(SonameName, domain.DepSoname, false))

	require.NotEmpty(t, report.Errors())
	var messages []string
	for _, f := range report.Errors() {
		messages = append(messages, f.Message)
	}
	assert.Contains(t, messages,
		"The following dependencies are not resolved within the package or in the system database: soname: ELF64/libnowhere.so.9")
}

func TestJavaEnforcerOnlyWarns(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())
	run.Strict = true
	run.Tree.AddPath("foo:java", "/usr/share/java/foo.jar")
	run.Tree.Components["foo:java"].Requires.Add(
		domain.NewDependency(domain.DepJava, "org/example/Missing"))

	report := execute(t, run, newClassEnforcer(JavaName, domain.DepJava, true))

	assert.Empty(t, report.Errors())
	assert.NotEmpty(t, report.Findings)
}

func TestCILEnforcerSuggestsMono(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())
	run.Tree.AddPath("foo:cil", "/usr/lib/foo.dll")
	run.Tree.Components["foo:cil"].Requires.Add(
		domain.NewDependency(domain.DepCIL, "System.Data"))

	report := execute(t, run, newCILEnforcer())

	assert.Contains(t, report.MissingBuildRequires, "mono:devel")
}

func TestComponentExceptions(t *testing.T) {
	run := newRun(t, nil)
	run.Settings = map[string]policy.Settings{
		"Test": {Exceptions: []string{"zlib:devel", `boost-.*`}},
	}
	ce, err := newComponentExceptions(run, "Test")
	require.NoError(t, err)

	assert.True(t, ce.excluded("zlib:devel"))
	assert.True(t, ce.excluded("boost-python:devel"))
	assert.False(t, ce.excluded("glibc:devel"))
	assert.Equal(t, []string{"glibc:devel"},
		ce.filter([]string{"zlib:devel", "glibc:devel"}))
}

func TestBestProviderPrefersDevel(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("zlib:lib", ""))
	db.AddTrove(libraryTrove("zlib:devel", ""))

	name, ok := bestProvider(context.Background(), db, "zlib:lib")
	require.True(t, ok)
	assert.Equal(t, "zlib:devel", name)

	onlyLib := trovedb.NewMemoryStore()
	onlyLib.AddTrove(libraryTrove("zlib:lib", ""))
	name, ok = bestProvider(context.Background(), onlyLib, "zlib:lib")
	require.True(t, ok)
	assert.Equal(t, "zlib:lib", name)
}

func TestReduceCandidates(t *testing.T) {
	db := trovedb.NewMemoryStore()
	devel := libraryTrove("zlib:devel", "")
	devel.Provides.Add(domain.NewDependency(DepTestMarker, "zlib-headers"))
	devellib := libraryTrove("zlib:devellib", "")
	devellib.Requires.Add(domain.NewDependency(DepTestMarker, "zlib-headers"))
	db.AddTrove(devel)
	db.AddTrove(devellib)

	kept := reduceCandidates(context.Background(), db,
		[]string{"zlib:devel", "zlib:devellib"})
	assert.Equal(t, []string{"zlib:devel"}, kept)
}

// DepTestMarker is a synthetic class for exercising satisfaction logic.
const DepTestMarker = domain.DepClass("marker")

func TestConfigLogSuggestsBuildRequires(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("findutils:runtime", "", "/usr/bin/find"))

	run := newRun(t, db)
	logPath := filepath.Join(run.Tree.Builddir, "config.log")
	require.NoError(t, os.WriteFile(logPath,
		[]byte("configure:1234: found /usr/bin/find\n"), 0o644))

	report := execute(t, run, newConfigLog())

	assert.Contains(t, report.MissingBuildRequires, "findutils:runtime")
}

func TestConfigLogStanzaResult(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("grep:runtime", "", "/bin/grep"))

	run := newRun(t, db)
	log := "configure:100: checking for egrep\n" +
		"configure:101: result: /bin/grep -E\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(run.Tree.Builddir, "config.log"), []byte(log), 0o644))

	report := execute(t, run, newConfigLog())

	if _, err := os.Lstat("/bin/grep"); err == nil {
		assert.Contains(t, report.MissingBuildRequires, "grep:runtime")
	} else {
		t.Skip("/bin/grep not present")
	}
}

func TestCMakeCacheFilepathEntries(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("zlib:devel", "", "/usr/include/zlib.h"))

	run := newRun(t, db)
	cache := "ZLIB_INCLUDE_DIR:FILEPATH=/usr/include/zlib.h\n"
	require.NoError(t, os.WriteFile(
		filepath.Join(run.Tree.Builddir, "CMakeCache.txt"), []byte(cache), 0o644))

	report := execute(t, run, newCMakeCache())

	assert.Contains(t, report.MissingBuildRequires, "zlib:devel")
}

func TestLocalizationRequiresIntltool(t *testing.T) {
	run := newRun(t, nil)
	potfiles := filepath.Join(run.Tree.Builddir, "po/POTFILES.in")
	require.NoError(t, os.MkdirAll(filepath.Dir(potfiles), 0o755))
	require.NoError(t, os.WriteFile(potfiles, []byte("src/main.c\n"), 0o644))

	report := execute(t, run, &Localization{})

	assert.Contains(t, report.MissingBuildRequires, "gettext:runtime")
	assert.Contains(t, report.MissingBuildRequires, "intltool:runtime")
}

func TestLocalizationSatisfied(t *testing.T) {
	run := newRun(t, nil)
	run.Tree.BuildRequires = []string{"gettext:runtime", "intltool:runtime"}
	potfiles := filepath.Join(run.Tree.Builddir, "po/POTFILES.in")
	require.NoError(t, os.MkdirAll(filepath.Dir(potfiles), 0o755))
	require.NoError(t, os.WriteFile(potfiles, []byte("src/main.c\n"), 0o644))

	report := execute(t, run, &Localization{})

	assert.Empty(t, report.MissingBuildRequires)
}

func TestStaticLibSuggestsTrove(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("zlib:lib", "", "/usr/lib64/libz.a"))
	db.AddTrove(libraryTrove("zlib:devel", "", "/usr/include/zlib.h"))

	run := newRun(t, db)
	// The library lives in the destdir image for the lookup.
	libPath := filepath.Join(run.Tree.Destdir, "usr/lib64/libz.a")
	require.NoError(t, os.MkdirAll(filepath.Dir(libPath), 0o755))
	require.NoError(t, os.WriteFile(libPath, []byte("!<arch>\n"), 0o644))

	logPath := filepath.Join(run.Tree.Builddir, "build.log")
	require.NoError(t, os.WriteFile(logPath,
		[]byte("gcc -O2 -o foo foo.o -lz\n"), 0o644))
	run.Tree.BuildLogPath = logPath

	report := execute(t, run, &StaticLib{})

	assert.Contains(t, report.MissingBuildRequires, "zlib:devel")
}

func TestStaticLibSkipsSharedRequirement(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("zlib:lib", "", "/usr/lib64/libz.a"))

	run := newRun(t, db)
	run.Tree.AddPath("foo:runtime", "/usr/bin/foo")
	run.Tree.Components["foo:runtime"].Requires.Add(
		domain.NewDependency(domain.DepSoname, "ELF64/libz.so.1"))

	logPath := filepath.Join(run.Tree.Builddir, "build.log")
	require.NoError(t, os.WriteFile(logPath,
		[]byte("gcc -O2 -o foo foo.o -lz\n"), 0o644))
	run.Tree.BuildLogPath = logPath

	report := execute(t, run, &StaticLib{})

	assert.Empty(t, report.MissingBuildRequires)
}

func TestStaticLibWithoutLogSkipped(t *testing.T) {
	run := newRun(t, trovedb.NewMemoryStore())
	assert.False(t, (&StaticLib{}).Test(run))
}

func TestFlagEnforcerSuggestsDefiningTrove(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("distro-flags:data", "", "/etc/conary/use/ssl"))

	run := newRun(t, db)
	run.Tree.UseFlags = map[string]string{"ssl": "/etc/conary/use/ssl"}

	report := execute(t, run, &Flags{})

	assert.Contains(t, report.MissingBuildRequires, "distro-flags:data")
	var messages []string
	for _, f := range report.Findings {
		messages = append(messages, f.Message)
	}
	assert.Contains(t, messages, "flag ssl missing build requirement distro-flags:data")
}

func TestFlagEnforcerSatisfiedByBuildRequires(t *testing.T) {
	db := trovedb.NewMemoryStore()
	db.AddTrove(libraryTrove("distro-flags:data", "", "/etc/conary/use/ssl"))

	run := newRun(t, db)
	run.Tree.BuildRequires = []string{"distro-flags:data"}
	run.Tree.UseFlags = map[string]string{"ssl": "/etc/conary/use/ssl"}

	report := execute(t, run, &Flags{})

	assert.Empty(t, report.MissingBuildRequires)
}

func TestFlagEnforcerUseDependencyFallback(t *testing.T) {
	db := trovedb.NewMemoryStore()
	provider := libraryTrove("distro-flags:data", "")
	provider.Provides.Add(domain.NewDependency(domain.DepUse, "krb"))
	db.AddTrove(provider)

	run := newRun(t, db)
	// No defining path tracked; resolve through the use dependency.
	run.Tree.UseFlags = map[string]string{"krb": ""}

	report := execute(t, run, &Flags{})

	assert.Contains(t, report.MissingBuildRequires, "distro-flags:data")
}

func TestFlagEnforcerRequiresDatabase(t *testing.T) {
	run := newRun(t, nil)
	run.Tree.UseFlags = map[string]string{"ssl": "/etc/conary/use/ssl"}
	assert.False(t, (&Flags{}).Test(run))

	run = newRun(t, trovedb.NewMemoryStore())
	assert.False(t, (&Flags{}).Test(run))
}

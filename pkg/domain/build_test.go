package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree() *BuildTree {
	return &BuildTree{
		Macros: map[string]string{
			"prefix":  "/usr",
			"libdir":  "/usr/lib64",
			"datadir": "/usr/share",
		},
	}
}

func TestExpand(t *testing.T) {
	tree := newTestTree()

	out, err := tree.Expand(`%(libdir)s/pkgconfig/`)
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib64/pkgconfig/", out)

	out, err = tree.Expand(`(%(prefix)s/lib|%(datadir)s)/pkgconfig/`)
	require.NoError(t, err)
	assert.Equal(t, "(/usr/lib|/usr/share)/pkgconfig/", out)
}

func TestExpandUnknownMacroFails(t *testing.T) {
	tree := newTestTree()
	_, err := tree.Expand(`%(nosuchmacro)s/bin`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestAddPathAndOwner(t *testing.T) {
	tree := newTestTree()
	tree.AddPath("tmpwatch:runtime", "/usr/sbin/tmpwatch")

	comp, ok := tree.Owner("/usr/sbin/tmpwatch")
	require.True(t, ok)
	assert.Equal(t, "tmpwatch:runtime", comp.Name)
	assert.Equal(t, []string{"/usr/sbin/tmpwatch"}, comp.Paths)
}

func TestMovePath(t *testing.T) {
	tree := newTestTree()
	tree.AddPath("gtk:devellib", "/usr/share/pkgconfig/gtk.pc")
	tree.MovePath("/usr/share/pkgconfig/gtk.pc", "/usr/lib64/pkgconfig/gtk.pc")

	_, ok := tree.Owner("/usr/share/pkgconfig/gtk.pc")
	assert.False(t, ok)
	comp, ok := tree.Owner("/usr/lib64/pkgconfig/gtk.pc")
	require.True(t, ok)
	assert.Equal(t, []string{"/usr/lib64/pkgconfig/gtk.pc"}, comp.Paths)
}

func TestAllRequiresAndProvides(t *testing.T) {
	tree := newTestTree()
	tree.AddPath("foo:runtime", "/usr/bin/foo")
	tree.AddPath("foo:lib", "/usr/lib64/libfoo.so.1")

	tree.Components["foo:runtime"].Requires.Add(NewDependency(DepSoname, "ELF64/libz.so.1"))
	tree.Components["foo:lib"].Requires.Add(NewDependency(DepSoname, "ELF64/libc.so.6"))
	tree.Components["foo:lib"].Provides.Add(NewDependency(DepSoname, "ELF64/libfoo.so.1"))

	assert.Equal(t, 2, tree.AllRequires().Len())
	assert.True(t, tree.AllProvides().Has(NewDependency(DepSoname, "ELF64/libfoo.so.1")))
}

func TestHasBuildRequires(t *testing.T) {
	tree := newTestTree()
	tree.BuildRequires = []string{"zlib:devel", "glibc:devel"}
	assert.True(t, tree.HasBuildRequires("zlib:devel"))
	assert.False(t, tree.HasBuildRequires("zlib:lib"))
}

func TestLocalBuild(t *testing.T) {
	tree := newTestTree()
	assert.False(t, tree.LocalBuild())
	tree.BuildLabel = "local@local:COOK"
	assert.True(t, tree.LocalBuild())
}

func TestPreferredProviders(t *testing.T) {
	assert.Equal(t,
		[]string{"zlib:devel", "zlib:devellib", "zlib:lib"},
		PreferredProviders("zlib:lib"))
	assert.Equal(t,
		[]string{"zlib:devel", "zlib:devellib", "zlib:lib"},
		PreferredProviders("zlib:devellib"))
	assert.Equal(t, []string{"perl:runtime"}, PreferredProviders("perl:runtime"))
}

package policy

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarypm/conary-policy/pkg/domain"
)

type fakeInfo struct {
	name string
	dir  bool
}

func (f fakeInfo) Name() string { return f.name }
func (f fakeInfo) Size() int64  { return 0 }
func (f fakeInfo) Mode() fs.FileMode {
	mode := fs.FileMode(0o644)
	if f.dir {
		mode |= fs.ModeDir
	}
	return mode
}
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return f.dir }
func (f fakeInfo) Sys() any           { return nil }

func filterRun(settings map[string]Settings) *Run {
	run := NewRun(&domain.BuildTree{
		Macros: map[string]string{"libdir": "/usr/lib64", "datadir": "/usr/share"},
	}, nil, nil)
	run.Settings = settings
	return run
}

func TestFilterMacroExpansionAndAnchoring(t *testing.T) {
	run := filterRun(nil)
	f, err := NewFilter(run, "Test", FilterSpec{
		Inclusions: []string{`%(libdir)s/pkgconfig/.*\.pc$`},
	})
	require.NoError(t, err)

	assert.True(t, f.Match("/usr/lib64/pkgconfig/zlib.pc", fakeInfo{name: "zlib.pc"}))
	assert.False(t, f.Match("/opt/usr/lib64/pkgconfig/zlib.pc", fakeInfo{name: "zlib.pc"}))
	assert.False(t, f.Match("/usr/lib64/pkgconfig/zlib.pc.bak", fakeInfo{name: "zlib.pc.bak"}))
}

func TestFilterRejectsDirectoriesByDefault(t *testing.T) {
	run := filterRun(nil)
	f, err := NewFilter(run, "Test", FilterSpec{Inclusions: []string{`.*`}})
	require.NoError(t, err)
	assert.False(t, f.Match("/usr/share/doc", fakeInfo{name: "doc", dir: true}))

	allow, err := NewFilter(run, "Test", FilterSpec{Inclusions: []string{`.*`}, AllowDirs: true})
	require.NoError(t, err)
	assert.True(t, allow.Match("/usr/share/doc", fakeInfo{name: "doc", dir: true}))
}

func TestFilterAppliesRunExceptions(t *testing.T) {
	run := filterRun(map[string]Settings{
		"Test": {Exceptions: []string{`%(datadir)s/skip/`}},
	})
	f, err := NewFilter(run, "Test", FilterSpec{Inclusions: []string{`.*`}})
	require.NoError(t, err)

	assert.True(t, f.Match("/usr/share/keep/file", fakeInfo{name: "file"}))
	assert.False(t, f.Match("/usr/share/skip/file", fakeInfo{name: "file"}))
}

func TestFilterUnknownMacroFails(t *testing.T) {
	run := filterRun(nil)
	_, err := NewFilter(run, "Test", FilterSpec{Inclusions: []string{`%(bogus)s/`}})
	assert.Error(t, err)
}

func TestFilterNilInfoTreatedAsFile(t *testing.T) {
	run := filterRun(nil)
	f, err := NewFilter(run, "Test", FilterSpec{Inclusions: []string{`/usr/`}})
	require.NoError(t, err)
	assert.True(t, f.Match("/usr/bin/foo", nil))
}

package destdir

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conarypm/conary-policy/pkg/policy"
)

// NormalizePkgConfigName identifies the NormalizePkgConfig policy.
const NormalizePkgConfigName = "NormalizePkgConfig"

// NormalizePkgConfig ensures pkgconfig files are all installed in
// libdir. A pkgconfig file left in /usr/lib on a 64-bit system, or in
// the datadir on any system, breaks the :devellib component for
// multilib. Exceptions to this policy are strongly discouraged.
type NormalizePkgConfig struct{}

// Name implements policy.Policy.
func (*NormalizePkgConfig) Name() string { return NormalizePkgConfigName }

// Tree implements policy.Policy.
func (*NormalizePkgConfig) Tree() policy.Tree { return policy.TreeDestdir }

// Requires implements policy.Policy.
func (*NormalizePkgConfig) Requires() []policy.Constraint { return nil }

// Filter implements policy.FilePolicy.
func (p *NormalizePkgConfig) Filter(run *policy.Run) (*policy.Filter, error) {
	return policy.NewFilter(run, p.Name(), policy.FilterSpec{
		Inclusions: []string{`(%(prefix)s/lib|%(datadir)s)/pkgconfig/`},
	})
}

// DoFile implements policy.FilePolicy.
func (p *NormalizePkgConfig) DoFile(_ context.Context, run *policy.Run, f policy.File) error {
	libdir, err := run.Tree.Expand("%(libdir)s")
	if err != nil {
		return err
	}
	if strings.HasPrefix(f.Path, libdir+"/") {
		return nil
	}

	target := path.Join(libdir, "pkgconfig", path.Base(f.Path))
	dest := filepath.Join(run.Tree.Destdir, filepath.FromSlash(target))
	if _, err := os.Lstat(dest); err == nil {
		run.Errorf(p.Name(), f.Path, "%s and %s both exist", f.Path, target)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Rename(f.FullPath, dest); err != nil {
		return err
	}
	run.Tree.MovePath(f.Path, target)
	run.RecordMove(p.Name(), f.Path, target)
	return nil
}

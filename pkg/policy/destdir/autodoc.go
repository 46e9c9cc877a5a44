// Package destdir holds the policies that repair the install image
// before packaging: documentation pickup and pkgconfig normalization.
package destdir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/conarypm/conary-policy/pkg/policy"
)

func init() {
	policy.MustRegister(AutoDocName, func() policy.Policy { return &AutoDoc{} })
	policy.MustRegister(NormalizePkgConfigName, func() policy.Policy { return &NormalizePkgConfig{} })
}

// AutoDocName identifies the AutoDoc policy.
const AutoDocName = "AutoDoc"

// AutoDoc copies likely documentation from the builddir into the
// package's docdir when it was not otherwise installed. Exceptions are
// evaluated relative to the builddir, not the destdir.
type AutoDoc struct{}

// Name implements policy.Policy.
func (*AutoDoc) Name() string { return AutoDocName }

// Tree implements policy.Policy.
func (*AutoDoc) Tree() policy.Tree { return policy.TreeBuilddir }

// Requires implements policy.Policy.
func (*AutoDoc) Requires() []policy.Constraint { return nil }

// Filter implements policy.FilePolicy.
func (p *AutoDoc) Filter(run *policy.Run) (*policy.Filter, error) {
	return policy.NewFilter(run, p.Name(), policy.FilterSpec{
		Inclusions: []string{
			`.*/NEWS$`,
			`.*/(LICENSE|COPY(ING|RIGHT))(\.lib|)$`,
			`.*/RELEASE-NOTES$`,
			`.*/HACKING$`,
			`.*/INSTALL$`,
			`.*README.*`,
			`.*/CHANGES$`,
			`.*/TODO$`,
			`.*/FAQ$`,
			`.*/Change[lL]og.*`,
		},
	})
}

// Test implements policy.Testable: without a docdir macro there is
// nowhere to install documentation.
func (*AutoDoc) Test(run *policy.Run) bool {
	return run.Tree.Macro("thisdocdir") != "" && run.Tree.Builddir != ""
}

// DoFile implements policy.FilePolicy.
func (p *AutoDoc) DoFile(_ context.Context, run *policy.Run, f policy.File) error {
	// Symlinks and other oddities are not documentation.
	if !f.Info.Mode().IsRegular() {
		return nil
	}

	docdir, err := run.Tree.Expand("%(thisdocdir)s")
	if err != nil {
		return err
	}
	dest := filepath.Join(run.Tree.Destdir, filepath.FromSlash(docdir), filepath.FromSlash(f.Path))
	if _, err := os.Lstat(dest); err == nil {
		return nil
	}

	if err := copyPreserving(f.FullPath, dest, f.Info); err != nil {
		return fmt.Errorf("autodoc copy %s: %w", f.Path, err)
	}

	// Auto-created documentation must not make an otherwise empty
	// package look populated.
	run.Tree.AutoCreated++
	run.Infof(p.Name(), f.Path, "installed documentation into %s", docdir)
	return nil
}

func copyPreserving(src, dest string, info os.FileInfo) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dest, info.ModTime(), info.ModTime())
}

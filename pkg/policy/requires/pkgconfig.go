// Package requires holds the policies that rewrite or extend the
// dependency information of the components being packaged.
package requires

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/conarypm/conary-policy/internal/pcfile"
	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
)

func init() {
	policy.MustRegister(PkgConfigRequiresName, func() policy.Policy { return &PkgConfigRequires{} })
	policy.MustRegister(ResolveFileDependenciesName, func() policy.Policy { return &ResolveFileDependencies{} })
}

// PkgConfigRequiresName identifies the PkgConfigRequires policy.
const PkgConfigRequiresName = "PkgConfigRequires"

// PkgConfigRequires parses installed pkg-config files and turns the
// modules and libraries they reference into trove requirements on the
// component that packages the .pc file.
type PkgConfigRequires struct{}

// Name implements policy.Policy.
func (*PkgConfigRequires) Name() string { return PkgConfigRequiresName }

// Tree implements policy.Policy.
func (*PkgConfigRequires) Tree() policy.Tree { return policy.TreePackaged }

// Requires implements policy.Policy.
func (*PkgConfigRequires) Requires() []policy.Constraint { return nil }

// Filter implements policy.FilePolicy.
func (p *PkgConfigRequires) Filter(run *policy.Run) (*policy.Filter, error) {
	return policy.NewFilter(run, p.Name(), policy.FilterSpec{
		Inclusions: []string{`(%(libdir)s|%(datadir)s)/pkgconfig/.*\.pc$`},
	})
}

// DoFile implements policy.FilePolicy.
func (p *PkgConfigRequires) DoFile(ctx context.Context, run *policy.Run, f policy.File) error {
	pc, err := parsePCFile(f.FullPath)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.Path, err)
	}

	libdir, err := run.Tree.Expand("%(libdir)s")
	if err != nil {
		return err
	}
	datadir, err := run.Tree.Expand("%(datadir)s")
	if err != nil {
		return err
	}

	type required struct {
		path string
		kind string
	}
	var filesRequired []required

	// Referenced pkg-config modules: look in the destdir first, then on
	// the system.
	for _, req := range pc.Requires {
		candidates := []string{
			path.Join(libdir, "pkgconfig", req+".pc"),
			path.Join(datadir, "pkgconfig", req+".pc"),
		}
		found := false
		for _, candidate := range candidates {
			if fileExists(filepath.Join(run.Tree.Destdir, filepath.FromSlash(candidate))) {
				filesRequired = append(filesRequired, required{path: candidate, kind: "pkg-config"})
				found = true
				break
			}
		}
		if !found {
			for _, candidate := range candidates {
				if fileExists(filepath.FromSlash(candidate)) {
					filesRequired = append(filesRequired, required{path: candidate, kind: "system"})
					found = true
					break
				}
			}
		}
		if !found {
			run.Warnf(p.Name(), f.Path, "pkg-config file %s.pc not found", req)
		}
	}

	// Referenced libraries: system library paths plus any -L directories
	// named by the file itself.
	libraryPaths := append(systemLibPaths(libdir), pc.LibDirs...)
	for _, library := range pc.Libraries {
		found := false
		for _, dir := range libraryPaths {
			for _, ext := range []string{".so", ".a"} {
				rel := path.Join(dir, "lib"+library+ext)
				if fileExists(filepath.Join(run.Tree.Destdir, filepath.FromSlash(rel))) {
					filesRequired = append(filesRequired, required{path: rel, kind: "library"})
					found = true
					break
				}
				if fileExists(filepath.FromSlash(rel)) {
					filesRequired = append(filesRequired, required{path: rel, kind: "system-library"})
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			run.Warnf(p.Name(), f.Path, "library file lib%s not found", library)
		}
	}

	owner, ok := run.Tree.Owner(f.Path)
	if !ok {
		return nil
	}

	for _, req := range filesRequired {
		switch req.kind {
		case "pkg-config", "library":
			p.requireInternal(run, owner, req.path)
		default:
			p.requireSystem(ctx, run, owner, f.Path, req.path)
		}
	}
	return nil
}

// requireInternal adds a requirement on the component that packages a
// destdir file, preferring a :devel component over :devellib and :lib.
func (p *PkgConfigRequires) requireInternal(run *policy.Run, owner *domain.Component, reqPath string) {
	target, ok := run.Tree.Owner(reqPath)
	if !ok {
		return
	}
	troveName := target.Name
	if _, comp := domain.SplitComponent(troveName); comp == "devellib" || comp == "lib" {
		pkg, _ := domain.SplitComponent(troveName)
		for _, preferred := range []string{pkg + ":devel", pkg + ":devellib"} {
			if c, ok := run.Tree.Components[preferred]; ok && len(c.Paths) > 0 {
				troveName = preferred
				break
			}
		}
	}
	owner.Requires.Add(domain.NewDependency(domain.DepTrove, troveName))
}

// requireSystem adds a requirement on the installed trove providing a
// system path, or flags the path as unmanaged.
func (p *PkgConfigRequires) requireSystem(ctx context.Context, run *policy.Run, owner *domain.Component, pcPath, reqPath string) {
	troves := run.DB.TrovesByPath(ctx, reqPath)
	if len(troves) == 0 {
		run.Talkf(p.Name(), pcPath, "file %s required but not provided by any trove", reqPath)
		return
	}
	owner.Requires.Add(domain.NewDependency(domain.DepTrove, troves[0].Name))
}

func parsePCFile(fullPath string) (*pcfile.File, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pcfile.Parse(f)
}

func systemLibPaths(libdir string) []string {
	paths := []string{libdir}
	for _, p := range []string{"/usr/lib", "/lib"} {
		if p != libdir {
			paths = append(paths, p)
		}
	}
	return paths
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

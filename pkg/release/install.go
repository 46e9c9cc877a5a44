package release

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPolicyDir is where cook expects the policy bundle.
const DefaultPolicyDir = "/usr/lib/conary/policy"

// bundleFile reports whether a source file belongs in the installed
// bundle: site rules plus their configuration.
func bundleFile(name string) bool {
	switch {
	case strings.HasSuffix(name, ".rego"):
		return true
	case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return true
	default:
		return false
	}
}

// Install copies the policy bundle from srcdir into destdir+policydir,
// creating directories as needed. An empty policydir selects the
// default location.
func Install(srcdir, destdir, policydir string) error {
	if policydir == "" {
		policydir = DefaultPolicyDir
	}
	target := filepath.Join(destdir, filepath.FromSlash(policydir))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}

	return filepath.WalkDir(srcdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !bundleFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(srcdir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(target, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return copyFile(path, dest)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

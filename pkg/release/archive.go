package release

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the archive codec.
type Compression string

// Supported codecs.
const (
	CompressGzip Compression = "gzip"
	CompressZstd Compression = "zstd"
)

// ParseCompression maps the configured name to a codec; empty means
// gzip, matching the traditional tarball format.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "gzip", "gz":
		return CompressGzip, nil
	case "zstd", "zst":
		return CompressZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Ext returns the archive filename extension for the codec.
func (c Compression) Ext() string {
	if c == CompressZstd {
		return ".tar.zst"
	}
	return ".tar.gz"
}

// Archive writes the bundle rooted at srcdir as a compressed tar to w,
// with every entry under a conary-policy-<version>/ prefix.
func Archive(w io.Writer, srcdir, version string, codec Compression) error {
	var cw io.WriteCloser
	switch codec {
	case CompressZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		cw = enc
	default:
		cw = gzip.NewWriter(w)
	}

	tw := tar.NewWriter(cw)
	prefix := "conary-policy-" + version

	walkErr := filepath.WalkDir(srcdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcdir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		// Never pack previously built archives into a new one.
		if !d.IsDir() && (strings.HasSuffix(rel, ".tar.gz") || strings.HasSuffix(rel, ".tar.zst")) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = prefix + "/" + filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return walkErr
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}

// Dist validates the changelog and writes conary-policy-<version>
// with the codec's extension into outdir, returning the archive path.
// No file is created when the changelog check fails.
func Dist(srcdir, outdir, newsPath, version string, codec Compression) (string, error) {
	if version == "" {
		return "", fmt.Errorf("dist requires a version")
	}
	if err := CheckNews(newsPath, version); err != nil {
		return "", err
	}

	out := filepath.Join(outdir, "conary-policy-"+version+codec.Ext())
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if err := Archive(f, srcdir, version, codec); err != nil {
		f.Close()
		os.Remove(out)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(out)
		return "", err
	}
	return out, nil
}

// Clean removes generated archives from outdir.
func Clean(outdir string) error {
	entries, err := os.ReadDir(outdir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "conary-policy-") {
			continue
		}
		if strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tar.zst") {
			if err := os.Remove(filepath.Join(outdir, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

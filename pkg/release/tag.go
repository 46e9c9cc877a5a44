package release

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// TagName renders the release tag for a version.
func TagName(version string) string {
	return "conary-policy-" + version
}

// Tag creates the release tag in the repository at dir.
func Tag(ctx context.Context, dir, version string) error {
	if version == "" {
		return fmt.Errorf("tag requires a version")
	}
	cmd := exec.CommandContext(ctx, "git", "tag", TagName(version))
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git tag: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// LatestVersion reports the version of the newest release tag, or the
// empty string when the repository carries none.
func LatestVersion(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "tag", "--list", "conary-policy-*", "--sort=-creatordate")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git tag --list: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", nil
	}
	return strings.TrimPrefix(lines[0], "conary-policy-"), nil
}

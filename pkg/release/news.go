// Package release implements the maintenance operations for a policy
// bundle: installing it into an image, cutting versioned archives, and
// tagging releases.
package release

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/conarypm/conary-policy/pkg/domain"
)

// CheckNews verifies the changelog documents the release. Cutting a
// dist without a "Changes in <version>" line fails hard.
func CheckNews(newsPath, version string) error {
	f, err := os.Open(newsPath)
	if err != nil {
		return fmt.Errorf("open changelog: %w", err)
	}
	defer f.Close()

	want := "Changes in " + version
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), want) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read changelog: %w", err)
	}
	return fmt.Errorf("%w: no %q entry in %s", domain.ErrNewsEntryAbsent, want, newsPath)
}

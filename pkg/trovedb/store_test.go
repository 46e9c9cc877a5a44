package trovedb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarypm/conary-policy/pkg/domain"
)

const fixtureYAML = `
troves:
  - name: zlib:lib
    version: 1.2.3-1-1
    provides:
      - "soname: ELF64/libz.so.1"
    paths:
      - /usr/lib64/libz.so.1
  - name: zlib:devel
    version: 1.2.3-1-1
    paths:
      - /usr/include/zlib.h
labels:
  conary.example.com@rpl:1:
    - name: vim:runtime
      paths:
        - /usr/bin/vim
`

func loadFixture(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := Load([]byte(fixtureYAML))
	require.NoError(t, err)
	return store
}

func TestLoadFixture(t *testing.T) {
	store := loadFixture(t)
	ctx := context.Background()

	trove, err := store.TroveByName(ctx, "zlib:lib")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3-1-1", trove.Version)
	assert.True(t, trove.Provides.Has(domain.NewDependency(domain.DepSoname, "ELF64/libz.so.1")))
	// Implicit self-provide.
	assert.True(t, trove.Provides.Has(domain.NewDependency(domain.DepTrove, "zlib:lib")))
}

func TestTroveByNameMissing(t *testing.T) {
	store := loadFixture(t)
	_, err := store.TroveByName(context.Background(), "nosuch:lib")
	assert.ErrorIs(t, err, domain.ErrTroveNotFound)
}

func TestTrovesByPath(t *testing.T) {
	store := loadFixture(t)
	troves := store.TrovesByPath(context.Background(), "/usr/lib64/libz.so.1")
	require.Len(t, troves, 1)
	assert.Equal(t, "zlib:lib", troves[0].Name)

	assert.Empty(t, store.TrovesByPath(context.Background(), "/usr/bin/na"))
}

func TestTrovesProviding(t *testing.T) {
	store := loadFixture(t)
	troves := store.TrovesProviding(context.Background(),
		domain.NewDependency(domain.DepSoname, "ELF64/libz.so.1"))
	require.Len(t, troves, 1)
	assert.Equal(t, "zlib:lib", troves[0].Name)
}

func TestLabelResolution(t *testing.T) {
	store := loadFixture(t)
	ctx := context.Background()
	label := "conary.example.com@rpl:1"

	dep := domain.NewDependency(domain.DepTrove, "vim:runtime")
	resolved := store.ResolveDependencies(ctx, label, []domain.Dependency{dep})
	require.Contains(t, resolved, dep.Key())

	byPath := store.LeavesByPath(ctx, label, []string{"/usr/bin/vim", "/usr/bin/na"})
	require.Contains(t, byPath, "/usr/bin/vim")
	assert.NotContains(t, byPath, "/usr/bin/na")
}

func TestLoadRejectsNamelessTrove(t *testing.T) {
	_, err := Load([]byte("troves:\n  - version: 1.0\n"))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoadRejectsBadDependency(t *testing.T) {
	_, err := Load([]byte("troves:\n  - name: x:lib\n    provides: [\"garbage\"]\n"))
	assert.Error(t, err)
}

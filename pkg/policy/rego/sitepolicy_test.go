package rego

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conarypm/conary-policy/pkg/domain"
	"github.com/conarypm/conary-policy/pkg/policy"
)

func TestSitePolicyRecordsFindings(t *testing.T) {
	engine := newTestEngine(t)
	destdir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(destdir, "opt/foo"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(destdir, "usr/bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destdir, "opt/foo/tool"), []byte("x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(destdir, "usr/bin/tool"), []byte("x"), 0o755))

	run := policy.NewRun(&domain.BuildTree{
		Destdir: destdir,
		Macros:  map[string]string{},
	}, nil, nil)

	report, err := policy.NewRunner(nil, NewSitePolicy(engine)).Execute(context.Background(), run)
	require.NoError(t, err)

	require.Len(t, report.Errors(), 1)
	assert.Equal(t, "/opt/foo/tool", report.Errors()[0].Path)
	assert.Equal(t, "packaged into /opt", report.Errors()[0].Message)
}

func TestSitePolicyRegister(t *testing.T) {
	reg := policy.NewRegistry()
	require.NoError(t, NewSitePolicy(newTestEngine(t)).Register(reg))

	pol, err := reg.Resolve(SitePolicyName)
	require.NoError(t, err)
	assert.Equal(t, SitePolicyName, pol.Name())
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDependency(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Dependency
	}{
		{
			name:  "plain trove",
			input: "trove: glibc:devel",
			want:  Dependency{Class: DepTrove, Name: "glibc:devel"},
		},
		{
			name:  "file path",
			input: "file: /usr/bin/perl",
			want:  Dependency{Class: DepFile, Name: "/usr/bin/perl"},
		},
		{
			name:  "soname with flags",
			input: "soname: ELF32/libc.so.6(SysV x86)",
			want:  Dependency{Class: DepSoname, Name: "ELF32/libc.so.6", Flags: []string{"SysV", "x86"}},
		},
		{
			name:  "abi with flags",
			input: "abi: ELF64(SysV x86_64)",
			want:  Dependency{Class: DepABI, Name: "ELF64", Flags: []string{"SysV", "x86_64"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDependency(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDependencyErrors(t *testing.T) {
	for _, input := range []string{"no separator", "trove: ", "soname: libc.so.6(unclosed"} {
		_, err := ParseDependency(input)
		assert.Error(t, err, input)
	}
}

func TestDependencyKeyIgnoresFlags(t *testing.T) {
	flagged := NewDependency(DepSoname, "ELF64/libz.so.1", "SysV")
	bare := NewDependency(DepSoname, "ELF64/libz.so.1")
	assert.Equal(t, bare.Key(), flagged.Key())

	set := NewDependencySet(flagged)
	assert.True(t, set.Has(bare))
}

func TestDependencySetOperations(t *testing.T) {
	a := NewDependencySet(
		NewDependency(DepTrove, "glibc:lib"),
		NewDependency(DepFile, "/bin/sh"),
	)
	b := NewDependencySet(
		NewDependency(DepFile, "/bin/sh"),
		NewDependency(DepPython, "socket"),
	)

	diff := a.Difference(b)
	assert.Equal(t, 1, diff.Len())
	assert.True(t, diff.Has(NewDependency(DepTrove, "glibc:lib")))

	inter := a.Intersection(b)
	assert.Equal(t, 1, inter.Len())
	assert.True(t, inter.Has(NewDependency(DepFile, "/bin/sh")))

	a.Union(b)
	assert.Equal(t, 3, a.Len())
	assert.True(t, a.Satisfies(b))
	assert.False(t, b.Satisfies(a))
}

func TestDependencySetNilReceivers(t *testing.T) {
	var s *DependencySet
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Has(NewDependency(DepFile, "/bin/sh")))
	assert.Empty(t, s.All())
	assert.Equal(t, 0, s.Clone().Len())
}

func TestByClassSorted(t *testing.T) {
	s := NewDependencySet(
		NewDependency(DepPython, "zlib"),
		NewDependency(DepPython, "socket"),
		NewDependency(DepTrove, "glibc:lib"),
	)
	deps := s.ByClass(DepPython)
	require.Len(t, deps, 2)
	assert.Equal(t, "socket", deps[0].Name)
	assert.Equal(t, "zlib", deps[1].Name)
}

package magic

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpreter(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain shebang", "#!/bin/sh\necho hi\n", "/bin/sh"},
		{"shebang with argument", "#!/usr/bin/perl -w\n", "/usr/bin/perl"},
		{"env shebang", "#!/usr/bin/env python\n", "python"},
		{"not a script", "int main() {}\n", ""},
		{"empty", "", ""},
		{"bare shebang", "#!\n", ""},
		{"elf header", "\x7fELF\x02\x01\x01", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpreter(strings.NewReader(tt.input)))
		})
	}
}

func TestInterpreterForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/usr/bin/python\nprint()\n"), 0o755))
	assert.Equal(t, "/usr/bin/python", InterpreterForFile(path))

	assert.Equal(t, "", InterpreterForFile(filepath.Join(t.TempDir(), "absent")))
}

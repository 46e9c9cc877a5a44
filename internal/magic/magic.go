// Package magic sniffs file contents for the few signatures the
// enforcement policies need, chiefly script interpreter lines.
package magic

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Interpreter returns the interpreter path from a script's shebang
// line, or the empty string when the file is not a script.
func Interpreter(r io.Reader) string {
	br := bufio.NewReader(r)
	prefix, err := br.Peek(2)
	if err != nil || prefix[0] != '#' || prefix[1] != '!' {
		return ""
	}
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return ""
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "#!"))
	if line == "" {
		return ""
	}
	fields := strings.Fields(line)
	interp := fields[0]
	// "#!/usr/bin/env python" really means the python on PATH.
	if strings.HasSuffix(interp, "/env") && len(fields) > 1 {
		return fields[1]
	}
	return interp
}

// InterpreterForFile opens path and returns its shebang interpreter,
// ignoring unreadable or non-script files.
func InterpreterForFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	return Interpreter(f)
}

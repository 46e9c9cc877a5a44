// Package pcfile parses pkg-config metadata files far enough to extract
// the module and library references the packaging policies care about.
package pcfile

import (
	"bufio"
	"io"
	"regexp"
	"sort"
	"strings"
)

// File is the parsed view of a single .pc file.
type File struct {
	// Variables holds the raw variable definitions, keyed without the
	// ${} wrapper.
	Variables map[string]string
	// Requires lists referenced module names, version constraints
	// stripped.
	Requires []string
	// LibDirs lists -L search directories from Libs lines, in order of
	// appearance.
	LibDirs []string
	// Libraries lists -l library names from Libs lines, sorted.
	Libraries []string
}

var variableLineRe = regexp.MustCompile(`^[a-zA-Z0-9]+=`)

// Parse reads a .pc stream. Variables are interpolated line by line as
// they are defined; a reference to a later variable stays literal, which
// matches how pkg-config itself treats forward references.
func Parse(r io.Reader) (*File, error) {
	f := &File{Variables: map[string]string{}}
	requires := map[string]bool{}
	libraries := map[string]bool{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := interpolate(strings.TrimSpace(scanner.Text()), f.Variables)

		if variableLineRe.MatchString(line) {
			key, val, _ := strings.Cut(line, "=")
			f.Variables[key] = val
			continue
		}

		keyword, args, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch {
		case strings.HasPrefix(keyword, "Requires"):
			for _, name := range requiredModules(args) {
				requires[name] = true
			}
		case strings.HasPrefix(keyword, "Lib"):
			for _, arg := range splitArgs(args) {
				switch {
				case strings.HasPrefix(arg, "-L"):
					f.LibDirs = append(f.LibDirs, arg[2:])
				case strings.HasPrefix(arg, "-l"):
					libraries[arg[2:]] = true
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	f.Requires = sortedKeys(requires)
	f.Libraries = sortedKeys(libraries)
	return f, nil
}

// interpolate replaces ${var} references until a fixpoint is reached,
// so definitions built from other variables expand fully.
func interpolate(line string, variables map[string]string) string {
	for {
		next := line
		for name, val := range variables {
			next = strings.ReplaceAll(next, "${"+name+"}", val)
		}
		if next == line {
			return next
		}
		line = next
	}
}

// requiredModules splits a Requires argument list on commas and
// whitespace, dropping version constraint operators together with the
// version that follows them.
func requiredModules(args string) []string {
	var out []string
	versionNext := false
	for _, token := range splitArgs(args) {
		if strings.ContainsAny(token, "<=>") {
			versionNext = true
			continue
		}
		if versionNext {
			versionNext = false
			continue
		}
		out = append(out, token)
	}
	return out
}

func splitArgs(args string) []string {
	var out []string
	for _, field := range strings.Fields(args) {
		for _, token := range strings.Split(field, ",") {
			if token != "" {
				out = append(out, token)
			}
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package template implements the Template Expander (C2): pure,
// side-effect-free {placeholder} token substitution plus a related but
// distinct glob-pattern file enumeration. Keeping both as pure functions
// (no side effects besides the filesystem read glob needs) makes the Step
// Planner deterministic and testable.
package template

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Expand substitutes every {name} token in s using ctx. Unresolved tokens
// are left verbatim in the output and reported in the returned slice
// (sorted, deduplicated). If strict is true and any token is unresolved,
// Expand also returns an error.
func Expand(s string, ctx map[string]string, strict bool) (string, []string, error) {
	var out strings.Builder
	unresolvedSet := make(map[string]bool)

	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open == -1 {
			out.WriteString(s[i:])
			break
		}
		out.WriteString(s[i : i+open])
		rest := s[i+open:]
		close := strings.IndexByte(rest, '}')
		if close == -1 {
			// Unterminated token: emit literally and stop scanning.
			out.WriteString(rest)
			break
		}
		name := rest[1:close]
		if value, ok := ctx[name]; ok {
			out.WriteString(value)
		} else {
			out.WriteString(rest[:close+1])
			unresolvedSet[name] = true
		}
		i += open + close + 1
	}

	unresolved := make([]string, 0, len(unresolvedSet))
	for name := range unresolvedSet {
		unresolved = append(unresolved, name)
	}
	sort.Strings(unresolved)

	if strict && len(unresolved) > 0 {
		return out.String(), unresolved, fmt.Errorf("unresolved template keys: %s", strings.Join(unresolved, ", "))
	}
	return out.String(), unresolved, nil
}

// Glob enumerates files under base matching pattern (which may contain
// glob metacharacters) as a finite, lexicographically-ordered-by-path
// sequence. base is joined with pattern unless pattern is already
// absolute.
func Glob(base, pattern string) ([]string, error) {
	full := pattern
	if !filepath.IsAbs(pattern) {
		full = filepath.Join(base, pattern)
	}
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", full, err)
	}
	sort.Strings(matches)
	return matches, nil
}

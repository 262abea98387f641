// Package match implements the glob matching used for watch ignore rules
// and task name categories.
package match

import (
	"path/filepath"
	"strings"
)

// Glob matches a slash separated path against a pattern with ** support.
// "**" matches any number of segments; "*" inside a segment matches any run
// of characters within that segment.
func Glob(path, pattern string) bool {
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")
	pathParts := strings.Split(path, "/")
	patternParts := strings.Split(pattern, "/")
	return matchParts(pathParts, patternParts)
}

// Any reports whether path matches at least one pattern.
func Any(path string, patterns []string) bool {
	for _, p := range patterns {
		if Glob(path, p) {
			return true
		}
	}
	return false
}

// matchParts recursively matches path segments against pattern segments.
func matchParts(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	p := pattern[0]
	rest := pattern[1:]

	switch p {
	case "**":
		if len(rest) == 0 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchParts(path[i:], rest) {
				return true
			}
		}
		return false

	default:
		if len(path) == 0 {
			return false
		}
		if !matchSegment(path[0], p) {
			return false
		}
		return matchParts(path[1:], rest)
	}
}

// matchSegment matches a single path segment against a pattern segment.
func matchSegment(segment, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == segment {
		return true
	}
	if strings.Contains(pattern, "*") {
		return matchWildcard(segment, pattern)
	}
	return false
}

// matchWildcard matches a segment against a pattern containing * wildcards.
func matchWildcard(s, pattern string) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}

		if i == 0 {
			if !strings.HasPrefix(s, part) {
				return false
			}
			pos = len(part)
			continue
		}

		if i == len(parts)-1 {
			// Anchored at the end; must not overlap the matched prefix.
			return len(s)-len(part) >= pos && strings.HasSuffix(s, part)
		}

		idx := strings.Index(s[pos:], part)
		if idx == -1 {
			return false
		}
		pos += idx + len(part)
	}

	return true
}

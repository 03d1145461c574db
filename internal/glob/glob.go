// Package glob matches slash-separated archive paths against glob
// patterns. Each pattern segment uses path.Match syntax; a segment of
// "**" matches any number of segments, including none.
package glob

import (
	"path"
	"strings"
)

// Match reports whether p matches pattern. Leading and trailing slashes
// are ignored on both sides.
func Match(pattern, p string) bool {
	return matchSegments(split(pattern), split(p))
}

// MatchAny reports whether p matches any of the patterns. An empty
// pattern list matches everything.
func MatchAny(patterns []string, p string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if Match(pattern, p) {
			return true
		}
	}
	return false
}

func split(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			if matchSegments(pattern[1:], segs) {
				return true
			}
			if len(segs) == 0 {
				return false
			}
			segs = segs[1:]
			continue
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pattern = pattern[1:]
		segs = segs[1:]
	}
	return len(segs) == 0
}

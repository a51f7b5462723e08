package utils

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// PatternMatcher matches slash-separated relative paths against glob
// patterns. `*` and `?` never cross a separator; `**/` spans zero or more
// directories.
type PatternMatcher struct {
	patterns []string
	regexps  []*regexp.Regexp
}

// NewPatternMatcher compiles the given patterns
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	pm := &PatternMatcher{
		patterns: make([]string, 0, len(patterns)),
		regexps:  make([]*regexp.Regexp, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		pattern = NormalizePattern(pattern)
		regex, err := globToRegex(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		pm.patterns = append(pm.patterns, pattern)
		pm.regexps = append(pm.regexps, regex)
	}

	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	path = filepath.ToSlash(path)
	for _, regex := range pm.regexps {
		if regex.MatchString(path) {
			return true
		}
	}
	return false
}

// Patterns returns the normalized patterns
func (pm *PatternMatcher) Patterns() []string {
	return append([]string(nil), pm.patterns...)
}

// Glob walks root and returns the root-relative, slash-separated paths of
// regular files matching any pattern, sorted. A missing root yields no
// matches.
func (pm *PatternMatcher) Glob(root string) ([]string, error) {
	var matches []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errorsIsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if pm.Match(rel) {
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(matches)
	return matches, nil
}

func globToRegex(pattern string) (*regexp.Regexp, error) {
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					regex.WriteString("(?:.*/)?")
					i += 3
				} else {
					regex.WriteString(".*")
					i += 2
				}
			} else {
				regex.WriteString("[^/]*")
				i++
			}
		case '?':
			regex.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			var class strings.Builder
			if j < len(pattern) && pattern[j] == '!' {
				class.WriteString("[^")
				j++
			} else {
				class.WriteString("[")
			}
			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					class.WriteByte(pattern[j])
					class.WriteByte(pattern[j+1])
					j += 2
					continue
				}
				class.WriteByte(pattern[j])
				j++
			}
			if j < len(pattern) {
				class.WriteByte(']')
				regex.WriteString(class.String())
				i = j + 1
			} else {
				// unclosed bracket is literal
				regex.WriteString(`\[`)
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				regex.WriteString(regexp.QuoteMeta(pattern[i+1 : i+2]))
				i += 2
			} else {
				regex.WriteString(`\\`)
				i++
			}
		default:
			regex.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}

	regex.WriteString("$")
	return regexp.Compile(regex.String())
}

// IsGlobPattern checks if a string contains glob wildcards
func IsGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// NormalizePattern converts separators to slashes and strips a leading ./
// and trailing /
func NormalizePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	pattern = strings.TrimPrefix(pattern, "./")
	return strings.TrimSuffix(pattern, "/")
}

// ExpandPattern turns a watch path into match patterns: a plain directory
// also matches everything beneath it.
func ExpandPattern(pattern string) []string {
	pattern = NormalizePattern(pattern)
	if IsGlobPattern(pattern) || filepath.Ext(pattern) != "" {
		return []string{pattern}
	}
	return []string{pattern, pattern + "/**"}
}

// ExclusionMatcher reports paths that never trigger a rebuild
type ExclusionMatcher struct {
	matcher *PatternMatcher
}

// NewExclusionMatcher creates a matcher. Patterns without a separator apply
// at any depth; bare names also exclude everything beneath them.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	all := make([]string, 0, len(patterns)*2)
	for _, pattern := range patterns {
		switch {
		case strings.Contains(pattern, "/"):
			all = append(all, pattern)
		case IsGlobPattern(pattern):
			all = append(all, "**/"+pattern)
		default:
			all = append(all, "**/"+pattern, "**/"+pattern+"/**")
		}
	}

	matcher, err := NewPatternMatcher(all)
	if err != nil {
		return nil, err
	}
	return &ExclusionMatcher{matcher: matcher}, nil
}

// IsExcluded checks if a path should be excluded
func (em *ExclusionMatcher) IsExcluded(path string) bool {
	return em.matcher.Match(path)
}

// DefaultExclusions lists build outputs and editor noise inside a crate
func DefaultExclusions() []string {
	return []string{
		".git",
		"target",
		"node_modules",
		"dist",
		".critters-pack",
		"*.node",
		"*.swp",
		"*~",
		".DS_Store",
	}
}

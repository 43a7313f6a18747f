package watcher

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher decides which paths under a root are reported.
type Matcher struct {
	root     string
	patterns []string
	ignores  []string
}

// NewMatcher validates the globs and returns a matcher rooted at root.
func NewMatcher(root string, patterns, ignores []string) (*Matcher, error) {
	for _, p := range append(append([]string(nil), patterns...), ignores...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, p)
		}
	}
	return &Matcher{
		root:     filepath.Clean(root),
		patterns: patterns,
		ignores:  ignores,
	}, nil
}

// rel returns the root-relative slash path, or false when p is outside root.
func (m *Matcher) rel(p string) (string, bool) {
	r, err := filepath.Rel(m.root, p)
	if err != nil {
		return "", false
	}
	r = filepath.ToSlash(r)
	if r == ".." || strings.HasPrefix(r, "../") {
		return "", false
	}
	return r, true
}

// Match reports whether the file at p should produce events.
func (m *Matcher) Match(p string) bool {
	r, ok := m.rel(p)
	if !ok || r == "." {
		return false
	}
	if matchAny(m.ignores, r) {
		return false
	}
	if len(m.patterns) == 0 {
		return true
	}
	return matchAny(m.patterns, r)
}

// SkipDir reports whether the directory at p is excluded. A directory is
// excluded when an ignore glob matches it or anything beneath it.
func (m *Matcher) SkipDir(p string) bool {
	r, ok := m.rel(p)
	if !ok {
		return true
	}
	if r == "." {
		return false
	}
	return matchAny(m.ignores, r) || matchAny(m.ignores, path.Join(r, "x"))
}

func matchAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, name); ok {
			return true
		}
	}
	return false
}

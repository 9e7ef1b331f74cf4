package walker

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// SkippedDirs are directory names never descended into or watched.
var SkippedDirs = []string{
	".git",
	".hg",
	".svn",
	".ragpipe",
	"node_modules",
	"__pycache__",
	".venv",
	".idea",
	".vscode",
}

func skipDir(name string) bool {
	for _, d := range SkippedDirs {
		if strings.EqualFold(name, d) {
			return true
		}
	}
	return false
}

// filter decides which slash-separated relative paths below a root are
// documents worth ingesting.
type filter struct {
	include   []string
	exclude   []string
	gitignore []string
	supports  func(string) bool
}

// newFilter validates the glob patterns of cfg and loads the .gitignore of
// root.
func newFilter(cfg Config, root string) (*filter, error) {
	for _, p := range append(append([]string(nil), cfg.Include...), cfg.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("walker: invalid glob pattern %q", p)
		}
	}
	return &filter{
		include:   cfg.Include,
		exclude:   cfg.Exclude,
		gitignore: loadGitignore(filepath.Join(root, ".gitignore")),
		supports:  cfg.Supports,
	}, nil
}

// accepts applies the format, gitignore and include/exclude rules in that
// order.
func (f *filter) accepts(relPath string) bool {
	if f.supports != nil && !f.supports(relPath) {
		return false
	}
	if matchesGitignore(relPath, f.gitignore) {
		return false
	}
	return MatchesInclude(relPath, f.include) && !MatchesExclude(relPath, f.exclude)
}

// MatchesInclude reports whether relPath matches one of patterns. An empty
// list includes everything.
func MatchesInclude(relPath string, patterns []string) bool {
	return len(patterns) == 0 || matchesAny(relPath, patterns)
}

// MatchesExclude reports whether relPath matches one of patterns. An empty
// list excludes nothing.
func MatchesExclude(relPath string, patterns []string) bool {
	return len(patterns) > 0 && matchesAny(relPath, patterns)
}

// matchesAny tries each doublestar pattern against the whole path and then
// against its base name, so "*.md" also matches nested files.
func matchesAny(relPath string, patterns []string) bool {
	base := path.Base(relPath)
	for _, pattern := range patterns {
		if doublestar.MatchUnvalidated(pattern, relPath) || doublestar.MatchUnvalidated(pattern, base) {
			return true
		}
	}
	return false
}

// loadGitignore returns the patterns of a .gitignore file. Comments and
// negations are dropped.
func loadGitignore(file string) []string {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}

	var patterns []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// matchesGitignore checks relPath against gitignore patterns. A pattern
// without a slash matches any path component; a trailing slash restricts
// it to directories.
func matchesGitignore(relPath string, patterns []string) bool {
	parts := strings.Split(relPath, "/")
	for _, pattern := range patterns {
		dirOnly := strings.HasSuffix(pattern, "/")
		pattern = strings.Trim(pattern, "/")
		if pattern == "" {
			continue
		}

		if !strings.Contains(pattern, "/") {
			last := len(parts)
			if dirOnly {
				last--
			}
			for _, part := range parts[:last] {
				if matched, _ := filepath.Match(pattern, part); matched {
					return true
				}
			}
			continue
		}

		// Anchored: the path itself or one of its parent directories.
		for i := len(parts); i > 0; i-- {
			if dirOnly && i == len(parts) {
				continue
			}
			if matched, _ := filepath.Match(pattern, strings.Join(parts[:i], "/")); matched {
				return true
			}
		}
	}
	return false
}

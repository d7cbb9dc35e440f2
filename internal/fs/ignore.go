package fs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFileName is the ignore file read from the root of an ingested
// directory.
const IgnoreFileName = ".casignore"

// defaultIgnorePatterns apply to every ingest: the ignore file itself and
// partial writes the blob store leaves behind when interrupted.
var defaultIgnorePatterns = []string{IgnoreFileName, ".tmp-*"}

// ignoreRule is one parsed line of an ignore list.
type ignoreRule struct {
	glob    string // doublestar pattern over the slash-separated relative path
	negate  bool   // "!pattern" re-includes what an earlier rule ignored
	dirOnly bool   // "pattern/" only matches directories
}

// IgnoreMatcher decides which paths of an ingest are skipped. The syntax
// follows .gitignore:
//
//   - a pattern without a slash matches a name at any depth
//   - a leading slash, or a slash inside the pattern, anchors it to the root
//   - a trailing slash restricts it to directories
//   - "**" spans any number of directories
//   - "!" negates; the last matching rule wins
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher parses raw patterns in order. Blank lines and '#'
// comments are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range rawPatterns {
		if r, ok := parseIgnoreRule(raw); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

func parseIgnoreRule(raw string) (ignoreRule, bool) {
	p := strings.TrimSpace(raw)
	if p == "" || strings.HasPrefix(p, "#") {
		return ignoreRule{}, false
	}

	var r ignoreRule
	if strings.HasPrefix(p, "!") {
		r.negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	anchored := strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return ignoreRule{}, false
	}
	if !anchored {
		p = "**/" + p
	}
	r.glob = p
	return r, true
}

// Match reports whether relativePath, relative to the ingest root, is
// ignored. isDir tells directory-only rules whether they apply.
func (m *IgnoreMatcher) Match(relativePath string, isDir bool) bool {
	name := filepath.ToSlash(relativePath)
	ignored := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		ok, err := doublestar.Match(r.glob, name)
		if err != nil || !ok {
			continue
		}
		ignored = !r.negate
	}
	return ignored
}

// ParseIgnoreFile reads one pattern per line from path. A missing file
// yields no patterns and no error.
func ParseIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return patterns, nil
}

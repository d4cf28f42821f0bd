package vfs

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Matcher matches normalised file paths against a shell-style pattern.
// "*" and "?" stay within one segment, "**" spans any number of segments (including none).
type Matcher struct {
	globs []glob.Glob
}

// CompileGlob compiles pattern. Leading separators are ignored.
func CompileGlob(pattern string) (*Matcher, error) {
	pattern = strings.TrimLeft(strings.ReplaceAll(pattern, "\\", "/"), "/")
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty glob", ErrInvalidPath)
	}
	m := &Matcher{}
	for _, variant := range zeroSegmentVariants(pattern) {
		g, err := glob.Compile(variant, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
		}
		m.globs = append(m.globs, g)
	}
	return m, nil
}

// zeroSegmentVariants expands each "**/" into both itself and nothing, so that
// "**/*.ts" also matches "y.ts" and "a/**/b" also matches "a/b".
func zeroSegmentVariants(pattern string) []string {
	out := []string{""}
	for {
		i := strings.Index(pattern, "**/")
		if i < 0 || (i > 0 && pattern[i-1] != '/') {
			break
		}
		head := pattern[:i]
		next := make([]string, 0, len(out)*2)
		for _, o := range out {
			next = append(next, o+head+"**/", o+head)
		}
		out = next
		pattern = pattern[i+3:]
	}
	for i := range out {
		out[i] += pattern
	}
	return out
}

// Match reports whether p matches.
func (m *Matcher) Match(p string) bool {
	for _, g := range m.globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// Glob returns the sorted file paths in the selected zone matching pattern.
func (fs *FS) Glob(pattern string, opts ...Option) ([]string, error) {
	m, err := CompileGlob(pattern)
	if err != nil {
		return nil, err
	}
	o := resolve(opts)

	part := fs.partition(o.zone)
	part.mu.RLock()
	defer part.mu.RUnlock()
	var out []string
	for _, k := range files(part.entries) {
		if m.Match(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// DefaultMaxResults caps Search when SearchOptions.MaxResults is zero.
const DefaultMaxResults = 100

// SearchOptions controls Search.
type SearchOptions struct {
	FilePattern   string // optional glob restricting which files are scanned
	CaseSensitive bool
	MaxResults    int
}

// Match is one matching line.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"` // 1-based
	Text string `json:"text"`
}

// Search scans files line by line for the regular expression pattern.
// Results are ordered by path, then line, and capped at MaxResults.
func (fs *FS) Search(pattern string, so SearchOptions, opts ...Option) ([]Match, error) {
	expr := pattern
	if !so.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern %q: %w", pattern, err)
	}
	var filter *Matcher
	if so.FilePattern != "" {
		if filter, err = CompileGlob(so.FilePattern); err != nil {
			return nil, err
		}
	}
	limit := so.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	o := resolve(opts)

	part := fs.partition(o.zone)
	part.mu.RLock()
	defer part.mu.RUnlock()
	zone := part.entries
	var out []Match
	for _, k := range files(zone) {
		if filter != nil && !filter.Match(k) {
			continue
		}
		for i, line := range strings.Split(zone[k].content, "\n") {
			if re.MatchString(line) {
				out = append(out, Match{Path: k, Line: i + 1, Text: line})
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

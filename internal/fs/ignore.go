package fs

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// rule is one parsed ignore line. Rules without '/' are tested against
// the base name, rules with '/' against the slash-separated path below
// the scan root. Matching ignores case since camera and Windows exports
// mix IMG_0001.JPG and img_0001.jpg freely.
type rule struct {
	glob     string
	anchored bool
	keep     bool
}

// IgnoreMatcher decides which entries a scan leaves out. A leading '!'
// keeps an entry dropped by an earlier line and the last matching line
// decides.
type IgnoreMatcher struct {
	rules []rule
}

// NewIgnoreMatcher parses pattern lines, skipping blanks and '#'
// comments. A malformed glob is reported with its 1-based line number.
func NewIgnoreMatcher(lines []string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{}
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		r := rule{}
		if line[0] == '!' {
			r.keep = true
			line = line[1:]
		}
		line = strings.ToLower(strings.TrimSuffix(line, "/"))
		if line == "" {
			continue
		}
		if _, err := filepath.Match(line, ""); errors.Is(err, filepath.ErrBadPattern) {
			return nil, fmt.Errorf("ignore pattern %d %q: %w", i+1, lines[i], err)
		}
		r.glob = line
		r.anchored = strings.Contains(line, "/")
		m.rules = append(m.rules, r)
	}
	return m, nil
}

// LoadIgnoreMatcher combines the configured patterns with the
// IgnoreFileName found in root, which wins on conflicts. The ignore file
// itself is never scanned.
func LoadIgnoreMatcher(root string, configured []string) (*IgnoreMatcher, error) {
	lines := append([]string{IgnoreFileName}, configured...)

	f, err := os.Open(filepath.Join(root, IgnoreFileName))
	if errors.Is(err, os.ErrNotExist) {
		return NewIgnoreMatcher(lines)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", IgnoreFileName, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", IgnoreFileName, err)
	}
	return NewIgnoreMatcher(lines)
}

// Match reports whether rel, a path relative to the scan root, is left
// out.
func (m *IgnoreMatcher) Match(rel string) bool {
	full := strings.ToLower(filepath.ToSlash(rel))
	base := full[strings.LastIndex(full, "/")+1:]

	out := false
	for _, r := range m.rules {
		subject := base
		if r.anchored {
			subject = full
		}
		if ok, _ := filepath.Match(r.glob, subject); ok {
			out = !r.keep
		}
	}
	return out
}

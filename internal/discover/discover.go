// Package discover selects which logged source files a run processes.
package discover

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/phobologic/zppscan/internal/compilelog"
)

// Selector filters source paths with include globs and gitignore-style
// exclude patterns. A nil *Selector selects everything.
type Selector struct {
	include []string
	exclude *ignore.GitIgnore
}

// New compiles include globs (doublestar syntax) and exclude patterns
// (.gitignore syntax). An empty include list matches every path.
func New(include, exclude []string) (*Selector, error) {
	for _, p := range include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}
	s := &Selector{include: include}
	if len(exclude) > 0 {
		s.exclude = ignore.CompileIgnoreLines(exclude...)
	}
	return s, nil
}

// Match reports whether a source path passes the selector.
func (s *Selector) Match(p string) bool {
	if s == nil {
		return true
	}
	rel := normalize(p)
	if s.exclude != nil && s.exclude.MatchesPath(rel) {
		return false
	}
	if len(s.include) == 0 {
		return true
	}
	for _, pattern := range s.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Files returns the recorded sources that pass the selector, sorted.
func (s *Selector) Files(records compilelog.Records) []string {
	var out []string
	for file := range records {
		if s.Match(file) {
			out = append(out, file)
		}
	}
	sort.Strings(out)
	return out
}

// normalize turns a logged path into the slash-separated form patterns are
// matched against. A leading "./" is dropped.
func normalize(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "./")
}

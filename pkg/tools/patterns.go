package tools

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jllopis/warden/pkg/config"
)

// Patterns selects eligible artifacts by file name.
type Patterns struct {
	Include []string
	Exclude []string
}

// DefaultPatterns admits Go sources except tests, package docs and loaders.
func DefaultPatterns() Patterns {
	return Patterns{
		Include: []string{"*.go"},
		Exclude: []string{"*_test.go", "doc.go", "loader.go"},
	}
}

// PatternsFrom reads the tools config section, keeping defaults for empty
// lists.
func PatternsFrom(cfg config.ToolsConfig) Patterns {
	p := DefaultPatterns()
	if len(cfg.Include) > 0 {
		p.Include = cfg.Include
	}
	if len(cfg.Exclude) > 0 {
		p.Exclude = cfg.Exclude
	}
	return p
}

// Eligible reports whether a file name is an artifact.
func (p Patterns) Eligible(name string) bool {
	name = filepath.Base(name)
	if !matchAny(p.Include, name) {
		return false
	}
	return !matchAny(p.Exclude, name)
}

// List returns the eligible artifact paths directly under dir, sorted by name.
func (p Patterns) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !p.Eligible(entry.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	return out, nil
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

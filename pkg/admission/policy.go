package admission

import (
	"path"
	"strings"

	"github.com/jllopis/warden/pkg/config"
)

// Policy is the static vetting policy. A ForbiddenImports entry without a
// slash is matched against the root segment of an import path; an entry with
// a slash is matched against the full path and every parent path, so
// "io/ioutil" denies io/ioutil without denying io. ForbiddenCalls are matched
// against the name of a directly called identifier. Entries may be exact
// names or path.Match globs.
type Policy struct {
	ForbiddenImports []string `json:"forbidden_imports"`
	ForbiddenCalls   []string `json:"forbidden_calls"`
}

// PolicyFromConfig builds a policy from the admission config section.
func PolicyFromConfig(cfg config.AdmissionConfig) Policy {
	return Policy{
		ForbiddenImports: cfg.ForbiddenImports,
		ForbiddenCalls:   cfg.ForbiddenCalls,
	}.normalize()
}

func (p Policy) normalize() Policy {
	return Policy{
		ForbiddenImports: normalizeList(p.ForbiddenImports),
		ForbiddenCalls:   normalizeList(p.ForbiddenCalls),
	}
}

func normalizeList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// importRoot returns the root module of an import path: "os/exec" -> "os".
func importRoot(importPath string) string {
	root, _, _ := strings.Cut(importPath, "/")
	return root
}

// ForbidsImport reports whether importPath is denied and returns the module
// that matched: the root for root entries, the matched path otherwise.
func (p Policy) ForbidsImport(importPath string) (string, bool) {
	root := importRoot(importPath)
	for _, pattern := range p.ForbiddenImports {
		if !strings.Contains(pattern, "/") {
			if matchPattern(pattern, root) {
				return root, true
			}
			continue
		}
		for prefix := importPath; prefix != ""; prefix = parentPath(prefix) {
			if matchPattern(pattern, prefix) {
				return prefix, true
			}
		}
	}
	return root, false
}

// parentPath drops the last segment: "io/ioutil" -> "io", "io" -> "".
func parentPath(importPath string) string {
	i := strings.LastIndex(importPath, "/")
	if i < 0 {
		return ""
	}
	return importPath[:i]
}

// ForbidsCall reports whether a direct call to name is denied.
func (p Policy) ForbidsCall(name string) bool {
	return matchAny(p.ForbiddenCalls, name)
}

func matchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if matchPattern(pattern, value) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, value string) bool {
	if pattern == "" {
		return false
	}
	ok, err := path.Match(pattern, value)
	if err == nil && ok {
		return true
	}
	return pattern == value
}

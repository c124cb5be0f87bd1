package filelock

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agentmesh/mcs/store"
)

var pathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:[A-Za-z]:\\|/)[\w./\\-]+\.\w+`), // absolute Windows/Unix path with extension
	regexp.MustCompile(`\b[\w-]+(?:/[\w.-]+)+\.\w+\b`),      // relative path with extension
	regexp.MustCompile(`"([^"]+\.\w+)"`),                    // double-quoted path
	regexp.MustCompile(`'([^']+\.\w+)'`),                    // single-quoted path
}

// ExtractFilePaths scans free-form text for path-shaped substrings:
// absolute paths, relative paths with extensions, and quoted paths,
// returning each as an absolute path where possible. Used for the
// optional best-effort path inference described for tasks that only
// describe what they touch in prose rather than declaring file_dependencies
// explicitly.
func ExtractFilePaths(action string) []string {
	found := map[string]bool{}
	for _, pattern := range pathPatterns {
		for _, match := range pattern.FindAllStringSubmatch(action, -1) {
			candidate := match[0]
			if len(match) > 1 && match[1] != "" {
				candidate = match[1]
			}
			if abs, err := filepath.Abs(candidate); err == nil {
				found[abs] = true
			}
		}
	}
	paths := make([]string, 0, len(found))
	for p := range found {
		paths = append(paths, p)
	}
	return paths
}

var exclusiveWords = []string{"delete", "remove", "rename", "move", "replace"}
var writeWords = []string{"write", "edit", "modify", "update", "create", "save", "append"}

// ClassifyAccessType inspects the free-form action description to decide
// what access type an inferred path should be locked with: exclusive for
// destructive verbs, write for mutating verbs, read otherwise.
func ClassifyAccessType(action string) store.AccessType {
	lower := strings.ToLower(action)
	for _, w := range exclusiveWords {
		if strings.Contains(lower, w) {
			return store.AccessExclusive
		}
	}
	for _, w := range writeWords {
		if strings.Contains(lower, w) {
			return store.AccessWrite
		}
	}
	return store.AccessRead
}

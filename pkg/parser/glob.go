package parser

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// ExpandGlobs expands file paths and glob patterns into a sorted, deduplicated
// list. A pattern that matches nothing is kept as a literal path so that the
// open error names it.
func ExpandGlobs(patterns []string) ([]string, error) {
	var result []string

	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			matches = []string{pattern}
		}
		result = append(result, matches...)
	}

	result = lo.Uniq(result)
	slices.Sort(result)
	return result, nil
}

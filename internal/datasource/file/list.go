package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// List resolves the run's ordered input file list.
//
// When files is non-empty it is returned as given: the configured order is
// authoritative because file index is part of the checkpoint coordinate.
// Otherwise dir is scanned (non-recursively) for names matching pattern
// ("*" when empty) and the matches are returned sorted by name, which gives
// a stable order across runs.
func List(files []string, dir, pattern string) ([]string, error) {
	if len(files) > 0 {
		return files, nil
	}
	if dir == "" {
		return nil, fmt.Errorf("no input files configured")
	}
	if pattern == "" {
		pattern = "*"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no files in %s match %q", dir, pattern)
	}
	sort.Strings(out)
	return out, nil
}

// Package resolve turns the path given on the command line into the ordered list of update files
// to process.
package resolve

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gitlab.com/tozd/go/errors"
)

// PathNotFoundError is fatal for the run: the input path does not exist.
type PathNotFoundError struct {
	Path string
	Err  error
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("input path not found: %s", e.Path)
}

func (e *PathNotFoundError) Unwrap() error { return e.Err }

// Matcher decides whether a directory entry is a candidate input.
type Matcher interface {
	Matches(path string) bool
}

// Inputs returns p itself when it is a file. For a directory it returns the regular files directly
// inside it that m accepts, sorted by name; everything else is skipped without error.
func Inputs(ctx context.Context, p string, m Matcher) ([]string, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.WithStack(&PathNotFoundError{Path: p, Err: err})
		}
		return nil, errors.Errorf("reading input path %s: %w", p, err)
	}

	if !info.IsDir() {
		if !m.Matches(p) {
			slog.WarnContext(ctx, "input file does not look like the selected format, trying anyway", "path", p)
		}
		return []string{p}, nil
	}

	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, errors.Errorf("listing input directory %s: %w", p, err)
	}

	var inputs []string
	for _, e := range entries {
		full := filepath.Join(p, e.Name())
		if !m.Matches(full) {
			continue
		}
		// follow symlinks, skip anything that isn't a regular file in the end
		fi, err := os.Stat(full)
		if err != nil || !fi.Mode().IsRegular() {
			slog.DebugContext(ctx, "skipping non-regular directory entry", "path", full)
			continue
		}
		inputs = append(inputs, full)
	}
	sort.Strings(inputs)

	slog.DebugContext(ctx, "resolved input directory", "path", p, "inputs", len(inputs))

	return inputs, nil
}

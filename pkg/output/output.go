// Package output writes extracted modules to the output directory.
//
// A module is named <source>_<guid>.pe after the update file it came from. Further modules of the
// same GUID from the same update file get a counter: <source>_<guid>_1.pe, <source>_<guid>_2.pe.
package output

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/ext/osx"
	"github.com/walteh/uefi-extract/pkg/firmware"
)

const Extension = ".pe"

// FileExistsError skips a single module whose output file already exists.
type FileExistsError struct {
	Path string
	// SameRun is set when the file was written earlier in this run.
	SameRun bool
	Err     error
}

func (e *FileExistsError) Error() string {
	if e.SameRun {
		return fmt.Sprintf("output file %s was already written in this run", e.Path)
	}
	return fmt.Sprintf("output file %s already exists (use --force to overwrite)", e.Path)
}

func (e *FileExistsError) Unwrap() error { return e.Err }

// Written describes one module on disk.
type Written struct {
	Path string `yaml:"path"`
	GUID string `yaml:"guid"`
	Size int64  `yaml:"size"`
}

// Writer is not safe for concurrent use.
type Writer struct {
	Dir   string
	Force bool

	written map[string]bool
	counts  map[string]int
}

func NewWriter(dir string, force bool) *Writer {
	return &Writer{
		Dir:     dir,
		Force:   force,
		written: map[string]bool{},
		counts:  map[string]int{},
	}
}

// Prepare creates the output directory.
func (w *Writer) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return errors.Errorf("creating output directory %s: %w", w.Dir, err)
	}
	slog.DebugContext(ctx, "output directory ready", "dir", w.Dir, "force", w.Force)
	return nil
}

// FileName returns the name of the next module of guid taken from source.
func (w *Writer) FileName(source, guid string) string {
	base := filepath.Base(source)
	key := base + "\x00" + guid

	n := w.counts[key]
	w.counts[key] = n + 1

	if n == 0 {
		return fmt.Sprintf("%s_%s%s", base, guid, Extension)
	}
	return fmt.Sprintf("%s_%s_%d%s", base, guid, n, Extension)
}

// Write stores m under the next free name for (source, m.GUID).
func (w *Writer) Write(ctx context.Context, source string, m firmware.Module) (*Written, error) {
	p := filepath.Join(w.Dir, w.FileName(source, m.GUID))

	if w.written[p] {
		return nil, errors.WithStack(&FileExistsError{Path: p, SameRun: true, Err: fs.ErrExist})
	}

	n, err := osx.WriteFileFromReader(ctx, p, bytes.NewReader(m.Data), 0o644, w.Force)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, errors.WithStack(&FileExistsError{Path: p, Err: err})
		}
		return nil, errors.Errorf("writing module %s: %w", m.GUID, err)
	}
	w.written[p] = true

	slog.InfoContext(ctx, "wrote module", "path", p, "guid", m.GUID, "size", humanize.IBytes(uint64(n)))

	return &Written{Path: p, GUID: m.GUID, Size: n}, nil
}

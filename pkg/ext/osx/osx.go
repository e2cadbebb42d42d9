package osx

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/ext/iox"
)

// WriteFileFromReader copies reader into path. Unless overwrite is set the file is created
// exclusively, so an existing file fails with an error matching fs.ErrExist.
func WriteFileFromReader(ctx context.Context, path string, reader io.Reader, perm os.FileMode, overwrite bool) (int64, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}

	// Don't close the reader - let the caller handle that
	file, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return 0, errors.Errorf("creating file %s: %w", path, err)
	}
	defer file.Close()

	written, err := io.Copy(file, iox.NewContextReader(ctx, reader))
	if err != nil {
		if ctx.Err() != nil {
			slog.WarnContext(ctx, "write cancelled, removing partial file", "path", path)
			file.Close()
			os.Remove(path)
			return written, errors.Errorf("operation cancelled: %w", ctx.Err())
		}
		return written, errors.Errorf("copying to file %s: %w", path, err)
	}

	if err := file.Close(); err != nil {
		return written, errors.Errorf("closing file %s: %w", path, err)
	}

	return written, nil
}

// WithTempDir runs fn with a fresh temporary directory that is removed once fn returns,
// whatever the outcome.
func WithTempDir(ctx context.Context, pattern string, fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return errors.Errorf("creating temp dir: %w", err)
	}

	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			slog.WarnContext(ctx, "removing temp dir", "dir", dir, "error", rerr)
			if err == nil {
				err = errors.Errorf("removing temp dir %s: %w", dir, rerr)
			}
		}
	}()

	return fn(dir)
}

// WithTempFile copies reader into a temporary file, runs fn with its path and removes the file
// afterwards.
func WithTempFile(ctx context.Context, pattern string, reader io.Reader, fn func(path string) error) error {
	return WithTempDir(ctx, pattern, func(dir string) error {
		tmp, err := os.CreateTemp(dir, pattern)
		if err != nil {
			return errors.Errorf("creating temp file: %w", err)
		}
		name := tmp.Name()
		tmp.Close()

		if _, err := WriteFileFromReader(ctx, name, reader, 0o600, true); err != nil {
			return err
		}

		return fn(name)
	})
}

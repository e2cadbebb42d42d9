package archivesx

import (
	"context"
	"io"
	"os"

	"github.com/mholt/archives"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/ext/iox"
)

// IdentifyAndDecompress returns a reader over the decompressed stream when reader is compressed,
// or over the original bytes otherwise. The bool reports whether decompression happened.
func IdentifyAndDecompress(ctx context.Context, path string, reader io.Reader) (io.ReadCloser, bool, error) {
	format, rdr, err := archives.Identify(ctx, path, reader)
	if errors.Is(err, archives.NoMatch) {
		return iox.PreservedNopCloser(rdr), false, nil
	}
	if err != nil {
		return nil, false, errors.Errorf("identifying file %s: %w", path, err)
	}

	if format, ok := format.(archives.Compression); ok {
		rdrz, err := format.OpenReader(rdr)
		if err != nil {
			return nil, false, errors.Errorf("opening compression reader: %w", err)
		}
		return rdrz, true, nil
	}

	return nil, false, errors.Errorf("unable to decompress format %T", format)
}

// Entry is a regular file pulled out of an archive.
type Entry struct {
	NameInArchive string
	Data          []byte
}

// ErrNotArchive is returned by ExtractMatching when the file is not a known archive format.
var ErrNotArchive = errors.Base("not an archive")

// ExtractMatching reads every regular file of the archive at path whose name satisfies match.
// Compressed archives (tar.gz, tar.xz, ...) are handled transparently.
func ExtractMatching(ctx context.Context, path string, match func(nameInArchive string) bool) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Errorf("opening archive %s: %w", path, err)
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, path, f)
	if errors.Is(err, archives.NoMatch) {
		return nil, errors.WithStack(ErrNotArchive)
	}
	if err != nil {
		return nil, errors.Errorf("identifying archive %s: %w", path, err)
	}

	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, errors.Errorf("format %s of %s: %w", format.Extension(), path, ErrNotArchive)
	}

	// zip and 7z need random access, so hand the extractor the rewound file itself
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Errorf("rewinding archive %s: %w", path, err)
	}

	var entries []Entry
	err = extractor.Extract(ctx, f, func(ctx context.Context, info archives.FileInfo) error {
		if info.IsDir() || !info.Mode().IsRegular() || !match(info.NameInArchive) {
			return nil
		}

		rc, err := info.Open()
		if err != nil {
			return errors.Errorf("opening %s in archive: %w", info.NameInArchive, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(iox.NewContextReader(ctx, rc))
		if err != nil {
			return errors.Errorf("reading %s in archive: %w", info.NameInArchive, err)
		}

		entries = append(entries, Entry{NameInArchive: info.NameInArchive, Data: data})
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("extracting %s: %w", path, err)
	}

	return entries, nil
}

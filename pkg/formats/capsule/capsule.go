// Package capsule handles bare capsule and ROM files, optionally compressed.
package capsule

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/ext/archivesx"
	"github.com/walteh/uefi-extract/pkg/formats"
)

var compressionExtensions = []string{".gz", ".xz", ".zst", ".bz2", ".lz4"}

var _ formats.Handler = (*Handler)(nil)

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Format() formats.Format {
	return formats.FormatCapsule
}

func (h *Handler) Matches(p string) bool {
	return formats.IsFirmwareImageName(trimCompression(p)) || formats.HasExtension(p, ".bin")
}

func (h *Handler) Capsules(ctx context.Context, p string) ([]formats.Capsule, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("opening capsule: %w", err))
	}
	defer f.Close()

	rdr, decompressed, err := archivesx.IdentifyAndDecompress(ctx, p, f)
	if err != nil {
		return nil, formats.NewUnpackError(p, err)
	}
	defer rdr.Close()

	data, err := io.ReadAll(rdr)
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("reading capsule: %w", err))
	}

	name := filepath.Base(p)
	if decompressed {
		name = trimCompression(name)
		slog.DebugContext(ctx, "decompressed capsule", "path", p, "name", name)
	}

	return []formats.Capsule{{Name: name, Data: data}}, nil
}

func trimCompression(p string) string {
	ext := filepath.Ext(p)
	if formats.HasExtension(p, compressionExtensions...) {
		return strings.TrimSuffix(p, ext)
	}
	return p
}

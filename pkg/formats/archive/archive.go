// Package archive handles update packages distributed as zip, 7z or tar archives.
package archive

import (
	"context"
	"path"
	"sort"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/ext/archivesx"
	"github.com/walteh/uefi-extract/pkg/formats"
)

var archiveSuffixes = []string{".zip", ".7z", ".tar", ".tgz", ".tar.gz", ".tar.xz", ".tar.zst", ".tar.bz2"}

var _ formats.Handler = (*Handler)(nil)

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Format() formats.Format {
	return formats.FormatArchive
}

func (h *Handler) Matches(p string) bool {
	lower := strings.ToLower(p)
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func (h *Handler) Capsules(ctx context.Context, p string) ([]formats.Capsule, error) {
	entries, err := archivesx.ExtractMatching(ctx, p, func(name string) bool {
		return formats.IsFirmwareImageName(path.Base(name))
	})
	if err != nil {
		return nil, formats.NewUnpackError(p, err)
	}
	if len(entries) == 0 {
		return nil, formats.NewUnpackError(p, errors.New("no capsules found in archive"))
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].NameInArchive < entries[j].NameInArchive })

	capsules := make([]formats.Capsule, 0, len(entries))
	for _, e := range entries {
		capsules = append(capsules, formats.Capsule{Name: path.Base(e.NameInArchive), Data: e.Data})
	}
	return capsules, nil
}

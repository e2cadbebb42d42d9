// Package registry maps a format tag to its handler.
package registry

import (
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/formats/archive"
	"github.com/walteh/uefi-extract/pkg/formats/capsule"
	"github.com/walteh/uefi-extract/pkg/formats/lenovoexe"
	"github.com/walteh/uefi-extract/pkg/formats/lenovoiso"
)

type Options struct {
	// Innoextract overrides the innoextract binary used by the lenovo_exe handler.
	Innoextract string
}

func Handler(f formats.Format, opts Options) (formats.Handler, error) {
	switch f {
	case formats.FormatLenovoISO:
		return lenovoiso.New(), nil
	case formats.FormatLenovoEXE:
		return lenovoexe.New(opts.Innoextract), nil
	case formats.FormatCapsule:
		return capsule.New(), nil
	case formats.FormatArchive:
		return archive.New(), nil
	}
	return nil, errors.Errorf("no handler for %s", f)
}

// Lookup parses a format tag and returns its handler.
func Lookup(tag string, opts Options) (formats.Handler, error) {
	f, err := formats.ParseFormat(tag)
	if err != nil {
		return nil, err
	}
	return Handler(f, opts)
}

// Package firmware parses UEFI firmware images with fiano and pulls out the PE32 images of
// firmware files selected by GUID.
package firmware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/linuxboot/fiano/pkg/uefi"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/fwguid"
	"github.com/walteh/uefi-extract/pkg/magic"
)

const (
	sectionHeaderSize    = 4
	sectionExtHeaderSize = 8
)

// Module is one PE32 image found under a requested firmware file.
type Module struct {
	GUID string
	Data []byte
}

// ParseError is returned when a capsule cannot be parsed as firmware.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing firmware %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFunc turns raw capsule bytes into a firmware tree.
type ParseFunc func(ctx context.Context, name string, data []byte) (uefi.Firmware, error)

var _ ParseFunc = Parse

// Parse hands data to fiano. Inputs without any firmware volume signature are rejected up front,
// and a panic inside the parser is reported as a ParseError like any other failure.
func Parse(ctx context.Context, name string, data []byte) (fw uefi.Firmware, err error) {
	if !magic.HasFirmwareVolume(data) {
		return nil, &ParseError{Name: name, Err: errors.New("unknown firmware type: no firmware volume signature")}
	}

	defer func() {
		if r := recover(); r != nil {
			fw = nil
			err = &ParseError{Name: name, Err: errors.Errorf("parser panic: %v", r)}
		}
	}()

	fw, err = uefi.Parse(data)
	if err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}

	slog.DebugContext(ctx, "parsed firmware", "capsule", name, "type", fmt.Sprintf("%T", fw), "size", humanize.IBytes(uint64(len(data))))

	return fw, nil
}

// Collect walks fw and returns, in tree order, every PE32 image beneath a firmware file whose GUID
// is in want. Files are matched at any depth, including inside encapsulated volumes.
func Collect(ctx context.Context, fw uefi.Firmware, want *fwguid.Set) ([]Module, error) {
	finder := &guidFinder{want: want}
	if err := finder.Run(fw); err != nil {
		return nil, errors.Errorf("walking firmware tree: %w", err)
	}

	for _, m := range finder.modules {
		slog.DebugContext(ctx, "found pe32 image", "guid", m.GUID, "size", humanize.IBytes(uint64(len(m.Data))))
		// kept anyway, the section type is what selects a module
		if !magic.IsExecutable(m.Data) {
			slog.WarnContext(ctx, "pe32 section does not start with an MZ or VZ header", "guid", m.GUID)
		}
	}

	return finder.modules, nil
}

type guidFinder struct {
	want    *fwguid.Set
	modules []Module
}

func (v *guidFinder) Run(f uefi.Firmware) error {
	return f.Apply(v)
}

func (v *guidFinder) Visit(f uefi.Firmware) error {
	if file, ok := f.(*uefi.File); ok && v.want.ContainsGUID(file.Header.GUID) {
		images := &pe32Collector{}
		if err := images.Run(file); err != nil {
			return err
		}
		id := fwguid.FromGUID(file.Header.GUID)
		for _, img := range images.images {
			v.modules = append(v.modules, Module{GUID: id, Data: img})
		}
	}
	return f.ApplyChildren(v)
}

type pe32Collector struct {
	images [][]byte
}

func (v *pe32Collector) Run(f uefi.Firmware) error {
	return f.Apply(v)
}

func (v *pe32Collector) Visit(f uefi.Firmware) error {
	if s, ok := f.(*uefi.Section); ok && s.Header.Type == uefi.SectionTypePE32 {
		if body := sectionBody(s); len(body) > 0 {
			v.images = append(v.images, body)
		}
		return nil
	}
	return f.ApplyChildren(v)
}

// sectionBody strips the common section header, which grows to 8 bytes when the 24-bit size
// field is saturated.
func sectionBody(s *uefi.Section) []byte {
	buf := s.Buf()

	hdr := sectionHeaderSize
	if s.Header.Size == [3]uint8{0xFF, 0xFF, 0xFF} {
		hdr = sectionExtHeaderSize
	}
	if len(buf) <= hdr {
		return nil
	}

	out := make([]byte, len(buf)-hdr)
	copy(out, buf[hdr:])
	return out
}

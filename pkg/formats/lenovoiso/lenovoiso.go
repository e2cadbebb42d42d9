// Package lenovoiso unpacks Lenovo BIOS update ISOs. The capsules live on the FAT filesystem of
// the El Torito hard-disk boot image, under FLASH/<model>/.
package lenovoiso

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/dustin/go-humanize"
	"github.com/kdomanski/iso9660"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/eltorito"
	"github.com/walteh/uefi-extract/pkg/ext/osx"
	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/magic"
)

const flashDir = "FLASH"

var _ formats.Handler = (*Handler)(nil)

type Handler struct{}

func New() *Handler {
	return &Handler{}
}

func (h *Handler) Format() formats.Format {
	return formats.FormatLenovoISO
}

func (h *Handler) Matches(p string) bool {
	return formats.HasExtension(p, ".iso")
}

func (h *Handler) Capsules(ctx context.Context, p string) ([]formats.Capsule, error) {
	file, err := os.Open(p)
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("opening iso: %w", err))
	}
	defer file.Close()

	rdr, err := magic.ISO9660ValidationReader(file)
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("not an iso9660 image: %w", err))
	}
	defer rdr.Close()

	image, err := iso9660.OpenImage(file)
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("reading iso image: %w", err))
	}

	boot, err := eltorito.Locate(file)
	if err != nil {
		if !errors.Is(err, eltorito.ErrNoBootRecord) {
			return nil, formats.NewUnpackError(p, errors.Errorf("locating boot image: %w", err))
		}
		slog.DebugContext(ctx, "iso has no boot image, scanning iso9660 tree", "path", p)
		return fromTree(ctx, p, image)
	}

	slog.DebugContext(ctx, "located el torito boot image",
		"media", boot.Media.String(),
		"offset", boot.Offset,
		"size", humanize.IBytes(uint64(boot.Size)),
	)

	capsules, bootErr := fromBootImage(ctx, file, boot)
	if bootErr == nil {
		if len(capsules) == 0 {
			return nil, formats.NewUnpackError(p, errors.New("no capsules found in boot image"))
		}
		return capsules, nil
	}

	// some images keep a copy of FLASH on the iso itself
	capsules, err = fromTree(ctx, p, image)
	if err != nil {
		return nil, formats.NewUnpackError(p, bootErr)
	}
	slog.WarnContext(ctx, "boot image unreadable, used iso9660 tree instead", "path", p, "error", bootErr)
	return capsules, nil
}

func fromBootImage(ctx context.Context, iso io.ReaderAt, boot *eltorito.BootImage) ([]formats.Capsule, error) {
	if boot.Media != eltorito.MediaHardDisk {
		return nil, errors.Errorf("boot image uses %s emulation, want hard-disk", boot.Media)
	}

	var capsules []formats.Capsule
	err := osx.WithTempFile(ctx, "uefiextract_", boot.Reader(iso), func(imagePath string) error {
		d, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
		if err != nil {
			return errors.Errorf("opening boot image: %w", err)
		}
		defer d.Close()

		table, err := d.GetPartitionTable()
		if err != nil {
			return errors.Errorf("reading partition table: %w", err)
		}

		mbrTable, ok := table.(*mbr.Table)
		if !ok {
			return errors.Errorf("boot image has a %s partition table, want mbr", table.Type())
		}

		if err := checkPartitions(mbrTable.Partitions); err != nil {
			return err
		}

		vol, err := openVolume(ctx, d, imagePath, mbrTable)
		if err != nil {
			return err
		}
		defer vol.close()

		capsules, err = readFlashDir(ctx, vol)
		return err
	})
	if err != nil {
		return nil, err
	}

	return capsules, nil
}

// checkPartitions accepts only the layout Lenovo ships: one populated partition in the first
// slot, every other slot empty.
func checkPartitions(parts []*mbr.Partition) error {
	if len(parts) == 0 || parts[0] == nil || parts[0].Start == 0 {
		return errors.New("unexpected partition layout: first partition is empty")
	}
	for i, p := range parts[1:] {
		if p != nil && p.Start != 0 {
			return errors.Errorf("unexpected partition layout: partition %d is populated", i+2)
		}
	}
	return nil
}

func readFlashDir(ctx context.Context, vol volume) ([]formats.Capsule, error) {
	top, err := vol.readDir("/")
	if err != nil {
		return nil, errors.Errorf("reading root directory: %w", err)
	}

	root := ""
	for _, e := range top {
		if e.dir && strings.EqualFold(e.name, flashDir) {
			root = "/" + e.name
			break
		}
	}
	if root == "" {
		return nil, errors.Errorf("no %s directory in boot image", flashDir)
	}

	subdirs, err := vol.readDir(root)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", root, err)
	}

	var paths []string
	for _, sub := range subdirs {
		if !sub.dir || isDotEntry(sub.name) {
			continue
		}
		dir := path.Join(root, sub.name)
		entries, err := vol.readDir(dir)
		if err != nil {
			return nil, errors.Errorf("reading %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.dir && formats.IsCapsuleName(e.name) {
				paths = append(paths, path.Join(dir, e.name))
			}
		}
	}
	sort.Strings(paths)

	capsules := make([]formats.Capsule, 0, len(paths))
	for _, p := range paths {
		data, err := vol.readFile(p)
		if err != nil {
			return nil, errors.Errorf("reading %s: %w", p, err)
		}
		slog.DebugContext(ctx, "found capsule in boot image", "capsule", p, "size", humanize.IBytes(uint64(len(data))))
		capsules = append(capsules, formats.Capsule{Name: path.Base(p), Data: data})
	}

	return capsules, nil
}

// fromTree looks for FLASH/<model>/*.FL<n> directly on the iso9660 filesystem.
func fromTree(ctx context.Context, p string, image *iso9660.Image) ([]formats.Capsule, error) {
	root, err := image.RootDir()
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("getting iso root directory: %w", err))
	}

	top, err := root.GetChildren()
	if err != nil {
		return nil, formats.NewUnpackError(p, errors.Errorf("listing iso root directory: %w", err))
	}

	type found struct {
		path string
		file *iso9660.File
	}
	var files []found
	for _, dir := range top {
		if !dir.IsDir() || !strings.EqualFold(dir.Name(), flashDir) {
			continue
		}
		subdirs, err := dir.GetChildren()
		if err != nil {
			return nil, formats.NewUnpackError(p, errors.Errorf("listing %s: %w", dir.Name(), err))
		}
		for _, sub := range subdirs {
			if !sub.IsDir() {
				continue
			}
			children, err := sub.GetChildren()
			if err != nil {
				return nil, formats.NewUnpackError(p, errors.Errorf("listing %s/%s: %w", dir.Name(), sub.Name(), err))
			}
			for _, child := range children {
				name := isoName(child)
				if child.IsDir() || !formats.IsCapsuleName(name) {
					continue
				}
				files = append(files, found{path: path.Join(dir.Name(), sub.Name(), name), file: child})
			}
		}
	}

	if len(files) == 0 {
		return nil, formats.NewUnpackError(p, errors.New("no capsules found"))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	capsules := make([]formats.Capsule, 0, len(files))
	for _, f := range files {
		data, err := io.ReadAll(f.file.Reader())
		if err != nil {
			return nil, formats.NewUnpackError(p, errors.Errorf("reading %s: %w", f.path, err))
		}
		slog.DebugContext(ctx, "found capsule in iso9660 tree", "capsule", f.path, "size", humanize.IBytes(uint64(len(data))))
		capsules = append(capsules, formats.Capsule{Name: path.Base(f.path), Data: data})
	}

	return capsules, nil
}

// isoName drops the ";1" version suffix some images leave on file identifiers. The reader
// lowercases plain iso9660 identifiers, so capsules found this way have lowercase names.
func isoName(f *iso9660.File) string {
	name := f.Name()
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(name, ".")
}

func isDotEntry(name string) bool {
	return name == "." || name == ".."
}

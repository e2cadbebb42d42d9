package lenovoiso

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/fatfs"
)

type volumeEntry struct {
	name string
	dir  bool
}

// volume is the read-only view of the boot image filesystem.
type volume interface {
	readDir(p string) ([]volumeEntry, error)
	readFile(p string) ([]byte, error)
	close() error
}

// openVolume prefers go-diskfs, which only reads FAT32. Older images format the boot
// partition as FAT12 or FAT16; those go through fatfs.
func openVolume(ctx context.Context, d *disk.Disk, imagePath string, table *mbr.Table) (volume, error) {
	fs, diskErr := d.GetFilesystem(1)
	if diskErr == nil {
		return &diskfsVolume{fs: fs}, nil
	}

	sectorSize := int64(table.LogicalSectorSize)
	if sectorSize == 0 {
		sectorSize = 512
	}
	part := table.Partitions[0]

	f, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Errorf("opening boot image: %w", err)
	}

	size := int64(part.Size) * sectorSize
	fat, err := fatfs.Open(io.NewSectionReader(f, int64(part.Start)*sectorSize, size), size)
	if err != nil {
		f.Close()
		return nil, errors.Errorf("unsupported filesystem on partition 1 (type %#02x): %s: %w", byte(part.Type), diskErr.Error(), err)
	}

	slog.DebugContext(ctx, "reading boot partition with fallback fat reader", "fat", fat.Type().String())
	return &fatVolume{fs: fat, file: f}, nil
}

type diskfsVolume struct {
	fs filesystem.FileSystem
}

func (v *diskfsVolume) readDir(p string) ([]volumeEntry, error) {
	infos, err := v.fs.ReadDir(p)
	if err != nil {
		return nil, err
	}
	out := make([]volumeEntry, 0, len(infos))
	for _, info := range infos {
		out = append(out, volumeEntry{name: info.Name(), dir: info.IsDir()})
	}
	return out, nil
}

func (v *diskfsVolume) readFile(p string) ([]byte, error) {
	f, err := v.fs.OpenFile(p, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (v *diskfsVolume) close() error { return nil }

type fatVolume struct {
	fs   *fatfs.FS
	file *os.File
}

func (v *fatVolume) readDir(p string) ([]volumeEntry, error) {
	entries, err := v.fs.ReadDir(p)
	if err != nil {
		return nil, err
	}
	out := make([]volumeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, volumeEntry{name: e.Name, dir: e.IsDir})
	}
	return out, nil
}

func (v *fatVolume) readFile(p string) ([]byte, error) {
	return v.fs.ReadFile(p)
}

func (v *fatVolume) close() error {
	return v.file.Close()
}

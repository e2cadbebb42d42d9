// Package eltorito locates the boot disk image that an El Torito bootable ISO embeds.
package eltorito

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"gitlab.com/tozd/go/errors"
)

const (
	SectorSize        = 2048
	VirtualSectorSize = 512

	bootRecordSector = 17
	bootSystemID     = "EL TORITO SPECIFICATION"

	mbrPartitionTableOffset = 446
	mbrPartitionEntrySize   = 16
	mbrPartitionCount       = 4
)

// ErrNoBootRecord is returned when the image carries no El Torito boot record.
var ErrNoBootRecord = errors.Base("no el torito boot record")

type Media uint8

const (
	MediaNoEmulation Media = 0
	MediaFloppy12M   Media = 1
	MediaFloppy144M  Media = 2
	MediaFloppy288M  Media = 3
	MediaHardDisk    Media = 4
)

func (m Media) String() string {
	switch m {
	case MediaNoEmulation:
		return "no-emulation"
	case MediaFloppy12M:
		return "floppy-1.2M"
	case MediaFloppy144M:
		return "floppy-1.44M"
	case MediaFloppy288M:
		return "floppy-2.88M"
	case MediaHardDisk:
		return "hard-disk"
	}
	return fmt.Sprintf("media(%d)", uint8(m))
}

// BootImage describes where the default boot entry's image lives inside the ISO.
type BootImage struct {
	Media       Media
	Offset      int64
	Size        int64
	SectorCount uint16
}

// Reader returns a reader over the boot image bytes.
func (b *BootImage) Reader(r io.ReaderAt) *io.SectionReader {
	return io.NewSectionReader(r, b.Offset, b.Size)
}

type validationEntry struct {
	HeaderID   uint8
	PlatformID uint8
	Reserved   uint16
	ID         [24]byte
	Checksum   uint16
	Key55      uint8
	KeyAA      uint8
}

type defaultEntry struct {
	BootIndicator uint8
	Media         uint8
	LoadSegment   uint16
	SystemType    uint8
	Unused        uint8
	SectorCount   uint16
	LoadRBA       uint32
	Reserved      [20]byte
}

// Locate reads the boot record volume descriptor and the boot catalog of iso and returns the
// initial/default boot image. For hard-disk emulation the image extends to the end of the
// furthest partition of the image's own MBR.
func Locate(iso io.ReaderAt) (*BootImage, error) {
	desc := make([]byte, SectorSize)
	if _, err := iso.ReadAt(desc, bootRecordSector*SectorSize); err != nil {
		return nil, errors.Errorf("reading boot record descriptor: %w", err)
	}

	if desc[0] != 0 || string(desc[1:6]) != "CD001" {
		return nil, errors.WithStack(ErrNoBootRecord)
	}
	if string(bytes.TrimRight(desc[7:39], "\x00 ")) != bootSystemID {
		return nil, errors.WithStack(ErrNoBootRecord)
	}

	catalogSector := binary.LittleEndian.Uint32(desc[0x47:0x4B])

	catalog := make([]byte, 64)
	if _, err := iso.ReadAt(catalog, int64(catalogSector)*SectorSize); err != nil {
		return nil, errors.Errorf("reading boot catalog at sector %d: %w", catalogSector, err)
	}

	var ve validationEntry
	if err := binary.Read(bytes.NewReader(catalog[:32]), binary.LittleEndian, &ve); err != nil {
		return nil, errors.Errorf("decoding validation entry: %w", err)
	}
	if ve.HeaderID != 0x01 || ve.Key55 != 0x55 || ve.KeyAA != 0xAA {
		return nil, errors.Errorf("invalid boot catalog validation entry at sector %d", catalogSector)
	}
	if sum := catalogChecksum(catalog[:32]); sum != 0 {
		return nil, errors.Errorf("boot catalog validation entry checksum mismatch (sum=0x%04x)", sum)
	}

	var de defaultEntry
	if err := binary.Read(bytes.NewReader(catalog[32:64]), binary.LittleEndian, &de); err != nil {
		return nil, errors.Errorf("decoding default entry: %w", err)
	}

	img := &BootImage{
		Media:       Media(de.Media & 0x0F),
		Offset:      int64(de.LoadRBA) * SectorSize,
		SectorCount: de.SectorCount,
	}

	switch img.Media {
	case MediaNoEmulation:
		img.Size = int64(de.SectorCount) * VirtualSectorSize
	case MediaFloppy12M:
		img.Size = 1200 * 1024
	case MediaFloppy144M:
		img.Size = 1440 * 1024
	case MediaFloppy288M:
		img.Size = 2880 * 1024
	case MediaHardDisk:
		size, err := hardDiskImageSize(iso, img.Offset)
		if err != nil {
			return nil, err
		}
		img.Size = size
	default:
		return nil, errors.Errorf("unsupported boot media type %d", de.Media)
	}

	return img, nil
}

// the validation entry's 16-bit words must sum to zero
func catalogChecksum(entry []byte) uint16 {
	var sum uint16
	for i := 0; i+1 < len(entry); i += 2 {
		sum += binary.LittleEndian.Uint16(entry[i : i+2])
	}
	return sum
}

func hardDiskImageSize(iso io.ReaderAt, offset int64) (int64, error) {
	mbr := make([]byte, VirtualSectorSize)
	if _, err := iso.ReadAt(mbr, offset); err != nil {
		return 0, errors.Errorf("reading boot image mbr: %w", err)
	}
	if mbr[510] != 0x55 || mbr[511] != 0xAA {
		return 0, errors.New("boot image has no mbr signature")
	}

	var end uint64
	for i := 0; i < mbrPartitionCount; i++ {
		entry := mbr[mbrPartitionTableOffset+i*mbrPartitionEntrySize:]
		start := binary.LittleEndian.Uint32(entry[8:12])
		size := binary.LittleEndian.Uint32(entry[12:16])
		if size == 0 {
			continue
		}
		if e := uint64(start) + uint64(size); e > end {
			end = e
		}
	}
	if end == 0 {
		return 0, errors.New("boot image mbr has no partitions")
	}

	return int64(end) * VirtualSectorSize, nil
}

// Package fatfs is a read-only FAT12/FAT16 reader. FAT32 volumes are left to go-diskfs.
//
// Only short (8.3) names are resolved; long file name entries are skipped.
package fatfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"strings"

	"gitlab.com/tozd/go/errors"
)

type Type int

const (
	FAT12 Type = 12
	FAT16 Type = 16
	FAT32 Type = 32
)

func (t Type) String() string {
	return fmt.Sprintf("FAT%d", int(t))
}

var (
	// ErrNotFAT is returned when the boot sector carries no usable BIOS parameter block.
	ErrNotFAT = errors.Base("not a fat filesystem")
	// ErrUnsupported is returned for FAT32 volumes.
	ErrUnsupported = errors.Base("unsupported fat variant")
)

const (
	dirEntrySize = 32

	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrLongName  = 0x0F
)

type FS struct {
	r    io.ReaderAt
	typ  Type
	fat []byte

	clusterSize int64
	rootOffset  int64
	rootSize    int64
	dataOffset  int64
	clusters    uint32
}

// Entry is one directory entry.
type Entry struct {
	Name  string
	IsDir bool
	Size  uint32

	cluster uint32
}

// Open parses the boot sector at the start of r. size is the volume size in bytes.
func Open(r io.ReaderAt, size int64) (*FS, error) {
	bs := make([]byte, 512)
	if _, err := r.ReadAt(bs, 0); err != nil {
		return nil, errors.Errorf("reading boot sector: %w", err)
	}
	if bs[510] != 0x55 || bs[511] != 0xAA {
		return nil, errors.Errorf("%w: missing boot sector signature", ErrNotFAT)
	}

	bytesPerSector := int64(binary.LittleEndian.Uint16(bs[11:13]))
	sectorsPerCluster := int64(bs[13])
	reserved := int64(binary.LittleEndian.Uint16(bs[14:16]))
	numFATs := int64(bs[16])
	rootEntries := int64(binary.LittleEndian.Uint16(bs[17:19]))
	totalSectors := int64(binary.LittleEndian.Uint16(bs[19:21]))
	fatSectors := int64(binary.LittleEndian.Uint16(bs[22:24]))
	if totalSectors == 0 {
		totalSectors = int64(binary.LittleEndian.Uint32(bs[32:36]))
	}

	switch bytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, errors.Errorf("%w: bytes per sector %d", ErrNotFAT, bytesPerSector)
	}
	if sectorsPerCluster == 0 || sectorsPerCluster&(sectorsPerCluster-1) != 0 {
		return nil, errors.Errorf("%w: sectors per cluster %d", ErrNotFAT, sectorsPerCluster)
	}
	if reserved == 0 || numFATs == 0 || totalSectors == 0 {
		return nil, errors.Errorf("%w: empty bios parameter block", ErrNotFAT)
	}
	if fatSectors == 0 {
		return nil, errors.WithStack(ErrUnsupported)
	}

	rootSectors := (rootEntries*dirEntrySize + bytesPerSector - 1) / bytesPerSector
	firstData := reserved + numFATs*fatSectors + rootSectors
	if firstData >= totalSectors {
		return nil, errors.Errorf("%w: data region starts past the end of the volume", ErrNotFAT)
	}
	clusters := uint32((totalSectors - firstData) / sectorsPerCluster)

	fs := &FS{
		r:           r,
		clusterSize: sectorsPerCluster * bytesPerSector,
		rootOffset:  (reserved + numFATs*fatSectors) * bytesPerSector,
		rootSize:    rootEntries * dirEntrySize,
		dataOffset:  firstData * bytesPerSector,
		clusters:    clusters,
	}

	// the cluster count alone decides the variant
	switch {
	case clusters < 4085:
		fs.typ = FAT12
	case clusters < 65525:
		fs.typ = FAT16
	default:
		return nil, errors.WithStack(ErrUnsupported)
	}

	if size > 0 && totalSectors*bytesPerSector > size {
		return nil, errors.Errorf("%w: volume claims %d bytes, have %d", ErrNotFAT, totalSectors*bytesPerSector, size)
	}

	fs.fat = make([]byte, fatSectors*bytesPerSector)
	if _, err := r.ReadAt(fs.fat, reserved*bytesPerSector); err != nil {
		return nil, errors.Errorf("reading allocation table: %w", err)
	}

	return fs, nil
}

func (fs *FS) Type() Type { return fs.typ }

func (fs *FS) next(cluster uint32) (uint32, bool, error) {
	var v uint32
	switch fs.typ {
	case FAT12:
		off := cluster + cluster/2
		if int(off)+1 >= len(fs.fat) {
			return 0, false, errors.Errorf("cluster %d outside allocation table", cluster)
		}
		v = uint32(binary.LittleEndian.Uint16(fs.fat[off:]))
		if cluster&1 == 1 {
			v >>= 4
		} else {
			v &= 0x0FFF
		}
		if v >= 0xFF8 {
			return 0, true, nil
		}
	default:
		off := cluster * 2
		if int(off)+1 >= len(fs.fat) {
			return 0, false, errors.Errorf("cluster %d outside allocation table", cluster)
		}
		v = uint32(binary.LittleEndian.Uint16(fs.fat[off:]))
		if v >= 0xFFF8 {
			return 0, true, nil
		}
	}
	if v < 2 || v >= fs.clusters+2 {
		return 0, false, errors.Errorf("broken cluster chain at %d (next %#x)", cluster, v)
	}
	return v, false, nil
}

// chain reads the cluster chain starting at first, stopping after limit bytes when limit >= 0.
func (fs *FS) chain(first uint32, limit int64) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, fs.clusterSize)
	c := first
	for i := uint32(0); ; i++ {
		if i > fs.clusters {
			return nil, errors.Errorf("cluster chain starting at %d loops", first)
		}
		if c < 2 || c >= fs.clusters+2 {
			return nil, errors.Errorf("invalid cluster %d", c)
		}
		if _, err := fs.r.ReadAt(buf, fs.dataOffset+int64(c-2)*fs.clusterSize); err != nil {
			return nil, errors.Errorf("reading cluster %d: %w", c, err)
		}
		out.Write(buf)
		if limit >= 0 && int64(out.Len()) >= limit {
			return out.Bytes()[:limit], nil
		}

		n, end, err := fs.next(c)
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
		c = n
	}
	if limit > int64(out.Len()) {
		return nil, errors.Errorf("cluster chain starting at %d is shorter than %d bytes", first, limit)
	}
	return out.Bytes(), nil
}

func parseEntries(raw []byte) []Entry {
	var entries []Entry
	for off := 0; off+dirEntrySize <= len(raw); off += dirEntrySize {
		e := raw[off : off+dirEntrySize]
		if e[0] == 0x00 {
			break
		}
		attr := e[11]
		if e[0] == 0xE5 || attr == attrLongName || attr&attrVolumeID != 0 {
			continue
		}

		name := shortName(e[0:11])
		if name == "." || name == ".." {
			continue
		}

		entries = append(entries, Entry{
			Name:    name,
			IsDir:   attr&attrDirectory != 0,
			Size:    binary.LittleEndian.Uint32(e[28:32]),
			cluster: uint32(binary.LittleEndian.Uint16(e[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(e[26:28])),
		})
	}
	return entries
}

func shortName(raw []byte) string {
	b := append([]byte(nil), raw...)
	if b[0] == 0x05 {
		b[0] = 0xE5
	}
	base := strings.TrimRight(string(b[0:8]), " ")
	ext := strings.TrimRight(string(b[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func (fs *FS) root() ([]Entry, error) {
	raw := make([]byte, fs.rootSize)
	if _, err := fs.r.ReadAt(raw, fs.rootOffset); err != nil {
		return nil, errors.Errorf("reading root directory: %w", err)
	}
	return parseEntries(raw), nil
}

func (fs *FS) lookup(p string) (*Entry, []Entry, error) {
	entries, err := fs.root()
	if err != nil {
		return nil, nil, err
	}

	var cur *Entry
	for _, part := range strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/") {
		if part == "" {
			continue
		}
		var found *Entry
		for i := range entries {
			if strings.EqualFold(entries[i].Name, part) {
				found = &entries[i]
				break
			}
		}
		if found == nil {
			return nil, nil, errors.Errorf("%s: file does not exist", p)
		}
		cur = found
		if !cur.IsDir {
			entries = nil
			continue
		}
		raw, err := fs.chain(cur.cluster, -1)
		if err != nil {
			return nil, nil, errors.Errorf("reading directory %s: %w", part, err)
		}
		entries = parseEntries(raw)
	}
	return cur, entries, nil
}

// ReadDir lists the directory at p, case-insensitively.
func (fs *FS) ReadDir(p string) ([]Entry, error) {
	e, entries, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if e != nil && !e.IsDir {
		return nil, errors.Errorf("%s: not a directory", p)
	}
	return entries, nil
}

// ReadFile returns the contents of the file at p.
func (fs *FS) ReadFile(p string) ([]byte, error) {
	e, _, err := fs.lookup(p)
	if err != nil {
		return nil, err
	}
	if e == nil || e.IsDir {
		return nil, errors.Errorf("%s: is a directory", p)
	}
	if e.Size == 0 {
		return []byte{}, nil
	}
	return fs.chain(e.cluster, int64(e.Size))
}

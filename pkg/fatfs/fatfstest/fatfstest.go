// Package fatfstest builds small FAT12 and FAT16 volumes in memory.
package fatfstest

import (
	"encoding/binary"
	"path"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/walteh/uefi-extract/pkg/fatfs"
)

type geometry struct {
	totalSectors uint16
	rootEntries  uint16
	fatSectors   uint16
}

const (
	bytesPerSector    = 512
	sectorsPerCluster = 1
	reservedSectors   = 1
	numFATs           = 2
)

var geometries = map[fatfs.Type]geometry{
	fatfs.FAT12: {totalSectors: 2880, rootEntries: 224, fatSectors: 9},
	fatfs.FAT16: {totalSectors: 20480, rootEntries: 512, fatSectors: 80},
}

type node struct {
	name     string
	dir      bool
	data     []byte
	children map[string]*node
	cluster  uint32
}

type builder struct {
	t    testing.TB
	g    geometry
	img  []byte
	typ  fatfs.Type
	fat  map[uint32]uint32
	next uint32
}

// Build returns a volume holding files, keyed by slash separated 8.3 paths.
// Intermediate directories are created as needed.
func Build(t testing.TB, typ fatfs.Type, files map[string][]byte) []byte {
	t.Helper()

	g, ok := geometries[typ]
	require.True(t, ok, "no geometry for %s", typ)

	root := &node{dir: true, children: map[string]*node{}}
	for p, data := range files {
		parts := strings.Split(strings.Trim(path.Clean("/"+p), "/"), "/")
		cur := root
		for i, part := range parts {
			if i == len(parts)-1 {
				cur.children[part] = &node{name: part, data: data}
				break
			}
			child, ok := cur.children[part]
			if !ok {
				child = &node{name: part, dir: true, children: map[string]*node{}}
				cur.children[part] = child
			}
			require.True(t, child.dir, "%s is both a file and a directory", part)
			cur = child
		}
	}

	b := &builder{
		t:    t,
		g:    g,
		typ:  typ,
		img:  make([]byte, int(g.totalSectors)*bytesPerSector),
		fat:  map[uint32]uint32{},
		next: 2,
	}
	b.bootSector()

	rootOffset := (reservedSectors + numFATs*int(g.fatSectors)) * bytesPerSector
	entries := b.children(root)
	require.LessOrEqual(t, len(entries)/32, int(g.rootEntries), "too many root entries")
	copy(b.img[rootOffset:], entries)

	b.writeFAT()
	return b.img
}

func (b *builder) bootSector() {
	bs := b.img[:bytesPerSector]
	copy(bs[0:3], []byte{0xEB, 0x3C, 0x90})
	copy(bs[3:11], "MSWIN4.1")
	binary.LittleEndian.PutUint16(bs[11:13], bytesPerSector)
	bs[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(bs[14:16], reservedSectors)
	bs[16] = numFATs
	binary.LittleEndian.PutUint16(bs[17:19], b.g.rootEntries)
	binary.LittleEndian.PutUint16(bs[19:21], b.g.totalSectors)
	bs[21] = 0xF8
	binary.LittleEndian.PutUint16(bs[22:24], b.g.fatSectors)
	bs[38] = 0x29
	copy(bs[43:54], "FLASH      ")
	copy(bs[54:62], b.typ.String()+"   ")
	bs[510], bs[511] = 0x55, 0xAA
}

func (b *builder) dataOffset() int {
	rootSectors := (int(b.g.rootEntries)*32 + bytesPerSector - 1) / bytesPerSector
	return (reservedSectors + numFATs*int(b.g.fatSectors) + rootSectors) * bytesPerSector
}

// alloc reserves a contiguous run of clusters for n bytes.
func (b *builder) alloc(n int) uint32 {
	count := uint32((n + bytesPerSector*sectorsPerCluster - 1) / (bytesPerSector * sectorsPerCluster))
	if count == 0 {
		count = 1
	}
	first := b.next
	for i := uint32(0); i < count; i++ {
		c := first + i
		if i == count-1 {
			b.fat[c] = 0xFFFF
		} else {
			b.fat[c] = c + 1
		}
	}
	b.next += count

	end := b.dataOffset() + int(b.next-2)*bytesPerSector*sectorsPerCluster
	require.LessOrEqual(b.t, end, len(b.img), "volume is full")
	return first
}

func (b *builder) write(first uint32, data []byte) {
	copy(b.img[b.dataOffset()+int(first-2)*bytesPerSector*sectorsPerCluster:], data)
}

// children lays out every child of n and returns the encoded directory entries.
func (b *builder) children(n *node) []byte {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []byte
	for _, name := range names {
		c := n.children[name]
		if c.dir {
			// dot entries plus one per child
			c.cluster = b.alloc((len(c.children) + 2) * 32)
			raw := append(entry(".", true, c.cluster, 0), entry("..", true, n.cluster, 0)...)
			raw = append(raw, b.children(c)...)
			b.write(c.cluster, raw)
			out = append(out, entry(c.name, true, c.cluster, 0)...)
			continue
		}
		if len(c.data) > 0 {
			c.cluster = b.alloc(len(c.data))
			b.write(c.cluster, c.data)
		}
		out = append(out, entry(c.name, false, c.cluster, uint32(len(c.data)))...)
	}
	return out
}

func entry(name string, dir bool, cluster uint32, size uint32) []byte {
	e := make([]byte, 32)
	copy(e[0:11], "           ")
	switch name {
	case ".", "..":
		copy(e[0:], name)
	default:
		base, ext, _ := strings.Cut(strings.ToUpper(name), ".")
		copy(e[0:8], base)
		copy(e[8:11], ext)
	}
	if dir {
		e[11] = 0x10
	} else {
		e[11] = 0x20
	}
	binary.LittleEndian.PutUint16(e[20:22], uint16(cluster>>16))
	binary.LittleEndian.PutUint16(e[26:28], uint16(cluster))
	binary.LittleEndian.PutUint32(e[28:32], size)
	return e
}

func (b *builder) writeFAT() {
	fat := make([]byte, int(b.g.fatSectors)*bytesPerSector)
	set := func(c, v uint32) {
		switch b.typ {
		case fatfs.FAT12:
			v &= 0x0FFF
			off := c + c/2
			if c&1 == 0 {
				fat[off] = byte(v)
				fat[off+1] = fat[off+1]&0xF0 | byte(v>>8)
			} else {
				fat[off] = fat[off]&0x0F | byte(v<<4)
				fat[off+1] = byte(v >> 4)
			}
		default:
			binary.LittleEndian.PutUint16(fat[c*2:], uint16(v))
		}
	}
	set(0, 0xFFF8)
	set(1, 0xFFFF)
	for c, v := range b.fat {
		set(c, v)
	}

	for i := 0; i < numFATs; i++ {
		copy(b.img[(reservedSectors+i*int(b.g.fatSectors))*bytesPerSector:], fat)
	}
}

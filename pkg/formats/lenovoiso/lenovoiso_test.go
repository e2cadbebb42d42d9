package lenovoiso

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/testing/tlog"
)

func writeISO(t *testing.T, files map[string][]byte) string {
	t.Helper()

	w, err := iso9660.NewWriter()
	require.NoError(t, err)
	defer w.Cleanup()

	for name, data := range files {
		require.NoError(t, w.AddFile(bytes.NewReader(data), name))
	}

	out := filepath.Join(t.TempDir(), "update1.iso")
	f, err := os.Create(out)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, w.WriteTo(f, "UPDATE1"))
	return out
}

func TestCapsulesFromISO9660Tree(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	fl1 := bytes.Repeat([]byte{0xA1}, 4096)
	fl2 := bytes.Repeat([]byte{0xB2}, 100)
	isoPath := writeISO(t, map[string][]byte{
		"README.TXT":                  []byte("read me"),
		"FLASH/N1CET76W/N1CET76W.FL2": fl2,
		"FLASH/N1CET76W/N1CET76W.FL1": fl1,
		"FLASH/N1CET76W/FLASH.CMD":    []byte("@echo off"),
	})

	capsules, err := New().Capsules(ctx, isoPath)
	require.NoError(t, err)
	require.Len(t, capsules, 2)

	// plain iso9660 identifiers come back lowercased from the reader
	assert.Equal(t, "n1cet76w.fl1", capsules[0].Name)
	assert.Equal(t, fl1, capsules[0].Data)
	assert.Equal(t, "n1cet76w.fl2", capsules[1].Name)
	assert.Equal(t, fl2, capsules[1].Data)
}

func TestCapsulesNoFlashDirectory(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	isoPath := writeISO(t, map[string][]byte{"README.TXT": []byte("read me")})

	_, err := New().Capsules(ctx, isoPath)
	require.Error(t, err)

	var unpackErr *formats.UnpackError
	require.True(t, errors.As(err, &unpackErr))
	assert.Equal(t, isoPath, unpackErr.Path)
	assert.Equal(t, -1, unpackErr.ExitCode)
}

func TestCapsulesNotAnISO(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	p := filepath.Join(t.TempDir(), "corrupt.iso")
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{0xFF}, 64*1024), 0o644))

	_, err := New().Capsules(ctx, p)
	require.Error(t, err)

	var unpackErr *formats.UnpackError
	require.True(t, errors.As(err, &unpackErr))
	assert.Contains(t, err.Error(), "not an iso9660 image")
}

func TestCapsulesMissingFile(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	_, err := New().Capsules(ctx, filepath.Join(t.TempDir(), "absent.iso"))
	var unpackErr *formats.UnpackError
	require.True(t, errors.As(err, &unpackErr))
}

func TestCheckPartitions(t *testing.T) {
	tests := []struct {
		name    string
		parts   []*mbr.Partition
		wantErr string
	}{
		{
			name:  "single populated partition",
			parts: []*mbr.Partition{{Start: 63, Size: 2048}, {}, {}, {}},
		},
		{
			name:  "only one slot listed",
			parts: []*mbr.Partition{{Start: 2048, Size: 2048}},
		},
		{
			name:    "no partitions",
			parts:   nil,
			wantErr: "first partition is empty",
		},
		{
			name:    "first slot empty",
			parts:   []*mbr.Partition{{}, {Start: 63, Size: 2048}, {}, {}},
			wantErr: "first partition is empty",
		},
		{
			name:    "second slot populated",
			parts:   []*mbr.Partition{{Start: 63, Size: 2048}, {Start: 4096, Size: 10}, {}, {}},
			wantErr: "partition 2 is populated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkPartitions(tt.parts)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMatches(t *testing.T) {
	h := New()
	assert.Equal(t, formats.FormatLenovoISO, h.Format())
	assert.True(t, h.Matches("/updates/n1cur33w.ISO"))
	assert.False(t, h.Matches("/updates/n1cur33w.exe"))
}

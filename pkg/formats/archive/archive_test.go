package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/ext/archivesx"
	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/testing/tlog"
)

func writeZip(t *testing.T, files map[string][]byte) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	p := filepath.Join(t.TempDir(), "bios.zip")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestCapsules(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	p := writeZip(t, map[string][]byte{
		"bios/N1CET76W.FL2": {0x02},
		"bios/N1CET76W.FL1": {0x01},
		"bios/readme.txt":   []byte("hello"),
		"X1C9.rom":          {0x03},
	})

	capsules, err := New().Capsules(ctx, p)
	require.NoError(t, err)
	require.Len(t, capsules, 3)
	assert.Equal(t, "X1C9.rom", capsules[0].Name)
	assert.Equal(t, "N1CET76W.FL1", capsules[1].Name)
	assert.Equal(t, []byte{0x01}, capsules[1].Data)
	assert.Equal(t, "N1CET76W.FL2", capsules[2].Name)
}

func TestCapsulesNothingInside(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	p := writeZip(t, map[string][]byte{"readme.txt": []byte("hello")})

	_, err := New().Capsules(ctx, p)
	var unpackErr *formats.UnpackError
	require.True(t, errors.As(err, &unpackErr))
	assert.Contains(t, err.Error(), "no capsules found in archive")
}

func TestCapsulesNotAnArchive(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	p := filepath.Join(t.TempDir(), "plain.dat")
	require.NoError(t, os.WriteFile(p, []byte("definitely not a zip"), 0o644))

	_, err := New().Capsules(ctx, p)
	var unpackErr *formats.UnpackError
	require.True(t, errors.As(err, &unpackErr))
	assert.True(t, errors.Is(err, archivesx.ErrNotArchive))
}

func TestMatches(t *testing.T) {
	h := New()
	assert.Equal(t, formats.FormatArchive, h.Format())
	assert.True(t, h.Matches("bios.ZIP"))
	assert.True(t, h.Matches("bios.tar.xz"))
	assert.False(t, h.Matches("bios.iso"))
}

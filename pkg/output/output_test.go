package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/uefi-extract/pkg/firmware"
	"github.com/walteh/uefi-extract/pkg/testing/tlog"
)

const guidA = "11111111-1111-1111-1111-111111111111"

func TestFileName(t *testing.T) {
	w := NewWriter(t.TempDir(), false)

	assert.Equal(t, "update1.iso_"+guidA+".pe", w.FileName("/in/update1.iso", guidA))
	assert.Equal(t, "update1.iso_"+guidA+"_1.pe", w.FileName("/in/update1.iso", guidA))
	assert.Equal(t, "update1.iso_"+guidA+"_2.pe", w.FileName("/in/update1.iso", guidA))
	assert.Equal(t, "update2.iso_"+guidA+".pe", w.FileName("/in/update2.iso", guidA))
}

func TestWrite(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	dir := filepath.Join(t.TempDir(), "out")
	w := NewWriter(dir, false)
	require.NoError(t, w.Prepare(ctx))
	assert.DirExists(t, dir)

	data := bytes.Repeat([]byte{0x4D, 0x5A}, 2048)
	written, err := w.Write(ctx, "update1.iso", firmware.Module{GUID: guidA, Data: data})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "update1.iso_"+guidA+".pe"), written.Path)
	assert.Equal(t, int64(4096), written.Size)

	got, err := os.ReadFile(written.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteExistingWithoutForce(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	dir := t.TempDir()
	existing := filepath.Join(dir, "update1.iso_"+guidA+".pe")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	w := NewWriter(dir, false)
	_, err := w.Write(ctx, "update1.iso", firmware.Module{GUID: guidA, Data: []byte("new")})
	require.Error(t, err)

	var exists *FileExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, existing, exists.Path)
	assert.False(t, exists.SameRun)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), got)
}

func TestWriteExistingWithForce(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	dir := t.TempDir()
	existing := filepath.Join(dir, "update1.iso_"+guidA+".pe")
	require.NoError(t, os.WriteFile(existing, []byte("old contents"), 0o644))

	w := NewWriter(dir, true)
	_, err := w.Write(ctx, "update1.iso", firmware.Module{GUID: guidA, Data: []byte("new")})
	require.NoError(t, err)

	got, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}

func TestWriteNeverOverwritesSameRun(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	dir := t.TempDir()
	w := NewWriter(dir, true)

	_, err := w.Write(ctx, "update1.iso", firmware.Module{GUID: guidA, Data: []byte("first")})
	require.NoError(t, err)

	// a fresh counter maps the same source and guid back onto the first name
	w.counts = map[string]int{}
	_, err = w.Write(ctx, "update1.iso", firmware.Module{GUID: guidA, Data: []byte("second")})

	var exists *FileExistsError
	require.True(t, errors.As(err, &exists))
	assert.True(t, exists.SameRun)

	got, err := os.ReadFile(filepath.Join(dir, "update1.iso_"+guidA+".pe"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestPrepareFails(t *testing.T) {
	ctx := tlog.SetupSlogForTest(t)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := NewWriter(filepath.Join(blocker, "out"), false).Prepare(ctx)
	require.Error(t, err)
}

package osx

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func TestWriteFileFromReader(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "module.pe")

	n, err := WriteFileFromReader(ctx, path, bytes.NewReader([]byte("first")), 0o644, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = WriteFileFromReader(ctx, path, bytes.NewReader([]byte("second")), 0o644, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrExist)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got), "exclusive create must not touch the existing file")

	_, err = WriteFileFromReader(ctx, path, bytes.NewReader([]byte("2nd")), 0o644, true)
	require.NoError(t, err)

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2nd", string(got))
}

func TestWriteFileFromReaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	path := filepath.Join(t.TempDir(), "module.pe")
	_, err := WriteFileFromReader(ctx, path, bytes.NewReader([]byte("data")), 0o644, false)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "partial file should be removed")
}

func TestWithTempDirRemovesOnError(t *testing.T) {
	var seen string
	boom := errors.New("boom")

	err := WithTempDir(t.Context(), "osx-test-", func(dir string) error {
		seen = dir
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte("x"), 0o600))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWithTempFile(t *testing.T) {
	var seen string

	err := WithTempFile(t.Context(), "osx-test-", bytes.NewReader([]byte("boot image")), func(path string) error {
		seen = path
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "boot image", string(got))
		return nil
	})
	require.NoError(t, err)

	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr))
}

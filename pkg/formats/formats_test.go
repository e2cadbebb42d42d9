package formats

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func TestParseFormat(t *testing.T) {
	for _, f := range All() {
		got, err := ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	got, err := ParseFormat("LENOVO_ISO")
	require.NoError(t, err)
	assert.Equal(t, FormatLenovoISO, got)

	_, err = ParseFormat("dell_exe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lenovo_iso, lenovo_exe, capsule, archive")
}

func TestIsCapsuleName(t *testing.T) {
	assert.True(t, IsCapsuleName("N1CET76W.FL1"))
	assert.True(t, IsCapsuleName("app/N1CET76W.fl12"))
	assert.False(t, IsCapsuleName("N1CET76W.FL"))
	assert.False(t, IsCapsuleName("N1CET76W.FL1.bak"))
	assert.False(t, IsCapsuleName("README.txt"))
}

func TestIsFirmwareImageName(t *testing.T) {
	assert.True(t, IsFirmwareImageName("N1CET76W.FL1"))
	assert.True(t, IsFirmwareImageName("bios/X1C9.ROM"))
	assert.True(t, IsFirmwareImageName("OVMF.fd"))
	assert.False(t, IsFirmwareImageName("setup.exe"))
}

func TestHasExtension(t *testing.T) {
	assert.True(t, HasExtension("/x/update1.ISO", ".iso"))
	assert.True(t, HasExtension("setup.exe", ".iso", ".exe"))
	assert.False(t, HasExtension("setup.exe.txt", ".exe"))
}

func TestUnpackError(t *testing.T) {
	err := &UnpackError{Path: "setup.exe", ExitCode: 2, Err: os.ErrNotExist}
	assert.Equal(t, "unpacking setup.exe: exit code 2: file does not exist", err.Error())
	assert.True(t, errors.Is(err, os.ErrNotExist))

	plain := NewUnpackError("update.iso", errors.New("no capsules"))
	assert.Equal(t, "unpacking update.iso: no capsules", plain.Error())
}

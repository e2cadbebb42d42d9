package magic

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasFirmwareVolume(t *testing.T) {
	fv := make([]byte, 64)
	copy(fv[FirmwareVolumeOffset:], FirmwareVolumeMagic.Bytes())
	assert.True(t, HasFirmwareVolume(fv))

	// capsule header in front of the volume
	capsule := append(make([]byte, 0x1000), fv...)
	assert.True(t, HasFirmwareVolume(capsule))

	assert.False(t, HasFirmwareVolume([]byte("_FVH at the very start is not a volume header")))
	assert.False(t, HasFirmwareVolume(make([]byte, 4096)))
}

func TestIsExecutable(t *testing.T) {
	assert.True(t, IsExecutable([]byte("MZ\x90\x00")))
	assert.True(t, IsExecutable([]byte("VZ\x64\x86")))
	assert.False(t, IsExecutable([]byte("ELF")))
	assert.False(t, IsExecutable(nil))
}

func TestISO9660ValidationReader(t *testing.T) {
	img := make([]byte, ISO9660Offset+16)
	copy(img[ISO9660Offset:], ISO9660Magic.Bytes())

	_, err := ISO9660ValidationReader(bytes.NewReader(img))
	require.NoError(t, err)

	_, err = ISO9660ValidationReader(bytes.NewReader(make([]byte, ISO9660Offset+16)))
	require.Error(t, err)
}

package magic

import (
	"bytes"
	"io"

	"github.com/walteh/uefi-extract/pkg/ext/iox"
)

type MagicString string

const (
	// the signature field of EFI_FIRMWARE_VOLUME_HEADER sits 40 bytes into the header
	FirmwareVolumeOffset              = 40
	FirmwareVolumeMagic   MagicString = "_FVH"
	ISO9660Offset                     = 0x8001
	ISO9660Magic          MagicString = "CD001"
	MSDOSMagic            MagicString = "MZ"
	TerseExecutableMagic  MagicString = "VZ"
)

func (m MagicString) Bytes() []byte { return []byte(m) }

// HasFirmwareVolume reports whether buf carries at least one firmware volume header signature.
func HasFirmwareVolume(buf []byte) bool {
	if len(buf) < FirmwareVolumeOffset {
		return false
	}
	return bytes.Contains(buf[FirmwareVolumeOffset:], FirmwareVolumeMagic.Bytes())
}

// IsExecutable reports whether buf starts like a PE32 or TE image.
func IsExecutable(buf []byte) bool {
	return bytes.HasPrefix(buf, MSDOSMagic.Bytes()) || bytes.HasPrefix(buf, TerseExecutableMagic.Bytes())
}

func ISO9660ValidationReader(r io.Reader) (io.ReadCloser, error) {
	return iox.ByteValidationReader(ISO9660Offset, ISO9660Magic.Bytes(), r)
}

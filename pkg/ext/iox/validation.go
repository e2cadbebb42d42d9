package iox

import (
	"bytes"
	"io"

	"gitlab.com/tozd/go/errors"
)

// ByteValidationReader checks that want appears at offset in r and returns a reader positioned at the
// start of the original stream.
func ByteValidationReader(offset int, want []byte, r io.Reader) (io.ReadCloser, error) {
	if seeker, ok := r.(io.Seeker); ok {
		_, err := seeker.Seek(int64(offset), io.SeekStart)
		if err != nil {
			return nil, errors.Errorf("seeking to offset %d: %w", offset, err)
		}

		check := make([]byte, len(want))
		_, err = io.ReadFull(r, check)
		if err != nil {
			return nil, errors.Errorf("reading bytes at offset %d: %w", offset, err)
		}

		if !bytes.Equal(check, want) {
			return nil, errors.Errorf("invalid bytes at offset %d (want='0x%x':'%s', got='0x%x':'%s')", offset, want, want, check, check)
		}

		_, err = seeker.Seek(0, io.SeekStart)
		if err != nil {
			return nil, errors.Errorf("seeking back to start: %w", err)
		}

		return PreservedNopCloser(r), nil
	}

	check := make([]byte, offset+len(want))

	l, err := io.ReadFull(r, check)
	if err != nil {
		return nil, errors.Errorf("reading bytes from offset 0 to %d (found %d bytes): %w", offset+len(want), l, err)
	}

	got := check[offset : offset+len(want)]
	if !bytes.Equal(got, want) {
		return nil, errors.Errorf("invalid bytes at offset %d (want='0x%x':'%s', got='0x%x':'%s')", offset, want, want, got, got)
	}

	return PreservedNopCloser(io.MultiReader(bytes.NewReader(check), r)), nil
}

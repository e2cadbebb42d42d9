package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walteh/uefi-extract/pkg/formats"
	"github.com/walteh/uefi-extract/pkg/formats/lenovoexe"
)

func TestHandlerForEveryFormat(t *testing.T) {
	for _, f := range formats.All() {
		h, err := Handler(f, Options{})
		require.NoError(t, err, f.String())
		assert.Equal(t, f, h.Format())
	}

	_, err := Handler(formats.FormatUnknown, Options{})
	require.Error(t, err)
}

func TestLookup(t *testing.T) {
	h, err := Lookup("lenovo_exe", Options{Innoextract: "/opt/bin/innoextract"})
	require.NoError(t, err)

	exe, ok := h.(*lenovoexe.Handler)
	require.True(t, ok)
	assert.Equal(t, "/opt/bin/innoextract", exe.Innoextract)

	_, err = Lookup("dell_exe", Options{})
	require.Error(t, err)
}

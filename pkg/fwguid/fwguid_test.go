package fwguid

import (
	"testing"

	"github.com/linuxboot/fiano/pkg/guid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "11111111-1111-1111-1111-111111111111", "11111111-1111-1111-1111-111111111111"},
		{"uppercase", "A9B8C7D6-E5F4-A3B2-C1D0-E9F8A7B6C5D4", "a9b8c7d6-e5f4-a3b2-c1d0-e9f8a7b6c5d4"},
		{"braces and spaces", " {a9b8c7d6-E5F4-a3b2-c1d0-e9f8a7b6c5d4} ", "a9b8c7d6-e5f4-a3b2-c1d0-e9f8a7b6c5d4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize("not-a-guid")
	require.ErrorIs(t, err, ErrInvalid)
	assert.NotContains(t, err.Error(), "\n")
	assert.Contains(t, err.Error(), `"not-a-guid"`)
}

func TestParseSet(t *testing.T) {
	s, err := ParseSet([]string{
		"A9B8C7D6-E5F4-A3B2-C1D0-E9F8A7B6C5D4",
		"11111111-1111-1111-1111-111111111111",
		"a9b8c7d6-e5f4-a3b2-c1d0-e9f8a7b6c5d4",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{
		"a9b8c7d6-e5f4-a3b2-c1d0-e9f8a7b6c5d4",
		"11111111-1111-1111-1111-111111111111",
	}, s.List())
	assert.True(t, s.Contains("A9B8C7D6-E5F4-A3B2-C1D0-E9F8A7B6C5D4"))
	assert.False(t, s.Contains("22222222-2222-2222-2222-222222222222"))

	g := guid.MustParse("11111111-1111-1111-1111-111111111111")
	assert.True(t, s.ContainsGUID(*g))
}

func TestParseSetEmpty(t *testing.T) {
	_, err := ParseSet(nil)
	require.Error(t, err)
}

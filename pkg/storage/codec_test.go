package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseVector(t *testing.T) {
	vec := []float64{0.1, -2.5e-7, 3}
	s := FormatVector(vec)
	assert.Equal(t, "[0.1,-2.5e-07,3]", s)

	got, err := ParseVector(s)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	got, err = ParseVector("[ 1 , 2 ]")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, got)

	got, err = ParseVector("[]")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseVector("[1,x]")
	assert.Error(t, err)
}

func TestMetadataCodec(t *testing.T) {
	data, err := EncodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	m, err := DecodeMetadata(data)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = DecodeMetadata([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), m["a"])

	_, err = DecodeMetadata([]byte(`{`))
	assert.Error(t, err)
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("memories_v2"))
	assert.Error(t, ValidateIdentifier("2memories"))
	assert.Error(t, ValidateIdentifier("a-b"))
	assert.Error(t, ValidateIdentifier(""))
}

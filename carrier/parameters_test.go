package carrier

import (
	"testing"

	"github.com/govm-net/scvm/core"
	"github.com/govm-net/scvm/serialization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterTextRoundTrip(t *testing.T) {
	params := []Parameter{
		{Kind: serialization.KindBool, Value: true},
		{Kind: serialization.KindByte, Value: byte(255)},
		{Kind: serialization.KindChar, Value: serialization.Char('#')},
		{Kind: serialization.KindString, Value: `a|b#c\d`},
		{Kind: serialization.KindUInt32, Value: uint32(42)},
		{Kind: serialization.KindInt32, Value: int32(-42)},
		{Kind: serialization.KindUInt64, Value: uint64(18446744073709551615)},
		{Kind: serialization.KindInt64, Value: int64(-9)},
		{Kind: serialization.KindAddress, Value: core.AddressFromString("0x0102030405060708090a0b0c0d0e0f1011121314")},
		{Kind: serialization.KindByteArray, Value: []byte{0xca, 0xfe}},
	}
	text, err := FormatParameters(params)
	require.NoError(t, err)

	parsed, err := ParseParameters(text)
	require.NoError(t, err)
	assert.Equal(t, params, parsed)
}

func TestParseParameters(t *testing.T) {
	params, err := ParseParameters("1#true|4#hello|7#12")
	require.NoError(t, err)
	require.Len(t, params, 3)
	assert.Equal(t, true, params[0].Value)
	assert.Equal(t, "hello", params[1].Value)
	assert.Equal(t, uint64(12), params[2].Value)

	none, err := ParseParameters("")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestParseParametersErrors(t *testing.T) {
	for _, text := range []string{
		"hello",
		"x#1",
		"99#1",
		"7#-1",
		"9#0102",
		"3#ab",
	} {
		_, err := ParseParameters(text)
		assert.Error(t, err, text)
	}
}

func TestEncodeDecodeParameters(t *testing.T) {
	p, err := NewParameter(int64(-5))
	require.NoError(t, err)
	assert.Equal(t, serialization.KindInt64, p.Kind)

	data, err := EncodeParameters([]Parameter{p})
	require.NoError(t, err)
	assert.Len(t, data, 1+4+8)

	decoded, err := DecodeParameters(data)
	require.NoError(t, err)
	assert.Equal(t, []Parameter{p}, decoded)

	_, err = NewParameter(float32(1))
	assert.Error(t, err)

	// unknown kind byte
	_, err = DecodeParameters([]byte{99, 0, 0, 0, 0})
	assert.ErrorIs(t, err, serialization.ErrUnsupportedType)
}

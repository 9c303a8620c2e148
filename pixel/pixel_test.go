package pixel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, typ := range []Type{Uint8, Int8, Uint16, Int16, Uint32, Int32, Uint64, Int64, Float32, Float64} {
		parsed, err := Parse(typ.DType())
		require.NoError(t, err, typ.String())
		assert.Equal(t, typ, parsed)
		assert.Positive(t, typ.Size())
	}
}

func TestParseUnsupported(t *testing.T) {
	for _, dtype := range []string{">u2", ">f8", "", "<c8", "u2"} {
		_, err := Parse(dtype)
		assert.Error(t, err, dtype)
	}
}

func TestDecodeEncode(t *testing.T) {
	tests := []struct {
		typ Type
		v   float64
	}{
		{Uint8, 200},
		{Int8, -100},
		{Uint16, 60000},
		{Int16, -30000},
		{Uint32, 4000000000},
		{Int32, -2000000000},
		{Float32, 1.5},
		{Float64, -2.25},
	}
	for _, tt := range tests {
		buf := make([]byte, 3*tt.typ.Size())
		tt.typ.Encode(buf, 1, tt.v)
		assert.Equal(t, tt.v, tt.typ.Decode(buf, 1), tt.typ.String())
		// Neighbors untouched.
		assert.Zero(t, tt.typ.Decode(buf, 0))
		assert.Zero(t, tt.typ.Decode(buf, 2))
	}
}

func TestDisplayRange(t *testing.T) {
	min, max := Uint16.DisplayRange()
	assert.Equal(t, 0.0, min)
	assert.Equal(t, 65535.0, max)
}

package xconn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeCardinal(t *testing.T) {
	v, ok := DecodeCardinal([]byte{0x01, 0x00, 0x00, 0x80})
	assert.True(t, ok)
	assert.Equal(t, uint32(0x80000001), v)

	_, ok = DecodeCardinal([]byte{0x01, 0x02})
	assert.False(t, ok)

	_, ok = DecodeCardinal(nil)
	assert.False(t, ok)
}

func TestCardinalRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.Uint32().Draw(rt, "v")
		got, ok := DecodeCardinal(EncodeCardinal(v))
		if !ok || got != v {
			rt.Fatalf("round trip of %d gave %d (ok=%v)", v, got, ok)
		}
	})
}

func TestOpacityFraction(t *testing.T) {
	assert.Equal(t, 1.0, MaxOpacity.Fraction())
	assert.Equal(t, 0.0, Opacity(0).Fraction())
	assert.InDelta(t, 0.8, OpacityFromFraction(0.8).Fraction(), 1e-9)

	assert.Equal(t, Opacity(0), OpacityFromFraction(-1))
	assert.Equal(t, MaxOpacity, OpacityFromFraction(2))
}

func TestOpacityUnsetIsDistinct(t *testing.T) {
	assert.NotEqual(t, MaxOpacity, OpacityUnset)
	assert.False(t, OpacityUnset.IsSet())
	assert.True(t, MaxOpacity.IsSet())
	assert.True(t, Opacity(0).IsSet())

	assert.Equal(t, 1.0, OpacityUnset.Fraction())
	assert.Equal(t, "unset", OpacityUnset.String())
	assert.Equal(t, "4294967295", MaxOpacity.String())

	data, err := json.Marshal([]Opacity{OpacityUnset, 0, MaxOpacity})
	require.NoError(t, err)
	assert.JSONEq(t, `[null, 0, 4294967295]`, string(data))
}

func TestCardinalValuesAreSet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.Uint32().Draw(rt, "v")
		if o := Opacity(v); !o.IsSet() || o == OpacityUnset {
			rt.Fatalf("cardinal %d treated as unset", v)
		}
	})
}

func TestWindowString(t *testing.T) {
	assert.Equal(t, "0x1a00003", Window(0x1a00003).String())
}

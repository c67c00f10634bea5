package cobs

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripKnownVectors(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x00},
		{0x11, 0x22, 0x00, 0x33},
		{0x11, 0x22, 0x00, 0x33, 0x44},
		{0x11, 0x00, 0x00, 0x00},
		{0x01, 0x02, 0x03, 0x04},
	}

	for _, c := range cases {
		encoded := Encode(c)
		for _, b := range encoded {
			require.NotZero(t, b)
		}
		decoded := Decode(encoded)
		require.True(t, bytes.Equal(decoded, c), "round-trip mismatch for %v: got %v via %v", c, decoded, encoded)
	}
}

func TestEncodeMaximalRunHasNoTrailingByte(t *testing.T) {
	src := bytes.Repeat([]byte{0x41}, 254)
	encoded := Encode(src)
	require.Len(t, encoded, 255)
	require.Equal(t, byte(0xFF), encoded[0])

	decoded := Decode(encoded)
	require.True(t, bytes.Equal(decoded, src))
}

func TestEncodeRunJustOverMax(t *testing.T) {
	src := bytes.Repeat([]byte{0x42}, 255)
	encoded := Encode(src)
	decoded := Decode(encoded)
	require.True(t, bytes.Equal(decoded, src))
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 0; n <= 1024; n += 7 {
		src := make([]byte, n)
		rng.Read(src)
		encoded := Encode(src)
		for _, b := range encoded {
			require.NotZero(t, b)
		}
		decoded := Decode(encoded)
		require.True(t, bytes.Equal(decoded, src), "mismatch at length %d", n)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	require.Nil(t, Decode(nil))
	require.Nil(t, Decode([]byte{0x00})) // zero byte is never valid inside encoded data
	require.Nil(t, Decode([]byte{0x05, 0x01, 0x02}))
}

func TestDecodeRejectsEmbeddedZero(t *testing.T) {
	// code says "copy 2 bytes" but the second one is a zero.
	require.Nil(t, Decode([]byte{0x03, 0x01, 0x00}))
}

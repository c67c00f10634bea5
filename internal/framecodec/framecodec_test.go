package framecodec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAcrossSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{1, 2, 14, 254, 255, 1500, MaxL2Size} {
		l2 := make([]byte, n)
		rng.Read(l2)

		wire, err := Encode(l2)
		require.NoError(t, err)
		require.Equal(t, byte(Sentinel), wire[len(wire)-1])
		require.NotContains(t, wire[:len(wire)-1], byte(Sentinel))

		decoded, err := Decode(wire[:len(wire)-1])
		require.NoError(t, err)
		require.True(t, bytes.Equal(l2, decoded))
	}
}

func TestEncodeRejectsOutOfRangeLength(t *testing.T) {
	_, err := Encode(nil)
	require.Error(t, err)

	_, err = Encode(make([]byte, MaxL2Size+1))
	require.Error(t, err)
}

func TestBitFlipCorruptionIsRejected(t *testing.T) {
	l2 := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	wire, err := Encode(l2)
	require.NoError(t, err)
	body := wire[:len(wire)-1]

	for i := range body {
		corrupt := append([]byte{}, body...)
		corrupt[i] ^= 0x01
		if bytes.Equal(corrupt, body) {
			continue
		}
		_, err := Decode(corrupt)
		require.Error(t, err, "byte %d should have been detected as corrupt", i)
	}
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	_, err := Decode([]byte{0x01})
	require.Error(t, err)
}

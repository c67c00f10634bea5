// Package framecodec wraps a single L2 frame for transport over the UART
// byte stream: a 16-bit big-endian length prefix, the frame itself, a
// CRC-32C trailer, COBS-stuffed, terminated by a 0x00 sentinel. It plays a
// role similar to cla/bbc/transmission.go's Transmission framing — but
// carries exactly one frame per wire unit instead of fragmenting across
// several.
package framecodec

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/bristlemouth/bmrun/internal/cobs"
	"github.com/bristlemouth/bmrun/internal/crc32c"
)

const (
	// MinL2Size is the smallest L2 frame this codec will wrap.
	MinL2Size = 1

	// MaxL2Size is the largest L2 frame this codec will wrap.
	MaxL2Size = 1522

	// lengthFieldSize and crcFieldSize are the pre-COBS payload overhead.
	lengthFieldSize = 2
	crcFieldSize    = 4

	// Sentinel is the wire-level frame terminator.
	Sentinel = 0x00
)

// ErrInvalidLength is returned by Encode when the L2 frame is outside
// [MinL2Size, MaxL2Size].
var ErrInvalidLength = errors.New("framecodec: l2 length out of range")

// Encode wraps l2 into wire format: COBS-stuffed payload followed by the
// sentinel byte. It returns ErrInvalidLength if l2 is empty or oversized.
func Encode(l2 []byte) ([]byte, error) {
	if len(l2) < MinL2Size || len(l2) > MaxL2Size {
		return nil, errors.Wrapf(ErrInvalidLength, "len=%d", len(l2))
	}

	payload := make([]byte, lengthFieldSize+len(l2)+crcFieldSize)
	binary.BigEndian.PutUint16(payload[0:2], uint16(len(l2)))
	copy(payload[2:2+len(l2)], l2)

	crc := crc32c.Checksum(payload[:2+len(l2)])
	binary.BigEndian.PutUint32(payload[2+len(l2):], crc)

	stuffed := cobs.Encode(payload)
	wire := make([]byte, len(stuffed)+1)
	copy(wire, stuffed)
	wire[len(stuffed)] = Sentinel

	return wire, nil
}

// Decode reverses Encode. wire must NOT include the trailing sentinel — the
// caller (the UART receive loop) strips it while scanning for delimiters.
// Any validation failure (COBS corruption, length mismatch, CRC mismatch)
// returns an error and a nil frame; there is no partial result.
func Decode(wire []byte) ([]byte, error) {
	payload := cobs.Decode(wire)
	if payload == nil {
		return nil, errors.New("framecodec: cobs decode failed")
	}
	if len(payload) < lengthFieldSize+crcFieldSize {
		return nil, errors.New("framecodec: payload too short")
	}

	l2Len := int(binary.BigEndian.Uint16(payload[0:2]))
	if l2Len == 0 || l2Len > MaxL2Size {
		return nil, errors.Errorf("framecodec: declared length %d out of range", l2Len)
	}
	if lengthFieldSize+l2Len+crcFieldSize != len(payload) {
		return nil, errors.Errorf("framecodec: length field %d inconsistent with payload size %d", l2Len, len(payload))
	}

	crcInputLen := lengthFieldSize + l2Len
	wantCRC := binary.BigEndian.Uint32(payload[crcInputLen:])
	gotCRC := crc32c.Checksum(payload[:crcInputLen])
	if gotCRC != wantCRC {
		return nil, errors.Errorf("framecodec: crc mismatch: got=%#08x want=%#08x", gotCRC, wantCRC)
	}

	l2 := make([]byte, l2Len)
	copy(l2, payload[lengthFieldSize:lengthFieldSize+l2Len])
	return l2, nil
}

// Package packet implements the band's framed binary protocol: a
// 24-byte little-endian header wrapping a big-endian, kind-specific
// payload, protected end-to-end by a CRC-16/CCITT-FALSE checksum.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sleepband/gateway/pkg/crc16"
)

// HeaderLength is the fixed size of the header in bytes.
const HeaderLength = 24

// Magic is the constant that opens every frame.
const Magic uint16 = 0xBBBB

// ErrInvalidMagic is returned when a buffer's magic field doesn't match Magic.
var ErrInvalidMagic = errors.New("packet: invalid magic")

// ErrCrcMismatch is returned when a frame's declared CRC doesn't match
// the CRC recomputed over the frame with the CRC slot zeroed.
var ErrCrcMismatch = errors.New("packet: CRC mismatch")

// ErrShortBuffer is returned when a buffer is too small to contain a
// header, or shorter than the header's declared length.
var ErrShortBuffer = errors.New("packet: buffer too short")

// Header is the 24-byte frame header, carried little-endian on the wire.
type Header struct {
	Kind      Kind
	Timestamp uint64
	Seqno     uint32
	Length    uint16
	Response  uint32
	Crc       uint16
}

// packZeroCrc writes the header fields into a HeaderLength-byte buffer. The
// CRC slot (bytes 22-23) is always written as zero; callers that need
// the real CRC splice it in afterwards.
func (h *Header) packZeroCrc() []byte {
	buf := make([]byte, HeaderLength)
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Kind))
	binary.LittleEndian.PutUint64(buf[4:12], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[12:16], h.Seqno)
	binary.LittleEndian.PutUint16(buf[16:18], h.Length)
	binary.LittleEndian.PutUint32(buf[18:22], h.Response)
	// buf[22:24] left zero
	return buf
}

// encode serializes header+payload, computing and splicing in the CRC.
// It also updates h.Crc to the computed value.
func (h *Header) encode(payload []byte) []byte {
	h.Length = uint16(HeaderLength + len(payload))

	frame := make([]byte, 0, int(h.Length))
	frame = append(frame, h.packZeroCrc()...)
	frame = append(frame, payload...)

	h.Crc = crc16.Checksum(frame)

	crcBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBuf, h.Crc)
	copy(frame[22:24], crcBuf)

	return frame
}

// peekLength reads the declared frame length out of a header-sized
// prefix without verifying the CRC (which can't be checked until the
// whole frame has arrived). The magic is still checked, since it's
// free and lets the parser resync as soon as possible rather than
// waiting for a whole bogus "frame" to buffer up.
func peekLength(buf []byte) (uint16, error) {
	if len(buf) < HeaderLength {
		return 0, ErrShortBuffer
	}
	if binary.LittleEndian.Uint16(buf[0:2]) != Magic {
		return 0, ErrInvalidMagic
	}
	return binary.LittleEndian.Uint16(buf[16:18]), nil
}

// decodeHeader parses and verifies a complete frame's header.
//
// frame must hold the whole declared length whatever skipCrcCheck
// says; a shorter buffer fails with ErrShortBuffer. skipCrcCheck
// bypasses only the CRC comparison. Reading the length of a partial
// frame is done by peekLength, not here; Decode, the only caller,
// always verifies the CRC.
func decodeHeader(frame []byte, skipCrcCheck bool) (Header, error) {
	if len(frame) < HeaderLength {
		return Header{}, ErrShortBuffer
	}

	magic := binary.LittleEndian.Uint16(frame[0:2])
	if magic != Magic {
		return Header{}, ErrInvalidMagic
	}

	h := Header{
		Kind:      Kind(binary.LittleEndian.Uint16(frame[2:4])),
		Timestamp: binary.LittleEndian.Uint64(frame[4:12]),
		Seqno:     binary.LittleEndian.Uint32(frame[12:16]),
		Length:    binary.LittleEndian.Uint16(frame[16:18]),
		Response:  binary.LittleEndian.Uint32(frame[18:22]),
		Crc:       binary.LittleEndian.Uint16(frame[22:24]),
	}

	if len(frame) < int(h.Length) {
		return Header{}, ErrShortBuffer
	}

	if !skipCrcCheck {
		scratch := make([]byte, h.Length)
		copy(scratch, frame[:h.Length])
		scratch[22], scratch[23] = 0, 0
		computed := crc16.Checksum(scratch)
		if computed != h.Crc {
			return Header{}, fmt.Errorf("%w: got 0x%04X, computed 0x%04X for kind 0x%04X",
				ErrCrcMismatch, h.Crc, computed, h.Kind)
		}
	}

	return h, nil
}

// PeekLength returns the declared length of the frame starting at buf,
// bypassing the CRC check. buf must contain at least HeaderLength bytes.
func PeekLength(buf []byte) (uint16, error) {
	return peekLength(buf)
}

// Package parser reassembles the band's 20-byte BLE MTU chunks into
// whole framed packets. It is tolerant of noise and misaligned
// buffers: a chunk stream starting mid-frame, or containing garbage
// before a valid frame, resynchronizes rather than wedging.
package parser

import (
	"errors"
	"log"

	"github.com/sleepband/gateway/pkg/packet"
)

// Parser is the inbound Packet State Machine (PSM). Feed it MTU chunks
// as they arrive with RxChunk; it calls the configured callback once
// per whole decoded frame.
//
// The parser assumes frames are never concatenated within a single
// chunk: any bytes left over in the last chunk of a frame, after that
// frame's declared length is satisfied, are discarded rather than
// treated as the start of the next frame. This matches observed
// device behavior and is covered by TestTrailingBytesInLastChunkDiscarded.
type Parser struct {
	chunks [][]byte
	onPkt  func(packet.Packet)
	onErr  func(error)
}

// New creates a Parser. onPkt is called with every successfully
// decoded frame. onErr, if non-nil, is called for CRC mismatches on
// otherwise well-framed data (the parser still advances past the bad
// frame so it can't livelock); it may be nil, in which case these are
// only logged.
func New(onPkt func(packet.Packet), onErr func(error)) *Parser {
	return &Parser{onPkt: onPkt, onErr: onErr}
}

// RxChunk delivers one inbound MTU chunk (normally <=20 bytes) to the
// parser. It attempts to extract as many whole frames as the
// currently queued chunks allow.
func (p *Parser) RxChunk(chunk []byte) {
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	p.chunks = append(p.chunks, buf)

	// A queue holding less than a full 24-byte header (always the case
	// for a single <=20-byte chunk) makes attemptParse wait for more.
	for len(p.chunks) > 0 {
		pkt, consumed, err := p.attemptParse()

		if err != nil {
			if errors.Is(err, packet.ErrInvalidMagic) {
				log.Printf("parser: invalid magic in leading chunk, dropping it and resyncing")
				p.chunks = p.chunks[1:]
				continue
			}
			if errors.Is(err, packet.ErrCrcMismatch) {
				if p.onErr != nil {
					p.onErr(err)
				} else {
					log.Printf("parser: %v", err)
				}
				p.chunks = p.chunks[consumed:]
				continue
			}
			log.Printf("parser: unexpected error, dropping leading chunk: %v", err)
			p.chunks = p.chunks[1:]
			continue
		}

		if pkt == nil {
			// Not enough data queued yet for a full frame.
			return
		}

		p.chunks = p.chunks[consumed:]
		if u, ok := pkt.(*packet.Unknown); ok {
			log.Printf("parser: no decoder for kind 0x%04X, raw payload %x", uint16(u.H.Kind), u.Raw)
		}
		if p.onPkt != nil {
			p.onPkt(pkt)
		}
	}
}

// attemptParse tries to decode one frame from the front of the queue.
// It returns (nil, 0, nil) if more chunks are needed before anything
// can be decided.
func (p *Parser) attemptParse() (packet.Packet, int, error) {
	consumed := 1
	parseBuf := append([]byte{}, p.chunks[0]...)
	for len(parseBuf) < packet.HeaderLength && consumed < len(p.chunks) {
		parseBuf = append(parseBuf, p.chunks[consumed]...)
		consumed++
	}
	if len(parseBuf) < packet.HeaderLength {
		// Not even enough queued to read the length field yet.
		return nil, 0, nil
	}

	length, err := packet.PeekLength(parseBuf)
	if err != nil {
		// Invalid magic: let the caller resync by dropping the
		// leading chunk.
		return nil, 0, err
	}

	for len(parseBuf) < int(length) && consumed < len(p.chunks) {
		parseBuf = append(parseBuf, p.chunks[consumed]...)
		consumed++
	}

	if len(parseBuf) < int(length) {
		return nil, 0, nil
	}

	pkt, err := packet.Decode(parseBuf[:length])
	if err != nil {
		if errors.Is(err, packet.ErrInvalidMagic) {
			return nil, 0, err
		}
		// CRC mismatch on a frame we did manage to size correctly:
		// still advance past it, per spec, to avoid livelock.
		return nil, consumed, err
	}

	return pkt, consumed, nil
}

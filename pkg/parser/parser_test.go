package parser

import (
	"math/rand"
	"testing"

	"github.com/sleepband/gateway/pkg/packet"
)

func chunkify(frame []byte, size int) [][]byte {
	var chunks [][]byte
	for i := 0; i < len(frame); i += size {
		end := i + size
		if end > len(frame) {
			end = len(frame)
		}
		chunks = append(chunks, frame[i:end])
	}
	return chunks
}

func TestParserFragmentation(t *testing.T) {
	pkt := packet.NewLogGet(7, 1024, 2048)
	frame := packet.Encode(pkt)

	sizes := []int{20, 19, 1, 7, len(frame)}
	for _, size := range sizes {
		var got packet.Packet
		n := 0
		p := New(func(pk packet.Packet) { got = pk; n++ }, nil)

		for _, c := range chunkify(frame, size) {
			p.RxChunk(c)
		}

		if n != 1 {
			t.Fatalf("chunk size %d: got %d packets, want 1", size, n)
		}
		lg, ok := got.(*packet.LogGet)
		if !ok {
			t.Fatalf("chunk size %d: got %T, want *packet.LogGet", size, got)
		}
		if lg.Offset != 1024 || lg.Length != 2048 || lg.H.Seqno != 7 {
			t.Fatalf("chunk size %d: got %+v", size, lg)
		}
	}
}

func TestParserResilienceToLeadingNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	pkt := packet.NewLedsControl(99, 1)
	frame := packet.Encode(pkt)

	for trial := 0; trial < 10; trial++ {
		n := rng.Intn(5) + 1
		var junk [][]byte
		for i := 0; i < n; i++ {
			size := rng.Intn(19) + 1
			buf := make([]byte, size)
			rng.Read(buf)
			// Never emit the magic byte at all, so no combination of
			// chunk boundaries can accidentally synthesize 0xBBBB.
			for i, b := range buf {
				if b == 0xBB {
					buf[i] = 0xAA
				}
			}
			junk = append(junk, buf)
		}

		var got []packet.Packet
		p := New(func(pk packet.Packet) { got = append(got, pk) }, nil)

		for _, j := range junk {
			p.RxChunk(j)
		}
		for _, c := range chunkify(frame, 20) {
			p.RxChunk(c)
		}

		if len(got) != 1 {
			t.Fatalf("trial %d: got %d packets, want exactly 1 (junk chunks=%d)", trial, len(got), n)
		}
		led, ok := got[0].(*packet.LedsControl)
		if !ok {
			t.Fatalf("trial %d: got %T, want *packet.LedsControl", trial, got[0])
		}
		if led.Value != 1 || led.H.Seqno != 99 {
			t.Fatalf("trial %d: got %+v", trial, led)
		}
	}
}

func TestTrailingBytesInLastChunkDiscarded(t *testing.T) {
	pkt := packet.NewConfigGet(5)
	frame := packet.Encode(pkt) // 24 bytes: one full 20-byte chunk plus 4 bytes of the next

	padded := append(append([]byte{}, frame...), 0xDE, 0xAD, 0xBE, 0xEF)

	var got []packet.Packet
	p := New(func(pk packet.Packet) { got = append(got, pk) }, nil)
	p.RxChunk(padded[:20])
	p.RxChunk(padded[20:])

	if len(got) != 1 {
		t.Fatalf("got %d packets, want 1 (trailing junk should be silently discarded)", len(got))
	}
}

func TestCrcMismatchSurfacesAndAdvances(t *testing.T) {
	pkt := packet.NewConfigGet(5)
	frame := packet.Encode(pkt)
	frame[len(frame)-1] ^= 0xFF // corrupt CRC

	var errs []error
	var got []packet.Packet
	p := New(func(pk packet.Packet) { got = append(got, pk) }, func(err error) { errs = append(errs, err) })

	for _, c := range chunkify(frame, 20) {
		p.RxChunk(c)
	}

	// Follow up with a good frame to prove the parser didn't livelock.
	pkt2 := packet.NewConfigGet(6)
	frame2 := packet.Encode(pkt2)
	for _, c := range chunkify(frame2, 20) {
		p.RxChunk(c)
	}

	if len(errs) != 1 {
		t.Fatalf("got %d CRC errors, want 1", len(errs))
	}
	if len(got) != 1 {
		t.Fatalf("got %d decoded packets, want 1 (only the good frame)", len(got))
	}
}

// Package fragment implements the outbound side of the BLE link: it
// splits serialized packets into <=20-byte MTU chunks, keeps at most
// one write outstanding at a time, and purges a seqno's remaining
// chunks if a write for that seqno fails.
package fragment

import (
	"github.com/sleepband/gateway/pkg/packet"
)

// ChunkSize is the maximum size of a single outbound write.
const ChunkSize = 20

// Writer is the minimal transport capability the fragmenter needs: a
// single non-blocking chunk write. Completion/failure are reported
// later via WriteSucceeded/WriteFailed.
type Writer interface {
	WriteChunk(buf []byte) error
}

type slice struct {
	buf   []byte
	seqno uint32
}

// Fragmenter owns the single-in-flight outbound write queue.
//
// Only one write may be outstanding at the transport at any time, and
// all chunks for one packet are transmitted contiguously before any
// chunk of another packet — this type is what enforces both
// invariants; callers never see partial frames interleave.
type Fragmenter struct {
	writer  Writer
	queue   []slice
	pending bool

	// OnTransmitFailed, if set, is called with the seqno of any
	// packet whose chunks were purged after a write failure. This is
	// the REDESIGN-FLAG synthetic failure notification spec.md §9
	// recommends in place of letting the in-flight entry leak.
	OnTransmitFailed func(seqno uint32)
}

// New creates a Fragmenter that writes through w.
func New(w Writer) *Fragmenter {
	return &Fragmenter{writer: w}
}

// Enqueue serializes pkt, splits it into <=ChunkSize chunks tagged
// with its seqno, and appends them to the transmit queue. If nothing
// is currently outstanding, it starts a write immediately.
func (f *Fragmenter) Enqueue(pkt packet.Packet) {
	buf := packet.Encode(pkt)
	seqno := pkt.Header().Seqno

	for i := 0; i < len(buf); i += ChunkSize {
		end := i + ChunkSize
		if end > len(buf) {
			end = len(buf)
		}
		f.queue = append(f.queue, slice{buf: buf[i:end], seqno: seqno})
	}

	if !f.pending {
		f.attemptTransmit()
	}
}

func (f *Fragmenter) attemptTransmit() {
	if len(f.queue) == 0 {
		return
	}
	f.pending = true
	if err := f.writer.WriteChunk(f.queue[0].buf); err != nil {
		f.WriteFailed(err)
	}
}

// WriteSucceeded reports that the outstanding write completed. It
// advances the queue and starts the next write, if any.
func (f *Fragmenter) WriteSucceeded() {
	if len(f.queue) > 0 {
		f.queue = f.queue[1:]
	}
	f.pending = false

	if len(f.queue) > 0 {
		f.attemptTransmit()
	}
}

// WriteFailed reports that the outstanding write failed. It purges
// every remaining chunk belonging to the failing chunk's seqno (the
// partial frame is abandoned) and resumes with whatever other seqnos
// remain queued. err is accepted for logging symmetry with the
// transport adapter's on_write_failed(reason) contract but is not
// otherwise interpreted.
func (f *Fragmenter) WriteFailed(_ error) {
	f.pending = false

	if len(f.queue) == 0 {
		return
	}

	failing := f.queue[0].seqno
	i := 0
	for i < len(f.queue) && f.queue[i].seqno == failing {
		i++
	}
	f.queue = f.queue[i:]

	if f.OnTransmitFailed != nil {
		f.OnTransmitFailed(failing)
	}

	if len(f.queue) > 0 {
		f.attemptTransmit()
	}
}

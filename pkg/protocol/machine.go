// Package protocol implements the session/connection state machine
// that sits between the transport and the application: pairing
// bootstrap, session start, per-seqno request/response correlation,
// streaming subscriptions, and the device's ACK policy.
package protocol

import (
	"log"
	"time"

	"github.com/sleepband/gateway/pkg/packet"
	"github.com/sleepband/gateway/pkg/parser"
)

// Config configures a Machine. Defaults match the device's own
// documented defaults.
type Config struct {
	HostID        uint32
	VersionString string
	SessionMode   uint8
	UseTimestamp  bool
	// InFlightTTL bounds how long a request waits for its response
	// before being evicted with a synthetic failure. Zero disables
	// the sweep (not recommended; matches the unbounded-leak behavior
	// the original lacked a fix for).
	InFlightTTL time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HostID:        0x1234,
		VersionString: "9" + string(make([]byte, 13)),
		SessionMode:   0,
		UseTimestamp:  true,
		InFlightTTL:   30 * time.Second,
	}
}

// CompletionFunc is invoked once for a request's outcome: either the
// ACK that correlates to its seqno, a synthetic write-failure, or a
// TTL eviction.
type CompletionFunc func(seqno uint32, success bool, response uint32)

// ChunkFunc receives one chunk of a streaming response.
type ChunkFunc func(buf []byte)

// Enqueuer is the transmit-side dependency a Machine needs: something
// that will fragment and send a stuffed packet. *pkg/fragment.Fragmenter
// satisfies this.
type Enqueuer interface {
	Enqueue(pkt packet.Packet)
}

// Direction labels which way raw bytes moved for a frame observer.
type Direction int

const (
	DirectionRx Direction = iota
	DirectionTx
)

type inFlightEntry struct {
	cb      CompletionFunc
	created time.Time
}

// Machine is the protocol state machine. One Machine instance owns one
// session; create a new one per connection.
type Machine struct {
	cfg Config

	connState   ConnectionState
	sessState   SessionState
	sessStateCb func(old, new SessionState)

	nextSeqno uint32
	inflight  map[uint32]*inFlightEntry

	dataChunkCb   ChunkFunc
	logChunkCb    ChunkFunc
	paramChunkCb  ChunkFunc

	enqueuer Enqueuer
	psm      *parser.Parser

	// FrameObserver, if set, is called with every raw frame moved in
	// either direction -- the injected byte sink spec.md §9 calls for
	// in place of the original's opened log file.
	FrameObserver func(dir Direction, raw []byte)

	// Now is the clock used for TTL accounting; defaults to time.Now.
	// Exposed for tests.
	Now func() time.Time

	lastSweep time.Time
}

// New creates a Machine. enqueuer is where stuffed outbound packets
// are sent (normally a *pkg/fragment.Fragmenter wrapping a transport
// adapter). sessionStateCb is called on every session-state
// transition with (old, new).
func New(cfg Config, enqueuer Enqueuer, sessionStateCb func(old, new SessionState)) *Machine {
	m := &Machine{
		cfg:         cfg,
		connState:   Disconnected,
		sessState:   NotStarted,
		sessStateCb: sessionStateCb,
		nextSeqno:   1,
		inflight:    make(map[uint32]*inFlightEntry),
		enqueuer:    enqueuer,
		Now:         time.Now,
	}
	m.psm = parser.New(m.onPacket, m.onParseError)
	return m
}

// allocSeqno returns the next monotonic seqno. 0 is reserved for the
// bootstrap IS_DEVICE_PAIRED probe and is never returned here.
func (m *Machine) allocSeqno() uint32 {
	s := m.nextSeqno
	m.nextSeqno++
	return s
}

func (m *Machine) updateSessionState(new SessionState) {
	old := m.sessState
	m.sessState = new
	if m.sessStateCb != nil {
		m.sessStateCb(old, new)
	}
}

// ConnectionState reports the current connection state.
func (m *Machine) ConnectionState() ConnectionState { return m.connState }

// SessionState reports the current session state.
func (m *Machine) SessionState() SessionState { return m.sessState }

// OnConnected is the transport's "link established" notification. It
// starts the bootstrap pairing check.
func (m *Machine) OnConnected() {
	m.connState = Connected
	m.RequestIDP()
}

// OnDisconnected resets connection-level state. The session state is
// left as-is so callers can observe the terminal state that preceded
// the drop.
func (m *Machine) OnDisconnected() {
	m.connState = Disconnected
}

// RequestIDP (re)starts the bootstrap pairing probe. Used both on
// initial connect and, per spec, as the recovery step after a
// request_device_reset when a session has failed.
func (m *Machine) RequestIDP() {
	m.updateSessionState(IDPPending)
	pkt := packet.NewIsDevicePaired()
	m.enqueue(pkt, m.handleIDPCompletion)
}

func (m *Machine) handleIDPCompletion(seqno uint32, success bool, response uint32) {
	if success {
		// The real completion is driven by IS_DEVICE_PAIRED_RESP, not
		// by this ACK; nothing to do.
		return
	}
	log.Printf("protocol: NAK for IS_DEVICE_PAIRED (seqno=%d, response=0x%x)", seqno, response)
	m.updateSessionState(IDPFailed)
}

// OnTransmitFailed is wired to pkg/fragment's OnTransmitFailed hook.
// It implements the synthetic write-failure notification (REDESIGN
// FLAG 2): rather than leaking the in-flight entry forever, the
// completion callback fires with success=false.
func (m *Machine) OnTransmitFailed(seqno uint32) {
	entry, ok := m.inflight[seqno]
	if !ok {
		return
	}
	delete(m.inflight, seqno)
	if entry.cb != nil {
		entry.cb(seqno, false, 0)
	}
}

// SetLed sets the LED state.
func (m *Machine) SetLed(value uint8, cb CompletionFunc) uint32 {
	seqno := m.allocSeqno()
	m.enqueue(packet.NewLedsControl(seqno, value), cb)
	return seqno
}

// RequestDeviceReset asks the device to reset itself with the given reason.
func (m *Machine) RequestDeviceReset(reason uint8, cb CompletionFunc) uint32 {
	seqno := m.allocSeqno()
	m.enqueue(packet.NewDeviceReset(seqno, reason), cb)
	return seqno
}

// RequestStoredData asks the device to replay its stored data log.
func (m *Machine) RequestStoredData(cb CompletionFunc) uint32 {
	seqno := m.allocSeqno()
	m.enqueue(packet.NewSendStoredData(seqno), cb)
	return seqno
}

// RequestAcquisitionStart begins live acquisition streaming.
// chunkCb replaces whatever data-chunk subscriber was previously installed.
func (m *Machine) RequestAcquisitionStart(ackCb CompletionFunc, chunkCb ChunkFunc) uint32 {
	m.dataChunkCb = chunkCb
	seqno := m.allocSeqno()
	m.enqueue(packet.NewAcquisitionStart(seqno), ackCb)
	return seqno
}

// RequestAcquisitionStop ends live acquisition streaming.
func (m *Machine) RequestAcquisitionStop(cb CompletionFunc) uint32 {
	seqno := m.allocSeqno()
	m.enqueue(packet.NewAcquisitionStop(seqno), cb)
	return seqno
}

// RequestLogFile requests a page of the device's stored log file.
// chunkCb replaces whatever log-chunk subscriber was previously installed.
func (m *Machine) RequestLogFile(offset, length uint32, ackCb CompletionFunc, chunkCb ChunkFunc) uint32 {
	m.logChunkCb = chunkCb
	seqno := m.allocSeqno()
	m.enqueue(packet.NewLogGet(seqno, offset, length), ackCb)
	return seqno
}

// RequestSetParametersFile writes one chunk of the device parameters
// file starting at offset.
func (m *Machine) RequestSetParametersFile(offset uint32, data []byte, cb CompletionFunc) uint32 {
	seqno := m.allocSeqno()
	m.enqueue(packet.NewSetParametersFile(seqno, offset, data), cb)
	return seqno
}

// RequestGetParametersFile requests a page of the device parameters
// file. chunkCb replaces whatever parameters-file subscriber was
// previously installed; it mirrors RequestLogFile's pagination
// contract (a short final chunk signals end-of-file).
func (m *Machine) RequestGetParametersFile(offset, length uint32, ackCb CompletionFunc, chunkCb ChunkFunc) uint32 {
	m.paramChunkCb = chunkCb
	seqno := m.allocSeqno()
	m.enqueue(packet.NewGetParametersFile(seqno, offset, length), ackCb)
	return seqno
}

// enqueue installs cb in the in-flight table (if non-nil) keyed by the
// packet's seqno, then hands the packet to the enqueuer.
func (m *Machine) enqueue(pkt packet.Packet, cb CompletionFunc) {
	seqno := pkt.Header().Seqno
	if cb != nil {
		m.inflight[seqno] = &inFlightEntry{cb: cb, created: m.now()}
	}
	if m.FrameObserver != nil {
		m.FrameObserver(DirectionTx, packet.Encode(pkt))
	}
	m.enqueuer.Enqueue(pkt)
}

// sendAck replies to an inbound packet with a status-coded ACK, per
// the device-initiated-messages-get-ACKed-regardless-of-handler policy.
func (m *Machine) sendAck(h *packet.Header, status uint8) {
	ack := packet.NewAck(h.Seqno, h.Kind, status)
	if m.FrameObserver != nil {
		m.FrameObserver(DirectionTx, packet.Encode(ack))
	}
	m.enqueuer.Enqueue(ack)
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// OnRxChunk is the caller-facing rx-forwarding entry point: feed it
// inbound MTU chunks as they arrive. It also drives the lazy TTL
// sweep, since the core spawns no timers of its own.
func (m *Machine) OnRxChunk(buf []byte) {
	m.psm.RxChunk(buf)
	m.sweepExpired()
}

func (m *Machine) onParseError(err error) {
	log.Printf("protocol: %v", err)
}

// onPacket is the parser's decode callback -- the single entry point
// for every inbound frame, dispatched by kind.
func (m *Machine) onPacket(pkt packet.Packet) {
	if m.FrameObserver != nil {
		m.FrameObserver(DirectionRx, packet.Encode(pkt))
	}

	switch p := pkt.(type) {
	case *packet.Ack:
		m.handleAck(p)
	case *packet.DataResp:
		m.handleDataResp(p)
	case *packet.IsDevicePairedResp:
		m.handleIsDevicePairedResp(p)
	case *packet.SessionStartResp:
		m.handleSessionStartResp(p)
	case *packet.LogFileResp:
		m.handleLogFileResp(p)
	case *packet.ParametersFileResp:
		m.handleParametersFileResp(p)
	default:
		// Unknown/unhandled kind: the parser already logged it if it
		// was genuinely unrecognized; nothing further to do.
	}
}

func (m *Machine) handleAck(p *packet.Ack) {
	seqno := p.H.Seqno
	success := p.IsSuccess()

	entry, ok := m.inflight[seqno]
	if ok && entry.cb != nil {
		entry.cb(seqno, success, p.H.Response)
	}

	// Seqno 0 (the bootstrap IDP probe) is preserved forever to match
	// bootstrap semantics; every other entry is removed once its ACK
	// arrives.
	if seqno != 0 {
		delete(m.inflight, seqno)
	}
}

func (m *Machine) handleDataResp(p *packet.DataResp) {
	if m.dataChunkCb != nil {
		m.dataChunkCb(packet.Encode(p))
	}
	m.sendAck(&p.H, 0)
}

// handleIsDevicePairedResp implements the bootstrap pairing check.
//
// REDESIGN FLAG (spec.md §9 / SPEC_FULL.md §9 item 1): the source this
// was distilled from branches on `not pkt.is_paired()`, which (given
// is_paired() == (header.response != 0)) reads as "response == 0 means
// proceed with session start". Documented device behavior is the
// opposite: response != 0 means the device is not yet in a session and
// session start should proceed; response == 0 is the failure branch.
// This implements that corrected, non-inverted reading.
func (m *Machine) handleIsDevicePairedResp(p *packet.IsDevicePairedResp) {
	m.sendAck(&p.H, 0)

	if p.H.Response != 0 {
		m.updateSessionState(SSPending)

		seqno := m.allocSeqno()
		start := packet.NewSessionStart(seqno, m.cfg.HostID, m.cfg.SessionMode, m.cfg.VersionString)
		m.enqueue(start, func(seqno uint32, success bool, response uint32) {
			if !success {
				log.Printf("protocol: NAK for SESSION_START (seqno=%d, response=0x%x)", seqno, response)
				m.updateSessionState(SSFailed)
			}
		})
	} else {
		log.Printf("protocol: IS_DEVICE_PAIRED_RESP response=0 (not yet paired)")
		m.updateSessionState(IDPFailed)
	}
}

func (m *Machine) handleSessionStartResp(p *packet.SessionStartResp) {
	m.updateSessionState(Started)
	m.sendAck(&p.H, 0)
}

func (m *Machine) handleLogFileResp(p *packet.LogFileResp) {
	m.sendAck(&p.H, 0)
	if m.logChunkCb != nil {
		m.logChunkCb(p.Logbuf)
	}
}

func (m *Machine) handleParametersFileResp(p *packet.ParametersFileResp) {
	m.sendAck(&p.H, 0)
	if m.paramChunkCb != nil {
		m.paramChunkCb(p.Data)
	}
}

// sweepExpired evicts in-flight entries older than cfg.InFlightTTL,
// firing their completion callback with success=false. It is called
// opportunistically from OnRxChunk rather than from a dedicated timer,
// per spec.md §5's no-internal-scheduling rule.
func (m *Machine) sweepExpired() {
	if m.cfg.InFlightTTL <= 0 {
		return
	}
	now := m.now()

	for seqno, entry := range m.inflight {
		if seqno == 0 {
			// The bootstrap entry is intentionally immortal.
			continue
		}
		if now.Sub(entry.created) < m.cfg.InFlightTTL {
			continue
		}
		delete(m.inflight, seqno)
		if entry.cb != nil {
			entry.cb(seqno, false, 0)
		}
	}
	m.lastSweep = now
}

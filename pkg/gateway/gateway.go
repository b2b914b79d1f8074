// Package gateway wires the protocol machine to Redis: it projects
// session/device state into hashes and a pub/sub channel, watches a
// Redis list for host-issued commands, and forwards streaming data/log
// chunks onto their own lists as CBOR-encoded envelopes.
package gateway

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sleepband/gateway/pkg/fragment"
	"github.com/sleepband/gateway/pkg/packet"
	"github.com/sleepband/gateway/pkg/protocol"
	"github.com/sleepband/gateway/pkg/transport"
)

// RedisSurface is the slice of *pkg/redis.Client the gateway needs.
// Narrowing to an interface here lets tests substitute an in-process
// stub instead of a live Redis server.
type RedisSurface interface {
	WriteString(key, field, value string) error
	Publish(channel, message string) error
	LPush(key, value string) error
	BRPop(timeout time.Duration, key string) ([]string, error)
}

// chunkEnvelope is the CBOR-encoded shape pushed onto the data/log
// chunk lists: frame metadata alongside the raw bytes, so a downstream
// consumer doesn't have to re-derive the kind/seqno from the payload.
type chunkEnvelope struct {
	Seqno   uint32 `cbor:"seqno"`
	Kind    uint16 `cbor:"kind"`
	Payload []byte `cbor:"payload"`
}

// Gateway is the Redis-driven command surface and session/device-state
// projection. One Gateway owns one protocol.Machine and one
// transport.Adapter.
type Gateway struct {
	redis     RedisSurface
	transport transport.Adapter
	machine   *protocol.Machine

	rxCh  chan []byte
	cmdCh chan command

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires a fresh Gateway: a fragmenter over adapter feeds a new
// protocol.Machine, whose session-state and frame-observer callbacks
// project into Redis.
func New(redisClient RedisSurface, adapter transport.Adapter, cfg protocol.Config) *Gateway {
	g := &Gateway{
		redis:     redisClient,
		transport: adapter,
		rxCh:      make(chan []byte, 64),
		cmdCh:     make(chan command, 64),
		stopCh:    make(chan struct{}),
	}

	frag := fragment.New(adapter)
	g.machine = protocol.New(cfg, frag, g.onSessionStateChange)
	frag.OnTransmitFailed = g.machine.OnTransmitFailed
	g.machine.FrameObserver = g.onFrame

	adapter.SetOnWriteSucceeded(frag.WriteSucceeded)
	adapter.SetOnWriteFailed(frag.WriteFailed)
	adapter.SetOnRxChunk(func(buf []byte) { g.rxCh <- buf })
	adapter.SetOnConnected(func() {
		g.redis.WriteString(KeySession, FieldConnectionState, "CONNECTED")
		g.machine.OnConnected()
	})
	adapter.SetOnDisconnected(func() {
		g.redis.WriteString(KeySession, FieldConnectionState, "DISCONNECTED")
		g.machine.OnDisconnected()
	})

	return g
}

// Machine exposes the underlying protocol machine for callers that
// need to issue requests directly rather than through the Redis
// command surface (e.g. a future gRPC/HTTP front-end).
func (g *Gateway) Machine() *protocol.Machine { return g.machine }

// Run connects the transport and becomes the single owning goroutine
// for the protocol machine: it drains inbound rx chunks and
// Redis-originated commands from their respective channels, the one
// point where both sources of work funnel into the one-thread-into-
// the-core discipline the protocol machine assumes. It blocks until Stop.
func (g *Gateway) Run() error {
	if err := g.transport.Connect(); err != nil {
		return err
	}

	g.wg.Add(1)
	go g.watchRedisCommands()

	for {
		select {
		case buf := <-g.rxCh:
			g.machine.OnRxChunk(buf)
		case cmd := <-g.cmdCh:
			g.dispatch(cmd)
		case <-g.stopCh:
			g.wg.Wait()
			return g.transport.Disconnect()
		}
	}
}

// Stop signals Run to shut down. It does not wait for Run to return.
func (g *Gateway) Stop() {
	close(g.stopCh)
}

// watchRedisCommands blocks on BRPOP against the commands list and
// forwards decoded commands to cmdCh for the core loop to dispatch.
// Grounded on the teacher's WatchRedisCommands/BRPop pair.
func (g *Gateway) watchRedisCommands() {
	defer g.wg.Done()
	for {
		select {
		case <-g.stopCh:
			return
		default:
		}

		result, err := g.redis.BRPop(time.Second, KeyCommands)
		if err != nil {
			log.Printf("gateway: BRPOP %s: %v", KeyCommands, err)
			time.Sleep(time.Second)
			continue
		}
		if result == nil {
			continue
		}

		cmd, err := parseCommand(result[1])
		if err != nil {
			log.Printf("gateway: bad command JSON %q: %v", result[1], err)
			continue
		}

		select {
		case g.cmdCh <- cmd:
		case <-g.stopCh:
			return
		}
	}
}

func (g *Gateway) onSessionStateChange(old, new protocol.SessionState) {
	g.redis.WriteString(KeySession, FieldSessionState, new.String())
	g.redis.Publish(KeySession, old.String()+":"+new.String())

	if new == protocol.IDPFailed {
		g.machine.RequestDeviceReset(0, func(seqno uint32, success bool, response uint32) {
			if success {
				g.machine.RequestIDP()
			}
		})
	}
}

// onFrame is the protocol machine's frame observer: it picks out the
// inbound frames whose arrival is itself the interesting device-state
// update (pairing probe result, session-start confirmation) and
// projects them into the device hash.
func (g *Gateway) onFrame(dir protocol.Direction, raw []byte) {
	if dir != protocol.DirectionRx {
		return
	}
	pkt, err := packet.Decode(raw)
	if err != nil {
		return
	}

	switch p := pkt.(type) {
	case *packet.IsDevicePairedResp:
		g.redis.WriteString(KeySession, FieldLastIDPResponse, strconv.Itoa(int(p.H.Response)))
		paired := "false"
		if p.H.Response != 0 {
			paired = "true"
		}
		g.redis.WriteString(KeyDevice, FieldPaired, paired)
	case *packet.SessionStartResp:
		// The 512-byte config payload is opaque by contract (spec.md
		// §6); only the fact that it arrived is recorded.
		_ = p
		g.redis.WriteString(KeyDevice, FieldFirmwareReported, "true")
	}
}

// onDataChunk pushes one streamed acquisition/stored-data frame onto
// the data-chunks list as a CBOR envelope.
func (g *Gateway) onDataChunk(frame []byte) {
	pkt, err := packet.Decode(frame)
	if err != nil {
		log.Printf("gateway: failed to decode data chunk frame: %v", err)
		return
	}
	g.pushChunk(KeyDataChunks, chunkEnvelope{Seqno: pkt.Header().Seqno, Kind: uint16(pkt.Kind()), Payload: frame})
}

// onLogChunk pushes one page of log file contents onto the log-chunks
// list as a CBOR envelope. The log-chunk callback receives only the
// page's payload, so the envelope's Seqno is always zero.
func (g *Gateway) onLogChunk(logbuf []byte) {
	g.pushChunk(KeyLogChunks, chunkEnvelope{Kind: uint16(packet.KindLogFileResp), Payload: logbuf})
}

func (g *Gateway) pushChunk(listKey string, env chunkEnvelope) {
	buf, err := cbor.Marshal(env)
	if err != nil {
		log.Printf("gateway: failed to CBOR-encode chunk envelope: %v", err)
		return
	}
	if err := g.redis.LPush(listKey, string(buf)); err != nil {
		log.Printf("gateway: LPUSH %s: %v", listKey, err)
	}
}

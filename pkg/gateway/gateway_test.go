package gateway

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/sleepband/gateway/pkg/packet"
	"github.com/sleepband/gateway/pkg/protocol"
)

// fakeAdapter is an in-process transport.Adapter: WriteChunk records
// the chunk and fires the write-succeeded callback synchronously,
// mirroring SerialAdapter's own synchronous completion.
type fakeAdapter struct {
	chunks           [][]byte
	onWriteSucceeded func()
	onRxChunk        func(buf []byte)
}

func (a *fakeAdapter) Connect() error    { return nil }
func (a *fakeAdapter) Disconnect() error { return nil }
func (a *fakeAdapter) WriteChunk(buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	a.chunks = append(a.chunks, cp)
	if a.onWriteSucceeded != nil {
		a.onWriteSucceeded()
	}
	return nil
}
func (a *fakeAdapter) SetOnConnected(fn func())         {}
func (a *fakeAdapter) SetOnDisconnected(fn func())      {}
func (a *fakeAdapter) SetOnServicesResolved(fn func())  {}
func (a *fakeAdapter) SetOnWriteSucceeded(fn func())    { a.onWriteSucceeded = fn }
func (a *fakeAdapter) SetOnWriteFailed(fn func(error))  {}
func (a *fakeAdapter) SetOnRxChunk(fn func(buf []byte)) { a.onRxChunk = fn }

// fakeRedis is an in-process RedisSurface stub.
type fakeRedis struct {
	mu        sync.Mutex
	hashes    map[string]map[string]string
	published []string
	lists     map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: map[string]map[string]string{}, lists: map[string][]string{}}
}

func (f *fakeRedis) WriteString(key, field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = map[string]string{}
	}
	f.hashes[key][field] = value
	return nil
}

func (f *fakeRedis) Publish(channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, channel+"="+message)
	return nil
}

func (f *fakeRedis) LPush(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[key] = append(f.lists[key], value)
	return nil
}

func (f *fakeRedis) BRPop(timeout time.Duration, key string) ([]string, error) {
	return nil, nil
}

func splitChunks(frame []byte, size int) [][]byte {
	var out [][]byte
	for i := 0; i < len(frame); i += size {
		end := i + size
		if end > len(frame) {
			end = len(frame)
		}
		out = append(out, frame[i:end])
	}
	return out
}

func TestDispatchSetLedSendsLedsControlFrame(t *testing.T) {
	adapter := &fakeAdapter{}
	fr := newFakeRedis()
	gw := New(fr, adapter, protocol.DefaultConfig())

	value := uint8(7)
	gw.dispatch(command{Op: "set_led", Value: &value})

	if len(adapter.chunks) == 0 {
		t.Fatal("expected at least one chunk written")
	}
	full := bytes.Join(adapter.chunks, nil)
	pkt, err := packet.Decode(full)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	led, ok := pkt.(*packet.LedsControl)
	if !ok {
		t.Fatalf("expected *packet.LedsControl, got %T", pkt)
	}
	if led.Value != value {
		t.Errorf("Value = %d, want %d", led.Value, value)
	}
}

func TestDispatchDeviceResetWritesLastResetReasonOnAck(t *testing.T) {
	adapter := &fakeAdapter{}
	fr := newFakeRedis()
	gw := New(fr, adapter, protocol.DefaultConfig())

	reason := uint8(3)
	gw.dispatch(command{Op: "device_reset", Reason: &reason})

	// The first allocated seqno for any fresh Machine is 1 (seqno 0 is
	// reserved for the bootstrap probe and never handed to a request
	// method).
	ackFrame := packet.Encode(packet.NewAck(1, packet.KindDeviceReset, 0))
	for _, c := range splitChunks(ackFrame, 12) {
		gw.Machine().OnRxChunk(c)
	}

	if got := fr.hashes[KeyDevice][FieldLastResetReason]; got != "3" {
		t.Errorf("last_reset_reason = %q, want %q", got, "3")
	}
}

func TestDispatchUnknownOpDoesNotPanic(t *testing.T) {
	adapter := &fakeAdapter{}
	fr := newFakeRedis()
	gw := New(fr, adapter, protocol.DefaultConfig())

	gw.dispatch(command{Op: "not_a_real_op"})
}

func TestOnDataChunkPushesCborEnvelope(t *testing.T) {
	adapter := &fakeAdapter{}
	fr := newFakeRedis()
	gw := New(fr, adapter, protocol.DefaultConfig())

	pkt := &packet.DataResp{H: packet.Header{Kind: packet.KindDataResp, Seqno: 42}, DataBuf: []byte{1, 2, 3}}
	frame := packet.Encode(pkt)

	gw.onDataChunk(frame)

	entries := fr.lists[KeyDataChunks]
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}

	var env chunkEnvelope
	if err := cbor.Unmarshal([]byte(entries[0]), &env); err != nil {
		t.Fatalf("cbor.Unmarshal: %v", err)
	}
	if env.Seqno != 42 {
		t.Errorf("Seqno = %d, want 42", env.Seqno)
	}
	if env.Kind != uint16(packet.KindDataResp) {
		t.Errorf("Kind = %d, want %d", env.Kind, packet.KindDataResp)
	}
	if !bytes.Equal(env.Payload, frame) {
		t.Errorf("Payload mismatch")
	}
}

func TestOnLogChunkPushesCborEnvelope(t *testing.T) {
	adapter := &fakeAdapter{}
	fr := newFakeRedis()
	gw := New(fr, adapter, protocol.DefaultConfig())

	gw.onLogChunk([]byte("log page contents"))

	entries := fr.lists[KeyLogChunks]
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	var env chunkEnvelope
	if err := cbor.Unmarshal([]byte(entries[0]), &env); err != nil {
		t.Fatalf("cbor.Unmarshal: %v", err)
	}
	if string(env.Payload) != "log page contents" {
		t.Errorf("Payload = %q", env.Payload)
	}
}

func TestOnSessionStateChangeWritesAndPublishes(t *testing.T) {
	adapter := &fakeAdapter{}
	fr := newFakeRedis()
	gw := New(fr, adapter, protocol.DefaultConfig())

	gw.onSessionStateChange(protocol.NotStarted, protocol.IDPPending)

	if got := fr.hashes[KeySession][FieldSessionState]; got != "IDP_PENDING" {
		t.Errorf("session_state = %q, want IDP_PENDING", got)
	}
	want := KeySession + "=NOT_STARTED:IDP_PENDING"
	found := false
	for _, p := range fr.published {
		if p == want {
			found = true
		}
	}
	if !found {
		t.Errorf("published = %v, want to contain %q", fr.published, want)
	}
}

func TestIDPFailedTriggersDeviceResetThenFreshIDP(t *testing.T) {
	adapter := &fakeAdapter{}
	fr := newFakeRedis()
	gw := New(fr, adapter, protocol.DefaultConfig())

	gw.onSessionStateChange(protocol.IDPPending, protocol.IDPFailed)

	joined := bytes.Join(adapter.chunks, nil)
	first, err := packet.Decode(joined)
	if err != nil {
		t.Fatalf("Decode first frame: %v", err)
	}
	reset, ok := first.(*packet.DeviceReset)
	if !ok {
		t.Fatalf("expected *packet.DeviceReset sent on IDP_FAILED, got %T", first)
	}

	ackFrame := packet.Encode(packet.NewAck(reset.H.Seqno, packet.KindDeviceReset, 0))
	for _, c := range splitChunks(ackFrame, 12) {
		gw.Machine().OnRxChunk(c)
	}

	joined = bytes.Join(adapter.chunks, nil)
	offset := int(first.Header().Length)
	if len(joined) <= offset {
		t.Fatalf("no frame sent after device_reset ack, want a fresh IS_DEVICE_PAIRED probe")
	}
	second, err := packet.Decode(joined[offset:])
	if err != nil {
		t.Fatalf("Decode second frame: %v", err)
	}
	if _, ok := second.(*packet.IsDevicePaired); !ok {
		t.Fatalf("expected *packet.IsDevicePaired after device_reset ack, got %T", second)
	}
}

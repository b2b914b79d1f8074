package packet

import (
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	return b
}

func TestHeaderSerializeWithCrc(t *testing.T) {
	pkt := NewIsDevicePaired()
	pkt.H.Timestamp = 0
	pkt.H.Seqno = 0

	frame := Encode(pkt)
	want := mustHex(t, "bbbb2a000000000000000000000000001800000000006444")

	if hex.EncodeToString(frame) != hex.EncodeToString(want) {
		t.Fatalf("Encode() = %x, want %x", frame, want)
	}
	if pkt.H.Crc != 0x4464 {
		t.Errorf("header.Crc = 0x%04X, want 0x4464", pkt.H.Crc)
	}
}

func TestAckNakRoundTrip(t *testing.T) {
	pkt := NewAck(0xFFFFFFAB, 0xF00F, 0xCD)
	frame := Encode(pkt)

	want := mustHex(t, "bbbb00000000000000000000abffffff1d00000000004165f00fcd0000")
	if hex.EncodeToString(frame) != hex.EncodeToString(want) {
		t.Fatalf("Encode() = %x, want %x", frame, want)
	}

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	ack, ok := decoded.(*Ack)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Ack", decoded)
	}
	if ack.IsSuccess() {
		t.Errorf("IsSuccess() = true, want false for status 0xCD")
	}
}

func TestSessionStartSerialize(t *testing.T) {
	pkt := NewSessionStart(0x1234, 0x19283746, 1, "4.2.0.69\x00\x00\x00\x00\x00\x00")
	pkt.H.Timestamp = 0x9ABC

	frame := Encode(pkt)
	want := mustHex(t, "bbbb0100bc9a000000000000341200002c0000000000ecd01928374601342e322e302e363900000000000000")

	if hex.EncodeToString(frame) != hex.EncodeToString(want) {
		t.Fatalf("Encode() = %x, want %x", frame, want)
	}
}

func TestLedSetSerialize(t *testing.T) {
	pkt := NewLedsControl(0x12345678, 0)
	pkt.H.Timestamp = 0x0EDCBA98

	frame := Encode(pkt)
	want := mustHex(t, "bbbb230098badc0e0000000078563412190000000000fba900")

	if hex.EncodeToString(frame) != hex.EncodeToString(want) {
		t.Fatalf("Encode() = %x, want %x", frame, want)
	}
}

func TestIsDevicePairedRespParse(t *testing.T) {
	frame := mustHex(t, "bbbb2b000000000000000000000000001d0000000000ff102a00000000")

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	resp, ok := decoded.(*IsDevicePairedResp)
	if !ok {
		t.Fatalf("Decode() returned %T, want *IsDevicePairedResp", decoded)
	}

	if resp.H.Kind != KindIsDevicePairedResp {
		t.Errorf("Kind = 0x%04X, want 0x%04X", resp.H.Kind, KindIsDevicePairedResp)
	}
	if resp.H.Length != 0x1D {
		t.Errorf("Length = 0x%04X, want 0x1D", resp.H.Length)
	}
	if resp.H.Crc != 0x10FF {
		t.Errorf("Crc = 0x%04X, want 0x10FF", resp.H.Crc)
	}
	if resp.Value != 0 {
		t.Errorf("Value = %d, want 0", resp.Value)
	}
	if resp.H.Response != 0 {
		t.Errorf("Response = %d, want 0", resp.H.Response)
	}
	if resp.IsPaired() {
		t.Errorf("IsPaired() = true, want false")
	}
}

func TestCrcMismatchDetected(t *testing.T) {
	frame := mustHex(t, "bbbb2a000000000000000000000000001800000000006444")
	frame[22] ^= 0xFF // corrupt the CRC

	_, err := Decode(frame)
	if err == nil {
		t.Fatal("Decode() succeeded on corrupted CRC, want ErrCrcMismatch")
	}
}

func TestInvalidMagicDetected(t *testing.T) {
	frame := mustHex(t, "bbbb2a000000000000000000000000001800000000006444")
	frame[0] = 0x00

	_, err := Decode(frame)
	if err == nil {
		t.Fatal("Decode() succeeded with bad magic, want ErrInvalidMagic")
	}
}

func TestUnknownKindRecovers(t *testing.T) {
	pkt := &Unknown{H: Header{Kind: Kind(0xDEAD), Seqno: 7}}
	frame := Encode(pkt)

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	u, ok := decoded.(*Unknown)
	if !ok {
		t.Fatalf("Decode() returned %T, want *Unknown", decoded)
	}
	if u.H.Kind != Kind(0xDEAD) {
		t.Errorf("Kind = 0x%04X, want 0xDEAD", u.H.Kind)
	}
}

func TestLogGetRoundTrip(t *testing.T) {
	pkt := NewLogGet(42, 2048, 2048)
	frame := Encode(pkt)

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	got, ok := decoded.(*LogGet)
	if !ok {
		t.Fatalf("Decode() returned %T, want *LogGet", decoded)
	}
	if got.Offset != 2048 || got.Length != 2048 || got.H.Seqno != 42 {
		t.Errorf("got %+v, want offset=2048 length=2048 seqno=42", got)
	}
}

func TestSessionStartRespToleratesOpaque512(t *testing.T) {
	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	pkt := &SessionStartResp{H: Header{Kind: KindSessionStartResp, Seqno: 1}, Config: payload}
	frame := Encode(pkt)

	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	got, ok := decoded.(*SessionStartResp)
	if !ok {
		t.Fatalf("Decode() returned %T, want *SessionStartResp", decoded)
	}
	if len(got.Config) != 512 {
		t.Fatalf("Config length = %d, want 512", len(got.Config))
	}
	for i, b := range got.Config {
		if b != byte(i) {
			t.Fatalf("Config[%d] = %d, want %d (opaque payload corrupted)", i, b, byte(i))
		}
	}
}

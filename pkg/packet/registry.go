package packet

// Unknown wraps a frame whose kind has no registered decoder. The
// parser still hands these up the chain instead of silently dropping
// them, matching the "kind→factory table, unknown kinds recoverable"
// design from spec.md.
type Unknown struct {
	H   Header
	Raw []byte
}

func (p *Unknown) Kind() Kind           { return p.H.Kind }
func (p *Unknown) Header() *Header      { return &p.H }
func (p *Unknown) payloadBytes() []byte { return p.Raw }

type decodeFunc func(h Header, body []byte) (Packet, error)

var registry = map[Kind]decodeFunc{
	KindAck:                decodeAck,
	KindSessionStart:       decodeSessionStart,
	KindSessionStartResp:   decodeSessionStartResp,
	KindConfigGet:          decodeConfigGet,
	KindSetParametersFile:  decodeSetParametersFile,
	KindGetParametersFile:  decodeGetParametersFile,
	KindParametersFileResp: decodeParametersFileResp,
	KindDeviceReset:        decodeDeviceReset,
	KindSendStoredData:     decodeSendStoredData,
	KindAcquisitionStart:   decodeAcquisitionStart,
	KindAcquisitionStop:    decodeAcquisitionStop,
	KindTechnicalStatus:    decodeTechnicalStatus,
	KindLedsControl:        decodeLedsControl,
	KindIsDevicePaired:     decodeIsDevicePaired,
	KindIsDevicePairedResp: decodeIsDevicePairedResp,
	KindLogGet:             decodeLogGet,
	KindLogFileResp:        decodeLogFileResp,
	KindDataResp:           decodeDataResp,
}

// Decode parses a complete frame (header verified, CRC checked) into a
// typed Packet. Frames whose kind has no registered decoder come back
// as *Unknown rather than an error, so the parser can keep going.
func Decode(frame []byte) (Packet, error) {
	h, err := decodeHeader(frame, false)
	if err != nil {
		return nil, err
	}

	body := frame[HeaderLength:h.Length]

	if dec, ok := registry[h.Kind]; ok {
		return dec(h, body)
	}

	raw := make([]byte, len(body))
	copy(raw, body)
	return &Unknown{H: h, Raw: raw}, nil
}

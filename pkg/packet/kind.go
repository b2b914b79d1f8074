package packet

// Kind tags the payload schema carried by a frame.
type Kind uint16

// Packet kinds. Values 0x00-0x44 are named directly in the wire
// protocol; 0x0C-0x0E and 0x11-0x12 supplement the distilled protocol
// with operations original_source implements/references but the
// distillation dropped (parameters-file transfer, live acquisition
// start/stop) — see DESIGN.md "Open Question decisions".
const (
	KindAck                 Kind = 0x00
	KindSessionStart        Kind = 0x01
	KindSessionStartResp    Kind = 0x02
	KindConfigGet           Kind = 0x03
	KindSetParametersFile   Kind = 0x0C
	KindGetParametersFile   Kind = 0x0D
	KindParametersFileResp  Kind = 0x0E
	KindDeviceReset         Kind = 0x0B
	KindSendStoredData      Kind = 0x10
	KindAcquisitionStart    Kind = 0x11
	KindAcquisitionStop     Kind = 0x12
	KindTechnicalStatus     Kind = 0x15
	KindLedsControl         Kind = 0x23
	KindIsDevicePaired      Kind = 0x2A
	KindIsDevicePairedResp  Kind = 0x2B
	KindLogGet              Kind = 0x44
	KindLogFileResp         Kind = 0x45
	KindDataResp            Kind = 0x46
)

// String renders a Kind for logging.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN"
}

var kindNames = map[Kind]string{
	KindAck:                "ACK",
	KindSessionStart:       "SESSION_START",
	KindSessionStartResp:   "SESSION_START_RESP",
	KindConfigGet:          "CONFIG_GET",
	KindSetParametersFile:  "SET_PARAMETERS_FILE",
	KindGetParametersFile:  "GET_PARAMETERS_FILE",
	KindParametersFileResp: "PARAMETERS_FILE_RESP",
	KindDeviceReset:        "DEVICE_RESET",
	KindSendStoredData:     "SEND_STORED_DATA",
	KindAcquisitionStart:   "ACQUISITION_START",
	KindAcquisitionStop:    "ACQUISITION_STOP",
	KindTechnicalStatus:    "TECHNICAL_STATUS",
	KindLedsControl:        "LEDS_CONTROL",
	KindIsDevicePaired:     "IS_DEVICE_PAIRED",
	KindIsDevicePairedResp: "IS_DEVICE_PAIRED_RESP",
	KindLogGet:             "LOG_GET",
	KindLogFileResp:        "LOG_FILE_RESP",
	KindDataResp:           "DATA_RESP",
}

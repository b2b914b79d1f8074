package gateway

// Redis key/channel names the gateway reads and writes. Grounded on
// the teacher's pkg/service/constants.go naming convention (flat
// "sleepband:noun" keys).
const (
	KeySession    = "sleepband:session"
	KeyDevice     = "sleepband:device"
	KeyCommands   = "sleepband:commands"
	KeyDataChunks = "sleepband:data-chunks"
	KeyLogChunks  = "sleepband:log-chunks"
)

// Session hash fields.
const (
	FieldConnectionState = "connection_state"
	FieldSessionState    = "session_state"
	FieldLastIDPResponse = "last_idp_response"
)

// Device hash fields.
const (
	FieldPaired           = "paired"
	FieldFirmwareReported = "firmware_reported"
	FieldLastResetReason  = "last_reset_reason"
)

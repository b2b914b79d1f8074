package gateway

import (
	"encoding/json"
	"log"
	"strconv"
)

// command is the JSON shape accepted on the sleepband:commands list.
// Not every field applies to every op; unused fields are simply absent.
type command struct {
	Op     string  `json:"op"`
	Value  *uint8  `json:"value,omitempty"`
	Reason *uint8  `json:"reason,omitempty"`
	Offset *uint32 `json:"offset,omitempty"`
	Length *uint32 `json:"length,omitempty"`
}

func parseCommand(raw string) (command, error) {
	var cmd command
	err := json.Unmarshal([]byte(raw), &cmd)
	return cmd, err
}

// dispatch runs cmd against the protocol machine. It is only ever
// called from the gateway's core loop goroutine, the single owner of
// the protocol machine.
func (g *Gateway) dispatch(cmd command) {
	switch cmd.Op {
	case "set_led":
		value := uint8(0)
		if cmd.Value != nil {
			value = *cmd.Value
		}
		g.machine.SetLed(value, nil)

	case "device_reset":
		reason := uint8(0)
		if cmd.Reason != nil {
			reason = *cmd.Reason
		}
		g.machine.RequestDeviceReset(reason, func(seqno uint32, success bool, response uint32) {
			if success {
				g.redis.WriteString(KeyDevice, FieldLastResetReason, strconv.Itoa(int(reason)))
			}
		})

	case "stored_data":
		g.machine.RequestStoredData(nil)

	case "acq_start":
		g.machine.RequestAcquisitionStart(nil, g.onDataChunk)

	case "acq_stop":
		g.machine.RequestAcquisitionStop(nil)

	case "log_get":
		var offset, length uint32
		if cmd.Offset != nil {
			offset = *cmd.Offset
		}
		if cmd.Length != nil {
			length = *cmd.Length
		}
		g.machine.RequestLogFile(offset, length, nil, g.onLogChunk)

	default:
		log.Printf("gateway: unknown command op %q", cmd.Op)
	}
}

// Package transport defines the abstract BLE link the protocol machine
// rides on, plus a concrete adapter for bands that expose the nRF52
// over a UART rather than directly over the air.
package transport

// Adapter is the abstract BLE link. A single dedicated goroutine per
// adapter instance is expected to own it and deliver every event
// callback from that one goroutine -- callers into pkg/protocol rely
// on this single-owner discipline, they do not lock against it.
type Adapter interface {
	// Connect opens the link. Actual establishment is reported
	// asynchronously via OnConnected.
	Connect() error
	// Disconnect closes the link.
	Disconnect() error
	// WriteChunk sends one chunk of at most 20 bytes. Completion or
	// failure is reported asynchronously via OnWriteSucceeded/OnWriteFailed.
	WriteChunk(buf []byte) error

	// SetOnConnected registers the callback fired once the link is
	// established.
	SetOnConnected(fn func())
	// SetOnDisconnected registers the callback fired when the link drops.
	SetOnDisconnected(fn func())
	// SetOnServicesResolved registers the callback fired once the
	// adapter has discovered/bound whatever it needs before traffic
	// can flow (GATT service discovery, or the UART equivalent).
	SetOnServicesResolved(fn func())
	// SetOnWriteSucceeded registers the callback fired after a
	// WriteChunk completes successfully.
	SetOnWriteSucceeded(fn func())
	// SetOnWriteFailed registers the callback fired after a
	// WriteChunk fails; reason is the underlying error.
	SetOnWriteFailed(fn func(reason error))
	// SetOnRxChunk registers the callback fired for every inbound
	// chunk, normally <=20 bytes.
	SetOnRxChunk(fn func(buf []byte))
}

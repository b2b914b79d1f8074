package transport

import (
	"fmt"
	"io"
	"log"
	"sync"

	"go.bug.st/serial"
)

// ChunkSize is the MTU the protocol machine expects from every
// transport: at most 20 bytes per chunk, one write outstanding at a time.
const ChunkSize = 20

// SerialAdapter is an Adapter backed by a UART connection to a band
// that exposes the nRF52 radio over serial rather than directly over
// the air. It plays the role the BLE GATT link plays for bands that
// do expose the air interface directly.
type SerialAdapter struct {
	portName string
	baudRate int

	mu       sync.Mutex
	port     serial.Port
	stopChan chan struct{}
	wg       sync.WaitGroup

	onConnected        func()
	onDisconnected     func()
	onServicesResolved func()
	onWriteSucceeded   func()
	onWriteFailed      func(error)
	onRxChunk          func([]byte)
}

// NewSerialAdapter creates an adapter for the given device path and baud rate.
func NewSerialAdapter(portName string, baudRate int) *SerialAdapter {
	return &SerialAdapter{portName: portName, baudRate: baudRate}
}

func (a *SerialAdapter) SetOnConnected(fn func())              { a.onConnected = fn }
func (a *SerialAdapter) SetOnDisconnected(fn func())           { a.onDisconnected = fn }
func (a *SerialAdapter) SetOnServicesResolved(fn func())       { a.onServicesResolved = fn }
func (a *SerialAdapter) SetOnWriteSucceeded(fn func())         { a.onWriteSucceeded = fn }
func (a *SerialAdapter) SetOnWriteFailed(fn func(reason error)) { a.onWriteFailed = fn }
func (a *SerialAdapter) SetOnRxChunk(fn func([]byte))          { a.onRxChunk = fn }

// Connect opens the serial port and starts the read loop. There is no
// separate GATT service-discovery phase on a UART link, so
// OnServicesResolved fires immediately after OnConnected, matching the
// over-the-air adapter's event order.
func (a *SerialAdapter) Connect() error {
	mode := &serial.Mode{BaudRate: a.baudRate}
	port, err := serial.Open(a.portName, mode)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", a.portName, err)
	}

	a.mu.Lock()
	a.port = port
	a.stopChan = make(chan struct{})
	a.mu.Unlock()

	a.wg.Add(1)
	go a.readLoop()

	if a.onConnected != nil {
		a.onConnected()
	}
	if a.onServicesResolved != nil {
		a.onServicesResolved()
	}
	return nil
}

// Disconnect closes the serial port and stops the read loop.
func (a *SerialAdapter) Disconnect() error {
	a.mu.Lock()
	port := a.port
	stop := a.stopChan
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	// Closing the port unblocks a Read in progress, so the read loop
	// can see stopChan and exit.
	var err error
	if port != nil {
		err = port.Close()
	}
	a.wg.Wait()

	if a.onDisconnected != nil {
		a.onDisconnected()
	}
	return err
}

// WriteChunk writes buf in a single operation. The write is blocking:
// OnWriteSucceeded or OnWriteFailed fires before WriteChunk returns,
// and a failed write also returns its error.
func (a *SerialAdapter) WriteChunk(buf []byte) error {
	if len(buf) > ChunkSize {
		err := fmt.Errorf("transport: chunk of %d bytes exceeds MTU %d", len(buf), ChunkSize)
		if a.onWriteFailed != nil {
			a.onWriteFailed(err)
		}
		return err
	}

	a.mu.Lock()
	port := a.port
	a.mu.Unlock()

	if port == nil {
		err := fmt.Errorf("transport: write on unconnected adapter")
		if a.onWriteFailed != nil {
			a.onWriteFailed(err)
		}
		return err
	}

	if _, err := port.Write(buf); err != nil {
		if a.onWriteFailed != nil {
			a.onWriteFailed(err)
		}
		return err
	}

	if a.onWriteSucceeded != nil {
		a.onWriteSucceeded()
	}
	return nil
}

// readLoop reads ChunkSize-sized chunks from the serial port and
// forwards each to OnRxChunk, until Disconnect closes stopChan.
func (a *SerialAdapter) readLoop() {
	defer a.wg.Done()

	a.mu.Lock()
	port := a.port
	stop := a.stopChan
	a.mu.Unlock()

	buf := make([]byte, ChunkSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("transport: serial read error: %v", err)
			}
			continue
		}
		if n == 0 {
			continue
		}

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		if a.onRxChunk != nil {
			a.onRxChunk(chunk)
		}
	}
}

//go:build legacyserial

package transport

import (
	"fmt"
	"io"
	"log"
	"sync"

	legacyserial "github.com/tarm/serial"
)

// LegacySerialAdapter is the fallback opener for hosts where the
// cgo-free go.bug.st/serial path doesn't recognize the port (older
// kernels, some USB-UART bridges). It implements the same Adapter
// contract as SerialAdapter, trading the modern library for the
// teacher's original tarm/serial dependency.
//
// Built only with -tags legacyserial.
type LegacySerialAdapter struct {
	portName string
	baudRate int

	mu       sync.Mutex
	port     *legacyserial.Port
	stopChan chan struct{}
	wg       sync.WaitGroup

	onConnected        func()
	onDisconnected     func()
	onServicesResolved func()
	onWriteSucceeded   func()
	onWriteFailed      func(error)
	onRxChunk          func([]byte)
}

// NewLegacySerialAdapter creates a LegacySerialAdapter for the given
// device path and baud rate.
func NewLegacySerialAdapter(portName string, baudRate int) *LegacySerialAdapter {
	return &LegacySerialAdapter{portName: portName, baudRate: baudRate}
}

func (a *LegacySerialAdapter) SetOnConnected(fn func())              { a.onConnected = fn }
func (a *LegacySerialAdapter) SetOnDisconnected(fn func())           { a.onDisconnected = fn }
func (a *LegacySerialAdapter) SetOnServicesResolved(fn func())       { a.onServicesResolved = fn }
func (a *LegacySerialAdapter) SetOnWriteSucceeded(fn func())         { a.onWriteSucceeded = fn }
func (a *LegacySerialAdapter) SetOnWriteFailed(fn func(reason error)) { a.onWriteFailed = fn }
func (a *LegacySerialAdapter) SetOnRxChunk(fn func([]byte))          { a.onRxChunk = fn }

func (a *LegacySerialAdapter) Connect() error {
	config := &legacyserial.Config{
		Name:        a.portName,
		Baud:        a.baudRate,
		Size:        8,
		Parity:      legacyserial.ParityNone,
		StopBits:    legacyserial.Stop1,
		ReadTimeout: 0,
	}

	port, err := legacyserial.OpenPort(config)
	if err != nil {
		return fmt.Errorf("transport: legacy open %s: %w", a.portName, err)
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

func (a *LegacySerialAdapter) Disconnect() error {
	a.mu.Lock()
	port := a.port
	stop := a.stopChan
	a.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	a.wg.Wait()

	var err error
	if port != nil {
		err = port.Close()
	}
	if a.onDisconnected != nil {
		a.onDisconnected()
	}
	return err
}

func (a *LegacySerialAdapter) WriteChunk(buf []byte) error {
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

func (a *LegacySerialAdapter) readLoop() {
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
				log.Printf("transport: legacy serial read error: %v", err)
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

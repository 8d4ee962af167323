package vehicle

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the byte transport to the motor controller. go.bug.st/serial ports satisfy it.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// SetReadTimeout bounds the next Read; a timed out Read returns 0, nil.
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// OpenSerial opens a serial device in 8N1 mode.
func OpenSerial(path string, baud int) (Port, error) {
	p, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", path, baud, err)
	}
	return p, nil
}

// ListPorts returns the serial devices visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// DryRunPort acknowledges every command frame without any hardware attached.
type DryRunPort struct {
	mu      sync.Mutex
	pending bytes.Buffer
	timeout time.Duration
	sent    int
}

func NewDryRunPort() *DryRunPort {
	return &DryRunPort{}
}

func (d *DryRunPort) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			d.pending.WriteByte(ACK)
			d.sent++
		}
	}
	return len(p), nil
}

func (d *DryRunPort) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.pending.Len() > 0 {
		defer d.mu.Unlock()
		return d.pending.Read(p)
	}
	wait := d.timeout
	d.mu.Unlock()
	// Behave like an idle line, but don't hold the caller for a full timeout.
	if wait > time.Millisecond || wait <= 0 {
		wait = time.Millisecond
	}
	time.Sleep(wait)
	return 0, nil
}

func (d *DryRunPort) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	d.timeout = t
	d.mu.Unlock()
	return nil
}

func (d *DryRunPort) ResetInputBuffer() error {
	d.mu.Lock()
	d.pending.Reset()
	d.mu.Unlock()
	return nil
}

func (d *DryRunPort) Close() error { return nil }

// Sent returns the number of command frames written.
func (d *DryRunPort) Sent() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

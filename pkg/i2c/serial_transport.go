package i2c

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const (
	// DefaultBaud is the bridge's power-on baud rate.
	DefaultBaud = 9600
	// DefaultReadTimeout bounds every wait for bridge response bytes.
	DefaultReadTimeout = 500 * time.Millisecond
)

// Port is the subset of a serial port the transport needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a named serial port.
type Opener func(name string, mode *serial.Mode) (Port, error)

// Option configures a SerialTransport.
type Option func(*SerialTransport)

// WithBaud sets the serial baud rate.
func WithBaud(baud int) Option {
	return func(t *SerialTransport) { t.baud = baud }
}

// WithReadTimeout sets how long to wait for bridge responses.
func WithReadTimeout(d time.Duration) Option {
	return func(t *SerialTransport) { t.timeout = d }
}

// WithOpener replaces the serial port opener, mainly for tests.
func WithOpener(o Opener) Option {
	return func(t *SerialTransport) { t.opener = o }
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *SerialTransport) { t.log = l }
}

// SerialTransport drives an I2C bus through a serial-to-I2C bridge adaptor.
// After every transaction the bridge status register is read back so NACKs
// and bus timeouts surface as distinct status codes.
type SerialTransport struct {
	mu sync.Mutex

	port    Port
	name    string
	baud    int
	timeout time.Duration
	opener  Opener
	proto   BridgeProtocol
	log     *slog.Logger
}

// NewSerialTransport returns a closed transport.
func NewSerialTransport(opts ...Option) *SerialTransport {
	t := &SerialTransport{
		baud:    DefaultBaud,
		timeout: DefaultReadTimeout,
		opener:  openSerial,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

func (t *SerialTransport) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.name == "" {
		return "bridge"
	}
	return "bridge(" + t.name + ")"
}

// Open acquires the serial port.
func (t *SerialTransport) Open(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return fmt.Errorf("i2c: %s already open: %w", t.name, status.NotConnected)
	}
	mode := &serial.Mode{
		BaudRate: t.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := t.opener(name, mode)
	if err != nil {
		return fmt.Errorf("i2c: open %s: %v: %w", name, err, status.NotConnected)
	}
	if err := port.SetReadTimeout(t.timeout); err != nil {
		port.Close()
		return fmt.Errorf("i2c: set read timeout on %s: %v: %w", name, err, status.NotConnected)
	}
	t.port = port
	t.name = name
	t.log.Debug("serial port opened", "port", name, "baud", t.baud)
	return nil
}

// Close releases the serial port. It is safe to call repeatedly.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.log.Debug("serial port closed", "port", t.name)
	return err
}

func (t *SerialTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// SetSpeed programs the bridge SCL dividers.
func (t *SerialTransport) SetSpeed(f physic.Frequency) error {
	frame, err := t.proto.EncodeSpeed(int64(f / physic.Hertz))
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return status.NotConnected
	}
	return t.send(frame)
}

// Tx writes w to addr and then reads len(r) bytes into r.
func (t *SerialTransport) Tx(addr uint16, w, r []byte) error {
	var (
		frame []byte
		err   error
	)
	switch {
	case len(r) == 0:
		frame, err = t.proto.EncodeWrite(addr, w)
	case len(w) == 0:
		frame, err = t.proto.EncodeRead(addr, len(r))
	default:
		frame, err = t.proto.EncodeWriteRead(addr, w, len(r))
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return status.NotConnected
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		t.log.Debug("reset input buffer failed", "port", t.name, "error", err)
	}
	if err := t.send(frame); err != nil {
		return err
	}

	if len(r) == 0 {
		return t.confirmWrite(addr)
	}
	got, err := t.readFull(r)
	if err != nil {
		return err
	}
	if got < len(r) {
		if stErr := t.queryStatus(true); stErr != nil && !errors.Is(stErr, status.ReadTimeout) {
			return fmt.Errorf("i2c: read 0x%02X: %w", addr, stErr)
		}
		return fmt.Errorf("i2c: read 0x%02X: got %d of %d bytes: %w", addr, got, len(r), status.ReadTimeout)
	}
	return nil
}

func (t *SerialTransport) Ping(addr uint16) error {
	return t.Tx(addr, nil, nil)
}

func (t *SerialTransport) Read8(addr uint16, reg uint8, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("i2c: read length must be positive, got %d: %w", n, status.InvalidData)
	}
	buf := make([]byte, n)
	if err := t.Tx(addr, []byte{reg}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *SerialTransport) Write8(addr uint16, reg uint8, data []byte) error {
	return t.Tx(addr, append([]byte{reg}, data...), nil)
}

// send writes a whole frame; the caller holds t.mu.
func (t *SerialTransport) send(frame []byte) error {
	n, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("i2c: write to %s: %v: %w", t.name, err, status.WriteError)
	}
	if n != len(frame) {
		return fmt.Errorf("i2c: wrote %d of %d bytes to %s: %w", n, len(frame), t.name, status.WriteTimeout)
	}
	return nil
}

// readFull reads until buf is full or the port read times out. A timed-out
// read returns zero bytes and no error.
func (t *SerialTransport) readFull(buf []byte) (int, error) {
	got := 0
	for got < len(buf) {
		n, err := t.port.Read(buf[got:])
		if err != nil {
			return got, fmt.Errorf("i2c: read from %s: %v: %w", t.name, err, status.ReadError)
		}
		if n == 0 {
			break
		}
		got += n
	}
	return got, nil
}

func (t *SerialTransport) confirmWrite(addr uint16) error {
	err := t.queryStatus(false)
	if errors.Is(err, status.ReadTimeout) {
		return fmt.Errorf("i2c: write 0x%02X: %w", addr, status.WriteConfTimeout)
	}
	if err != nil {
		return fmt.Errorf("i2c: write 0x%02X: %w", addr, err)
	}
	return nil
}

func (t *SerialTransport) queryStatus(read bool) error {
	if err := t.send(t.proto.EncodeStatusQuery()); err != nil {
		return err
	}
	var st [1]byte
	n, err := t.readFull(st[:])
	if err != nil {
		return err
	}
	if n == 0 {
		return status.ReadTimeout
	}
	return t.proto.DecodeStatus(st[0], read)
}

var _ Bus = (*SerialTransport)(nil)

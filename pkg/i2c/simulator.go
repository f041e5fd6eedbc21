package i2c

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Device is a simulated I2C slave. Tx follows the periph.io convention: w is
// written, then len(r) bytes are read back in the same transaction.
type Device interface {
	Tx(w, r []byte) error
}

// TxHook lets tests intercept a transaction before it reaches the device.
// Returning a non-nil error aborts the transaction with that error.
type TxHook func(addr uint16, w, r []byte) error

// TxOp captures one transaction seen by the simulator.
type TxOp struct {
	Addr  uint16
	Write []byte
	Read  []byte
}

// SimBus is an in-memory bus useful for unit tests and for running the
// controller without hardware. Devices are attached per address; an address
// without a device NACKs.
type SimBus struct {
	// OnTx is consulted before every transaction, including pings.
	OnTx TxHook
	// OpenErr, when set, is returned by Open.
	OpenErr error

	mu      sync.Mutex
	speed   physic.Frequency
	devices map[uint16]Device
	open    bool
	port    string
	history []TxOp
	opens   int
	closes  int
}

// NewSimBus constructs an empty, closed simulator bus.
func NewSimBus() *SimBus {
	return &SimBus{devices: make(map[uint16]Device)}
}

// Attach places dev at addr, replacing any device already there.
func (s *SimBus) Attach(addr uint16, dev Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[addr] = dev
}

// Detach removes the device at addr.
func (s *SimBus) Detach(addr uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, addr)
}

// History returns a copy of every transaction performed so far.
func (s *SimBus) History() []TxOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TxOp, len(s.history))
	copy(out, s.history)
	return out
}

// ResetHistory clears the transaction log.
func (s *SimBus) ResetHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// SessionCounts reports how many times the bus was opened and closed.
func (s *SimBus) SessionCounts() (opens, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.closes
}

func (s *SimBus) String() string {
	if s.port != "" {
		return "sim(" + s.port + ")"
	}
	return "sim"
}

func (s *SimBus) Open(port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return fmt.Errorf("i2c: %s already open: %w", s.port, status.NotConnected)
	}
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.open = true
	s.port = port
	s.opens++
	return nil
}

func (s *SimBus) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	s.closes++
	return nil
}

func (s *SimBus) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *SimBus) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("i2c: invalid speed %s", f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speed = f
	return nil
}

// Speed returns the last speed set with SetSpeed.
func (s *SimBus) Speed() physic.Frequency {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speed
}

func (s *SimBus) Tx(addr uint16, w, r []byte) error {
	if err := checkAddress(addr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return status.NotConnected
	}
	if s.OnTx != nil {
		if err := s.OnTx(addr, w, r); err != nil {
			return err
		}
	}
	dev, ok := s.devices[addr]
	if !ok {
		return fmt.Errorf("i2c: no ack from 0x%02X: %w", addr, status.DeviceNotFound)
	}
	if err := dev.Tx(w, r); err != nil {
		return err
	}
	s.history = append(s.history, TxOp{
		Addr:  addr,
		Write: append([]byte(nil), w...),
		Read:  append([]byte(nil), r...),
	})
	return nil
}

func (s *SimBus) Ping(addr uint16) error {
	return s.Tx(addr, nil, nil)
}

func (s *SimBus) Read8(addr uint16, reg uint8, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("i2c: read length must be positive, got %d: %w", n, status.InvalidData)
	}
	buf := make([]byte, n)
	if err := s.Tx(addr, []byte{reg}, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *SimBus) Write8(addr uint16, reg uint8, data []byte) error {
	return s.Tx(addr, append([]byte{reg}, data...), nil)
}

// RegisterFile is a generic 256-register slave with an auto-incrementing
// register pointer. The first written byte selects the register.
type RegisterFile struct {
	Regs [256]byte

	// OnRead, when set, supplies the value of reg instead of Regs.
	OnRead func(reg byte) byte
	// OnWrite observes every register write after it is stored.
	OnWrite func(reg, v byte)

	ptr byte
}

func (f *RegisterFile) Tx(w, r []byte) error {
	if len(w) > 0 {
		f.ptr = w[0]
		for _, v := range w[1:] {
			f.Regs[f.ptr] = v
			if f.OnWrite != nil {
				f.OnWrite(f.ptr, v)
			}
			f.ptr++
		}
	}
	for i := range r {
		if f.OnRead != nil {
			r[i] = f.OnRead(f.ptr)
		} else {
			r[i] = f.Regs[f.ptr]
		}
		f.ptr++
	}
	return nil
}

var _ Bus = (*SimBus)(nil)

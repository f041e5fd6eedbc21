package i2c

import (
	"fmt"

	pi2c "periph.io/x/conn/v3/i2c"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Bus abstracts an I2C master reached through some adaptor. It extends the
// periph.io bus contract (Tx, SetSpeed, String) with the session lifecycle
// and the 8-bit register primitives the chip drivers are written against.
//
// Every operation other than Open fails with status.NotConnected while the
// session is closed.
type Bus interface {
	pi2c.Bus

	// Open acquires the named port. Opening an already open bus fails.
	Open(port string) error
	// Close releases the port. Closing a closed bus is a no-op.
	Close() error
	IsOpen() bool

	// Ping checks for an ACK from addr. A missing device yields
	// status.DeviceNotFound, distinct from status.Timeout.
	Ping(addr uint16) error
	// Read8 reads n bytes starting at register reg.
	Read8(addr uint16, reg uint8, n int) ([]byte, error)
	// Write8 writes data starting at register reg.
	Write8(addr uint16, reg uint8, data []byte) error
}

// MaxAddress is the highest 7-bit I2C address.
const MaxAddress = 0x7F

// ReadReg reads a single register.
func ReadReg(b Bus, addr uint16, reg uint8) (byte, error) {
	data, err := b.Read8(addr, reg, 1)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("i2c: read 0x%02X/0x%02X returned %d bytes: %w", addr, reg, len(data), status.ReadError)
	}
	return data[0], nil
}

// WriteReg writes a single register.
func WriteReg(b Bus, addr uint16, reg uint8, v byte) error {
	return b.Write8(addr, reg, []byte{v})
}

// Probe is the conservative presence check shared by drivers: the register
// value is saved, replaced by pattern, read back and restored. It reports
// true only if the readback matched and the restore succeeded. Transport
// errors count as not present.
func Probe(b Bus, addr uint16, reg uint8, pattern byte) bool {
	if b.Ping(addr) != nil {
		return false
	}
	orig, err := ReadReg(b, addr, reg)
	if err != nil {
		return false
	}
	if err := WriteReg(b, addr, reg, pattern); err != nil {
		return false
	}
	got, err := ReadReg(b, addr, reg)
	restoreErr := WriteReg(b, addr, reg, orig)
	if err != nil || restoreErr != nil {
		return false
	}
	return got == pattern
}

func checkAddress(addr uint16) error {
	if addr > MaxAddress {
		return fmt.Errorf("i2c: address 0x%X out of 7-bit range: %w", addr, status.InvalidData)
	}
	return nil
}

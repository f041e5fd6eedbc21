package i2c

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Serial-to-I2C bridge command set (SC18IM700 compatible). A transaction is
// framed by 'S' ... 'P'; a repeated 'S' inside a frame issues a repeated
// start. Bridge internal registers are accessed with 'R' and 'W'.
const (
	BridgeStart    = 'S'
	BridgeStop     = 'P'
	BridgeReadReg  = 'R'
	BridgeWriteReg = 'W'

	// Bridge internal registers.
	BridgeRegI2CClkL = 0x07
	BridgeRegI2CClkH = 0x08
	BridgeRegI2CStat = 0x0A

	// I2CStat values.
	I2CStatOK          = 0xF0
	I2CStatNackAddress = 0xF1
	I2CStatNackData    = 0xF2
	I2CStatTimeout     = 0xF8

	// BridgeClockHz is the bridge's internal oscillator; SCL is
	// BridgeClockHz / (8 * (ClkL + ClkH)).
	BridgeClockHz = 7372800
	// MinClkDivider is the smallest value accepted in each of ClkL/ClkH.
	MinClkDivider = 5

	maxFrameData = 255
)

// BridgeProtocol encodes and decodes bridge frames. It holds no state.
type BridgeProtocol struct{}

// EncodeWrite frames a write of data to addr. An empty data slice yields an
// address-only frame, used for presence checks.
func (BridgeProtocol) EncodeWrite(addr uint16, data []byte) ([]byte, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}
	if len(data) > maxFrameData {
		return nil, fmt.Errorf("i2c: write of %d bytes exceeds bridge frame: %w", len(data), status.Overflow)
	}
	frame := make([]byte, 0, len(data)+4)
	frame = append(frame, BridgeStart, byte(addr<<1), byte(len(data)))
	frame = append(frame, data...)
	return append(frame, BridgeStop), nil
}

// EncodeRead frames a read of n bytes from addr.
func (BridgeProtocol) EncodeRead(addr uint16, n int) ([]byte, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}
	if n <= 0 || n > maxFrameData {
		return nil, fmt.Errorf("i2c: read length %d outside 1..%d: %w", n, maxFrameData, status.Overflow)
	}
	return []byte{BridgeStart, byte(addr<<1) | 1, byte(n), BridgeStop}, nil
}

// EncodeWriteRead frames a write of w followed by a repeated-start read of n
// bytes, the usual register read.
func (p BridgeProtocol) EncodeWriteRead(addr uint16, w []byte, n int) ([]byte, error) {
	head, err := p.EncodeWrite(addr, w)
	if err != nil {
		return nil, err
	}
	tail, err := p.EncodeRead(addr, n)
	if err != nil {
		return nil, err
	}
	// drop the stop of the write half
	return append(head[:len(head)-1], tail...), nil
}

// EncodeStatusQuery reads the bridge I2CStat register.
func (BridgeProtocol) EncodeStatusQuery() []byte {
	return []byte{BridgeReadReg, BridgeRegI2CStat, BridgeStop}
}

// EncodeRegisterWrite writes bridge internal registers as reg/value pairs.
func (BridgeProtocol) EncodeRegisterWrite(pairs ...[2]byte) []byte {
	frame := []byte{BridgeWriteReg}
	for _, p := range pairs {
		frame = append(frame, p[0], p[1])
	}
	return append(frame, BridgeStop)
}

// EncodeSpeed returns the register write frame that sets SCL closest to, but
// not above, hz.
func (p BridgeProtocol) EncodeSpeed(hz int64) ([]byte, error) {
	if hz <= 0 {
		return nil, fmt.Errorf("i2c: invalid speed %dHz", hz)
	}
	total := BridgeClockHz / (8 * hz)
	if BridgeClockHz%(8*hz) != 0 {
		total++
	}
	if total < 2*MinClkDivider {
		total = 2 * MinClkDivider
	}
	if total > 2*0xFF {
		return nil, fmt.Errorf("i2c: speed %dHz below bridge minimum: %w", hz, status.InvalidData)
	}
	low := total / 2
	high := total - low
	return p.EncodeRegisterWrite(
		[2]byte{BridgeRegI2CClkL, byte(low)},
		[2]byte{BridgeRegI2CClkH, byte(high)},
	), nil
}

// DecodeStatus maps an I2CStat value to an error. read selects the error
// reported for a NACK on data.
func (BridgeProtocol) DecodeStatus(v byte, read bool) error {
	switch v {
	case I2CStatOK:
		return nil
	case I2CStatNackAddress:
		return status.DeviceNotFound
	case I2CStatNackData:
		if read {
			return status.AdaptorReadError
		}
		return status.AdaptorWriteError
	case I2CStatTimeout:
		return status.Timeout
	default:
		if read {
			return fmt.Errorf("i2c: unexpected bridge status 0x%02X: %w", v, status.AdaptorReadError)
		}
		return fmt.Errorf("i2c: unexpected bridge status 0x%02X: %w", v, status.AdaptorWriteError)
	}
}

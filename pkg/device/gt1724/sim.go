package gt1724

import (
	"sync"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/macro"
)

// SimChip models a GT1724 running a trivial macro engine. Starting the
// engine publishes the first four bytes of macro memory as the version.
type SimChip struct {
	mu sync.Mutex

	// Celsius is what the temperature macro reports.
	Celsius float64
	// Busy keeps the opcode status busy forever.
	Busy bool
	// FailOp makes this opcode complete with an error.
	FailOp byte

	regs     [256]byte
	ram      [1 << 16]byte
	ramAddr  uint16
	ptr      byte
	download int
}

// NewSimChip returns a core with an empty macro memory.
func NewSimChip() *SimChip {
	return &SimChip{}
}

// Preload makes the core report fp as if its macro was already running.
func (c *SimChip) Preload(fp macro.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.regs[regVersion:], fp[:])
}

func (c *SimChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(w) > 0 {
		c.ptr = w[0]
		if c.ptr == regMacroData {
			for _, v := range w[1:] {
				c.ram[c.ramAddr] = v
				c.ramAddr++
				c.download++
			}
			w = w[:1]
		}
		for _, v := range w[1:] {
			c.write(c.ptr, v)
			c.ptr++
		}
	}
	for i := range r {
		r[i] = c.regs[c.ptr]
		c.ptr++
	}
	return nil
}

func (c *SimChip) write(reg, v byte) {
	c.regs[reg] = v
	switch reg {
	case regMacroAddr + 1:
		c.ramAddr = uint16(c.regs[regMacroAddr])<<8 | uint16(v)
	case regOpcode:
		c.execute(v)
	}
}

func (c *SimChip) execute(op byte) {
	switch {
	case c.Busy:
		c.regs[regOpStatus] = statusBusy
		return
	case op == c.FailOp:
		c.regs[regOpStatus] = statusFailed
		return
	}
	var result uint16
	switch op {
	case OpStart:
		copy(c.regs[regVersion:regVersion+4], c.ram[:4])
	case OpTemperature:
		result = uint16(int16(c.Celsius * 256))
	}
	c.regs[regOpResult] = byte(result >> 8)
	c.regs[regOpResult+1] = byte(result)
	c.regs[regOpStatus] = 0
}

// LaneRegisters returns the control, pattern, swing and de-emphasis
// registers of core lane l.
func (c *SimChip) LaneRegisters(l int) [4]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out [4]byte
	copy(out[:], c.regs[laneBase+l*laneStride:])
	return out
}

// Downloaded returns the number of macro bytes received.
func (c *SimChip) Downloaded() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.download
}

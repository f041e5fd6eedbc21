package lmx2594

import (
	"fmt"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// SimChip models the SPI bridge with an LMX2594 on slave select 0. Every SPI
// word is applied to the register array and logged.
type SimChip struct {
	mu     sync.Mutex
	regs   [maxRegister + 1]uint16
	writes []uint32
	config byte
}

// NewSimChip returns a synthesizer with all registers cleared.
func NewSimChip() *SimChip {
	return &SimChip{}
}

func (c *SimChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(w) == 0 {
		// reads return the SPI receive buffer, which nothing drives
		clear(r)
		return nil
	}
	switch {
	case w[0] == fnConfigSPI:
		if len(w) != 2 {
			return fmt.Errorf("sim: spi config length %d: %w", len(w), status.AdaptorWriteError)
		}
		c.config = w[1]
	case w[0]&0x0F == fnSPISlave0:
		data := w[1:]
		if len(data)%3 != 0 {
			return fmt.Errorf("sim: spi transfer of %d bytes: %w", len(data), status.AdaptorWriteError)
		}
		for i := 0; i < len(data); i += 3 {
			word := uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
			c.writes = append(c.writes, word)
			if reg := data[i] & 0x7F; int(reg) < len(c.regs) {
				c.regs[reg] = uint16(word)
			}
		}
	default:
		return fmt.Errorf("sim: unknown bridge function 0x%02X: %w", w[0], status.AdaptorWriteError)
	}
	return nil
}

// Register returns the last value written to register reg.
func (c *SimChip) Register(reg int) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg]
}

// Writes returns every SPI word received, in order.
func (c *SimChip) Writes() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.writes...)
}

// ResetWrites clears the write log.
func (c *SimChip) ResetWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}

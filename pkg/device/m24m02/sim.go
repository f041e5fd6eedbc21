package m24m02

import (
	"sync"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// SimChip models an M24M02 for the simulated instrument. Memory starts
// erased.
type SimChip struct {
	mu sync.Mutex

	// WriteProtect mirrors the write control pin; while set, data bytes are
	// NACKed.
	WriteProtect bool

	mem  [Capacity]byte
	addr uint32
}

// NewSimChip returns an erased chip.
func NewSimChip() *SimChip {
	c := &SimChip{}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	return c
}

// Attach places the chip's four bank addresses on bus, starting at base.
func (c *SimChip) Attach(bus *i2c.SimBus, base uint16) {
	for b := uint16(0); b < banks; b++ {
		bus.Attach(base+b, &simBank{chip: c, bank: uint32(b)})
	}
}

// Load copies data into memory at offset, bypassing write protection.
func (c *SimChip) Load(offset uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.mem[offset:], data)
}

// Bytes returns a copy of n bytes at offset.
func (c *SimChip) Bytes(offset uint32, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.mem[offset:offset+uint32(n)]...)
}

type simBank struct {
	chip *SimChip
	bank uint32
}

func (b *simBank) Tx(w, r []byte) error {
	c := b.chip
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(w) >= 2 {
		c.addr = b.bank*bankSize | uint32(w[0])<<8 | uint32(w[1])
		data := w[2:]
		if len(data) > 0 && c.WriteProtect {
			return status.AdaptorWriteError
		}
		// writes wrap within the page
		page := c.addr &^ (PageSize - 1)
		for i, v := range data {
			c.mem[page|(c.addr+uint32(i))%PageSize] = v
		}
	}
	for i := range r {
		r[i] = c.mem[c.addr%Capacity]
		c.addr++
	}
	return nil
}

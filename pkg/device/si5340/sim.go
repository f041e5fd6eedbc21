package si5340

import "sync"

// SimChip models the paged register space of an SI5340.
type SimChip struct {
	mu     sync.Mutex
	mem    map[uint16]byte
	page   byte
	ptr    byte
	writes []Reg
}

// NewSimChip returns a chip with every register cleared.
func NewSimChip() *SimChip {
	return &SimChip{mem: make(map[uint16]byte)}
}

func (c *SimChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(w) > 0 {
		c.ptr = w[0]
		for _, v := range w[1:] {
			if c.ptr == regPage {
				c.page = v
			} else {
				addr := uint16(c.page)<<8 | uint16(c.ptr)
				c.mem[addr] = v
				c.writes = append(c.writes, Reg{Addr: addr, Value: v})
			}
			c.ptr++
		}
	}
	for i := range r {
		if c.ptr == regPage {
			r[i] = c.page
		} else {
			r[i] = c.mem[uint16(c.page)<<8|uint16(c.ptr)]
		}
		c.ptr++
	}
	return nil
}

// Writes returns every non-page register write, in order.
func (c *SimChip) Writes() []Reg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Reg(nil), c.writes...)
}

// Page returns the selected page.
func (c *SimChip) Page() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

package pca9557

import "sync"

// SimChip models a PCA9557 for the simulated instrument. The input register
// reflects the output register for output pins and External for input pins,
// inverted where the polarity bit is set.
type SimChip struct {
	mu sync.Mutex

	// External is the level driven onto the pins from outside.
	External byte
	// Loopback wires output pin 7 to input pin 6.
	Loopback bool

	output   byte
	polarity byte
	config   byte
	ptr      byte
}

// NewSimChip returns a chip in its power-on state with the lock-detect input
// high.
func NewSimChip() *SimChip {
	return &SimChip{
		External: MaskLockDetect,
		polarity: 0xF0,
		config:   0xFF,
	}
}

func (c *SimChip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(w) > 0 {
		c.ptr = w[0] & 0x03
		for _, v := range w[1:] {
			c.write(c.ptr, v)
		}
	}
	for i := range r {
		r[i] = c.read(c.ptr)
	}
	return nil
}

func (c *SimChip) write(reg, v byte) {
	switch reg {
	case RegOutput:
		c.output = v
	case RegPolarity:
		c.polarity = v
	case RegConfig:
		c.config = v
	}
}

func (c *SimChip) read(reg byte) byte {
	switch reg {
	case RegInput:
		ext := c.External
		if c.Loopback {
			ext &^= maskLoopbackIn
			if c.config&maskLoopbackOut == 0 && c.output&maskLoopbackOut != 0 {
				ext |= maskLoopbackIn
			}
		}
		return (c.output &^ c.config) | ((ext ^ c.polarity) & c.config)
	case RegOutput:
		return c.output
	case RegPolarity:
		return c.polarity
	default:
		return c.config
	}
}

// Registers returns the chip's output, polarity and config registers.
func (c *SimChip) Registers() (output, polarity, config byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output, c.polarity, c.config
}

// Package tlc59108 drives the optional TLC59108 LED driver on the front
// panel: one pattern generator LED and one bicolour error detector LED per
// channel, four channels per board.
package tlc59108

import (
	"fmt"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Register map.
const (
	RegMode1   = 0x00
	RegMode2   = 0x01
	RegPWM0    = 0x02
	RegGrpPWM  = 0x0A
	RegGrpFreq = 0x0B
	RegLEDOut0 = 0x0C // pattern generator LEDs
	RegLEDOut1 = 0x0D // error detector LEDs

	leds        = 8
	pingPattern = 0xAA

	mode1Normal = 0x01 // oscillator on, all-call enabled
	mode2Blink  = 0x20 // group control is blinking
	blinkDuty   = 0x80
	blinkPeriod = 0x17 // ~1 s
)

// LED output states.
const (
	ledOff   = 0x0
	ledOn    = 0x1
	ledGroup = 0x3 // individual brightness and group blink
)

// ChannelsPerBoard is the number of channels one driver serves.
const ChannelsPerBoard = 4

// Command names.
const (
	CmdPGLED = "pg-led"
	CmdEDLED = "ed-led"
)

// EDState is the error detector LED state.
type EDState int

const (
	EDOff EDState = iota
	EDGreen
	EDRedFlash
)

var edOutputs = [...]byte{EDOff: ledOff, EDGreen: ledOn, EDRedFlash: ledGroup}

// Driver is one TLC59108, serving the channels of one board.
type Driver struct {
	device.Base

	ledout [2]byte
}

// Ping reports whether a TLC59108 answers at addr. The PWM0 brightness
// register is perturbed and restored.
func Ping(bus i2c.Bus, addr uint16) bool {
	return i2c.Probe(bus, addr, RegPWM0, pingPattern)
}

// New constructs a driver; it satisfies device.NewFunc.
func New(env device.Env, addr uint16, id int) (device.Driver, error) {
	return NewDriver(env, addr, id), nil
}

// NewDriver constructs a driver for the chip at addr.
func NewDriver(env device.Env, addr uint16, id int) *Driver {
	return &Driver{Base: device.NewBase(device.FamilyLED, env, addr, id)}
}

// Spec describes the family to the discovery engine.
func Spec() device.Spec {
	return device.Spec{
		Family: device.FamilyLED,
		Label:  "LED driver",
		Ping:   Ping,
		New:    New,
	}
}

// Init wakes the oscillator, sets up blinking and turns every LED off.
func (d *Driver) Init() error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	writes := [][2]byte{
		{RegMode1, mode1Normal},
		{RegMode2, mode2Blink},
		{RegGrpPWM, blinkDuty},
		{RegGrpFreq, blinkPeriod},
	}
	for i := 0; i < leds; i++ {
		writes = append(writes, [2]byte{RegPWM0 + byte(i), 0xFF})
	}
	writes = append(writes, [2]byte{RegLEDOut0, 0}, [2]byte{RegLEDOut1, 0})
	for _, w := range writes {
		if err := d.WriteReg(w[0], w[1]); err != nil {
			return fmt.Errorf("tlc59108: init reg 0x%02X: %w", w[0], err)
		}
	}
	d.ledout = [2]byte{}
	return nil
}

// GetOptions has no options to offer.
func (d *Driver) GetOptions() {}

func (d *Driver) Command(cmd device.Command) error {
	switch cmd.Name {
	case CmdPGLED:
		return d.SetPGLED(cmd.Lane, cmd.Value != 0)
	case CmdEDLED:
		if !d.CheckIndex("ed led state", cmd.Value, len(edOutputs)) {
			return device.ErrMisuse
		}
		return d.SetEDLED(cmd.Lane, EDState(cmd.Value))
	default:
		return device.UnknownCommand(device.FamilyLED, cmd)
	}
}

// channel maps an instrument lane to this board's channel index. Pattern
// generator and error detector lanes of a channel map to the same index.
func (d *Driver) channel(lane int) (int, error) {
	ch := lane/2 - d.ID()*ChannelsPerBoard
	if lane < 0 || ch < 0 || ch >= ChannelsPerBoard {
		return 0, fmt.Errorf("tlc59108: lane %d not on board %d: %w", lane, d.ID(), status.BadLaneID)
	}
	return ch, nil
}

// SetPGLED switches the pattern generator LED of lane's channel.
func (d *Driver) SetPGLED(lane int, on bool) error {
	ch, err := d.channel(lane)
	if err != nil {
		return err
	}
	v := byte(ledOff)
	if on {
		v = ledOn
	}
	return d.setLED(0, ch, v)
}

// SetEDLED sets the error detector LED of lane's channel.
func (d *Driver) SetEDLED(lane int, s EDState) error {
	ch, err := d.channel(lane)
	if err != nil {
		return err
	}
	return d.setLED(1, ch, edOutputs[s])
}

func (d *Driver) setLED(bank, ch int, v byte) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	shift := uint(ch * 2)
	next := d.ledout[bank]&^(0x3<<shift) | v<<shift
	if err := d.WriteReg(RegLEDOut0+uint8(bank), next); err != nil {
		return fmt.Errorf("tlc59108: write ledout%d: %w", bank, err)
	}
	d.ledout[bank] = next
	return nil
}

// LEDOut returns the shadow LEDOUT0 and LEDOUT1 registers.
func (d *Driver) LEDOut() (pg, ed byte) {
	return d.ledout[0], d.ledout[1]
}

var _ device.Driver = (*Driver)(nil)

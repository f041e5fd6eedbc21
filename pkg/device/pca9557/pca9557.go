// Package pca9557 drives the PCA9557 8-bit I/O expander that multiplexes the
// instrument's housekeeping pins: the clock synthesizer trigger-output divider,
// the data EEPROM write control and the clock synthesizer lock-detect input.
//
// Several independent features share the one output register, so every pin
// change goes through UpdatePins, which merges the change into the driver's
// shadow copy of the output register instead of reading the hardware back.
package pca9557

import (
	"errors"
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Register map.
const (
	RegInput    = 0x00
	RegOutput   = 0x01
	RegPolarity = 0x02
	RegConfig   = 0x03
)

// Pin assignment on the instrument board.
const (
	MaskEEPROMWriteControl = 0x04
	MaskLockDetect         = 0x08
	MaskTriggerDivide      = 0xC0

	// Self test loopback pair: pin 7 drives pin 6.
	maskLoopbackOut = 0x80
	maskLoopbackIn  = 0x40
)

const testPattern = 0x55

// Option list names.
const OptionsTriggerDivide = "listLMXTrigOutDivRatio"

// Command names.
const (
	CmdTriggerDivide     = "trigger-divide"
	CmdEEPROMWriteEnable = "eeprom-wc"
	CmdUpdatePins        = "update-pins"
)

var (
	triggerDivideValues = []byte{0xC0, 0x80, 0x40}
	triggerDivideNames  = []string{"1/2", "1/4", "1/8"}
)

const triggerDivideDefault = 0

// PinDirection configures one expander pin.
type PinDirection uint8

const (
	Output PinDirection = iota
	NormalInput
	InvertedInput
)

var boardPins = [8]PinDirection{
	NormalInput, NormalInput, Output, NormalInput,
	NormalInput, NormalInput, Output, Output,
}

// Driver is one PCA9557 on the instrument.
type Driver struct {
	device.Base

	// LoopbackSettle is how long the self test waits for the loopback input
	// to follow the output.
	LoopbackSettle time.Duration

	input    byte
	output   byte
	polarity byte
	config   byte
}

// Ping reports whether a PCA9557 answers at addr. The polarity register is
// perturbed with a test pattern and restored.
func Ping(bus i2c.Bus, addr uint16) bool {
	return i2c.Probe(bus, addr, RegPolarity, testPattern)
}

// New constructs a driver; it satisfies device.NewFunc.
func New(env device.Env, addr uint16, id int) (device.Driver, error) {
	return NewDriver(env, addr, id), nil
}

// NewDriver constructs a driver for the chip at addr.
func NewDriver(env device.Env, addr uint16, id int) *Driver {
	return &Driver{
		Base:           device.NewBase(device.FamilyIO, env, addr, id),
		LoopbackSettle: 500 * time.Millisecond,
	}
}

// Spec describes the family to the discovery engine.
func Spec() device.Spec {
	return device.Spec{
		Family:            device.FamilyIO,
		Label:             "IO controller module",
		Min:               1,
		Missing:           status.MissingPCA,
		MissingMessage:    "IO controller module not found!",
		InitFailedMessage: "IO Controller set up error!",
		SharedOptions:     true,
		Ping:              Ping,
		New:               New,
	}
}

// Init configures the board pin directions and drives the outputs to their
// defaults: trigger divide 1/2 and EEPROM writes disabled.
func (d *Driver) Init() error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	err := d.ConfigurePins(boardPins)
	if err == nil {
		err = d.SetPins(triggerDivideValues[triggerDivideDefault] | MaskEEPROMWriteControl)
	}
	if err != nil {
		d.Message("Error configuring I/O controller!")
		return err
	}
	return nil
}

func (d *Driver) GetOptions() {
	d.EmitOptions(OptionsTriggerDivide, status.AllLanes, triggerDivideNames, triggerDivideDefault)
}

func (d *Driver) Command(cmd device.Command) error {
	switch cmd.Name {
	case CmdTriggerDivide:
		return d.SelectTriggerDivide(cmd.Value)
	case CmdEEPROMWriteEnable:
		return d.SetEEPROMWriteEnable(cmd.Value != 0)
	case CmdUpdatePins:
		// Lane carries the mask for this raw pin command.
		if cmd.Lane < 0 || cmd.Lane > 0xFF || cmd.Value < 0 || cmd.Value > 0xFF {
			return fmt.Errorf("pca9557: mask/value out of range: %w", status.InvalidData)
		}
		return d.reportPinError(d.UpdatePins(byte(cmd.Lane), byte(cmd.Value)))
	default:
		return device.UnknownCommand(device.FamilyIO, cmd)
	}
}

// ConfigurePins sets each pin's direction. On failure the chip is left in an
// indeterminate pin-direction state.
func (d *Driver) ConfigurePins(dirs [8]PinDirection) error {
	var config, polarity byte
	for pin, dir := range dirs {
		bit := byte(1) << pin
		switch dir {
		case Output:
		case NormalInput:
			config |= bit
		case InvertedInput:
			config |= bit
			polarity |= bit
		}
	}
	if err := d.WriteReg(RegConfig, config); err != nil {
		return fmt.Errorf("pca9557: write config: %w", err)
	}
	d.config = config
	if err := d.WriteReg(RegPolarity, polarity); err != nil {
		return fmt.Errorf("pca9557: write polarity: %w", err)
	}
	d.polarity = polarity
	return nil
}

// SetPins overwrites the output register.
func (d *Driver) SetPins(v byte) error {
	d.output = v
	if err := d.WriteReg(RegOutput, v); err != nil {
		return fmt.Errorf("pca9557: write output: %w", err)
	}
	return nil
}

// GetPins reads the input register. Bits of output pins reflect the last
// SetPins rather than the electrical level.
func (d *Driver) GetPins() (byte, error) {
	v, err := d.ReadReg(RegInput)
	if err != nil {
		return 0, fmt.Errorf("pca9557: read input: %w", err)
	}
	d.input = v
	return v, nil
}

// UpdatePins changes only the bits in mask. The merge is done on the shadow
// output register, never on a hardware readback.
func (d *Driver) UpdatePins(mask, value byte) error {
	return d.SetPins(Merge(d.output, mask, value))
}

// Merge is the UpdatePins bit algebra.
func Merge(shadow, mask, value byte) byte {
	return shadow&^mask | value&mask
}

// SelectTriggerDivide selects the clock synthesizer trigger output divide
// ratio by index into the option list. An out-of-range index changes nothing.
func (d *Driver) SelectTriggerDivide(index int) error {
	if !d.CheckIndex("trigger divide", index, len(triggerDivideValues)) {
		return device.ErrMisuse
	}
	return d.reportPinError(d.UpdatePins(MaskTriggerDivide, triggerDivideValues[index]))
}

// SetEEPROMWriteEnable drives the data EEPROM write control pin. The pin is
// active low.
func (d *Driver) SetEEPROMWriteEnable(enable bool) error {
	var v byte = MaskEEPROMWriteControl
	if enable {
		v = 0
	}
	return d.reportPinError(d.UpdatePins(MaskEEPROMWriteControl, v))
}

// ReadLockDetect reads the clock synthesizer lock-detect input.
func (d *Driver) ReadLockDetect() (bool, error) {
	v, err := d.GetPins()
	if err != nil {
		return false, err
	}
	return v&MaskLockDetect != 0, nil
}

func (d *Driver) reportPinError(err error) error {
	if err != nil {
		d.Message("I/O controller error!")
	}
	return err
}

// Shadow returns the driver's register shadows.
func (d *Driver) Shadow() (input, output, polarity, config byte) {
	return d.input, d.output, d.polarity, d.config
}

// SelfTest checks register access and, with loopback, that pin 7 wired to
// pin 6 toggles it. Configuration, polarity and output are restored on every
// exit path.
func (d *Driver) SelfTest(loopback bool) (err error) {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	if _, err := d.GetPins(); err != nil {
		return err
	}
	output, err := d.ReadReg(RegOutput)
	if err != nil {
		return fmt.Errorf("pca9557: read output: %w", err)
	}
	polarity, err := d.ReadReg(RegPolarity)
	if err != nil {
		return fmt.Errorf("pca9557: read polarity: %w", err)
	}
	config, err := d.ReadReg(RegConfig)
	if err != nil {
		return fmt.Errorf("pca9557: read config: %w", err)
	}
	d.Log().Debug("self test start", "input", d.input, "output", output, "polarity", polarity, "config", config)

	defer func() {
		restoreErr := errors.Join(
			d.WriteReg(RegConfig, config),
			d.WriteReg(RegPolarity, polarity),
			d.WriteReg(RegOutput, output),
		)
		if restoreErr != nil {
			err = errors.Join(err, fmt.Errorf("pca9557: restore registers: %w", restoreErr))
			return
		}
		d.config, d.polarity, d.output = config, polarity, output
	}()

	if err := d.verifyWrite(RegPolarity, testPattern); err != nil {
		return err
	}
	if err := d.verifyWrite(RegPolarity, polarity); err != nil {
		return err
	}
	if !loopback {
		return nil
	}

	if err := d.WriteReg(RegConfig, config&^(maskLoopbackOut|maskLoopbackIn)|maskLoopbackIn); err != nil {
		return fmt.Errorf("pca9557: loopback config: %w", err)
	}
	if err := d.WriteReg(RegPolarity, polarity&^maskLoopbackIn); err != nil {
		return fmt.Errorf("pca9557: loopback polarity: %w", err)
	}
	for _, level := range []bool{false, true} {
		out := output &^ maskLoopbackOut
		if level {
			out |= maskLoopbackOut
		}
		if err := d.WriteReg(RegOutput, out); err != nil {
			return fmt.Errorf("pca9557: loopback drive: %w", err)
		}
		time.Sleep(d.LoopbackSettle)
		in, err := d.GetPins()
		if err != nil {
			return err
		}
		if got := in&maskLoopbackIn != 0; got != level {
			return fmt.Errorf("pca9557: loopback input %v, want %v: %w", got, level, status.InvalidData)
		}
	}
	return nil
}

func (d *Driver) verifyWrite(reg uint8, v byte) error {
	if err := d.WriteReg(reg, v); err != nil {
		return fmt.Errorf("pca9557: write reg %d: %w", reg, err)
	}
	got, err := d.ReadReg(reg)
	if err != nil {
		return fmt.Errorf("pca9557: read reg %d: %w", reg, err)
	}
	if got != v {
		return fmt.Errorf("pca9557: reg %d read 0x%02X, wrote 0x%02X: %w", reg, got, v, status.InvalidData)
	}
	return nil
}

var _ device.Driver = (*Driver)(nil)

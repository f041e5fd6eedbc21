// Package lmx2594 drives the LMX2594 wideband clock synthesizer that clocks
// the BERT cores.
//
// The synthesizer is a SPI part; the host reaches it through an SC18IS602
// I2C-to-SPI bridge, so the chip itself cannot be read back. Frequency
// profiles are complete register sets, taken from the data EEPROM when it
// holds any and from register definition files otherwise.
package lmx2594

import (
	"fmt"
	"io/fs"
	"slices"

	pi2c "periph.io/x/conn/v3/i2c"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/m24m02"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// SPI bridge function ids.
const (
	fnSPISlave0  = 0x01
	fnConfigSPI  = 0xF0
	spiConfigMSB = 0x00 // mode 0, MSB first, 1.8 MHz
)

// R0 fields.
const (
	maxRegister = 112

	r0PowerDown = 0x0001
	r0Reset     = 0x0002
	r0FCal      = 0x0008
)

// Option list and command names.
const (
	OptionsFrequency = "listLMXFreq"

	CmdSelectProfile = "select-profile"
	CmdPower         = "power"
)

// Profile is a named register set. Each word holds the register address in
// bits 23:16 and the value in bits 15:0.
type Profile struct {
	Name  string
	Words []uint32
}

// ProfileSource is implemented by drivers that store clock profiles.
type ProfileSource interface {
	ClockProfiles() []m24m02.ClockProfile
}

// Driver is one LMX2594 behind its SPI bridge.
type Driver struct {
	device.Base

	spi      *pi2c.Dev
	defs     fs.FS
	peers    device.Peers
	profiles []Profile
	selected int
	r0       uint16
	powered  bool
}

// Ping reports whether an SPI bridge answers at addr. The bridge has no
// readable register, so beyond the ACK the probe only checks that the SPI
// configuration function, which is idempotent, is accepted.
func Ping(bus i2c.Bus, addr uint16) bool {
	if bus.Ping(addr) != nil {
		return false
	}
	return bus.Tx(addr, []byte{fnConfigSPI, spiConfigMSB}, nil) == nil
}

// NewFunc returns a constructor whose drivers fall back to the definition
// files in defs.
func NewFunc(defs fs.FS) device.NewFunc {
	return func(env device.Env, addr uint16, id int) (device.Driver, error) {
		return NewDriver(env, addr, id, defs), nil
	}
}

// NewDriver constructs a driver for the bridge at addr.
func NewDriver(env device.Env, addr uint16, id int, defs fs.FS) *Driver {
	return &Driver{
		Base:  device.NewBase(device.FamilyClock, env, addr, id),
		spi:   &pi2c.Dev{Bus: env.Bus, Addr: addr},
		defs:  defs,
		peers: env.Peers,
	}
}

// Spec describes the family to the discovery engine. defs may be nil when
// only EEPROM profiles are expected.
func Spec(defs fs.FS) device.Spec {
	return device.Spec{
		Family:            device.FamilyClock,
		Label:             "Clock synthesizer module",
		Min:               1,
		Missing:           status.MissingLMX,
		MissingMessage:    "Clock synthesizer module not found!",
		InitFailedMessage: "Frequency synthesizer set up error!",
		SharedOptions:     true,
		Ping:              Ping,
		New:               NewFunc(defs),
	}
}

// Init loads the frequency profiles, resets the synthesizer and programs the
// first profile.
func (d *Driver) Init() error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	if err := d.loadProfiles(); err != nil {
		d.Message("Clock synthesizer register definitions not found!")
		return err
	}
	if err := d.spi.Tx([]byte{fnConfigSPI, spiConfigMSB}, nil); err != nil {
		return fmt.Errorf("lmx2594: configure spi: %w", err)
	}
	if err := d.writeWord(r0Reset); err != nil {
		return err
	}
	if err := d.writeWord(0); err != nil {
		return err
	}
	return d.SelectProfile(0)
}

func (d *Driver) loadProfiles() error {
	d.profiles = nil
	if src, ok := device.First(d.peers, device.FamilyEEPROM).(ProfileSource); ok {
		for _, p := range src.ClockProfiles() {
			d.profiles = append(d.profiles, Profile{Name: p.Name, Words: p.Words})
		}
	}
	if len(d.profiles) > 0 {
		d.Log().Info("using eeprom clock profiles", "profiles", len(d.profiles))
		return nil
	}
	profiles, err := LoadDefs(d.defs)
	if err != nil {
		d.Log().Warn("clock definitions unavailable", "err", err)
	}
	if len(profiles) == 0 {
		return status.MissingLMXDefs
	}
	d.profiles = profiles
	d.Log().Info("using clock definition files", "profiles", len(d.profiles))
	return nil
}

func (d *Driver) GetOptions() {
	names := make([]string, len(d.profiles))
	for i, p := range d.profiles {
		names[i] = p.Name
	}
	d.EmitOptions(OptionsFrequency, status.AllLanes, names, d.selected)
}

func (d *Driver) Command(cmd device.Command) error {
	switch cmd.Name {
	case CmdSelectProfile:
		return d.SelectProfile(cmd.Value)
	case CmdPower:
		return d.SetPower(cmd.Value != 0)
	default:
		return device.UnknownCommand(device.FamilyClock, cmd)
	}
}

// Profiles returns the loaded profiles.
func (d *Driver) Profiles() []Profile {
	return slices.Clone(d.profiles)
}

// Selected returns the index of the programmed profile.
func (d *Driver) Selected() int { return d.selected }

// SelectProfile programs every register of the profile from the highest
// address down, then R0 again with FCAL set to start calibration.
func (d *Driver) SelectProfile(index int) error {
	if !d.CheckIndex("clock profile", index, len(d.profiles)) {
		return device.ErrMisuse
	}
	if err := d.CheckOpen(); err != nil {
		return err
	}
	words := slices.Clone(d.profiles[index].Words)
	slices.SortStableFunc(words, func(a, b uint32) int { return int(b>>16) - int(a>>16) })

	r0 := uint16(0)
	for _, w := range words {
		if w>>16 == 0 {
			r0 = uint16(w)
		}
		if err := d.writeWord(w); err != nil {
			return err
		}
	}
	r0 = r0&^r0PowerDown | r0FCal
	if err := d.writeWord(uint32(r0)); err != nil {
		return err
	}
	d.r0, d.selected, d.powered = r0, index, true
	d.Log().Info("clock profile selected", "profile", d.profiles[index].Name)
	return nil
}

// SetPower powers the synthesizer up or down.
func (d *Driver) SetPower(on bool) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	r0 := d.r0 &^ (r0PowerDown | r0FCal)
	if !on {
		r0 |= r0PowerDown
	}
	if err := d.writeWord(uint32(r0)); err != nil {
		return err
	}
	d.r0, d.powered = r0, on
	return nil
}

// Powered reports the last requested power state.
func (d *Driver) Powered() bool { return d.powered }

func (d *Driver) writeWord(w uint32) error {
	buf := []byte{fnSPISlave0, byte(w >> 16), byte(w >> 8), byte(w)}
	if err := d.spi.Tx(buf, nil); err != nil {
		return fmt.Errorf("lmx2594: write R%d: %w", w>>16, err)
	}
	return nil
}

var _ device.Driver = (*Driver)(nil)

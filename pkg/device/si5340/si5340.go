// Package si5340 drives the optional SI5340 low-jitter reference clock that
// feeds the clock synthesizer on some models.
//
// The chip has a 16-bit register space reached through 8-bit pages: register
// 0x01 on every page selects the page the other addresses refer to.
package si5340

import (
	"fmt"
	"time"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const (
	regPage     = 0x01
	pingPattern = 0x0A

	noPage = -1
)

// Option list and command names.
const (
	OptionsProfiles  = "listRefClockProfiles"
	CmdSelectProfile = "select-profile"
)

// Reg is one register write in the 16-bit address space.
type Reg struct {
	Addr  uint16
	Value byte
}

// Profile is a named register set.
type Profile struct {
	Name string
	Regs []Reg
}

var (
	preamble = []Reg{
		{0x0B24, 0xC0},
		{0x0B25, 0x00},
		{0x0540, 0x01},
	}
	postamble = []Reg{
		{0x0514, 0x01},
		{0x001C, 0x01},
		{0x0540, 0x00},
		{0x0B24, 0xC3},
		{0x0B25, 0x02},
	}
	// XA/XB crystal input, register controlled.
	inputSelect = []Reg{{0x0021, 0x0D}}
)

// Profiles are the output frequency plans, all from a 48 MHz crystal.
var Profiles = []Profile{
	{Name: "100 MHz", Regs: []Reg{
		{0x0302, 0x00}, {0x0303, 0x00}, {0x0304, 0x00}, {0x0305, 0x00}, {0x0306, 0x19}, {0x0307, 0x00},
		{0x0308, 0x00}, {0x0309, 0x00}, {0x030A, 0x00}, {0x030B, 0x80},
	}},
	{Name: "156.25 MHz", Regs: []Reg{
		{0x0302, 0x00}, {0x0303, 0x00}, {0x0304, 0x00}, {0x0305, 0x00}, {0x0306, 0x10}, {0x0307, 0x00},
		{0x0308, 0x00}, {0x0309, 0x00}, {0x030A, 0x00}, {0x030B, 0x80},
	}},
	{Name: "161.1328125 MHz", Regs: []Reg{
		{0x0302, 0x00}, {0x0303, 0x00}, {0x0304, 0x00}, {0x0305, 0x80}, {0x0306, 0x0F}, {0x0307, 0x00},
		{0x0308, 0x00}, {0x0309, 0x00}, {0x030A, 0x00}, {0x030B, 0x80},
	}},
}

// Driver is one SI5340 on the instrument.
type Driver struct {
	device.Base

	// Settle is the delay between the preamble and the configuration.
	Settle time.Duration

	profiles []Profile
	selected int
	page     int
}

// Ping reports whether an SI5340 answers at addr. The page register is
// perturbed and restored.
func Ping(bus i2c.Bus, addr uint16) bool {
	return i2c.Probe(bus, addr, regPage, pingPattern)
}

// New constructs a driver; it satisfies device.NewFunc.
func New(env device.Env, addr uint16, id int) (device.Driver, error) {
	return NewDriver(env, addr, id), nil
}

// NewDriver constructs a driver for the chip at addr.
func NewDriver(env device.Env, addr uint16, id int) *Driver {
	return &Driver{
		Base:     device.NewBase(device.FamilyRefClock, env, addr, id),
		Settle:   300 * time.Millisecond,
		profiles: Profiles,
		page:     noPage,
	}
}

// Spec describes the family to the discovery engine.
func Spec() device.Spec {
	return device.Spec{
		Family:        device.FamilyRefClock,
		Label:         "Reference clock module",
		SharedOptions: true,
		Ping:          Ping,
		New:           New,
	}
}

// Init loads the default frequency plan.
func (d *Driver) Init() error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	d.page = noPage
	return d.program(0, inputSelect)
}

func (d *Driver) GetOptions() {
	names := make([]string, len(d.profiles))
	for i, p := range d.profiles {
		names[i] = p.Name
	}
	d.EmitOptions(OptionsProfiles, status.AllLanes, names, d.selected)
}

func (d *Driver) Command(cmd device.Command) error {
	switch cmd.Name {
	case CmdSelectProfile:
		return d.SelectProfile(cmd.Value)
	default:
		return device.UnknownCommand(device.FamilyRefClock, cmd)
	}
}

// SelectProfile loads the frequency plan at index.
func (d *Driver) SelectProfile(index int) error {
	if !d.CheckIndex("reference clock profile", index, len(d.profiles)) {
		return device.ErrMisuse
	}
	if err := d.CheckOpen(); err != nil {
		return err
	}
	return d.program(index, nil)
}

// Selected returns the index of the loaded profile.
func (d *Driver) Selected() int { return d.selected }

// program runs the vendor load sequence: preamble, settle, configuration,
// postamble.
func (d *Driver) program(index int, extra []Reg) error {
	if err := d.writeRegs(preamble); err != nil {
		return err
	}
	time.Sleep(d.Settle)
	if err := d.writeRegs(extra); err != nil {
		return err
	}
	if err := d.writeRegs(d.profiles[index].Regs); err != nil {
		return err
	}
	if err := d.writeRegs(postamble); err != nil {
		return err
	}
	d.selected = index
	d.Log().Info("reference clock profile loaded", "profile", d.profiles[index].Name)
	return nil
}

func (d *Driver) writeRegs(regs []Reg) error {
	for _, r := range regs {
		if err := d.Write(r.Addr, r.Value); err != nil {
			return err
		}
	}
	return nil
}

// Write writes one register, switching page first when needed.
func (d *Driver) Write(addr uint16, v byte) error {
	if err := d.setPage(byte(addr >> 8)); err != nil {
		return err
	}
	if err := d.WriteReg(uint8(addr), v); err != nil {
		return fmt.Errorf("si5340: write 0x%04X: %w", addr, err)
	}
	return nil
}

// Read reads one register, switching page first when needed.
func (d *Driver) Read(addr uint16) (byte, error) {
	if err := d.setPage(byte(addr >> 8)); err != nil {
		return 0, err
	}
	v, err := d.ReadReg(uint8(addr))
	if err != nil {
		return 0, fmt.Errorf("si5340: read 0x%04X: %w", addr, err)
	}
	return v, nil
}

func (d *Driver) setPage(page byte) error {
	if d.page == int(page) {
		return nil
	}
	if err := d.WriteReg(regPage, page); err != nil {
		d.page = noPage
		return fmt.Errorf("si5340: select page 0x%02X: %w", page, err)
	}
	d.page = int(page)
	return nil
}

var _ device.Driver = (*Driver)(nil)

// Package gt1724 drives the GT1724 quad-lane BERT core.
//
// Each core owns four consecutive lanes of the instrument: core n serves
// lanes 4n to 4n+3, even lanes generating patterns and odd lanes detecting
// errors. The core runs a downloadable macro program; Init downloads the
// macro file matching the expected version unless the core already reports
// it, and all further operations are either direct lane register writes or
// macro calls through the opcode register.
package gt1724

import (
	"fmt"
	"io/fs"
	"time"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/macro"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// LanesPerCore is the number of lanes each core serves.
const LanesPerCore = 4

// Register map.
const (
	regVersion   = 0x04 // 4 bytes
	regMacroAddr = 0x08 // 2 bytes, big endian
	regMacroData = 0x0A // data port, address auto-increments
	regOpcode    = 0x10
	regOpStatus  = 0x11
	regOpArg     = 0x12 // 2 bytes
	regOpResult  = 0x14 // 2 bytes
	regScratch   = 0x7F

	laneBase   = 0x20
	laneStride = 8

	laneCtrl     = 0
	lanePattern  = 1
	laneSwing    = 2
	laneDeEmph   = 3
	ctrlEnable   = 0x01
	ctrlInvert   = 0x02
	pingPattern  = 0xA5
	statusBusy   = 0x01
	statusFailed = 0x80
)

// Macro opcodes.
const (
	OpStart       = 0x01
	OpTemperature = 0x20
)

// Option list and command names.
const (
	OptionsPattern    = "listPRBSPattern"
	OptionsSwing      = "listOutputSwing"
	OptionsDeEmphasis = "listDeEmphasis"

	CmdLaneOn      = "lane-on"
	CmdPattern     = "pattern"
	CmdSwing       = "swing"
	CmdDeEmphasis  = "de-emphasis"
	CmdInvert      = "invert"
	CmdTemperature = "temperature"
)

var (
	patternNames    = []string{"PRBS7", "PRBS9", "PRBS15", "PRBS23", "PRBS31", "PRBS58", "Clock 1010", "User"}
	swingNames      = []string{"200 mV", "300 mV", "400 mV", "500 mV", "600 mV", "700 mV", "800 mV", "900 mV", "1000 mV"}
	deEmphasisNames = []string{"0 dB", "1 dB", "2 dB", "3 dB", "4 dB", "5 dB", "6 dB"}
)

const (
	defaultPattern = 4 // PRBS31
	defaultSwing   = 4 // 600 mV
)

// Lane is the shadow state of one lane.
type Lane struct {
	On         bool
	Inverted   bool
	Pattern    int
	Swing      int
	DeEmphasis int
}

func (l Lane) ctrl() byte {
	var v byte
	if l.On {
		v |= ctrlEnable
	}
	if l.Inverted {
		v |= ctrlInvert
	}
	return v
}

// Config selects the macro a core must run.
type Config struct {
	// Macros holds the macro files.
	Macros fs.FS
	// Version is the macro version to run; empty means the newest known.
	Version string
	// MacroTimeout bounds a macro call.
	MacroTimeout time.Duration
	// PollInterval is the opcode status poll period.
	PollInterval time.Duration
}

// Driver is one GT1724 core.
type Driver struct {
	device.Base

	cfg        Config
	lanes      [LanesPerCore]Lane
	macroState status.Code
	version    macro.FileInfo
}

// Ping reports whether a GT1724 answers at addr. The scratch register is
// perturbed and restored.
func Ping(bus i2c.Bus, addr uint16) bool {
	return i2c.Probe(bus, addr, regScratch, pingPattern)
}

// NewFunc returns a constructor for cores running the macro described by cfg.
func NewFunc(cfg Config) device.NewFunc {
	return func(env device.Env, addr uint16, id int) (device.Driver, error) {
		return NewDriver(env, addr, id, cfg), nil
	}
}

// NewDriver constructs a driver for the core at addr.
func NewDriver(env device.Env, addr uint16, id int, cfg Config) *Driver {
	if cfg.MacroTimeout == 0 {
		cfg.MacroTimeout = 2 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	d := &Driver{
		Base:       device.NewBase(device.FamilyCore, env, addr, id),
		cfg:        cfg,
		macroState: status.MacrosNotLoaded,
	}
	d.resetLanes()
	return d
}

// Spec describes the family to the discovery engine.
func Spec(cfg Config) device.Spec {
	return device.Spec{
		Family:         device.FamilyCore,
		Label:          "Core module",
		Min:            1,
		Missing:        status.MissingGT1724,
		MissingMessage: "Core module not found!",
		Ping:           Ping,
		New:            NewFunc(cfg),
	}
}

func (d *Driver) resetLanes() {
	for i := range d.lanes {
		d.lanes[i] = Lane{Pattern: defaultPattern, Swing: defaultSwing}
	}
}

// FirstLane returns the instrument lane number of this core's lane 0.
func (d *Driver) FirstLane() int { return d.ID() * LanesPerCore }

// local maps an instrument lane to this core's lane index.
func (d *Driver) local(lane int) (int, error) {
	l := lane - d.FirstLane()
	if l < 0 || l >= LanesPerCore {
		return 0, fmt.Errorf("gt1724: lane %d not on core %d: %w", lane, d.ID(), status.BadLaneID)
	}
	return l, nil
}

// Init makes sure the expected macro is running and applies the default
// lane settings.
func (d *Driver) Init() error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	if err := d.EnsureMacros(); err != nil {
		return err
	}
	d.resetLanes()
	for l := range d.lanes {
		if err := d.writeLane(l); err != nil {
			return err
		}
	}
	return nil
}

// MacroState reports status.MacrosLoaded once the expected macro runs.
func (d *Driver) MacroState() status.Code { return d.macroState }

// MacroVersion returns the registry entry of the running macro.
func (d *Driver) MacroVersion() macro.FileInfo { return d.version }

func (d *Driver) expected() (macro.FileInfo, error) {
	if d.cfg.Version == "" {
		_, info := macro.Latest()
		return info, nil
	}
	_, info, ok := macro.ByVersion(d.cfg.Version)
	if !ok {
		return macro.FileInfo{}, fmt.Errorf("gt1724: macro version %q unknown: %w", d.cfg.Version, status.MacroError)
	}
	return info, nil
}

// EnsureMacros downloads the expected macro unless the core already reports
// its fingerprint, then verifies the readback against the registry.
func (d *Driver) EnsureMacros() error {
	want, err := d.expected()
	if err != nil {
		return err
	}
	fp, err := d.ReadVersion()
	if err != nil {
		return err
	}
	if fp == want.Fingerprint {
		d.macroState, d.version = status.MacrosLoaded, want
		d.Log().Info("macro already loaded", "version", want.Version)
		return nil
	}

	d.Message(fmt.Sprintf("Downloading macros (%s)...", want.Version))
	img, err := macro.Load(d.cfg.Macros, want)
	if err != nil {
		d.Message("Macro file error!")
		return err
	}
	if err := d.Download(img); err != nil {
		return err
	}
	if _, err := d.RunMacro(OpStart, 0); err != nil {
		return err
	}
	fp, err = d.ReadVersion()
	if err != nil {
		return err
	}
	idx, got := macro.Lookup(fp)
	if idx == macro.UnknownIndex || got.Version != want.Version {
		d.macroState = status.MacrosNotLoaded
		return fmt.Errorf("gt1724: macro readback %s (%s), want %s: %w", fp, got.Version, want.Version, status.MacroError)
	}
	d.macroState, d.version = status.MacrosLoaded, got
	d.Log().Info("macro downloaded", "version", got.Version, "bytes", img.Size())
	return nil
}

// ReadVersion reads the running macro's fingerprint.
func (d *Driver) ReadVersion() (macro.Fingerprint, error) {
	var fp macro.Fingerprint
	b, err := d.Bus.Read8(d.Addr, regVersion, len(fp))
	if err != nil {
		return fp, fmt.Errorf("gt1724: read version: %w", err)
	}
	if len(b) != len(fp) {
		return fp, fmt.Errorf("gt1724: version readback of %d bytes: %w", len(b), status.ReadError)
	}
	copy(fp[:], b)
	return fp, nil
}

// Download writes every record of img into macro memory.
func (d *Driver) Download(img *macro.Image) error {
	for _, r := range img.Records {
		if r.Address > 0xFFFF {
			return fmt.Errorf("gt1724: macro address 0x%X out of range: %w", r.Address, status.InvalidData)
		}
		if err := d.Bus.Write8(d.Addr, regMacroAddr, []byte{byte(r.Address >> 8), byte(r.Address)}); err != nil {
			return fmt.Errorf("gt1724: macro address: %w", err)
		}
		if err := d.Bus.Write8(d.Addr, regMacroData, r.Data); err != nil {
			return fmt.Errorf("gt1724: macro data at 0x%04X: %w", r.Address, err)
		}
	}
	return nil
}

// RunMacro calls the macro op with arg and waits for it to finish. The
// result register is returned.
func (d *Driver) RunMacro(op byte, arg uint16) (uint16, error) {
	if err := d.CheckOpen(); err != nil {
		return 0, err
	}
	if err := d.Bus.Write8(d.Addr, regOpArg, []byte{byte(arg >> 8), byte(arg)}); err != nil {
		return 0, fmt.Errorf("gt1724: macro 0x%02X arg: %w", op, err)
	}
	if err := d.WriteReg(regOpcode, op); err != nil {
		return 0, fmt.Errorf("gt1724: macro 0x%02X: %w", op, err)
	}
	deadline := time.Now().Add(d.cfg.MacroTimeout)
	for {
		st, err := d.ReadReg(regOpStatus)
		if err != nil {
			return 0, fmt.Errorf("gt1724: macro 0x%02X status: %w", op, err)
		}
		if st&statusFailed != 0 {
			return 0, fmt.Errorf("gt1724: macro 0x%02X status 0x%02X: %w", op, st, status.MacroError)
		}
		if st&statusBusy == 0 {
			break
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("gt1724: macro 0x%02X: %w", op, status.Timeout)
		}
		time.Sleep(d.cfg.PollInterval)
	}
	b, err := d.Bus.Read8(d.Addr, regOpResult, 2)
	if err != nil {
		return 0, fmt.Errorf("gt1724: macro 0x%02X result: %w", op, err)
	}
	if len(b) != 2 {
		return 0, fmt.Errorf("gt1724: macro 0x%02X result of %d bytes: %w", op, len(b), status.ReadError)
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// GetOptions emits the per-lane option lists for all four lanes.
func (d *Driver) GetOptions() {
	for l := range d.lanes {
		lane := d.FirstLane() + l
		d.EmitOptions(OptionsPattern, lane, patternNames, d.lanes[l].Pattern)
		d.EmitOptions(OptionsSwing, lane, swingNames, d.lanes[l].Swing)
		d.EmitOptions(OptionsDeEmphasis, lane, deEmphasisNames, d.lanes[l].DeEmphasis)
	}
}

func (d *Driver) Command(cmd device.Command) error {
	if cmd.Name == CmdTemperature {
		_, err := d.Temperature()
		return err
	}
	l, err := d.local(cmd.Lane)
	if err != nil {
		return err
	}
	lane := d.lanes[l]
	switch cmd.Name {
	case CmdLaneOn:
		lane.On = cmd.Value != 0
	case CmdInvert:
		lane.Inverted = cmd.Value != 0
	case CmdPattern:
		if !d.CheckIndex("pattern", cmd.Value, len(patternNames)) {
			return device.ErrMisuse
		}
		lane.Pattern = cmd.Value
	case CmdSwing:
		if !d.CheckIndex("swing", cmd.Value, len(swingNames)) {
			return device.ErrMisuse
		}
		lane.Swing = cmd.Value
	case CmdDeEmphasis:
		if !d.CheckIndex("de-emphasis", cmd.Value, len(deEmphasisNames)) {
			return device.ErrMisuse
		}
		lane.DeEmphasis = cmd.Value
	default:
		return device.UnknownCommand(device.FamilyCore, cmd)
	}
	if err := d.CheckOpen(); err != nil {
		return err
	}
	d.lanes[l] = lane
	return d.writeLane(l)
}

// Lanes returns the lane shadow state.
func (d *Driver) Lanes() [LanesPerCore]Lane { return d.lanes }

func (d *Driver) writeLane(l int) error {
	lane := d.lanes[l]
	regs := []byte{lane.ctrl(), byte(lane.Pattern), byte(lane.Swing), byte(lane.DeEmphasis)}
	if err := d.Bus.Write8(d.Addr, uint8(laneBase+l*laneStride), regs); err != nil {
		return fmt.Errorf("gt1724: write lane %d: %w", d.FirstLane()+l, err)
	}
	return nil
}

// Temperature reads the die temperature in degrees Celsius and reports it
// against the core's first lane.
func (d *Driver) Temperature() (float64, error) {
	raw, err := d.RunMacro(OpTemperature, 0)
	if err != nil {
		return 0, err
	}
	// signed 8.8 fixed point
	c := float64(int16(raw)) / 256
	d.EmitReading(CmdTemperature, d.FirstLane(), c)
	return c, nil
}

var _ device.Driver = (*Driver)(nil)

package instrument

import (
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/gt1724"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/lmx2594"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/m24m02"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/pca9557"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/si5340"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/macro"
)

// SimClockProfile is the clock profile stored in simulated EEPROMs.
var SimClockProfile = m24m02.ClockProfile{
	Name:  "10.3125 GHz",
	Words: []uint32{0x700000, 0x4E0003, 0x2C1FA3, 0x240046, 0x00251C},
}

// Simulation is a complete simulated instrument: a SimBus populated with a
// simulated chip at every address of a profile.
type Simulation struct {
	Bus *i2c.SimBus

	Cores    []*gt1724.SimChip
	EEPROMs  []*m24m02.SimChip
	Clocks   []*lmx2594.SimChip
	IO       []*pca9557.SimChip
	RefClock []*si5340.SimChip
	LEDs     []*i2c.RegisterFile
}

// NewSimulation builds the simulated instrument for p. Cores already run the
// newest macro and every EEPROM holds a board record and SimClockProfile.
// Addresses listed twice share one chip.
func NewSimulation(p Profile) *Simulation {
	s := &Simulation{Bus: i2c.NewSimBus()}
	_, latest := macro.Latest()
	model := "PPG-3204-C"
	if p.SingleBoard {
		model = "PPG3204D_PIXIE"
	}

	seen := make(map[uint16]bool)
	attach := func(f device.Family, create func(addr uint16)) {
		for _, addr := range p.Addresses[f] {
			if seen[addr] {
				continue
			}
			seen[addr] = true
			create(addr)
		}
	}
	attach(device.FamilyCore, func(addr uint16) {
		c := gt1724.NewSimChip()
		c.Preload(latest.Fingerprint)
		c.Celsius = 45
		s.Cores = append(s.Cores, c)
		s.Bus.Attach(addr, c)
	})
	attach(device.FamilyEEPROM, func(addr uint16) {
		c := m24m02.NewSimChip()
		var image []byte
		image = append(image, m24m02.EncodeRecord(m24m02.RecordBoardInfo,
			m24m02.EncodeBoardInfo(m24m02.BoardInfo{Model: model, Serial: "SIM0001"}))...)
		image = append(image, m24m02.EncodeRecord(m24m02.RecordClockProfile,
			m24m02.EncodeClockProfile(SimClockProfile))...)
		c.Load(0, image)
		c.Attach(s.Bus, addr)
		s.EEPROMs = append(s.EEPROMs, c)
	})
	attach(device.FamilyClock, func(addr uint16) {
		c := lmx2594.NewSimChip()
		s.Clocks = append(s.Clocks, c)
		s.Bus.Attach(addr, c)
	})
	attach(device.FamilyIO, func(addr uint16) {
		c := pca9557.NewSimChip()
		s.IO = append(s.IO, c)
		s.Bus.Attach(addr, c)
	})
	attach(device.FamilyRefClock, func(addr uint16) {
		c := si5340.NewSimChip()
		s.RefClock = append(s.RefClock, c)
		s.Bus.Attach(addr, c)
	})
	attach(device.FamilyLED, func(addr uint16) {
		c := &i2c.RegisterFile{}
		s.LEDs = append(s.LEDs, c)
		s.Bus.Attach(addr, c)
	})
	return s
}

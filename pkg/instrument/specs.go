package instrument

import (
	"io/fs"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/gt1724"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/lmx2594"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/m24m02"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/pca9557"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/si5340"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/tlc59108"
)

// InitOrder is the family initialisation order: the reference clock feeds
// the synthesizer, the synthesizer reads its profiles from the EEPROM and
// clocks the cores, so cores come last.
var InitOrder = []device.Family{
	device.FamilyRefClock,
	device.FamilyEEPROM,
	device.FamilyClock,
	device.FamilyIO,
	device.FamilyLED,
	device.FamilyCore,
}

// Resources locates the files some drivers load at init.
type Resources struct {
	// Macros holds the core macro files.
	Macros fs.FS
	// MacroVersion is the macro version the cores must run; empty means the
	// newest known.
	MacroVersion string
	// ClockDefs holds clock synthesizer register definition files.
	ClockDefs fs.FS
}

// DefaultSpecs returns the instrument's chip families in discovery order:
// cores first, then EEPROM, clock synthesizer and I/O expander, then the
// optional reference clock and LED driver.
func DefaultSpecs(res Resources) []device.Spec {
	return []device.Spec{
		gt1724.Spec(gt1724.Config{Macros: res.Macros, Version: res.MacroVersion}),
		m24m02.Spec(),
		lmx2594.Spec(res.ClockDefs),
		pca9557.Spec(),
		si5340.Spec(),
		tlc59108.Spec(),
	}
}

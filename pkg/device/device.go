// Package device defines the contract every chip driver on the instrument
// implements, and the family descriptors the discovery engine scans with.
//
// # Overview
//
// A driver instance represents one chip that answered its family's
// conservative ping at a fixed I2C address. Drivers hold a non-owning
// reference to the bus, their address, a small device id assigned in
// discovery order and whatever shadow register state the chip needs. Shadow
// state is only trustworthy after Init has succeeded.
//
// Drivers never talk to the UI directly: option lists and progress messages
// go through an Emitter, and command results are returned as errors carrying
// a status.Code so the engine can report them together with the lane.
package device

import (
	"fmt"
	"log/slog"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

// Family names a chip family.
type Family string

const (
	FamilyCore     Family = "gt1724"
	FamilyEEPROM   Family = "m24m02"
	FamilyClock    Family = "lmx2594"
	FamilyIO       Family = "pca9557"
	FamilyRefClock Family = "si5340"
	FamilyLED      Family = "tlc59108"
)

// Driver is implemented by one type per chip family.
type Driver interface {
	Family() Family
	ID() int
	Address() uint16

	// Init brings the chip to its default state. It is called once, after
	// the driver has been announced.
	Init() error
	// GetOptions emits the driver's selectable option lists. It must not
	// touch the hardware.
	GetOptions()
	// Command runs a chip-specific command. The returned error carries a
	// status.Code.
	Command(cmd Command) error
}

// Command is a chip-specific request. Lane is status.AllLanes when the
// command is not lane specific.
type Command struct {
	Name  string
	Lane  int
	Value int
}

func (c Command) String() string {
	return fmt.Sprintf("%s(lane=%d, value=%d)", c.Name, c.Lane, c.Value)
}

// OptionList is one enumerated set of choices offered by a driver.
type OptionList struct {
	Family  Family   `json:"family"`
	Device  int      `json:"device"`
	Name    string   `json:"name"`
	Lane    int      `json:"lane"`
	Items   []string `json:"items"`
	Default int      `json:"default"`
}

// Reading is a measurement taken by a driver, such as a core temperature.
type Reading struct {
	Family Family
	Device int
	Name   string
	Lane   int
	Value  float64
}

// Emitter receives what drivers have to say to the outside world.
type Emitter interface {
	Options(list OptionList)
	Message(text string)
	Reading(r Reading)
}

// Peers gives a driver constructor access to drivers found earlier in
// discovery.
type Peers interface {
	Drivers(f Family) []Driver
}

// Env is what a driver is constructed with.
type Env struct {
	Bus   i2c.Bus
	Emit  Emitter
	Log   *slog.Logger
	Peers Peers
}

// PingFunc is a family's conservative presence probe. Transport errors must
// be reported as false.
type PingFunc func(bus i2c.Bus, addr uint16) bool

// NewFunc constructs a driver for a chip that answered its ping.
type NewFunc func(env Env, addr uint16, id int) (Driver, error)

// Spec describes a chip family to the discovery engine.
type Spec struct {
	Family Family
	// Label is used in progress messages.
	Label string
	// Min is the number of chips that must be found for discovery to
	// succeed; 0 makes the family optional.
	Min int
	// Missing is reported when fewer than Min chips answer.
	Missing status.Code
	// MissingMessage accompanies Missing.
	MissingMessage string
	// InitFailedMessage is shown when a driver of the family fails to
	// initialise. Empty means "Error configuring system!".
	InitFailedMessage string
	// SharedOptions means every instance offers the same choices, so only
	// the first one is asked for its options.
	SharedOptions bool

	Ping PingFunc
	New  NewFunc
}

// First returns the first driver of family f, or nil.
func First(p Peers, f Family) Driver {
	if p == nil {
		return nil
	}
	ds := p.Drivers(f)
	if len(ds) == 0 {
		return nil
	}
	return ds[0]
}

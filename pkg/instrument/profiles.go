package instrument

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
)

// AddressTable lists, per family, the addresses discovery probes. The first
// address of a family is the master board's chip.
type AddressTable map[device.Family][]uint16

// Profile is a named address table for one instrument build.
type Profile struct {
	Name      string
	Addresses AddressTable
	// SingleBoard relaxes the equal-count rule for per-board families.
	SingleBoard bool
}

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "dual"

// perBoardFamilies have one chip per board.
var perBoardFamilies = []device.Family{
	device.FamilyEEPROM,
	device.FamilyClock,
	device.FamilyIO,
	device.FamilyRefClock,
	device.FamilyLED,
}

var builtinProfiles = map[string]Profile{
	// Dual board with a fake slave answering on the master's addresses.
	"test": {
		Name: "test",
		Addresses: AddressTable{
			device.FamilyCore:     {0x12, 0x14, 0x12, 0x14},
			device.FamilyClock:    {0x28, 0x28},
			device.FamilyIO:       {0x1C, 0x1C},
			device.FamilyEEPROM:   {0x50, 0x50},
			device.FamilyRefClock: {0x76, 0x76},
			device.FamilyLED:      {0x40, 0x40},
		},
	},
	"pixie": {
		Name:        "pixie",
		SingleBoard: true,
		Addresses: AddressTable{
			device.FamilyCore:     {0x12},
			device.FamilyClock:    {0x28},
			device.FamilyIO:       {0x1C},
			device.FamilyEEPROM:   {0x50},
			device.FamilyRefClock: {0x76},
			device.FamilyLED:      {0x40},
		},
	},
	"dual": {
		Name: "dual",
		Addresses: AddressTable{
			device.FamilyCore:     {0x12, 0x14, 0x16, 0x10},
			device.FamilyClock:    {0x28, 0x2C},
			device.FamilyIO:       {0x1C, 0x18},
			device.FamilyEEPROM:   {0x50, 0x54},
			device.FamilyRefClock: {0x76, 0x72},
			device.FamilyLED:      {0x40, 0x44},
		},
	},
}

// ProfileNames returns the built-in profile names, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupProfile returns a copy of the named built-in profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := builtinProfiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("instrument: unknown address profile %q (have %v)", name, ProfileNames())
	}
	return p.clone(), nil
}

func (p Profile) clone() Profile {
	out := p
	out.Addresses = make(AddressTable, len(p.Addresses))
	for f, addrs := range p.Addresses {
		out.Addresses[f] = slices.Clone(addrs)
	}
	return out
}

// WithOverrides returns p with the families named in overrides replaced.
// Keys are family names.
func (p Profile) WithOverrides(overrides map[string][]uint16) (Profile, error) {
	out := p.clone()
	for name, addrs := range overrides {
		f := device.Family(name)
		if !knownFamily(f) {
			return Profile{}, fmt.Errorf("instrument: address override for unknown family %q", name)
		}
		out.Addresses[f] = slices.Clone(addrs)
	}
	return out, out.Validate()
}

// Boards returns the number of boards the profile describes.
func (p Profile) Boards() int {
	if p.SingleBoard {
		return 1
	}
	return len(p.Addresses[device.FamilyIO])
}

// Validate checks addresses are 7-bit and that every per-board family lists
// the same number of chips.
func (p Profile) Validate() error {
	var errs []error
	for f, addrs := range p.Addresses {
		for _, a := range addrs {
			if a > 0x7F {
				errs = append(errs, fmt.Errorf("%s: address 0x%X is not a 7-bit address", f, a))
			}
		}
	}
	if len(p.Addresses[device.FamilyCore]) == 0 {
		errs = append(errs, fmt.Errorf("%s: no addresses", device.FamilyCore))
	}
	if !p.SingleBoard {
		want := -1
		for _, f := range perBoardFamilies {
			n := len(p.Addresses[f])
			if n == 0 {
				continue
			}
			if want < 0 {
				want = n
			} else if n != want {
				errs = append(errs, fmt.Errorf("%s: %d addresses, other per-board families have %d", f, n, want))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("instrument: profile %q: %w", p.Name, err)
	}
	return nil
}

func knownFamily(f device.Family) bool {
	return f == device.FamilyCore || slices.Contains(perBoardFamilies, f)
}

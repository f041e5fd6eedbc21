package lmx2594

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device/m24m02"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const addr = 0x28

const defs10G = `# exported register map
R112	0x700000
R44	0x2C1FA3
R36	0x240046
R0	0x00251C
`

type peers map[device.Family][]device.Driver

func (p peers) Drivers(f device.Family) []device.Driver { return p[f] }

type fakeEEPROM struct {
	device.Driver
	profiles []m24m02.ClockProfile
}

func (f fakeEEPROM) ClockProfiles() []m24m02.ClockProfile { return f.profiles }

func newSim(t *testing.T, env device.Env, defs fstest.MapFS) (*Driver, *SimChip, *device.Recorder) {
	t.Helper()
	bus := i2c.NewSimBus()
	require.NoError(t, bus.Open("sim"))
	chip := NewSimChip()
	bus.Attach(addr, chip)
	rec := &device.Recorder{}
	env.Bus, env.Emit = bus, rec
	var d *Driver
	if defs == nil {
		d = NewDriver(env, addr, 0, nil)
	} else {
		d = NewDriver(env, addr, 0, defs)
	}
	return d, chip, rec
}

func TestParseDefs(t *testing.T) {
	p, err := NewDefsParser()
	require.NoError(t, err)

	prof, err := p.Parse("10G", strings.NewReader(defs10G))
	require.NoError(t, err)
	assert.Equal(t, "10G", prof.Name)
	assert.Equal(t, []uint32{0x700000, 0x2C1FA3, 0x240046, 0x00251C}, prof.Words)
}

func TestParseDefsErrors(t *testing.T) {
	p, err := NewDefsParser()
	require.NoError(t, err)

	tests := []struct {
		name string
		text string
	}{
		{"address mismatch", "R44 0x2D1FA3\n"},
		{"wider than 24 bits", "R1 0x1010000\n"},
		{"register too high", "R200 0xC80000\n"},
		{"empty", "# nothing here\n"},
		{"syntax", "R1 R2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse("bad", strings.NewReader(tt.text))
			assert.ErrorIs(t, err, status.InvalidData)
		})
	}
}

func TestLoadDefs(t *testing.T) {
	fsys := fstest.MapFS{
		"B.txt":    {Data: []byte(defs10G)},
		"A.txt":    {Data: []byte("R0 0x000000\n")},
		"notes.md": {Data: []byte("ignored")},
	}
	profiles, err := LoadDefs(fsys)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "A", profiles[0].Name)
	assert.Equal(t, "B", profiles[1].Name)

	_, err = LoadDefs(nil)
	assert.ErrorIs(t, err, status.DirectoryNotFound)
}

func TestPing(t *testing.T) {
	bus := i2c.NewSimBus()
	require.NoError(t, bus.Open("sim"))
	bus.Attach(addr, NewSimChip())
	assert.True(t, Ping(bus, addr))
	assert.False(t, Ping(bus, 0x2C))
}

func TestInitWithoutDefinitions(t *testing.T) {
	d, chip, rec := newSim(t, device.Env{}, nil)
	assert.ErrorIs(t, d.Init(), status.MissingLMXDefs)
	assert.Contains(t, rec.Messages(), "Clock synthesizer register definitions not found!")
	assert.Empty(t, chip.Writes())
}

func TestInitProgramsFirstProfile(t *testing.T) {
	d, chip, _ := newSim(t, device.Env{}, fstest.MapFS{"10G.txt": {Data: []byte(defs10G)}})
	require.NoError(t, d.Init())

	want := []uint32{
		r0Reset, 0x000000,
		0x700000, 0x2C1FA3, 0x240046, 0x00251C,
		0x00251C | r0FCal,
	}
	assert.Equal(t, want, chip.Writes())
	assert.Equal(t, 0, d.Selected())
	assert.True(t, d.Powered())
}

func TestSelectProfileDescendingOrder(t *testing.T) {
	d, chip, _ := newSim(t, device.Env{}, fstest.MapFS{"x.txt": {Data: []byte("R0 0x000000\nR36 0x240001\nR2 0x020002\n")}})
	require.NoError(t, d.Init())
	chip.ResetWrites()

	require.NoError(t, d.SelectProfile(0))
	assert.Equal(t, []uint32{0x240001, 0x020002, 0x000000, r0FCal}, chip.Writes())
}

func TestEEPROMProfilesTakePrecedence(t *testing.T) {
	eeprom := fakeEEPROM{profiles: []m24m02.ClockProfile{{Name: "from-eeprom", Words: []uint32{0x000010}}}}
	env := device.Env{Peers: peers{device.FamilyEEPROM: {eeprom}}}
	d, _, rec := newSim(t, env, fstest.MapFS{"10G.txt": {Data: []byte(defs10G)}})
	require.NoError(t, d.Init())

	d.GetOptions()
	lists := rec.OptionLists()
	require.Len(t, lists, 1)
	assert.Equal(t, OptionsFrequency, lists[0].Name)
	assert.Equal(t, []string{"from-eeprom"}, lists[0].Items)
}

func TestSelectProfileOutOfRangeIsNoop(t *testing.T) {
	d, chip, _ := newSim(t, device.Env{}, fstest.MapFS{"10G.txt": {Data: []byte(defs10G)}})
	require.NoError(t, d.Init())
	chip.ResetWrites()

	assert.ErrorIs(t, d.Command(device.Command{Name: CmdSelectProfile, Value: 5}), device.ErrMisuse)
	assert.Empty(t, chip.Writes())
}

func TestPower(t *testing.T) {
	d, chip, _ := newSim(t, device.Env{}, fstest.MapFS{"10G.txt": {Data: []byte(defs10G)}})
	require.NoError(t, d.Init())

	require.NoError(t, d.Command(device.Command{Name: CmdPower, Value: 0}))
	assert.False(t, d.Powered())
	assert.Equal(t, uint16(0x251C|r0PowerDown)&^r0FCal, chip.Register(0))

	require.NoError(t, d.Command(device.Command{Name: CmdPower, Value: 1}))
	assert.True(t, d.Powered())
	assert.Equal(t, uint16(0x251C)&^r0FCal, chip.Register(0))
}

func TestInitNotConnected(t *testing.T) {
	d, _, _ := newSim(t, device.Env{}, nil)
	require.NoError(t, d.Bus.Close())
	assert.ErrorIs(t, d.Init(), status.NotConnected)
}

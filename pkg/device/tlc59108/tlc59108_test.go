package tlc59108

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const addr = 0x40

func newSim(t *testing.T, id int) (*Driver, *i2c.RegisterFile) {
	t.Helper()
	bus := i2c.NewSimBus()
	require.NoError(t, bus.Open("sim"))
	chip := &i2c.RegisterFile{}
	chip.Regs[RegMode1] = 0x11
	chip.Regs[RegLEDOut0] = 0xFF
	bus.Attach(addr, chip)
	return NewDriver(device.Env{Bus: bus}, addr, id), chip
}

func TestPing(t *testing.T) {
	_, chip := newSim(t, 0)
	chip.Regs[RegPWM0] = 0x33
	bus := i2c.NewSimBus()
	require.NoError(t, bus.Open("sim"))
	bus.Attach(addr, chip)

	assert.True(t, Ping(bus, addr))
	assert.Equal(t, byte(0x33), chip.Regs[RegPWM0])
	assert.False(t, Ping(bus, 0x44))
}

func TestInit(t *testing.T) {
	d, chip := newSim(t, 0)
	require.NoError(t, d.Init())
	assert.Equal(t, byte(mode1Normal), chip.Regs[RegMode1])
	assert.Equal(t, byte(0), chip.Regs[RegLEDOut0])
	assert.Equal(t, byte(0), chip.Regs[RegLEDOut1])
	assert.Equal(t, byte(0xFF), chip.Regs[RegPWM0+7])
}

func TestLEDCommands(t *testing.T) {
	d, chip := newSim(t, 1)
	require.NoError(t, d.Init())

	// board 1 serves lanes 8..15; lanes 10 and 11 are channel 1
	require.NoError(t, d.Command(device.Command{Name: CmdPGLED, Lane: 10, Value: 1}))
	require.NoError(t, d.Command(device.Command{Name: CmdEDLED, Lane: 11, Value: int(EDRedFlash)}))
	require.NoError(t, d.Command(device.Command{Name: CmdEDLED, Lane: 15, Value: int(EDGreen)}))
	assert.Equal(t, byte(0x04), chip.Regs[RegLEDOut0])
	assert.Equal(t, byte(0x4C), chip.Regs[RegLEDOut1])

	require.NoError(t, d.Command(device.Command{Name: CmdEDLED, Lane: 11, Value: int(EDOff)}))
	pg, ed := d.LEDOut()
	assert.Equal(t, byte(0x04), pg)
	assert.Equal(t, byte(0x40), ed)

	for _, lane := range []int{7, 16, status.AllLanes} {
		assert.ErrorIs(t, d.SetPGLED(lane, true), status.BadLaneID, "lane %d", lane)
	}

	err := d.Command(device.Command{Name: CmdEDLED, Lane: 11, Value: 9})
	assert.ErrorIs(t, err, device.ErrMisuse)
	assert.Equal(t, byte(0x40), chip.Regs[RegLEDOut1])
}

func TestUnknownCommand(t *testing.T) {
	d, _ := newSim(t, 0)
	assert.ErrorIs(t, d.Command(device.Command{Name: "blink"}), status.NotImplemented)
}

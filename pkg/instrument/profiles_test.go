package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
)

func TestBuiltinProfilesValidate(t *testing.T) {
	assert.Equal(t, []string{"dual", "pixie", "test"}, ProfileNames())
	for _, name := range ProfileNames() {
		p, err := LookupProfile(name)
		require.NoError(t, err)
		assert.NoError(t, p.Validate(), name)
	}
	_, err := LookupProfile(DefaultProfile)
	assert.NoError(t, err)
	_, err = LookupProfile("quad")
	assert.Error(t, err)
}

func TestLookupProfileReturnsCopy(t *testing.T) {
	p, err := LookupProfile("dual")
	require.NoError(t, err)
	p.Addresses[device.FamilyCore][0] = 0x7F

	again, err := LookupProfile("dual")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x12), again.Addresses[device.FamilyCore][0])
}

func TestProfileOverrides(t *testing.T) {
	p, err := LookupProfile("dual")
	require.NoError(t, err)

	got, err := p.WithOverrides(map[string][]uint16{"pca9557": {0x1A, 0x19}})
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1A, 0x19}, got.Addresses[device.FamilyIO])
	assert.Equal(t, []uint16{0x1C, 0x18}, p.Addresses[device.FamilyIO])

	_, err = p.WithOverrides(map[string][]uint16{"pca9557": {0x1A}})
	assert.Error(t, err, "per-board counts must agree")

	_, err = p.WithOverrides(map[string][]uint16{"ad9520": {0x1A}})
	assert.Error(t, err)

	_, err = p.WithOverrides(map[string][]uint16{"gt1724": {0x90}})
	assert.Error(t, err)
}

func TestSingleBoardSkipsCountCheck(t *testing.T) {
	p := Profile{
		Name:        "odd",
		SingleBoard: true,
		Addresses: AddressTable{
			device.FamilyCore: {0x12},
			device.FamilyIO:   {0x1C},
			device.FamilyLED:  {0x40, 0x44},
		},
	}
	assert.NoError(t, p.Validate())
	assert.Equal(t, 1, p.Boards())

	p.SingleBoard = false
	assert.Error(t, p.Validate())
}

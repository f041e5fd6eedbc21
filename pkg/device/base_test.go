package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

func TestBaseCheckOpen(t *testing.T) {
	bus := i2c.NewSimBus()
	b := NewBase(FamilyIO, Env{Bus: bus}, 0x1C, 0)

	assert.ErrorIs(t, b.CheckOpen(), status.NotConnected)
	assert.NoError(t, bus.Open("sim"))
	assert.NoError(t, b.CheckOpen())
}

func TestBaseEmitOptionsCopiesItems(t *testing.T) {
	rec := &Recorder{}
	b := NewBase(FamilyIO, Env{Emit: rec}, 0x1C, 1)

	items := []string{"a", "b"}
	b.EmitOptions("listThing", status.AllLanes, items, 1)
	items[0] = "mutated"

	lists := rec.OptionLists()
	if assert.Len(t, lists, 1) {
		assert.Equal(t, OptionList{
			Family:  FamilyIO,
			Device:  1,
			Name:    "listThing",
			Lane:    status.AllLanes,
			Items:   []string{"a", "b"},
			Default: 1,
		}, lists[0])
	}
}

func TestCheckIndex(t *testing.T) {
	if panicOnMisuse {
		t.Skip("misuse panics in debug builds")
	}
	b := NewBase(FamilyIO, Env{}, 0x1C, 0)
	assert.True(t, b.CheckIndex("thing", 0, 3))
	assert.True(t, b.CheckIndex("thing", 2, 3))
	assert.False(t, b.CheckIndex("thing", 3, 3))
	assert.False(t, b.CheckIndex("thing", -1, 3))
}

func TestUnknownCommand(t *testing.T) {
	err := UnknownCommand(FamilyLED, Command{Name: "dance"})
	assert.True(t, errors.Is(err, status.NotImplemented))
}

type peerList map[Family][]Driver

func (p peerList) Drivers(f Family) []Driver { return p[f] }

func TestFirst(t *testing.T) {
	assert.Nil(t, First(nil, FamilyEEPROM))
	assert.Nil(t, First(peerList{}, FamilyEEPROM))
}

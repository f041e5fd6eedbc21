package m24m02

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const base = 0x50

func newSim(t *testing.T) (*Driver, *SimChip, *i2c.SimBus) {
	t.Helper()
	bus := i2c.NewSimBus()
	require.NoError(t, bus.Open("sim"))
	chip := NewSimChip()
	chip.Attach(bus, base)
	return NewDriver(device.Env{Bus: bus}, base, 0), chip, bus
}

func TestPing(t *testing.T) {
	_, _, bus := newSim(t)
	assert.True(t, Ping(bus, base))
	assert.False(t, Ping(bus, 0x54))

	// a single-address device at 0x54 is not an M24M02
	bus.Attach(0x54, &i2c.RegisterFile{})
	assert.False(t, Ping(bus, 0x54))
}

func TestPingNeverWrites(t *testing.T) {
	_, _, bus := newSim(t)
	bus.ResetHistory()
	require.True(t, Ping(bus, base))
	for _, op := range bus.History() {
		assert.LessOrEqual(t, len(op.Write), 2, "ping must only send the memory address")
	}
}

func TestInitEmpty(t *testing.T) {
	d, _, _ := newSim(t)
	require.NoError(t, d.Init())
	assert.Empty(t, d.Records())
	_, ok := d.Board()
	assert.False(t, ok)
}

func TestInitNotConnected(t *testing.T) {
	d, _, bus := newSim(t)
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, d.Init(), status.NotConnected)
}

func TestRecordsRoundTrip(t *testing.T) {
	d, chip, _ := newSim(t)
	require.NoError(t, d.Init())

	board := BoardInfo{Model: "PPG-3204-C", Serial: "SN0042"}
	profile := ClockProfile{Name: "10.3125G", Words: []uint32{0x700000, 0x002518, 0x00251C}}

	chip.WriteProtect = true
	assert.ErrorIs(t, d.AppendRecord(RecordBoardInfo, EncodeBoardInfo(board)), status.AdaptorWriteError)

	chip.WriteProtect = false
	require.NoError(t, d.AppendRecord(RecordBoardInfo, EncodeBoardInfo(board)))
	require.NoError(t, d.AppendRecord(RecordClockProfile, EncodeClockProfile(profile)))

	fresh := NewDriver(device.Env{Bus: d.Bus}, base, 0)
	require.NoError(t, fresh.Init())
	got, ok := fresh.Board()
	require.True(t, ok)
	assert.Equal(t, board, got)
	assert.Equal(t, []ClockProfile{profile}, fresh.ClockProfiles())
	assert.Len(t, fresh.Records(), 2)
}

func TestInitIntegrityErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want status.Code
	}{
		{
			name: "bad checksum",
			data: func() []byte {
				rec := EncodeRecord(RecordClockProfile, EncodeClockProfile(ClockProfile{Name: "x"}))
				rec[len(rec)-1]++
				return rec
			}(),
			want: status.BadChecksum,
		},
		{
			name: "unknown model",
			data: EncodeRecord(RecordBoardInfo, EncodeBoardInfo(BoardInfo{Model: "XYZ"})),
			want: status.InvalidBoard,
		},
		{
			name: "truncated profile",
			data: EncodeRecord(RecordClockProfile, []byte{1, 'a', 0x00}),
			want: status.InvalidData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, chip, _ := newSim(t)
			chip.Load(0, tt.data)
			assert.ErrorIs(t, d.Init(), tt.want)
		})
	}
}

func TestRecordOverrunsMemory(t *testing.T) {
	d, chip, _ := newSim(t)
	offset := uint32(Capacity - 8)
	chip.Load(offset, []byte{RecordClockProfile, 0x10, 0x00})

	_, _, err := d.readRecord(offset)
	assert.ErrorIs(t, err, status.InvalidData)
}

func TestReadAcrossBanks(t *testing.T) {
	d, chip, _ := newSim(t)
	pattern := make([]byte, 300)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	chip.Load(bankSize-150, pattern)

	got, err := d.Read(bankSize-150, len(pattern))
	require.NoError(t, err)
	assert.Equal(t, pattern, got)

	_, err = d.Read(Capacity-1, 2)
	assert.ErrorIs(t, err, status.InvalidData)
}

func TestWriteSplitsPages(t *testing.T) {
	d, chip, bus := newSim(t)
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(0xA0 + i%16)
	}
	bus.ResetHistory()
	require.NoError(t, d.Write(PageSize-50, data))
	assert.Equal(t, data, chip.Bytes(PageSize-50, len(data)))

	for _, op := range bus.History() {
		if len(op.Write) > 2 {
			start := uint32(op.Write[0])<<8 | uint32(op.Write[1])
			end := start + uint32(len(op.Write)-2) - 1
			assert.Equal(t, start/PageSize, end/PageSize, "write crossed a page boundary")
		}
	}
}

func TestCommandUnknown(t *testing.T) {
	d, _, _ := newSim(t)
	assert.ErrorIs(t, d.Command(device.Command{Name: "erase"}), status.NotImplemented)
}

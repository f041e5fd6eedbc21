// Package m24m02 drives the M24M02 2-Mbit data EEPROM that stores the
// board identity and the clock synthesizer frequency profiles.
//
// The chip answers on four consecutive I2C addresses; address bits A17:A16
// of the 18-bit memory address travel in the device select code. Memory
// holds a list of records, each protected by a two's-complement checksum and
// terminated by an erased (0xFF) type byte.
package m24m02

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	pi2c "periph.io/x/conn/v3/i2c"

	"github.com/OpenTraceLab/OpenTraceBERT/pkg/device"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/i2c"
	"github.com/OpenTraceLab/OpenTraceBERT/pkg/status"
)

const (
	// Capacity is the memory size in bytes.
	Capacity = 256 * 1024
	// PageSize is the write page size.
	PageSize = 256

	banks     = 4
	bankSize  = 64 * 1024
	chunkSize = 128

	// writeCycle bounds the acknowledge polling after a page write.
	writeCycle   = 20 * time.Millisecond
	pollInterval = time.Millisecond
)

// Record types.
const (
	RecordBoardInfo    = 0x01
	RecordClockProfile = 0x02
	recordEnd          = 0xFF

	recordOverhead = 4
)

// Models lists the instrument models a board-info record may name.
var Models = []string{"PPG-3204-C", "SB-3204-C", "PPG3204D_PIXIE", "SB3202D_PIXIE"}

// BoardInfo is the decoded board identity record.
type BoardInfo struct {
	Model  string
	Serial string
}

// ClockProfile is a named clock synthesizer register set. Words are 24-bit
// register writes: address in bits 23:16, value in bits 15:0.
type ClockProfile struct {
	Name  string
	Words []uint32
}

// Record is one raw EEPROM record.
type Record struct {
	Offset  uint32
	Type    byte
	Payload []byte
}

// Driver is one M24M02 on the instrument.
type Driver struct {
	device.Base

	banks   [banks]*pi2c.Dev
	records []Record
	end     uint32
	board   *BoardInfo
	clocks  []ClockProfile
}

// Ping reports whether an M24M02 answers at addr. Besides the base address
// all three bank addresses must ACK and two reads of the first bytes must
// agree; the memory is never written.
func Ping(bus i2c.Bus, addr uint16) bool {
	for bank := uint16(0); bank < banks; bank++ {
		if bus.Ping(addr+bank) != nil {
			return false
		}
	}
	var a, b [4]byte
	if bus.Tx(addr, []byte{0, 0}, a[:]) != nil {
		return false
	}
	if bus.Tx(addr, []byte{0, 0}, b[:]) != nil {
		return false
	}
	return a == b
}

// New constructs a driver; it satisfies device.NewFunc.
func New(env device.Env, addr uint16, id int) (device.Driver, error) {
	return NewDriver(env, addr, id), nil
}

// NewDriver constructs a driver for the chip whose base address is addr.
func NewDriver(env device.Env, addr uint16, id int) *Driver {
	d := &Driver{Base: device.NewBase(device.FamilyEEPROM, env, addr, id)}
	for i := range d.banks {
		d.banks[i] = &pi2c.Dev{Bus: env.Bus, Addr: addr + uint16(i)}
	}
	return d
}

// Spec describes the family to the discovery engine.
func Spec() device.Spec {
	return device.Spec{
		Family:         device.FamilyEEPROM,
		Label:          "Data EEPROM",
		Min:            1,
		Missing:        status.MissingEEPROM,
		MissingMessage: "Data EEPROM not found!",
		Ping:           Ping,
		New:            New,
	}
}

// Init reads and validates the record list.
func (d *Driver) Init() error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	if err := d.scan(); err != nil {
		d.Message("Error reading data EEPROM!")
		return err
	}
	d.Log().Info("eeprom records loaded", "records", len(d.records), "profiles", len(d.clocks))
	return nil
}

// GetOptions has nothing to offer; the stored profiles are presented by the
// clock synthesizer.
func (d *Driver) GetOptions() {}

func (d *Driver) Command(cmd device.Command) error {
	return device.UnknownCommand(device.FamilyEEPROM, cmd)
}

// Board returns the board identity, if the EEPROM holds one.
func (d *Driver) Board() (BoardInfo, bool) {
	if d.board == nil {
		return BoardInfo{}, false
	}
	return *d.board, true
}

// ClockProfiles returns the stored clock synthesizer profiles.
func (d *Driver) ClockProfiles() []ClockProfile {
	return append([]ClockProfile(nil), d.clocks...)
}

// Records returns the raw records found by Init.
func (d *Driver) Records() []Record {
	return append([]Record(nil), d.records...)
}

// Read reads n bytes starting at offset.
func (d *Driver) Read(offset uint32, n int) ([]byte, error) {
	if err := d.CheckOpen(); err != nil {
		return nil, err
	}
	if n < 0 || offset+uint32(n) > Capacity {
		return nil, fmt.Errorf("m24m02: read %d bytes at 0x%05X beyond capacity: %w", n, offset, status.InvalidData)
	}
	out := make([]byte, 0, n)
	for n > 0 {
		chunk := min(n, chunkSize, bankSize-int(offset%bankSize))
		buf := make([]byte, chunk)
		dev := d.banks[offset/bankSize]
		if err := dev.Tx([]byte{byte(offset >> 8), byte(offset)}, buf); err != nil {
			return nil, fmt.Errorf("m24m02: read 0x%05X: %w", offset, err)
		}
		out = append(out, buf...)
		offset += uint32(chunk)
		n -= chunk
	}
	return out, nil
}

// Write stores data at offset, page by page. Writes only succeed while the
// write control pin is released.
func (d *Driver) Write(offset uint32, data []byte) error {
	if err := d.CheckOpen(); err != nil {
		return err
	}
	if offset+uint32(len(data)) > Capacity {
		return fmt.Errorf("m24m02: write %d bytes at 0x%05X beyond capacity: %w", len(data), offset, status.InvalidData)
	}
	for len(data) > 0 {
		chunk := min(len(data), chunkSize, PageSize-int(offset%PageSize))
		bank := offset / bankSize
		w := append([]byte{byte(offset >> 8), byte(offset)}, data[:chunk]...)
		if err := d.banks[bank].Tx(w, nil); err != nil {
			return fmt.Errorf("m24m02: write 0x%05X: %w", offset, err)
		}
		if err := d.waitWriteCycle(d.Addr + uint16(bank)); err != nil {
			return err
		}
		offset += uint32(chunk)
		data = data[chunk:]
	}
	return nil
}

func (d *Driver) waitWriteCycle(addr uint16) error {
	deadline := time.Now().Add(writeCycle)
	for {
		err := d.Bus.Ping(addr)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("m24m02: write cycle did not complete: %w", status.Timeout)
		}
		time.Sleep(pollInterval)
	}
}

// AppendRecord writes a new record after the last one and re-terminates the
// list.
func (d *Driver) AppendRecord(kind byte, payload []byte) error {
	if kind == recordEnd {
		return fmt.Errorf("m24m02: record type 0x%02X reserved: %w", kind, status.InvalidData)
	}
	if len(payload) > 0xFFFF {
		return fmt.Errorf("m24m02: payload of %d bytes too large: %w", len(payload), status.Overflow)
	}
	rec := EncodeRecord(kind, payload)
	if d.end+uint32(len(rec))+1 > Capacity {
		return fmt.Errorf("m24m02: no room for %d byte record: %w", len(rec), status.Overflow)
	}
	if err := d.Write(d.end, append(rec, recordEnd)); err != nil {
		return err
	}
	return d.scan()
}

// EncodeRecord formats a record.
func EncodeRecord(kind byte, payload []byte) []byte {
	rec := make([]byte, 0, len(payload)+recordOverhead)
	rec = append(rec, kind, byte(len(payload)), byte(len(payload)>>8))
	rec = append(rec, payload...)
	var sum byte
	for _, b := range rec {
		sum += b
	}
	return append(rec, -sum)
}

// EncodeBoardInfo formats a board-info payload.
func EncodeBoardInfo(b BoardInfo) []byte {
	return []byte(b.Model + "\x00" + b.Serial)
}

// EncodeClockProfile formats a clock-profile payload.
func EncodeClockProfile(p ClockProfile) []byte {
	out := []byte{byte(len(p.Name))}
	out = append(out, p.Name...)
	for _, w := range p.Words {
		out = append(out, byte(w>>16), byte(w>>8), byte(w))
	}
	return out
}

func (d *Driver) scan() error {
	d.records, d.board, d.clocks = nil, nil, nil
	offset := uint32(0)
	for {
		rec, next, err := d.readRecord(offset)
		if errors.Is(err, status.EndOfData) {
			d.end = offset
			return nil
		}
		if err != nil {
			return err
		}
		if err := d.decode(rec); err != nil {
			return err
		}
		d.records = append(d.records, rec)
		offset = next
	}
}

// readRecord reads the record at offset. status.EndOfData marks the end of
// the list.
func (d *Driver) readRecord(offset uint32) (Record, uint32, error) {
	if offset+recordOverhead > Capacity {
		return Record{}, 0, status.EndOfData
	}
	head, err := d.Read(offset, 3)
	if err != nil {
		return Record{}, 0, err
	}
	if head[0] == recordEnd {
		return Record{}, 0, status.EndOfData
	}
	n := uint32(head[1]) | uint32(head[2])<<8
	next := offset + recordOverhead + n
	if next > Capacity {
		return Record{}, 0, fmt.Errorf("m24m02: record at 0x%05X overruns memory: %w", offset, status.InvalidData)
	}
	body, err := d.Read(offset+3, int(n)+1)
	if err != nil {
		return Record{}, 0, err
	}
	var sum byte
	for _, b := range head {
		sum += b
	}
	for _, b := range body {
		sum += b
	}
	if sum != 0 {
		return Record{}, 0, fmt.Errorf("m24m02: record at 0x%05X: %w", offset, status.BadChecksum)
	}
	return Record{Offset: offset, Type: head[0], Payload: body[:n]}, next, nil
}

func (d *Driver) decode(rec Record) error {
	switch rec.Type {
	case RecordBoardInfo:
		model, serial, _ := bytes.Cut(rec.Payload, []byte{0})
		info := BoardInfo{Model: string(model), Serial: string(serial)}
		if !knownModel(info.Model) {
			return fmt.Errorf("m24m02: board model %q: %w", info.Model, status.InvalidBoard)
		}
		d.board = &info
	case RecordClockProfile:
		p, err := decodeClockProfile(rec.Payload)
		if err != nil {
			return fmt.Errorf("m24m02: record at 0x%05X: %w", rec.Offset, err)
		}
		d.clocks = append(d.clocks, p)
	default:
		d.Log().Warn("skipping unknown eeprom record", "type", rec.Type, "offset", rec.Offset)
	}
	return nil
}

func decodeClockProfile(b []byte) (ClockProfile, error) {
	if len(b) < 1 || len(b) < 1+int(b[0]) {
		return ClockProfile{}, status.InvalidData
	}
	name := string(b[1 : 1+int(b[0])])
	words := b[1+int(b[0]):]
	if len(words)%3 != 0 {
		return ClockProfile{}, status.InvalidData
	}
	p := ClockProfile{Name: name}
	for i := 0; i < len(words); i += 3 {
		p.Words = append(p.Words, uint32(words[i])<<16|uint32(words[i+1])<<8|uint32(words[i+2]))
	}
	return p, nil
}

func knownModel(m string) bool {
	for _, known := range Models {
		if m == known {
			return true
		}
	}
	return false
}

var _ device.Driver = (*Driver)(nil)
